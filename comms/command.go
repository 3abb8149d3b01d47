package comms

import (
	"time"

	"github.com/CodedInternet/gocrane/crane"
)

// Command keywords as they appear on the wire.
const (
	KeywordSetActuatorSetpoints = "setactuatorsetpoints"
	KeywordSetSpeed             = "setspeed"
	KeywordSetPoint             = "setpoint"
	KeywordRefresh              = "refresh"
)

// Command is an operator instruction for the remote process. The set of
// implementations is closed; see Encode for their wire form.
type Command interface {
	Keyword() string
	fields() []float64
}

// SetActuatorSetpoints asks for absolute targets on all five joints.
type SetActuatorSetpoints struct {
	Target crane.JointState
}

func (SetActuatorSetpoints) Keyword() string { return KeywordSetActuatorSetpoints }

func (c SetActuatorSetpoints) fields() []float64 {
	v := c.Target.Values()
	return v[:]
}

// SetSpeed carries five rates in the shape of a JointState (deg/s and mm/s).
type SetSpeed struct {
	Rates crane.JointState
}

func (SetSpeed) Keyword() string { return KeywordSetSpeed }

func (c SetSpeed) fields() []float64 {
	v := c.Rates.Values()
	return v[:]
}

// SetPoint is a Cartesian end effector target in meters. Resolving it into
// joint values is up to the remote process.
type SetPoint struct {
	X, Y, Z float64
}

func (SetPoint) Keyword() string { return KeywordSetPoint }

func (c SetPoint) fields() []float64 {
	return []float64{c.X, c.Y, c.Z}
}

// SetRefresh changes how often the remote process publishes telemetry.
type SetRefresh struct {
	Interval time.Duration
}

func (SetRefresh) Keyword() string { return KeywordRefresh }

func (c SetRefresh) fields() []float64 {
	return []float64{float64(c.Interval.Milliseconds())}
}
