package simulator

import (
	"fmt"
	"sync"

	"github.com/CodedInternet/gocrane/calcs"
	"github.com/CodedInternet/gocrane/crane"
)

// Dimensions of the stock crane in meters.
const (
	LiftMax           = 2.0  // crane height
	ElbowDisplacement = -0.1 // d3
	WristDisplacement = -0.5 // d4
	UpperArmLength    = 0.6  // r3
	ForearmLength     = 0.6  // r4
)

const (
	rotaryKp = 3.0
	rotaryKd = 5.0
	linearKp = 2.5
	linearKd = 3.0
)

const mmPerMeter = 1000

// Crane is a mock crane: five actuators plus the dimensions needed to resolve
// Cartesian targets. It is safe for concurrent use.
type Crane struct {
	mu sync.Mutex

	swing, lift, elbow, wrist, gripper *Actuator

	d3, d4, r3, r4 float64
}

// NewCrane builds a crane whose lift travels 0..d2Max, starting at the top.
func NewCrane(d2Max, d3, d4, r3, r4 float64) *Crane {
	return &Crane{
		swing:   NewRotaryActuator(0, -180, 180, rotaryKp, 0, rotaryKd),
		lift:    NewLinearActuator(d2Max, 0, d2Max, linearKp, 0, linearKd),
		elbow:   NewRotaryActuator(0, -180, 180, rotaryKp, 0, rotaryKd),
		wrist:   NewRotaryActuator(0, -180, 180, rotaryKp, 0, rotaryKd),
		gripper: NewLinearActuator(0, 0, 0, 0, 0, 0),
		d3:      d3,
		d4:      d4,
		r3:      r3,
		r4:      r4,
	}
}

// NewDefaultCrane has the dimensions of crane.DefaultGeometry.
func NewDefaultCrane() *Crane {
	return NewCrane(LiftMax, ElbowDisplacement, WristDisplacement, UpperArmLength, ForearmLength)
}

func (c *Crane) actuators() [crane.NumLinks]*Actuator {
	return [crane.NumLinks]*Actuator{c.swing, c.lift, c.elbow, c.wrist, c.gripper}
}

// Step advances every actuator by dt seconds.
func (c *Crane) Step(dt float64) {
	if dt <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range c.actuators() {
		a.Step(dt)
	}
}

// State reports the actuators the way telemetry carries them, lift and
// gripper in millimeters.
func (c *Crane) State() crane.JointState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return crane.JointState{
		Swing:   c.swing.Position(),
		Lift:    c.lift.Position() * mmPerMeter,
		Elbow:   c.elbow.Position(),
		Wrist:   c.wrist.Position(),
		Gripper: c.gripper.Position() * mmPerMeter,
	}
}

// Targets reports the current setpoints in telemetry units. Actuators that
// were never given one report their position.
func (c *Crane) Targets() crane.JointState {
	c.mu.Lock()
	defer c.mu.Unlock()

	var v [crane.NumLinks]float64
	for i, a := range c.actuators() {
		if sp, ok := a.Setpoint(); ok {
			v[i] = sp
		} else {
			v[i] = a.Position()
		}
	}
	v[crane.UpperArm] *= mmPerMeter
	v[crane.Gripper] *= mmPerMeter
	return crane.JointStateFromValues(v)
}

// SetActuatorSetpoints takes targets in telemetry units.
func (c *Crane) SetActuatorSetpoints(target crane.JointState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.swing.SetSetpoint(target.Swing)
	c.lift.SetSetpoint(target.Lift / mmPerMeter)
	c.elbow.SetSetpoint(target.Elbow)
	c.wrist.SetSetpoint(target.Wrist)
	c.gripper.SetSetpoint(target.Gripper / mmPerMeter)
}

// SetVelocity takes rates in deg/s and mm/s.
func (c *Crane) SetVelocity(rates crane.JointState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.swing.SetVelocity(rates.Swing)
	c.lift.SetVelocity(rates.Lift / mmPerMeter)
	c.elbow.SetVelocity(rates.Elbow)
	c.wrist.SetVelocity(rates.Wrist)
	c.gripper.SetVelocity(rates.Gripper / mmPerMeter)
}

// SetCraneSetpoint aims the wrist at (x, y, z) in meters, y being up. The lift
// takes the height, and swing plus elbow solve the horizontal plane as a 2R
// arm. Wrist and gripper keep their setpoints. Unreachable targets leave
// every setpoint untouched.
func (c *Crane) SetCraneSetpoint(x, y, z float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	d2 := y - c.d3 - c.d4
	solution, _, err := calcs.Solve2R(z, x, c.r3, c.r4)
	if err != nil {
		return fmt.Errorf("setpoint (%g, %g, %g): %w", x, y, z, err)
	}

	c.swing.SetSetpoint(solution.Shoulder)
	c.lift.SetSetpoint(d2)
	c.elbow.SetSetpoint(solution.Elbow)
	return nil
}
