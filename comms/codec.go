package comms

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/CodedInternet/gocrane/crane"
	cerrors "github.com/CodedInternet/gocrane/crane/errors"
)

// Telemetry frames carry the joints positionally, in this order, with no
// labels. Anything that changes the order must change both ends at once.
var telemetryFields = [crane.NumLinks]string{"swing", "lift", "elbow", "wrist", "gripper"}

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidCommand = errors.New("invalid command")
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// decimal reports whether token only uses the characters of a plain decimal
// number. ParseFloat alone would also take hex floats and digit separators.
func decimal(token string) bool {
	return token != "" && strings.Trim(token, "0123456789+-.eE") == ""
}

func parseFinite(token string) (float64, error) {
	if !decimal(token) {
		return 0, errors.New("not a decimal number")
	}
	v, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, errors.New("not a decimal number")
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("not a finite number")
	}
	return v, nil
}

func join(keyword string, values []float64) string {
	var sb strings.Builder
	sb.WriteString(keyword)
	for _, v := range values {
		sb.WriteByte(' ')
		sb.WriteString(formatFloat(v))
	}
	return sb.String()
}

// Encode renders a command as a single text frame: the keyword followed by its
// values separated by single spaces.
func Encode(cmd Command) string {
	return join(cmd.Keyword(), cmd.fields())
}

// EncodeTelemetry renders a joint state the way the remote process reports it.
func EncodeTelemetry(js crane.JointState) string {
	v := js.Values()
	return join("", v[:])[1:]
}

// DecodeTelemetry parses a telemetry frame. It never returns a partially
// filled state: on any failure the zero value comes back with a DecodeError.
func DecodeTelemetry(frame string) (crane.JointState, error) {
	tokens := strings.Fields(frame)
	if len(tokens) != crane.NumLinks {
		return crane.JointState{}, &cerrors.DecodeError{
			Frame:  frame,
			Field:  -1,
			Reason: fmt.Sprintf("expected %d fields, got %d", crane.NumLinks, len(tokens)),
		}
	}

	var values [crane.NumLinks]float64
	for i, token := range tokens {
		v, err := parseFinite(token)
		if err != nil {
			return crane.JointState{}, &cerrors.DecodeError{
				Frame:  frame,
				Field:  i,
				Reason: fmt.Sprintf("%s %q is %v", telemetryFields[i], token, err),
			}
		}
		values[i] = v
	}

	return crane.JointStateFromValues(values), nil
}

func parseFields(keyword string, args []string, names []string) ([]float64, error) {
	if len(args) != len(names) {
		return nil, fmt.Errorf("%w: %s takes %d values, got %d", ErrInvalidCommand, keyword, len(names), len(args))
	}

	values := make([]float64, len(args))
	for i, arg := range args {
		v, err := parseFinite(arg)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid %s (pos. %d): %v", ErrInvalidCommand, names[i], i+1, err)
		}
		values[i] = v
	}
	return values, nil
}

func jointStateFrom(values []float64) crane.JointState {
	var v [crane.NumLinks]float64
	copy(v[:], values)
	return crane.JointStateFromValues(v)
}

// ParseCommand is the inverse of Encode, used by the remote end.
func ParseCommand(frame string) (Command, error) {
	tokens := strings.Fields(frame)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrUnknownCommand)
	}
	keyword, args := tokens[0], tokens[1:]

	switch keyword {
	case KeywordSetActuatorSetpoints:
		values, err := parseFields(keyword, args, telemetryFields[:])
		if err != nil {
			return nil, err
		}
		return SetActuatorSetpoints{Target: jointStateFrom(values)}, nil

	case KeywordSetSpeed:
		values, err := parseFields(keyword, args, telemetryFields[:])
		if err != nil {
			return nil, err
		}
		return SetSpeed{Rates: jointStateFrom(values)}, nil

	case KeywordSetPoint:
		values, err := parseFields(keyword, args, []string{"x", "y", "z"})
		if err != nil {
			return nil, err
		}
		return SetPoint{X: values[0], Y: values[1], Z: values[2]}, nil

	case KeywordRefresh:
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: refresh takes 1 value, got %d", ErrInvalidCommand, len(args))
		}
		ms, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil || ms == 0 {
			return nil, fmt.Errorf("%w: invalid ms refresh value %q", ErrInvalidCommand, args[0])
		}
		return SetRefresh{Interval: time.Duration(ms) * time.Millisecond}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, keyword)
	}
}
