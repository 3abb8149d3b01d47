package errors

import "fmt"

// DecodeError reports a telemetry frame that could not be turned into a joint
// state. Field is the zero based token position, or -1 when the token count
// itself was wrong.
type DecodeError struct {
	Frame  string
	Field  int
	Reason string
}

func (err *DecodeError) Error() string {
	if err.Field < 0 {
		return fmt.Sprintf("malformed telemetry %q: %s", err.Frame, err.Reason)
	}
	return fmt.Sprintf("malformed telemetry %q: field %d: %s", err.Frame, err.Field+1, err.Reason)
}

// TransportError wraps a failure of the underlying channel. Op is one of
// dial, read, write or close.
type TransportError struct {
	Op  string
	Err error
}

func (err *TransportError) Error() string {
	if err.Err == nil {
		return fmt.Sprintf("transport %s failed", err.Op)
	}
	return fmt.Sprintf("transport %s: %v", err.Op, err.Err)
}

func (err *TransportError) Unwrap() error {
	return err.Err
}

// SubmitRejectedError is returned when a command is submitted to a session that
// is not open.
type SubmitRejectedError struct {
	State   string
	Command string
}

func (err *SubmitRejectedError) Error() string {
	state := err.State
	if len(state) == 0 {
		state = "UNKNOWN"
	}
	if len(err.Command) == 0 {
		return fmt.Sprintf("submit rejected; session is %s", state)
	}
	return fmt.Sprintf("submit rejected; session is %s, unable to send %s", state, err.Command)
}
