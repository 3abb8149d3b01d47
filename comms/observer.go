package comms

import (
	"context"
	"errors"
	"io"

	"github.com/CodedInternet/gocrane/crane"
	cerrors "github.com/CodedInternet/gocrane/crane/errors"
	"github.com/rs/zerolog"
)

// Observer receives the events of a session. All calls for one session come
// from its event loop, one at a time, so implementations need no locking of
// their own. They must not block.
type Observer interface {
	OnOpen()
	OnTelemetry(js crane.JointState)
	OnError(err error)
	OnClose(err error)
}

// ObserverFuncs adapts plain functions; nil fields are skipped.
type ObserverFuncs struct {
	Open      func()
	Telemetry func(js crane.JointState)
	Error     func(err error)
	Close     func(err error)
}

func (o ObserverFuncs) OnOpen() {
	if o.Open != nil {
		o.Open()
	}
}

func (o ObserverFuncs) OnTelemetry(js crane.JointState) {
	if o.Telemetry != nil {
		o.Telemetry(js)
	}
}

func (o ObserverFuncs) OnError(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}

func (o ObserverFuncs) OnClose(err error) {
	if o.Close != nil {
		o.Close(err)
	}
}

// Observers fans every event out in order.
type Observers []Observer

func (os Observers) OnOpen() {
	for _, o := range os {
		o.OnOpen()
	}
}

func (os Observers) OnTelemetry(js crane.JointState) {
	for _, o := range os {
		o.OnTelemetry(js)
	}
}

func (os Observers) OnError(err error) {
	for _, o := range os {
		o.OnError(err)
	}
}

func (os Observers) OnClose(err error) {
	for _, o := range os {
		o.OnClose(err)
	}
}

// LogObserver writes session events to a zerolog logger. Telemetry is logged
// at trace level since it arrives at frame rate.
type LogObserver struct {
	Logger zerolog.Logger
}

func (o LogObserver) OnOpen() {
	o.Logger.Info().Msg("connected to crane")
}

func (o LogObserver) OnTelemetry(js crane.JointState) {
	o.Logger.Trace().Stringer("joints", js).Msg("telemetry")
}

func (o LogObserver) OnError(err error) {
	var decodeErr *cerrors.DecodeError
	if errors.As(err, &decodeErr) {
		o.Logger.Warn().Err(err).Msg("discarded telemetry frame")
		return
	}
	o.Logger.Error().Err(err).Msg("session error")
}

func (o LogObserver) OnClose(err error) {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		o.Logger.Info().Msg("session closed")
	case errors.Is(err, io.EOF):
		o.Logger.Warn().Msg("crane closed the connection")
	default:
		o.Logger.Error().Err(err).Msg("session closed")
	}
}
