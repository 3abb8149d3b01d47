package comms

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CodedInternet/gocrane/crane"
	cerrors "github.com/CodedInternet/gocrane/crane/errors"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// NewBackOff is the default reconnection schedule: 250ms doubling up to 5s,
// with jitter.
func NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Supervisor keeps a fresh Session running against the crane. Sessions are
// never revived; after one closes the supervisor waits out the backoff and
// builds a new one. MaxRetries bounds consecutive attempts that never reached
// Open, and zero means a closed session is final.
type Supervisor struct {
	Dialer     Dialer
	Observer   Observer
	Logger     zerolog.Logger
	MaxRetries uint64
	BackOff    backoff.BackOff // nil uses NewBackOff

	current  atomic.Pointer[Session]
	last     atomic.Pointer[crane.JointState]
	sessions atomic.Int64

	closing  chan struct{}
	initOnce sync.Once
	stopOnce sync.Once
}

func NewSupervisor(dialer Dialer, observer Observer, logger zerolog.Logger, maxRetries uint64) *Supervisor {
	return &Supervisor{
		Dialer:     dialer,
		Observer:   observer,
		Logger:     logger,
		MaxRetries: maxRetries,
	}
}

func (sv *Supervisor) init() {
	sv.initOnce.Do(func() {
		sv.closing = make(chan struct{})
	})
}

// Run blocks until ctx ends, Close is called or the retry budget is spent. In
// the last case the error of the final session is returned.
func (sv *Supervisor) Run(ctx context.Context) error {
	sv.init()

	b := sv.BackOff
	if b == nil {
		b = NewBackOff()
	}
	retry := backoff.WithContext(backoff.WithMaxRetries(b, sv.MaxRetries), ctx)
	retry.Reset()

	for {
		select {
		case <-sv.closing:
			return nil
		default:
		}

		opened := false
		observers := Observers{
			ObserverFuncs{
				Open: func() { opened = true },
				Telemetry: func(js crane.JointState) {
					sv.last.Store(&js)
				},
			},
		}
		if sv.Observer != nil {
			observers = append(observers, sv.Observer)
		}

		session := NewSession(sv.Dialer, observers, sv.Logger)
		sv.current.Store(session)
		sv.sessions.Add(1)

		// Close may have run between the check above and the store
		select {
		case <-sv.closing:
			session.Close()
		default:
		}

		err := session.Run(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case sv.isClosing():
			return nil
		}

		if opened {
			retry.Reset()
		}
		delay := retry.NextBackOff()
		if delay == backoff.Stop {
			sv.Logger.Warn().Err(err).Msg("giving up on the crane")
			return err
		}

		sv.Logger.Info().Err(err).Dur("delay", delay).Msg("reconnecting")
		select {
		case <-time.After(delay):
		case <-sv.closing:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (sv *Supervisor) isClosing() bool {
	select {
	case <-sv.closing:
		return true
	default:
		return false
	}
}

// Close stops the supervisor and the session it is running.
func (sv *Supervisor) Close() {
	sv.init()
	sv.stopOnce.Do(func() {
		close(sv.closing)
	})
	if s := sv.current.Load(); s != nil {
		s.Close()
	}
}

// Submit hands the command to the current session.
func (sv *Supervisor) Submit(cmd Command) error {
	_, err := sv.Deliver(cmd)
	return err
}

// Deliver is Submit that also returns the session which accepted the
// command. A reconnect right after may replace Session(), the returned one
// stays the one the command went through.
func (sv *Supervisor) Deliver(cmd Command) (*Session, error) {
	s := sv.current.Load()
	if s == nil {
		return nil, &cerrors.SubmitRejectedError{State: Connecting.String(), Command: cmd.Keyword()}
	}
	if err := s.Submit(cmd); err != nil {
		return nil, err
	}
	return s, nil
}

// State of the current session, Connecting before the first one exists.
func (sv *Supervisor) State() State {
	if s := sv.current.Load(); s != nil {
		return s.State()
	}
	return Connecting
}

// Session returns the session currently being run, if any.
func (sv *Supervisor) Session() *Session {
	return sv.current.Load()
}

// Sessions counts the sessions created so far.
func (sv *Supervisor) Sessions() int64 {
	return sv.sessions.Load()
}

// Snapshot is the last joint state seen on any session, so a reconnect does
// not blank the display.
func (sv *Supervisor) Snapshot() (js crane.JointState, ok bool) {
	if p := sv.last.Load(); p != nil {
		return *p, true
	}
	return js, false
}
