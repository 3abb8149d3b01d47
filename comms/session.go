package comms

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/CodedInternet/gocrane/crane"
	cerrors "github.com/CodedInternet/gocrane/crane/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// submitQueue bounds commands waiting for the event loop.
const submitQueue = 16

var ErrSessionReused = errors.New("session has already been run")

type State int32

const (
	Connecting State = iota
	Open
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Open:
		return "OPEN"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

type inbound struct {
	frame string
	err   error
}

// Session is one logical connection to the crane: Connecting, then Open, then
// Closed for good. It owns the latest JointState; everything else reads
// snapshots of it. A session is never reconnected, see Supervisor for that.
type Session struct {
	id       uuid.UUID
	dialer   Dialer
	observer Observer
	logger   zerolog.Logger

	mu      sync.RWMutex // held for reading while enqueuing, for writing on close
	state   atomic.Int32
	joints  atomic.Pointer[crane.JointState]
	submits chan Command

	started   atomic.Bool
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// NewSession prepares a session; nothing is dialed until Run. A nil observer
// is allowed.
func NewSession(dialer Dialer, observer Observer, logger zerolog.Logger) *Session {
	if observer == nil {
		observer = ObserverFuncs{}
	}

	id := uuid.New()
	return &Session{
		id:       id,
		dialer:   dialer,
		observer: observer,
		logger:   logger.With().Str("session", id.String()).Logger(),
		submits:  make(chan Command, submitQueue),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Session) ID() uuid.UUID {
	return s.id
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Done is closed once the session has reached Closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Snapshot returns the last decoded joint state. ok is false until the first
// telemetry frame has been applied.
func (s *Session) Snapshot() (js crane.JointState, ok bool) {
	if p := s.joints.Load(); p != nil {
		return *p, true
	}
	return js, false
}

// Poses runs the kinematic chain over the current snapshot.
func (s *Session) Poses(g crane.Geometry) (crane.Poses, bool) {
	js, ok := s.Snapshot()
	if !ok {
		return crane.Poses{}, false
	}
	return crane.Compute(js, g), true
}

// Submit queues a command for sending. Commands are only accepted while the
// session is Open; there is no acknowledgement from the crane, so a nil error
// only means the command is on its way.
func (s *Session) Submit(cmd Command) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if state := s.State(); state != Open {
		return &cerrors.SubmitRejectedError{State: state.String(), Command: cmd.Keyword()}
	}

	select {
	case s.submits <- cmd:
		return nil
	case <-s.done:
		return &cerrors.SubmitRejectedError{State: Closed.String(), Command: cmd.Keyword()}
	}
}

// Close tears the session down. It is safe to call at any time, more than
// once, and before Run.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closing)
	})

	if s.started.CompareAndSwap(false, true) {
		s.finish()
		s.observer.OnClose(nil)
	}
}

// finish moves to Closed and rejects whatever was still queued.
func (s *Session) finish() {
	close(s.done)

	s.mu.Lock()
	s.state.Store(int32(Closed))
	s.mu.Unlock()

	for {
		select {
		case cmd := <-s.submits:
			s.observer.OnError(&cerrors.SubmitRejectedError{State: Closed.String(), Command: cmd.Keyword()})
		default:
			return
		}
	}
}

func (s *Session) isClosing() bool {
	select {
	case <-s.closing:
		return true
	default:
		return false
	}
}

// Run dials the crane and processes events until the session closes. The
// returned error is nil for a local Close, the context error when ctx ends,
// and a *errors.TransportError when the channel failed or the crane hung up.
func (s *Session) Run(ctx context.Context) (err error) {
	if !s.started.CompareAndSwap(false, true) {
		if s.isClosing() {
			return nil
		}
		return ErrSessionReused
	}
	defer func() {
		s.finish()
		s.logger.Debug().Err(err).Msg("session finished")
		s.observer.OnClose(err)
	}()

	conn, err := s.dial(ctx)
	if err != nil || conn == nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			s.logger.Debug().Err(cerr).Msg("close")
		}
	}()

	frames := make(chan inbound)
	stop := make(chan struct{})
	defer close(stop)
	go readFrames(conn, frames, stop)

	s.state.Store(int32(Open))
	s.logger.Info().Msg("session open")
	s.observer.OnOpen()

	for {
		select {
		case in := <-frames:
			// commands issued before this frame arrived go out first
			if err := s.flush(conn); err != nil {
				return err
			}
			if err := s.receive(in); err != nil {
				return err
			}

		case cmd := <-s.submits:
			if err := s.send(conn, cmd); err != nil {
				return err
			}

		case <-s.closing:
			return nil

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) dial(ctx context.Context) (Conn, error) {
	dialCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.closing:
			cancel()
		case <-dialCtx.Done():
		}
	}()

	s.logger.Debug().Msg("dialing")
	conn, err := s.dialer.Dial(dialCtx)
	if s.isClosing() {
		if conn != nil {
			conn.Close()
		}
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		err = &cerrors.TransportError{Op: "dial", Err: err}
		s.observer.OnError(err)
		return nil, err
	}
	return conn, nil
}

// receive applies one inbound event. Bad frames are reported and dropped
// without touching the current state.
func (s *Session) receive(in inbound) error {
	if in.err != nil {
		var decodeErr *cerrors.DecodeError
		if errors.As(in.err, &decodeErr) {
			s.observer.OnError(in.err)
			return nil
		}

		err := &cerrors.TransportError{Op: "read", Err: in.err}
		if !errors.Is(in.err, io.EOF) {
			s.observer.OnError(err)
		}
		return err
	}

	js, err := DecodeTelemetry(in.frame)
	if err != nil {
		s.observer.OnError(err)
		return nil
	}

	s.joints.Store(&js)
	s.observer.OnTelemetry(js)
	return nil
}

func (s *Session) send(conn Conn, cmd Command) error {
	frame := Encode(cmd)
	if err := conn.WriteFrame(frame); err != nil {
		err := &cerrors.TransportError{Op: "write", Err: err}
		s.observer.OnError(err)
		return err
	}
	s.logger.Debug().Str("frame", frame).Msg("sent")
	return nil
}

func (s *Session) flush(conn Conn) error {
	for {
		select {
		case cmd := <-s.submits:
			if err := s.send(conn, cmd); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// readFrames forwards everything read from conn until a fatal read error or
// until stop is closed.
func readFrames(conn Conn, frames chan<- inbound, stop <-chan struct{}) {
	for {
		frame, err := conn.ReadFrame()
		select {
		case frames <- inbound{frame: frame, err: err}:
		case <-stop:
			return
		}

		var decodeErr *cerrors.DecodeError
		if err != nil && !errors.As(err, &decodeErr) {
			return
		}
	}
}
