package simulator

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/CodedInternet/gocrane/comms"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// DefaultRefresh publishes telemetry at roughly 60 frames per second.
	DefaultRefresh = 16 * time.Millisecond
	// StepInterval is how often the physics advance.
	StepInterval = 16 * time.Millisecond

	writeWait = time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server exposes a Crane over WebSocket: every connection gets telemetry at
// the refresh interval and may send commands. The refresh interval is shared
// by all connections.
type Server struct {
	Crane  *Crane
	Logger zerolog.Logger

	refresh atomic.Int64
	clients atomic.Int32
}

func NewServer(c *Crane, logger zerolog.Logger) *Server {
	s := &Server{Crane: c, Logger: logger}
	s.refresh.Store(int64(DefaultRefresh))
	return s
}

func (s *Server) Refresh() time.Duration {
	return time.Duration(s.refresh.Load())
}

// Clients counts the connections currently being served.
func (s *Server) Clients() int {
	return int(s.clients.Load())
}

// Run steps the crane until ctx ends.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(StepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Crane.Step(StepInterval.Seconds())
		case <-ctx.Done():
			return
		}
	}
}

// Apply executes a command against the crane.
func (s *Server) Apply(cmd comms.Command) error {
	switch c := cmd.(type) {
	case comms.SetActuatorSetpoints:
		s.Crane.SetActuatorSetpoints(c.Target)
	case comms.SetSpeed:
		s.Crane.SetVelocity(c.Rates)
	case comms.SetPoint:
		return s.Crane.SetCraneSetpoint(c.X, c.Y, c.Z)
	case comms.SetRefresh:
		s.refresh.Store(int64(c.Interval))
	default:
		return comms.ErrUnknownCommand
	}
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("upgrade")
		return
	}
	defer conn.Close()

	s.clients.Add(1)
	defer s.clients.Add(-1)

	logger := s.Logger.With().Str("remote", r.RemoteAddr).Logger()
	logger.Info().Msg("client connected")

	done := make(chan struct{})
	go s.publish(conn, done, logger)
	defer close(done)

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Info().Msg("client disconnected")
			} else {
				logger.Warn().Err(err).Msg("read")
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		cmd, err := comms.ParseCommand(string(msg))
		if err != nil {
			logger.Warn().Err(err).Str("frame", string(msg)).Msg("failed to parse")
			continue
		}
		if err := s.Apply(cmd); err != nil {
			logger.Warn().Err(err).Str("frame", string(msg)).Msg("command not applied")
			continue
		}
		logger.Debug().Str("frame", string(msg)).Msg("applied")
	}
}

// publish writes telemetry until the connection fails or done is closed.
func (s *Server) publish(conn *websocket.Conn, done <-chan struct{}, logger zerolog.Logger) {
	for {
		select {
		case <-time.After(s.Refresh()):
		case <-done:
			return
		}

		frame := comms.EncodeTelemetry(s.Crane.State())
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) {
				logger.Debug().Err(err).Msg("write")
			}
			// unblock the reader
			conn.Close()
			return
		}
	}
}

// Serve serves the simulator on ln and steps its crane until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s}

	go s.Run(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.Logger.Info().Stringer("addr", ln.Addr()).Msg("simulator listening")
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
