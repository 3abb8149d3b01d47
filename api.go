package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/CodedInternet/gocrane/comms"
	"github.com/CodedInternet/gocrane/crane"
	cerrors "github.com/CodedInternet/gocrane/crane/errors"
	"github.com/CodedInternet/gocrane/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/rs/zerolog"
)

const defaultHistory = 50

// App ties the crane session to the operator surfaces.
type App struct {
	Logger     zerolog.Logger
	Store      *store.Store
	Supervisor *comms.Supervisor
	Geometry   crane.Geometry
	Auth       *Auth
	Stream     *Stream
}

// Submit sends cmd to the crane and records it in the command log on
// success. operator may be empty for console submissions.
func (a *App) Submit(cmd comms.Command, operator string) error {
	s, err := a.Supervisor.Deliver(cmd)
	if err != nil {
		return err
	}

	frame := comms.Encode(cmd)
	if a.Store != nil {
		if _, err := a.Store.RecordCommand(s.ID(), operator, frame); err != nil {
			a.Logger.Warn().Err(err).Str("frame", frame).Msg("command not recorded")
		}
	}
	return nil
}

//---
// Payloads
//---

type PosePayload struct {
	Link     string     `json:"link"`
	Position [3]float64 `json:"position"`
	Rotation [4]float64 `json:"rotation"` // x, y, z, w
}

// newPosePayloads reports poses in the frame setpoint commands use.
func newPosePayloads(poses crane.Poses) []PosePayload {
	out := make([]PosePayload, len(poses))
	for i, p := range poses.InSetpointFrame() {
		q := p.Rotation()
		out[i] = PosePayload{
			Link:     p.Link.String(),
			Position: p.Position(),
			Rotation: [4]float64{q.V[0], q.V[1], q.V[2], q.W},
		}
	}
	return out
}

type StatePayload struct {
	State   string            `json:"state"`
	Session string            `json:"session,omitempty"`
	Joints  *crane.JointState `json:"joints"`
	Poses   []PosePayload     `json:"poses"`
}

func (a *App) statePayload() StatePayload {
	payload := StatePayload{
		State: a.Supervisor.State().String(),
		Poses: []PosePayload{},
	}
	if s := a.Supervisor.Session(); s != nil {
		payload.Session = s.ID().String()
	}
	if js, ok := a.Supervisor.Snapshot(); ok {
		payload.Joints = &js
		payload.Poses = newPosePayloads(crane.Compute(js, a.Geometry))
	}
	return payload
}

// CommandPayload is the JSON form of a command. Kind is the wire keyword;
// joints feed setactuatorsetpoints and setspeed, x/y/z feed setpoint and
// refresh_ms feeds refresh.
type CommandPayload struct {
	Kind      string            `json:"kind"`
	Joints    *crane.JointState `json:"joints,omitempty"`
	X         float64           `json:"x"`
	Y         float64           `json:"y"`
	Z         float64           `json:"z"`
	RefreshMS uint32            `json:"refresh_ms,omitempty"`

	cmd comms.Command
}

func (p *CommandPayload) Bind(r *http.Request) error {
	switch p.Kind {
	case comms.KeywordSetActuatorSetpoints, comms.KeywordSetSpeed:
		if p.Joints == nil {
			return fmt.Errorf("%s requires joints", p.Kind)
		}
		if p.Kind == comms.KeywordSetSpeed {
			p.cmd = comms.SetSpeed{Rates: *p.Joints}
		} else {
			p.cmd = comms.SetActuatorSetpoints{Target: *p.Joints}
		}
	case comms.KeywordSetPoint:
		p.cmd = comms.SetPoint{X: p.X, Y: p.Y, Z: p.Z}
	case comms.KeywordRefresh:
		if p.RefreshMS == 0 {
			return errors.New("refresh requires refresh_ms")
		}
		p.cmd = comms.SetRefresh{Interval: time.Duration(p.RefreshMS) * time.Millisecond}
	default:
		return fmt.Errorf("unknown command kind %q", p.Kind)
	}

	// round trip through the codec so the api accepts exactly what the wire does
	if _, err := comms.ParseCommand(comms.Encode(p.cmd)); err != nil {
		return err
	}
	return nil
}

type SubmittedPayload struct {
	Frame string `json:"frame"`
}

//---
// Views
//---

func (a *App) GetState(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, a.statePayload())
}

func (a *App) PostCommand(w http.ResponseWriter, r *http.Request) {
	data := &CommandPayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	if err := a.Submit(data.cmd, operatorFrom(r.Context())); err != nil {
		var rejected *cerrors.SubmitRejectedError
		if errors.As(err, &rejected) {
			render.Render(w, r, ErrConflict(err))
			return
		}
		render.Render(w, r, ErrRender(err))
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, SubmittedPayload{comms.Encode(data.cmd)})
}

func (a *App) ListCommands(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistory
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			render.Render(w, r, ErrInvalidRequest(fmt.Errorf("invalid limit %q", v)))
			return
		}
		limit = n
	}

	records, err := a.Store.RecentCommands(limit)
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}
	render.JSON(w, r, records)
}

// Router builds the HTTP surface. With open set the telemetry stream skips
// authentication.
func (a *App) Router(open bool) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(a.Logger))
	r.Use(middleware.Recoverer) // make sure this is last

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", a.Auth.Login)
		r.Get("/state", a.GetState)

		r.Group(func(r chi.Router) {
			// Seek, verify and validate JWT tokens
			r.Use(a.Auth.ValidateJWT)

			r.Get("/refresh_token", a.Auth.JWTRefresh)
			r.Post("/commands", a.PostCommand)
			r.Get("/commands", a.ListCommands)
		})
	})

	r.Route("/ws", func(r chi.Router) {
		if !open {
			r.Use(a.Auth.ValidateJWT)
		} else {
			a.Logger.Warn().Msg("running in debug mode, stream authentication disabled")
		}
		r.Get("/telemetry", a.Stream.ServeHTTP)
	})

	return r
}

// requestLogger logs each request through zerolog once it completes, at a
// level that follows the status code.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			event := logger.Debug()
			if status >= 500 {
				event = logger.Error()
			} else if status >= 400 {
				event = logger.Warn()
			}

			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Int("bytes", ww.BytesWritten()).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http_request")
		})
	}
}
