package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/CodedInternet/gocrane/comms"
	"github.com/CodedInternet/gocrane/crane"
	"github.com/CodedInternet/gocrane/simulator"
	"github.com/CodedInternet/gocrane/store"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	. "github.com/smartystreets/goconvey/convey"
)

const waitFor = 2 * time.Second

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(waitFor)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

type testApp struct {
	*App
	sim    *simulator.Server
	server *httptest.Server
	token  string
}

// newTestApp wires an App to an in-process simulator. The supervisor is not
// started.
func newTestApp(t *testing.T) *testApp {
	sim := simulator.NewServer(simulator.NewDefaultCrane(), zerolog.Nop())
	server := httptest.NewServer(sim)

	stream := NewStream(crane.DefaultGeometry, zerolog.Nop())
	observer := comms.ObserverFuncs{Telemetry: stream.Publish}
	auth := newTestAuth(t)

	app := &App{
		Logger:     zerolog.Nop(),
		Store:      auth.Store,
		Supervisor: comms.NewSupervisor(comms.NewWSDialer(wsURL(server)), observer, zerolog.Nop(), 0),
		Geometry:   crane.DefaultGeometry,
		Auth:       auth,
		Stream:     stream,
	}

	token, err := auth.NewJWT("op@crane.test")
	if err != nil {
		t.Fatal(err)
	}
	return &testApp{App: app, sim: sim, server: server, token: token}
}

func (ta *testApp) start() {
	go ta.Supervisor.Run(context.Background())
	if !eventually(func() bool { return ta.Supervisor.State() == comms.Open }) {
		panic("supervisor never opened a session")
	}
}

func (ta *testApp) close() {
	ta.Supervisor.Close()
	ta.server.Close()
}

func (ta *testApp) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ta.token)

	rr := httptest.NewRecorder()
	ta.Router(false).ServeHTTP(rr, req)
	return rr
}

func TestCommandPayload(t *testing.T) {
	Convey("Binding command payloads", t, func() {
		bind := func(p *CommandPayload) (comms.Command, error) {
			err := p.Bind(nil)
			return p.cmd, err
		}

		Convey("actuator setpoints need joints", func() {
			_, err := bind(&CommandPayload{Kind: comms.KeywordSetActuatorSetpoints})
			So(err, ShouldNotBeNil)

			js := crane.JointState{Swing: 1, Lift: 2}
			cmd, err := bind(&CommandPayload{Kind: comms.KeywordSetActuatorSetpoints, Joints: &js})
			So(err, ShouldBeNil)
			So(cmd, ShouldResemble, comms.SetActuatorSetpoints{Target: js})
		})

		Convey("speeds carry rates", func() {
			js := crane.JointState{Wrist: 3}
			cmd, err := bind(&CommandPayload{Kind: comms.KeywordSetSpeed, Joints: &js})
			So(err, ShouldBeNil)
			So(cmd, ShouldResemble, comms.SetSpeed{Rates: js})
		})

		Convey("setpoints are Cartesian", func() {
			cmd, err := bind(&CommandPayload{Kind: comms.KeywordSetPoint, X: 0.5, Y: 1, Z: -0.5})
			So(err, ShouldBeNil)
			So(cmd, ShouldResemble, comms.SetPoint{X: 0.5, Y: 1, Z: -0.5})
		})

		Convey("refresh needs a positive interval", func() {
			_, err := bind(&CommandPayload{Kind: comms.KeywordRefresh})
			So(err, ShouldNotBeNil)

			cmd, err := bind(&CommandPayload{Kind: comms.KeywordRefresh, RefreshMS: 40})
			So(err, ShouldBeNil)
			So(cmd, ShouldResemble, comms.SetRefresh{Interval: 40 * time.Millisecond})
		})

		Convey("unknown kinds are refused", func() {
			_, err := bind(&CommandPayload{Kind: "selfdestruct"})
			So(err, ShouldNotBeNil)
		})
	})
}

func TestAPI(t *testing.T) {
	Convey("Before the crane is connected", t, func() {
		ta := newTestApp(t)
		defer ta.close()

		Convey("the state has no joints", func() {
			rr := ta.do("GET", "/api/state", nil)
			So(rr.Code, ShouldEqual, http.StatusOK)

			var payload StatePayload
			So(json.Unmarshal(rr.Body.Bytes(), &payload), ShouldBeNil)
			So(payload.State, ShouldEqual, "CONNECTING")
			So(payload.Joints, ShouldBeNil)
			So(payload.Poses, ShouldBeEmpty)
		})

		Convey("commands are rejected with a conflict", func() {
			rr := ta.do("POST", "/api/commands", CommandPayload{Kind: comms.KeywordSetPoint, X: 1})
			So(rr.Code, ShouldEqual, http.StatusConflict)
		})

		Convey("commands need a token", func() {
			ta.token = ""
			rr := ta.do("POST", "/api/commands", CommandPayload{Kind: comms.KeywordSetPoint, X: 1})
			So(rr.Code, ShouldEqual, http.StatusUnauthorized)
		})
	})

	Convey("With the crane connected", t, func() {
		ta := newTestApp(t)
		defer ta.close()
		ta.start()

		Convey("the state carries joints and poses", func() {
			So(eventually(func() bool {
				_, ok := ta.Supervisor.Snapshot()
				return ok
			}), ShouldBeTrue)

			rr := ta.do("GET", "/api/state", nil)
			var payload StatePayload
			So(json.Unmarshal(rr.Body.Bytes(), &payload), ShouldBeNil)
			So(payload.State, ShouldEqual, "OPEN")
			So(payload.Session, ShouldEqual, ta.Supervisor.Session().ID().String())
			So(payload.Joints, ShouldResemble, &crane.JointState{Lift: 2000})
			So(len(payload.Poses), ShouldEqual, crane.NumLinks)
			So(payload.Poses[crane.Gripper].Link, ShouldEqual, "gripper")

			// positions are reported in the frame setpoint commands take
			end := payload.Poses[crane.Gripper].Position
			So(end[0], ShouldAlmostEqual, 0, 1e-9)
			So(end[1], ShouldAlmostEqual, 1.4, 1e-9)
			So(end[2], ShouldAlmostEqual, 1.2, 1e-9)
		})

		Convey("submitted commands reach the crane and the log", func() {
			target := crane.JointState{Swing: 30, Lift: 1500}
			rr := ta.do("POST", "/api/commands", CommandPayload{Kind: comms.KeywordSetActuatorSetpoints, Joints: &target})
			So(rr.Code, ShouldEqual, http.StatusAccepted)

			var submitted SubmittedPayload
			So(json.Unmarshal(rr.Body.Bytes(), &submitted), ShouldBeNil)
			So(submitted.Frame, ShouldEqual, "setactuatorsetpoints 30 1500 0 0 0")

			So(eventually(func() bool { return ta.sim.Crane.Targets() == target }), ShouldBeTrue)

			rr = ta.do("GET", "/api/commands?limit=5", nil)
			So(rr.Code, ShouldEqual, http.StatusOK)
			var records []store.CommandRecord
			So(json.Unmarshal(rr.Body.Bytes(), &records), ShouldBeNil)
			So(len(records), ShouldEqual, 1)
			So(records[0].Frame, ShouldEqual, submitted.Frame)
			So(records[0].Operator, ShouldEqual, "op@crane.test")
			So(records[0].SessionID, ShouldEqual, ta.Supervisor.Session().ID().String())
		})

		Convey("bad payloads are refused", func() {
			rr := ta.do("POST", "/api/commands", CommandPayload{Kind: comms.KeywordSetActuatorSetpoints})
			So(rr.Code, ShouldEqual, http.StatusBadRequest)

			rr = ta.do("GET", "/api/commands?limit=-1", nil)
			So(rr.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("a refreshed token works", func() {
			rr := ta.do("GET", "/api/refresh_token", nil)
			So(rr.Code, ShouldEqual, http.StatusOK)

			var payload JWTPayload
			So(json.Unmarshal(rr.Body.Bytes(), &payload), ShouldBeNil)
			ta.token = payload.SignedToken
			So(ta.do("GET", "/api/commands", nil).Code, ShouldEqual, http.StatusOK)
		})

		Convey("viewers receive the telemetry stream", func() {
			server := httptest.NewServer(ta.Router(false))
			defer server.Close()

			c, _, err := websocket.DefaultDialer.Dial(wsURL(server)+"/ws/telemetry?jwt="+ta.token, nil)
			So(err, ShouldBeNil)
			defer c.Close()

			c.SetReadDeadline(time.Now().Add(waitFor))
			_, msg, err := c.ReadMessage()
			So(err, ShouldBeNil)

			var frame StreamFrame
			So(json.Unmarshal(msg, &frame), ShouldBeNil)
			So(frame.Joints, ShouldResemble, crane.JointState{Lift: 2000})
			So(len(frame.Poses), ShouldEqual, crane.NumLinks)
		})
	})
}
