package comms

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CodedInternet/gocrane/crane"
	cerrors "github.com/CodedInternet/gocrane/crane/errors"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	. "github.com/smartystreets/goconvey/convey"
)

func failingDialer(dials *atomic.Int32) Dialer {
	return DialerFunc(func(ctx context.Context) (Conn, error) {
		dials.Add(1)
		return nil, errors.New("connection refused")
	})
}

func TestSupervisor(t *testing.T) {
	Convey("without retries a closed session is final", t, func() {
		var dials atomic.Int32
		sv := NewSupervisor(failingDialer(&dials), nil, zerolog.Nop(), 0)

		err := sv.Run(context.Background())
		var transportErr *cerrors.TransportError
		So(errors.As(err, &transportErr), ShouldBeTrue)
		So(dials.Load(), ShouldEqual, 1)
		So(sv.State(), ShouldEqual, Closed)
	})

	Convey("failed attempts are bounded by MaxRetries", t, func() {
		var dials atomic.Int32
		sv := NewSupervisor(failingDialer(&dials), nil, zerolog.Nop(), 3)
		sv.BackOff = backoff.NewConstantBackOff(time.Millisecond)

		So(sv.Run(context.Background()), ShouldNotBeNil)
		So(dials.Load(), ShouldEqual, 4)
		So(sv.Sessions(), ShouldEqual, 4)
	})

	Convey("a session that opened resets the retry budget", t, func() {
		var dials atomic.Int32
		dialer := DialerFunc(func(ctx context.Context) (Conn, error) {
			if dials.Add(1) > 1 {
				return nil, errors.New("connection refused")
			}
			conn := newTestConn()
			go func() {
				conn.rx <- "1 2 3 4 5"
				conn.rxErr <- io.EOF
			}()
			return conn, nil
		})

		sv := NewSupervisor(dialer, nil, zerolog.Nop(), 2)
		sv.BackOff = backoff.NewConstantBackOff(time.Millisecond)

		So(sv.Run(context.Background()), ShouldNotBeNil)
		So(dials.Load(), ShouldEqual, 3)

		Convey("and the last joint state outlives its session", func() {
			js, ok := sv.Snapshot()
			So(ok, ShouldBeTrue)
			So(js, ShouldResemble, crane.JointState{Swing: 1, Lift: 2, Elbow: 3, Wrist: 4, Gripper: 5})
		})
	})

	Convey("submit before any session exists is rejected", t, func() {
		sv := NewSupervisor(DialerFunc(nil), nil, zerolog.Nop(), 0)
		var rejected *cerrors.SubmitRejectedError
		So(errors.As(sv.Submit(SetPoint{}), &rejected), ShouldBeTrue)
		So(sv.State(), ShouldEqual, Connecting)

		s, err := sv.Deliver(SetPoint{})
		So(s, ShouldBeNil)
		So(errors.As(err, &rejected), ShouldBeTrue)
	})

	Convey("submit goes to the open session", t, func() {
		conn := newTestConn()
		observer := newTestObserver()
		sv := NewSupervisor(&testDialer{conn: conn}, observer, zerolog.Nop(), 5)
		result := make(chan error, 1)
		go func() { result <- sv.Run(context.Background()) }()
		waitOpen(observer)

		So(sv.Submit(SetPoint{X: 1}), ShouldBeNil)
		So(<-conn.tx, ShouldEqual, "setpoint 1 0 0")

		Convey("and Deliver names the session that took it", func() {
			s, err := sv.Deliver(SetPoint{Y: 2})
			So(err, ShouldBeNil)
			So(s, ShouldPointTo, sv.Session())
			So(<-conn.tx, ShouldEqual, "setpoint 0 2 0")

			sv.Close()
			So(waitErr(result), ShouldBeNil)
		})

		Convey("and Close stops everything", func() {
			sv.Close()
			So(waitErr(result), ShouldBeNil)
			So(conn.isClosed(), ShouldBeTrue)
			So(sv.Session().State(), ShouldEqual, Closed)
		})
	})

	Convey("cancelling the context while waiting to reconnect", t, func() {
		var dials atomic.Int32
		sv := NewSupervisor(failingDialer(&dials), nil, zerolog.Nop(), 10)
		sv.BackOff = backoff.NewConstantBackOff(time.Hour)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		So(sv.Run(ctx), ShouldEqual, context.DeadlineExceeded)
		So(dials.Load(), ShouldEqual, 1)
	})
}
