package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/CodedInternet/gocrane/crane"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	streamBuffer = 8
	streamWait   = time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamFrame is what visualization clients receive on every telemetry frame.
type StreamFrame struct {
	Joints crane.JointState `json:"joints"`
	Poses  []PosePayload    `json:"poses"`
}

// Stream fans telemetry out to websocket clients. Slow clients miss frames
// rather than holding up the crane session.
type Stream struct {
	Geometry crane.Geometry
	Logger   zerolog.Logger

	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

func NewStream(g crane.Geometry, logger zerolog.Logger) *Stream {
	return &Stream{
		Geometry: g,
		Logger:   logger,
		clients:  make(map[chan []byte]struct{}),
	}
}

// Publish is meant to be called from a session observer.
func (s *Stream) Publish(js crane.JointState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) == 0 {
		return
	}

	msg, err := json.Marshal(StreamFrame{
		Joints: js,
		Poses:  newPosePayloads(crane.Compute(js, s.Geometry)),
	})
	if err != nil {
		s.Logger.Error().Err(err).Msg("marshal frame")
		return
	}

	for c := range s.clients {
		select {
		case c <- msg:
		default:
		}
	}
}

func (s *Stream) subscribe() chan []byte {
	c := make(chan []byte, streamBuffer)
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	return c
}

func (s *Stream) unsubscribe(c chan []byte) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

// Clients counts the connected viewers.
func (s *Stream) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("upgrade")
		return
	}
	defer conn.Close()

	msgs := s.subscribe()
	defer s.unsubscribe(msgs)

	// viewers never send anything, reading only notices the close
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case msg := <-msgs:
			conn.SetWriteDeadline(time.Now().Add(streamWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.Logger.Debug().Err(err).Msg("write")
				return
			}
		case <-gone:
			return
		}
	}
}
