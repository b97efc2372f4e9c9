// Package gateway accepts inbound WebSocket connections for both domains,
// frames them as JSON, and multiplexes each session's commands into the
// watch-party or direct-messaging engines.
package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gorilla/websocket"

	"github.com/watchsync/engine/internal/logging"
	"github.com/watchsync/engine/internal/metrics"
)

const (
	heartbeatInterval = 30 * time.Second
	pongWait          = 2 * heartbeatInterval
	writeWait         = 10 * time.Second
	sendBufferSize    = 256
)

// Frame is the envelope every outbound message is wrapped in.
type Frame = map[string]any

// wsConn is the subset of *websocket.Conn a Session needs; abstracted for tests.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Session is one live bidirectional connection: one user id, one optional
// room code (watch-party only), and a buffered send sink.
type Session struct {
	id       string
	userID   string
	username string
	roomCode string
	domain   string

	conn wsConn
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

func newSession(id, userID, username, roomCode, domain string, conn wsConn) *Session {
	return &Session{
		id:       id,
		userID:   userID,
		username: username,
		roomCode: roomCode,
		domain:   domain,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		closed:   make(chan struct{}),
	}
}

// ID returns the session's locally unique id.
func (s *Session) ID() string { return s.id }

// UserID returns the connecting user's id.
func (s *Session) UserID() string { return s.userID }

// Username returns the connecting user's display name.
func (s *Session) Username() string { return s.username }

// RoomCode returns the watch-party room this session belongs to, empty for
// chat-domain sessions.
func (s *Session) RoomCode() string { return s.roomCode }

// Send enqueues a frame for delivery. A full buffer drops the session rather
// than blocking the caller or the room it's broadcasting for.
func (s *Session) Send(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		logging.Error(nil, "failed to marshal outbound frame", zap.Error(err))
		return
	}
	select {
	case s.send <- data:
	default:
		logging.Warn(nil, "session send buffer full, closing", zap.String("session_id", s.id))
		s.Close(1011, "slow consumer")
	}
}

// Close terminates the session's write pump and underlying transport exactly
// once; safe to call from any goroutine, any number of times.
func (s *Session) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		close(s.closed)
		deadline := time.Now().Add(writeWait)
		_ = s.conn.SetWriteDeadline(deadline)
		_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
		_ = s.conn.Close()
	})
}

// readPump reads frames until the connection errors or is closed, decoding
// each as a JSON object with a `type` discriminator and invoking handle.
func (s *Session) readPump(handle func(frameType string, payload map[string]any)) {
	defer func() {
		metrics.DecSession(s.domain)
		s.Close(1000, "normal closure")
	}()

	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			logging.Warn(nil, "malformed JSON frame", zap.Error(err), zap.String("session_id", s.id))
			s.Send(map[string]any{"type": "error", "message": "malformed JSON"})
			continue
		}

		frameType, _ := frame["type"].(string)
		if frameType == "" {
			continue
		}
		if frameType == "ping" {
			s.Send(map[string]any{"type": "pong"})
			continue
		}

		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logging.Error(nil, "panic while handling frame", zap.Any("recover", rec), zap.String("session_id", s.id), zap.String("type", frameType))
				}
			}()
			handle(frameType, frame)
		}()
	}
}

// writePump drains the send channel to the transport and drives the
// heartbeat ping on a fixed interval.
func (s *Session) writePump() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-s.send:
			if !ok {
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closed:
			return
		}
	}
}
