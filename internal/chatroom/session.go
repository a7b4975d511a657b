// Session management for the chat room: each WebSocket connection gets a
// session with a read pump and a write pump, adapted to the room's
// housekeeper-driven close-out protocol.
package chatroom

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gorilla/websocket"

	"excalibur/internal/abi"
)

const (
	// sendQueueDepth bounds how many outbound frames may be pending for a
	// single session before the room treats the peer as stalled.
	sendQueueDepth = 256

	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// wsConn is the subset of *websocket.Conn the session needs. Tests provide
// in-memory implementations.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	SetReadLimit(limit int64)
	Close() error
}

// session represents one user in the chat room. All fields other than the
// channels are guarded by the room lock.
type session struct {
	id         uint64
	nickname   string
	conn       wsConn
	send       chan []byte
	room       *Room
	addr       string
	open       bool
	closed     bool
	lastTell   float64
	points     int
	diagSender string
	limiter    *frameLimiter
}

func newSession(r *Room, id uint64, conn wsConn, addr string) *session {
	conn.SetReadLimit(r.maxMessageSize)
	s := &session{
		id:         id,
		conn:       conn,
		send:       make(chan []byte, sendQueueDepth),
		room:       r,
		addr:       addr,
		open:       true,
		lastTell:   negativeInfinity,
		diagSender: fmt.Sprintf("Session #%d", id),
	}
	if r.rateLimit.Burst > 0 {
		s.limiter = newFrameLimiter(r.clock, r.rateLimit)
	}
	return s
}

// setupReadConnection configures read deadlines and the pong handler for the
// WebSocket connection.
func (s *session) setupReadConnection() {
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.room.diagf(s.diagSender, abi.LevelWarning, "error setting initial read deadline: %v", err)
	}
	s.conn.SetPongHandler(func(string) error {
		if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			s.room.diagf(s.diagSender, abi.LevelWarning, "error setting read deadline in pong handler: %v", err)
		}
		return nil
	})
}

// handleReadError reports the read failure and returns true when the read
// loop should stop.
func (s *session) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, websocket.ErrReadLimit) {
		s.room.diagf(s.diagSender, abi.LevelWarning, "message exceeded maximum size of %d bytes", s.room.maxMessageSize)
		return true
	}

	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) {
		s.room.diagf(s.diagSender, abi.LevelInfo, "disconnected: %v", err)
		return true
	}

	if errors.Is(err, io.EOF) {
		s.room.diagf(s.diagSender, abi.LevelInfo, "connection closed: %v", err)
		return true
	}

	s.room.diagf(s.diagSender, abi.LevelWarning, "read error: %v", err)
	return true
}

// readPump delivers inbound text frames to the room until the connection
// fails or closes, then hands the session to the close reaper.
func (s *session) readPump() {
	defer func() {
		s.room.sessionClosed(s.id)
		_ = s.conn.Close()
	}()

	s.setupReadConnection()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if s.handleReadError(err) {
				break
			}
			continue
		}

		if s.limiter != nil && !s.limiter.allow() {
			s.room.diagf(s.diagSender, abi.LevelWarning, "rate limit exceeded; discarding message")
			continue
		}

		s.room.receive(s.id, raw)
	}
}

// writePump serializes all outbound frames for the session and keeps the
// connection alive with periodic pings. It exits when the send channel is
// closed by the reaper or a write fails.
func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				s.room.diagf(s.diagSender, abi.LevelWarning, "error setting write deadline: %v", err)
				return
			}
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.room.diagf(s.diagSender, abi.LevelWarning, "error writing message: %v", err)
				return
			}
		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
