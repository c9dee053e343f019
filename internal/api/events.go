package api

import (
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/roach88/revsync/internal/engine"
)

const (
	eventBuffer  = 64
	writeTimeout = 5 * time.Second
)

// EventMessage is one websocket frame on /v1/events.
type EventMessage struct {
	Type      string          `json:"type"`
	Revision  int64           `json:"revision"`
	ID        string          `json:"id,omitempty"`
	Author    string          `json:"author,omitempty"`
	Operation json.RawMessage `json:"operation,omitempty"`
	Text      *string         `json:"text,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func newEventMessage(ev engine.Event) (EventMessage, error) {
	msg := EventMessage{
		Type:     ev.Type.String(),
		Revision: int64(ev.Revision),
		Author:   ev.Author,
	}
	if ev.Revision >= 0 {
		msg.ID = ev.Revision.Key()
	}
	if ev.Operation != nil {
		raw, err := ev.Operation.MarshalJSON()
		if err != nil {
			return EventMessage{}, err
		}
		msg.Operation = raw
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}
	return msg, nil
}

// handleEvents streams engine events. The first frame is a "ready" frame
// carrying the current text, so late subscribers start from a snapshot.
func (s *Server) handleEvents(c *gin.Context) {
	if !s.requireReady(c) {
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	send := make(chan EventMessage, eventBuffer)
	overflow := make(chan struct{})
	cancel := s.session.Subscribe(func(ev engine.Event) {
		msg, err := newEventMessage(ev)
		if err != nil {
			s.logger.Warn("dropping unencodable event", "type", ev.Type, "error", err)
			return
		}
		select {
		case send <- msg:
		default:
			select {
			case <-overflow:
			default:
				close(overflow)
			}
		}
	})
	defer cancel()

	// Snapshot after subscribing so no event falls between the two. Events
	// queued before the snapshot may already be part of it; those are
	// dropped below.
	text, rev, err := s.session.Snapshot()
	if err != nil {
		s.logger.Error("snapshot failed", "error", err)
		return
	}
	snapshot := EventMessage{Type: engine.EventReady.String(), Revision: int64(rev), Text: &text}
	if rev >= 0 {
		snapshot.ID = rev.Key()
	}
	if err := s.write(conn, snapshot); err != nil {
		return
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.logger.Debug("event stream opened", "remote", c.Request.RemoteAddr)
	for {
		select {
		case msg := <-send:
			if coveredBy(msg, snapshot.Revision) {
				continue
			}
			if err := s.write(conn, msg); err != nil {
				s.logger.Debug("event stream write failed", "error", err)
				return
			}
		case <-overflow:
			s.logger.Warn("event stream too slow, closing", "remote", c.Request.RemoteAddr)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too slow"),
				time.Now().Add(writeTimeout))
			return
		case <-closed:
			s.logger.Debug("event stream closed", "remote", c.Request.RemoteAddr)
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}

func (s *Server) write(conn *websocket.Conn, msg EventMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

// coveredBy reports whether msg describes a revision already included in a
// snapshot at rev.
func coveredBy(msg EventMessage, rev int64) bool {
	switch msg.Type {
	case engine.EventOperation.String(), engine.EventAck.String():
		return msg.Revision <= rev
	}
	return false
}
