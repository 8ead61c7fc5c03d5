package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/livepoll/livepoll/internal/domain"
	"github.com/livepoll/livepoll/internal/usecase"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512

	// outboundQueueSize bounds each connection's send queue. A full
	// queue means the client fell too far behind to keep; the session
	// is closed rather than allowed to back up the hub.
	outboundQueueSize = 32

	voteTimeout = 5 * time.Second
)

// session owns one websocket connection: the read loop decodes inbound
// frames and runs the vote processor, the write pump drains the bounded
// outbound queue. The session is the usecase.Sink the hub delivers to.
type session struct {
	id      string
	voterID string
	conn    *websocket.Conn
	svc     *usecase.Voting
	logger  *slog.Logger

	out       chan any
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, voterID string, svc *usecase.Voting, logger *slog.Logger) *session {
	return &session{
		id:      uuid.NewString(),
		voterID: voterID,
		conn:    conn,
		svc:     svc,
		logger:  logger,
		out:     make(chan any, outboundQueueSize),
		done:    make(chan struct{}),
	}
}

// run blocks until the connection is gone.
func (s *session) run() {
	go s.writePump()
	s.readLoop()
}

func (s *session) readLoop() {
	defer s.close()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("connection closed unexpectedly", "conn_id", s.id, "error", err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.send(newError("MalformedRequest"))
			continue
		}
		s.dispatch(msg)
	}
}

func (s *session) dispatch(msg clientMessage) {
	switch msg.Type {
	case msgSubscribe:
		if err := s.svc.Subscribe(s.id, msg.PollID, s); err != nil {
			s.sendError(err)
		}
	case msgVote:
		s.handleVote(msg)
	case msgUnsubscribe:
		s.svc.Unsubscribe(s.id)
	case msgPing:
		s.send(pongMessage{Type: "pong"})
	default:
		s.send(newError("MalformedRequest"))
	}
}

func (s *session) handleVote(msg clientMessage) {
	// The vote runs on a background-derived context: a dropped display
	// connection must not lose a vote that already entered processing.
	ctx, cancel := context.WithTimeout(context.Background(), voteTimeout)
	defer cancel()

	_, err := s.svc.CastVote(ctx, msg.PollID, s.voterID, msg.Option)
	switch {
	case err == nil:
		s.send(newVoteAck(true, ""))
	case errors.Is(err, usecase.ErrPollNotFound):
		s.send(newError("PollNotFound"))
	default:
		if reason, ok := rejectionReason(err); ok {
			s.send(newVoteAck(false, reason))
			return
		}
		s.logger.Error("vote processing failed", "conn_id", s.id, "error", err)
		s.send(newError("InternalError"))
	}
}

// send enqueues a frame for the write pump. Overflow closes the
// connection, same as for broadcast traffic.
func (s *session) send(msg any) {
	select {
	case s.out <- msg:
	default:
		s.logger.Warn("outbound queue overflow", "conn_id", s.id)
		s.close()
	}
}

// TrySend implements usecase.Sink.
func (s *session) TrySend(snap domain.Snapshot) bool {
	select {
	case s.out <- newSnapshotMessage(snap):
		return true
	default:
		return false
	}
}

// Kick implements usecase.Sink. The hub calls it off its own lock after
// dropping the subscription.
func (s *session) Kick() {
	s.close()
}

// close tears the session down exactly once: subscription removed,
// pending sends cancelled, socket closed. Closing the socket also
// unblocks the read loop.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.svc.Unsubscribe(s.id)
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *session) sendError(err error) {
	switch {
	case errors.Is(err, usecase.ErrPollNotFound):
		s.send(newError("PollNotFound"))
	case errors.Is(err, usecase.ErrMalformedRequest):
		s.send(newError("MalformedRequest"))
	case errors.Is(err, usecase.ErrConnectionOverflow):
		// The session is already being kicked; nothing to report.
	default:
		s.logger.Error("subscribe failed", "conn_id", s.id, "error", err)
		s.send(newError("InternalError"))
	}
}
