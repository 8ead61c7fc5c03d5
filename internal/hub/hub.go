package hub

import (
	"log/slog"
	"sync"

	"github.com/livepoll/livepoll/internal/domain"
	"github.com/livepoll/livepoll/internal/usecase"
)

// Hub fans committed tally snapshots out to every connection subscribed
// to a poll. Publishing only enqueues into each subscriber's bounded
// queue; a subscriber that cannot keep up is kicked instead of being
// allowed to stall delivery to the rest.
type Hub struct {
	mu     sync.Mutex
	byConn map[string]*subscription
	byPoll map[string]map[string]*subscription
	logger *slog.Logger
}

type subscription struct {
	connID string
	pollID string
	sink   usecase.Sink
}

func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		byConn: make(map[string]*subscription),
		byPoll: make(map[string]map[string]*subscription),
		logger: logger,
	}
}

// Subscribe registers the connection for the poll's broadcasts. A
// connection follows at most one poll at a time; subscribing again
// moves it.
func (h *Hub) Subscribe(connID string, pollID string, sink usecase.Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prev, ok := h.byConn[connID]; ok {
		h.removeLocked(prev)
	}
	sub := &subscription{connID: connID, pollID: pollID, sink: sink}
	h.byConn[connID] = sub

	subs, ok := h.byPoll[pollID]
	if !ok {
		subs = make(map[string]*subscription)
		h.byPoll[pollID] = subs
	}
	subs[connID] = sub
}

// Unsubscribe drops the connection's subscription, if any. Safe to call
// more than once.
func (h *Hub) Unsubscribe(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.byConn[connID]; ok {
		h.removeLocked(sub)
	}
}

// Publish enqueues the snapshot to every subscriber of the poll. A full
// queue drops that subscriber, never the delivery to others.
func (h *Hub) Publish(pollID string, snap domain.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.byPoll[pollID] {
		if sub.sink.TrySend(snap) {
			continue
		}
		h.logger.Warn("kicking subscriber with full queue",
			"conn_id", sub.connID, "poll_id", pollID, "total_votes", snap.TotalVotes)
		h.removeLocked(sub)
		// Kick runs outside the hub lock: closing a connection comes
		// back through Unsubscribe.
		go sub.sink.Kick()
	}
}

// Subscribers reports how many connections follow the poll.
func (h *Hub) Subscribers(pollID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byPoll[pollID])
}

func (h *Hub) removeLocked(sub *subscription) {
	delete(h.byConn, sub.connID)
	if subs, ok := h.byPoll[sub.pollID]; ok {
		delete(subs, sub.connID)
		if len(subs) == 0 {
			delete(h.byPoll, sub.pollID)
		}
	}
}
