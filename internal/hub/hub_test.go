package hub

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/livepoll/livepoll/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu       sync.Mutex
	capacity int
	got      []domain.Snapshot
	kicked   chan struct{}
}

func newFakeSink(capacity int) *fakeSink {
	return &fakeSink{capacity: capacity, kicked: make(chan struct{})}
}

func (f *fakeSink) TrySend(snap domain.Snapshot) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.got) >= f.capacity {
		return false
	}
	f.got = append(f.got, snap)
	return true
}

func (f *fakeSink) Kick() {
	close(f.kicked)
}

func (f *fakeSink) snapshots() []domain.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Snapshot(nil), f.got...)
}

func (f *fakeSink) waitKicked(t *testing.T) {
	t.Helper()
	select {
	case <-f.kicked:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for kick")
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func snap(pollID string, total int) domain.Snapshot {
	return domain.Snapshot{PollID: pollID, TotalVotes: total}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := New(testLogger())
	first := newFakeSink(8)
	second := newFakeSink(8)
	other := newFakeSink(8)

	h.Subscribe("conn-1", "poll-1", first)
	h.Subscribe("conn-2", "poll-1", second)
	h.Subscribe("conn-3", "poll-2", other)

	h.Publish("poll-1", snap("poll-1", 1))

	assert.Len(t, first.snapshots(), 1)
	assert.Len(t, second.snapshots(), 1)
	assert.Empty(t, other.snapshots())
	assert.Equal(t, 2, h.Subscribers("poll-1"))
}

func TestPublishWithoutSubscribers(t *testing.T) {
	h := New(testLogger())
	h.Publish("poll-1", snap("poll-1", 1))
	assert.Zero(t, h.Subscribers("poll-1"))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := New(testLogger())
	sink := newFakeSink(8)

	h.Subscribe("conn-1", "poll-1", sink)
	h.Unsubscribe("conn-1")
	h.Unsubscribe("conn-1") // idempotent
	h.Publish("poll-1", snap("poll-1", 1))

	assert.Empty(t, sink.snapshots())
	assert.Zero(t, h.Subscribers("poll-1"))
}

func TestResubscribeMovesConnection(t *testing.T) {
	h := New(testLogger())
	sink := newFakeSink(8)

	h.Subscribe("conn-1", "poll-1", sink)
	h.Subscribe("conn-1", "poll-2", sink)

	assert.Zero(t, h.Subscribers("poll-1"))
	assert.Equal(t, 1, h.Subscribers("poll-2"))

	h.Publish("poll-1", snap("poll-1", 1))
	h.Publish("poll-2", snap("poll-2", 2))

	got := sink.snapshots()
	require.Len(t, got, 1)
	assert.Equal(t, "poll-2", got[0].PollID)
}

func TestSlowSubscriberKickedOthersUnaffected(t *testing.T) {
	h := New(testLogger())
	slow := newFakeSink(1)
	fast := newFakeSink(8)

	h.Subscribe("conn-slow", "poll-1", slow)
	h.Subscribe("conn-fast", "poll-1", fast)

	h.Publish("poll-1", snap("poll-1", 1))
	h.Publish("poll-1", snap("poll-1", 2))

	slow.waitKicked(t)
	assert.Equal(t, 1, h.Subscribers("poll-1"))
	assert.Len(t, slow.snapshots(), 1)
	assert.Len(t, fast.snapshots(), 2)

	// Delivery to the remaining subscriber keeps working.
	h.Publish("poll-1", snap("poll-1", 3))
	assert.Len(t, fast.snapshots(), 3)
	assert.Len(t, slow.snapshots(), 1)
}
