package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/livepoll/livepoll/internal/domain"
	"github.com/livepoll/livepoll/internal/usecase"
)

const insertTimeout = 5 * time.Second

// VoteRecorder appends durable vote records for recovery after a
// restart. Writes are best-effort; the in-memory ledger stays
// authoritative.
type VoteRecorder interface {
	InsertVote(ctx context.Context, record domain.VoteRecord) error
}

// Ledger tracks which voters already voted on which polls. A single
// mutex is enough here: membership checks are map lookups and the
// durable write happens outside the lock.
type Ledger struct {
	mu       sync.Mutex
	voted    map[string]map[string]struct{}
	recorder VoteRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a ledger backed by the given recorder. A nil recorder
// disables durable writes.
func New(recorder VoteRecorder, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		voted:    make(map[string]map[string]struct{}),
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// TryRecordVote marks (pollID, voterID) as voted. Exactly one of any
// number of concurrent calls for the same pair returns nil; all others
// return ErrAlreadyVoted.
func (l *Ledger) TryRecordVote(ctx context.Context, pollID string, voterID string) error {
	l.mu.Lock()
	voters, ok := l.voted[pollID]
	if !ok {
		voters = make(map[string]struct{})
		l.voted[pollID] = voters
	}
	if _, ok := voters[voterID]; ok {
		l.mu.Unlock()
		return usecase.ErrAlreadyVoted
	}
	voters[voterID] = struct{}{}
	l.mu.Unlock()

	if l.recorder != nil {
		go l.insert(domain.VoteRecord{PollID: pollID, VoterID: voterID, VotedAt: l.now()})
	}
	return nil
}

func (l *Ledger) HasVoted(pollID string, voterID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.voted[pollID][voterID]
	return ok
}

// Restore seeds the ledger from durable records at startup without
// writing them back.
func (l *Ledger) Restore(records []domain.VoteRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, record := range records {
		voters, ok := l.voted[record.PollID]
		if !ok {
			voters = make(map[string]struct{})
			l.voted[record.PollID] = voters
		}
		voters[record.VoterID] = struct{}{}
	}
}

func (l *Ledger) insert(record domain.VoteRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()
	if err := l.recorder.InsertVote(ctx, record); err != nil {
		l.logger.Error("vote record persistence failed, ledger entry kept in memory",
			"poll_id", record.PollID, "error", err)
	}
}
