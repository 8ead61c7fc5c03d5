package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/livepoll/livepoll/internal/domain"
	"github.com/livepoll/livepoll/internal/usecase"
)

const (
	persistTimeout  = 5 * time.Second
	persistAttempts = 3
)

// Persister is the durable backing store for poll state. Writes are
// best-effort: on failure the in-memory state stays authoritative and
// the error is only logged.
type Persister interface {
	SavePoll(ctx context.Context, poll *domain.Poll) error
	PersistTally(ctx context.Context, snap domain.Snapshot) error
}

// Store holds the authoritative in-memory poll state. Every poll has
// its own critical section, so votes on unrelated polls never contend.
type Store struct {
	mu        sync.RWMutex
	polls     map[string]*entry
	persister Persister
	logger    *slog.Logger
}

type entry struct {
	mu   sync.Mutex
	poll *domain.Poll

	// persistMu serializes durable tally writes for this poll;
	// lastPersisted keeps an older in-flight write from clobbering a
	// newer one.
	persistMu     sync.Mutex
	lastPersisted int
}

// New creates a store backed by the given persister. A nil persister
// disables durable writes.
func New(persister Persister, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		polls:     make(map[string]*entry),
		persister: persister,
		logger:    logger,
	}
}

// Put adds a freshly created poll and queues its durable write.
func (s *Store) Put(poll *domain.Poll) error {
	s.mu.Lock()
	if _, ok := s.polls[poll.ID]; ok {
		s.mu.Unlock()
		return usecase.ErrPollExists
	}
	s.polls[poll.ID] = &entry{poll: poll}
	// The durable record is copied before the poll becomes votable;
	// votes wait on s.mu until Put returns.
	record := *poll
	record.Options = append([]domain.Option(nil), poll.Options...)
	s.mu.Unlock()

	if s.persister != nil {
		go s.savePoll(&record)
	}
	return nil
}

// Restore seeds the store from durable records at startup without
// writing them back.
func (s *Store) Restore(polls []*domain.Poll) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, poll := range polls {
		if _, ok := s.polls[poll.ID]; ok {
			continue
		}
		s.polls[poll.ID] = &entry{poll: poll, lastPersisted: poll.Snapshot().TotalVotes}
	}
}

func (s *Store) Get(pollID string) (domain.Snapshot, error) {
	e, err := s.entry(pollID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	e.mu.Lock()
	snap := e.poll.Snapshot()
	e.mu.Unlock()
	return snap, nil
}

func (s *Store) List() []domain.Snapshot {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.polls))
	for _, e := range s.polls {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	snaps := make([]domain.Snapshot, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		snaps = append(snaps, e.poll.Snapshot())
		e.mu.Unlock()
	}
	return snaps
}

// IncrementOption bumps one option's count inside the poll's critical
// section. The commit hook runs before the section is released, which
// pins the broadcast order to the commit order; queueing the durable
// write is the only other work done under the lock. The hook must not
// do network I/O.
func (s *Store) IncrementOption(ctx context.Context, pollID string, option string, commit func(domain.Snapshot)) (domain.Snapshot, error) {
	e, err := s.entry(pollID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	e.mu.Lock()
	i, ok := e.poll.OptionIndex(option)
	if !ok {
		e.mu.Unlock()
		return domain.Snapshot{}, usecase.ErrUnknownOption
	}
	e.poll.Options[i].Votes++
	snap := e.poll.Snapshot()
	if commit != nil {
		commit(snap)
	}
	e.mu.Unlock()

	if s.persister != nil {
		go s.persistTally(e, snap)
	}
	return snap, nil
}

// WithSnapshot runs fn against the poll's current tally while holding
// the poll's critical section. fn must not do network I/O.
func (s *Store) WithSnapshot(pollID string, fn func(domain.Snapshot) error) error {
	e, err := s.entry(pollID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.poll.Snapshot())
}

func (s *Store) entry(pollID string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.polls[pollID]
	s.mu.RUnlock()
	if !ok {
		return nil, usecase.ErrPollNotFound
	}
	return e, nil
}

func (s *Store) persistTally(e *entry, snap domain.Snapshot) {
	e.persistMu.Lock()
	defer e.persistMu.Unlock()
	if snap.TotalVotes <= e.lastPersisted {
		return
	}
	if err := s.withRetry(func(ctx context.Context) error {
		return s.persister.PersistTally(ctx, snap)
	}); err != nil {
		s.logger.Error("tally persistence failed, in-memory state remains authoritative",
			"poll_id", snap.PollID, "total_votes", snap.TotalVotes, "error", err)
		return
	}
	e.lastPersisted = snap.TotalVotes
}

func (s *Store) savePoll(poll *domain.Poll) {
	if err := s.withRetry(func(ctx context.Context) error {
		return s.persister.SavePoll(ctx, poll)
	}); err != nil {
		s.logger.Error("poll persistence failed, in-memory state remains authoritative",
			"poll_id", poll.ID, "error", err)
	}
}

func (s *Store) withRetry(op func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < persistAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err = op(ctx)
		cancel()
		if err == nil {
			return nil
		}
	}
	return err
}
