package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/livepoll/livepoll/internal/domain"
)

var (
	ErrMalformedRequest   = errors.New("malformed request")
	ErrInvalidVoter       = errors.New("invalid voter id")
	ErrInvalidPoll        = errors.New("invalid poll definition")
	ErrPollExists         = errors.New("poll already exists")
	ErrPollNotFound       = errors.New("poll not found")
	ErrUnknownOption      = errors.New("there is no such option in poll")
	ErrAlreadyVoted       = errors.New("voter already voted in poll")
	ErrConnectionOverflow = errors.New("connection outbound queue overflow")
)

// PollStore holds the authoritative in-memory tally state.
type PollStore interface {
	Put(poll *domain.Poll) error
	Get(pollID string) (domain.Snapshot, error)
	List() []domain.Snapshot
	// IncrementOption applies one vote atomically. The commit hook runs
	// inside the poll's critical section, so hooks observe snapshots in
	// commit order.
	IncrementOption(ctx context.Context, pollID string, option string, commit func(domain.Snapshot)) (domain.Snapshot, error)
	// WithSnapshot runs fn against the poll's current tally while holding
	// the poll's critical section, keeping commits out for its duration.
	WithSnapshot(pollID string, fn func(domain.Snapshot) error) error
}

// VoterLedger enforces at-most-one-vote per (poll, voter).
type VoterLedger interface {
	// TryRecordVote returns nil exactly once per (pollID, voterID) pair;
	// every other call reports ErrAlreadyVoted.
	TryRecordVote(ctx context.Context, pollID string, voterID string) error
}

// Sink is the hub-facing side of one connection's outbound queue.
type Sink interface {
	// TrySend enqueues a snapshot without blocking; false means the
	// queue is full.
	TrySend(snap domain.Snapshot) bool
	// Kick asks the connection to close itself after an overflow.
	Kick()
}

// Broadcaster fans committed tally snapshots out to subscribed
// connections.
type Broadcaster interface {
	Subscribe(connID string, pollID string, sink Sink)
	Unsubscribe(connID string)
	Publish(pollID string, snap domain.Snapshot)
}

// Voting validates and applies vote requests and hands committed
// tallies to the broadcaster. Rejections are reported to the caller
// only and never broadcast.
type Voting struct {
	store  PollStore
	ledger VoterLedger
	hub    Broadcaster
	logger *slog.Logger
	now    func() time.Time
}

func NewVoting(store PollStore, ledger VoterLedger, hub Broadcaster, logger *slog.Logger) *Voting {
	if logger == nil {
		logger = slog.Default()
	}
	return &Voting{
		store:  store,
		ledger: ledger,
		hub:    hub,
		logger: logger,
		now:    time.Now,
	}
}

func (v *Voting) CreatePoll(ctx context.Context, question string, options []string, createdBy string) (domain.Snapshot, error) {
	if err := validatePollDefinition(question, options); err != nil {
		return domain.Snapshot{}, err
	}
	if createdBy == "" {
		return domain.Snapshot{}, ErrInvalidVoter
	}

	poll := domain.NewPoll(uuid.NewString(), question, options, createdBy, v.now())
	snap := poll.Snapshot()
	if err := v.store.Put(poll); err != nil {
		return domain.Snapshot{}, fmt.Errorf("could not store poll: %w", err)
	}

	v.logger.Info("poll created", "poll_id", poll.ID, "options", len(poll.Options))
	return snap, nil
}

// CastVote runs one vote through validation, the ledger and the tally.
// The committed snapshot is published to the poll's subscribers before
// the poll's critical section is released, so broadcast order equals
// commit order.
func (v *Voting) CastVote(ctx context.Context, pollID string, voterID string, option string) (domain.Snapshot, error) {
	if pollID == "" || option == "" {
		return domain.Snapshot{}, ErrMalformedRequest
	}
	if voterID == "" {
		return domain.Snapshot{}, ErrInvalidVoter
	}

	snap, err := v.store.Get(pollID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	// The option is checked before the ledger: a vote for an unknown
	// option must not consume the voter's single vote.
	if !snap.HasOption(option) {
		return domain.Snapshot{}, ErrUnknownOption
	}

	if err := v.ledger.TryRecordVote(ctx, pollID, voterID); err != nil {
		return domain.Snapshot{}, err
	}

	snap, err = v.store.IncrementOption(ctx, pollID, option, func(committed domain.Snapshot) {
		v.hub.Publish(pollID, committed)
	})
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("could not apply vote: %w", err)
	}

	v.logger.Info("vote applied", "poll_id", pollID, "option", option, "total_votes", snap.TotalVotes)
	return snap, nil
}

// Subscribe registers the connection for the poll's broadcasts and
// delivers the current tally into its queue. Registration and the
// initial snapshot happen inside the poll's critical section, so the
// connection can neither miss a concurrent commit nor receive it twice.
func (v *Voting) Subscribe(connID string, pollID string, sink Sink) error {
	if pollID == "" {
		return ErrMalformedRequest
	}
	return v.store.WithSnapshot(pollID, func(snap domain.Snapshot) error {
		v.hub.Subscribe(connID, pollID, sink)
		if !sink.TrySend(snap) {
			v.hub.Unsubscribe(connID)
			go sink.Kick()
			return ErrConnectionOverflow
		}
		return nil
	})
}

func (v *Voting) Unsubscribe(connID string) {
	v.hub.Unsubscribe(connID)
}

func (v *Voting) GetPoll(pollID string) (domain.Snapshot, error) {
	return v.store.Get(pollID)
}

func (v *Voting) ListPolls() []domain.Snapshot {
	return v.store.List()
}

func validatePollDefinition(question string, options []string) error {
	if strings.TrimSpace(question) == "" {
		return ErrInvalidPoll
	}
	if len(options) < 2 {
		return ErrInvalidPoll
	}
	seen := make(map[string]struct{}, len(options))
	for _, value := range options {
		if strings.TrimSpace(value) == "" {
			return ErrInvalidPoll
		}
		if _, ok := seen[value]; ok {
			return ErrInvalidPoll
		}
		seen[value] = struct{}{}
	}
	return nil
}
