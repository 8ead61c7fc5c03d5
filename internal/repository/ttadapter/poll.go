package ttadapter

import (
	"context"
	"fmt"

	"github.com/livepoll/livepoll/internal/domain"
	"github.com/livepoll/livepoll/internal/usecase"
	"github.com/tarantool/go-tarantool/v2"
)

const (
	pollSpace = "polls"
	// optionsField - position of the options array in the polls tuple.
	optionsField = 2

	maxLoadedPolls = 10000
)

type PollRepository struct {
	conn *tarantool.Connection
}

func NewPollRepository(conn *tarantool.Connection) *PollRepository {
	return &PollRepository{
		conn: conn,
	}
}

// SavePoll writes the full poll record. Replace, not insert: retried
// writes after a timeout must not fail on the primary key.
func (r *PollRepository) SavePoll(ctx context.Context, poll *domain.Poll) error {
	_, err := r.conn.Do(
		tarantool.NewReplaceRequest(pollSpace).
			Context(ctx).
			Tuple(NewPollModel(poll)),
	).Get()
	if err != nil {
		return fmt.Errorf("could not replace poll in tarantool: %w", err)
	}
	return nil
}

// PersistTally overwrites only the options field of the poll tuple.
func (r *PollRepository) PersistTally(ctx context.Context, snap domain.Snapshot) error {
	_, err := r.conn.Do(
		tarantool.NewUpdateRequest(pollSpace).
			Context(ctx).
			Index("primary").
			Key(tarantool.StringKey{S: snap.PollID}).
			Operations(tarantool.NewOperations().Assign(optionsField, snap.Options)),
	).Get()
	if err != nil {
		return fmt.Errorf("could not update tally in tarantool: %w", err)
	}
	return nil
}

func (r *PollRepository) LoadPoll(ctx context.Context, id string) (*domain.Poll, error) {
	var res []PollModel
	if err := r.conn.Do(
		tarantool.NewSelectRequest(pollSpace).
			Context(ctx).
			Index("primary").
			Limit(1).
			Key(tarantool.StringKey{S: id}),
	).GetTyped(&res); err != nil {
		return nil, fmt.Errorf("could not select typed poll in tarantool: %w", err)
	}
	if len(res) == 0 {
		return nil, usecase.ErrPollNotFound
	}
	return res[0].ToPoll(), nil
}

// ListPolls loads every stored poll, used to warm the in-memory store
// at startup.
func (r *PollRepository) ListPolls(ctx context.Context) ([]*domain.Poll, error) {
	var res []PollModel
	if err := r.conn.Do(
		tarantool.NewSelectRequest(pollSpace).
			Context(ctx).
			Index("primary").
			Limit(maxLoadedPolls).
			Iterator(tarantool.IterAll).
			Key([]interface{}{}),
	).GetTyped(&res); err != nil {
		return nil, fmt.Errorf("could not select polls in tarantool: %w", err)
	}
	polls := make([]*domain.Poll, len(res))
	for i := range res {
		polls[i] = res[i].ToPoll()
	}
	return polls, nil
}
