package ttadapter

import (
	"context"
	"fmt"

	"github.com/livepoll/livepoll/internal/domain"
	"github.com/tarantool/go-tarantool/v2"
)

const (
	voteSpace = "votes"

	maxLoadedVotes = 100000
)

type VoteRepository struct {
	conn *tarantool.Connection
}

func NewVoteRepository(conn *tarantool.Connection) *VoteRepository {
	return &VoteRepository{
		conn: conn,
	}
}

// InsertVote appends one durable vote record. Uniqueness of
// (poll_id, voter_id) is the ledger's job; the poll_voter index only
// backs it up against races lost before a crash.
func (r *VoteRepository) InsertVote(ctx context.Context, record domain.VoteRecord) error {
	_, err := r.conn.Do(
		tarantool.NewInsertRequest(voteSpace).
			Context(ctx).
			Tuple(NewVoteModel(record)),
	).Get()
	if err != nil {
		return fmt.Errorf("could not insert vote in tarantool: %w", err)
	}
	return nil
}

// ListVotes loads every stored vote record, used to warm the ledger at
// startup.
func (r *VoteRepository) ListVotes(ctx context.Context) ([]domain.VoteRecord, error) {
	var res []VoteModel
	if err := r.conn.Do(
		tarantool.NewSelectRequest(voteSpace).
			Context(ctx).
			Index("primary").
			Limit(maxLoadedVotes).
			Iterator(tarantool.IterAll).
			Key([]interface{}{}),
	).GetTyped(&res); err != nil {
		return nil, fmt.Errorf("could not select votes in tarantool: %w", err)
	}
	records := make([]domain.VoteRecord, len(res))
	for i := range res {
		records[i] = res[i].ToRecord()
	}
	return records, nil
}
