package ttadapter

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/livepoll/livepoll/internal/domain"
	"github.com/vmihailenco/msgpack/v5"
)

// PollModel - tuple layout of the polls space:
// [id, question, options, created_by, created_at].
type PollModel struct {
	ID        string
	Question  string
	Options   []domain.Option
	CreatedBy string
	CreatedAt int64
}

// VoteModel - tuple layout of the votes space:
// [id, poll_id, voter_id, voted_at]. The space carries a unique
// secondary index poll_voter on (poll_id, voter_id).
type VoteModel struct {
	ID      string
	PollID  string
	VoterID string
	VotedAt int64
}

const (
	pollModelFields = 5
	voteModelFields = 4
)

func NewPollModel(poll *domain.Poll) *PollModel {
	return &PollModel{
		ID:        poll.ID,
		Question:  poll.Question,
		Options:   poll.Options,
		CreatedBy: poll.CreatedBy,
		CreatedAt: poll.CreatedAt.Unix(),
	}
}

func (p *PollModel) ToPoll() *domain.Poll {
	return &domain.Poll{
		ID:        p.ID,
		Question:  p.Question,
		Options:   p.Options,
		CreatedBy: p.CreatedBy,
		CreatedAt: time.Unix(p.CreatedAt, 0).UTC(),
	}
}

func (p *PollModel) EncodeMsgpack(e *msgpack.Encoder) error {
	if err := e.EncodeArrayLen(pollModelFields); err != nil {
		return err
	}
	if err := e.EncodeString(p.ID); err != nil {
		return err
	}
	if err := e.EncodeString(p.Question); err != nil {
		return err
	}
	if err := e.Encode(p.Options); err != nil {
		return err
	}
	if err := e.EncodeString(p.CreatedBy); err != nil {
		return err
	}
	if err := e.EncodeInt(p.CreatedAt); err != nil {
		return err
	}
	return nil
}

func (p *PollModel) DecodeMsgpack(d *msgpack.Decoder) error {
	var err error
	var l int
	if l, err = d.DecodeArrayLen(); err != nil {
		return err
	}
	if l != pollModelFields {
		return fmt.Errorf("array len doesn't match: %d", l)
	}
	if p.ID, err = d.DecodeString(); err != nil {
		return err
	}
	if p.Question, err = d.DecodeString(); err != nil {
		return err
	}
	if l, err = d.DecodeArrayLen(); err != nil {
		return err
	}
	p.Options = make([]domain.Option, l)
	for i := range l {
		if err = d.Decode(&p.Options[i]); err != nil {
			return err
		}
	}
	if p.CreatedBy, err = d.DecodeString(); err != nil {
		return err
	}
	if p.CreatedAt, err = d.DecodeInt64(); err != nil {
		return err
	}
	return nil
}

func NewVoteModel(record domain.VoteRecord) *VoteModel {
	return &VoteModel{
		ID:      uuid.NewString(),
		PollID:  record.PollID,
		VoterID: record.VoterID,
		VotedAt: record.VotedAt.Unix(),
	}
}

func (v *VoteModel) ToRecord() domain.VoteRecord {
	return domain.VoteRecord{
		PollID:  v.PollID,
		VoterID: v.VoterID,
		VotedAt: time.Unix(v.VotedAt, 0).UTC(),
	}
}

func (v *VoteModel) EncodeMsgpack(e *msgpack.Encoder) error {
	if err := e.EncodeArrayLen(voteModelFields); err != nil {
		return err
	}
	if err := e.EncodeString(v.ID); err != nil {
		return err
	}
	if err := e.EncodeString(v.PollID); err != nil {
		return err
	}
	if err := e.EncodeString(v.VoterID); err != nil {
		return err
	}
	if err := e.EncodeInt(v.VotedAt); err != nil {
		return err
	}
	return nil
}

func (v *VoteModel) DecodeMsgpack(d *msgpack.Decoder) error {
	var err error
	var l int
	if l, err = d.DecodeArrayLen(); err != nil {
		return err
	}
	if l != voteModelFields {
		return fmt.Errorf("array len doesn't match: %d", l)
	}
	if v.ID, err = d.DecodeString(); err != nil {
		return err
	}
	if v.PollID, err = d.DecodeString(); err != nil {
		return err
	}
	if v.VoterID, err = d.DecodeString(); err != nil {
		return err
	}
	if v.VotedAt, err = d.DecodeInt64(); err != nil {
		return err
	}
	return nil
}
