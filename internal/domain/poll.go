package domain

import "time"

// Poll - a question with a fixed ordered set of options and per-option
// vote counts. Options are immutable after creation; only Votes change.
type Poll struct {
	ID       string
	Question string
	Options  []Option
	// CreatedBy - voter ID of the poll's author.
	CreatedBy string
	CreatedAt time.Time
}

// Option - one poll choice and the count of voters who picked it.
// Value is unique within its poll.
type Option struct {
	Value string
	Votes int
}

// VoteRecord - connects a voter and the poll they voted on. Existence
// means "has voted"; records are never mutated or deleted.
type VoteRecord struct {
	PollID  string
	VoterID string
	VotedAt time.Time
}

// Snapshot - a self-contained copy of a poll's current tally, safe to
// hand out across goroutines. TotalVotes orders snapshots of one poll:
// clients replace their state only with a snapshot of equal or higher
// total.
type Snapshot struct {
	PollID     string
	Question   string
	Options    []Option
	TotalVotes int
}

func NewPoll(id string, question string, values []string, createdBy string, createdAt time.Time) *Poll {
	options := make([]Option, len(values))
	for i, value := range values {
		options[i] = Option{Value: value}
	}
	return &Poll{
		ID:        id,
		Question:  question,
		Options:   options,
		CreatedBy: createdBy,
		CreatedAt: createdAt,
	}
}

// OptionIndex returns the position of the option with the given value.
func (p *Poll) OptionIndex(value string) (int, bool) {
	for i, option := range p.Options {
		if option.Value == value {
			return i, true
		}
	}
	return -1, false
}

// Snapshot copies the current tally out of the poll.
func (p *Poll) Snapshot() Snapshot {
	options := make([]Option, len(p.Options))
	copy(options, p.Options)

	total := 0
	for _, option := range options {
		total += option.Votes
	}
	return Snapshot{
		PollID:     p.ID,
		Question:   p.Question,
		Options:    options,
		TotalVotes: total,
	}
}

func (s Snapshot) HasOption(value string) bool {
	for _, option := range s.Options {
		if option.Value == value {
			return true
		}
	}
	return false
}
