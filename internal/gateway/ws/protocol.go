package ws

import (
	"errors"

	"github.com/livepoll/livepoll/internal/domain"
	"github.com/livepoll/livepoll/internal/usecase"
)

// Inbound message types.
const (
	msgSubscribe   = "subscribe"
	msgVote        = "vote"
	msgUnsubscribe = "unsubscribe"
	msgPing        = "ping"
)

// clientMessage - one inbound frame; Type selects which fields matter.
type clientMessage struct {
	Type   string `json:"type"`
	PollID string `json:"pollId"`
	Option string `json:"option"`
}

type optionPayload struct {
	Value string `json:"value"`
	Votes int    `json:"votes"`
}

// snapshotMessage carries the full tally, never a delta. Clients apply
// it replace-not-merge and may discard snapshots with a lower
// totalVotes than the one they already hold.
type snapshotMessage struct {
	Type       string          `json:"type"`
	PollID     string          `json:"pollId"`
	Question   string          `json:"question"`
	Options    []optionPayload `json:"options"`
	TotalVotes int             `json:"totalVotes"`
}

type voteAckMessage struct {
	Type     string `json:"type"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type pongMessage struct {
	Type string `json:"type"`
}

func newSnapshotMessage(snap domain.Snapshot) snapshotMessage {
	options := make([]optionPayload, len(snap.Options))
	for i, option := range snap.Options {
		options[i] = optionPayload{Value: option.Value, Votes: option.Votes}
	}
	return snapshotMessage{
		Type:       "snapshot",
		PollID:     snap.PollID,
		Question:   snap.Question,
		Options:    options,
		TotalVotes: snap.TotalVotes,
	}
}

func newVoteAck(accepted bool, reason string) voteAckMessage {
	return voteAckMessage{Type: "voteAck", Accepted: accepted, Reason: reason}
}

func newError(message string) errorMessage {
	return errorMessage{Type: "error", Message: message}
}

// rejectionReason maps processor rejections onto the protocol's voteAck
// reasons. Errors outside the rejection taxonomy report false.
func rejectionReason(err error) (string, bool) {
	switch {
	case errors.Is(err, usecase.ErrAlreadyVoted):
		return "AlreadyVoted", true
	case errors.Is(err, usecase.ErrUnknownOption):
		return "InvalidOption", true
	case errors.Is(err, usecase.ErrMalformedRequest), errors.Is(err, usecase.ErrInvalidVoter):
		return "MalformedRequest", true
	}
	return "", false
}
