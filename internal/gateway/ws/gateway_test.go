package ws

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/livepoll/livepoll/internal/hub"
	"github.com/livepoll/livepoll/internal/ledger"
	"github.com/livepoll/livepoll/internal/store"
	"github.com/livepoll/livepoll/internal/usecase"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	voting := usecase.NewVoting(store.New(nil, logger), ledger.New(nil, logger), hub.New(logger), logger)
	gateway := NewGateway(Config{}, voting, nil, logger)
	srv := httptest.NewServer(gateway.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, srv *httptest.Server, voterToken string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("X-Voter-Token", voterToken)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func createPoll(t *testing.T, srv *httptest.Server, question string, options []string) string {
	t.Helper()
	body, err := json.Marshal(createPollRequest{Question: question, Options: options})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/polls", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Voter-Token", "creator-1")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out pollResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.PollID
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]any
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(frame))
}

func TestUpgradeRequiresVoterToken(t *testing.T) {
	srv := newTestServer(t)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	if conn != nil {
		conn.Close()
	}
}

func TestSubscribeDeliversInitialSnapshot(t *testing.T) {
	srv := newTestServer(t)
	pollID := createPoll(t, srv, "tabs or spaces?", []string{"tabs", "spaces"})

	conn := dial(t, srv, "voter-1")
	writeFrame(t, conn, clientMessage{Type: msgSubscribe, PollID: pollID})

	frame := readFrame(t, conn)
	assert.Equal(t, "snapshot", frame["type"])
	assert.Equal(t, pollID, frame["pollId"])
	assert.Equal(t, "tabs or spaces?", frame["question"])
	assert.EqualValues(t, 0, frame["totalVotes"])
	assert.Len(t, frame["options"], 2)
}

func TestVoteBroadcastsToAllSubscribers(t *testing.T) {
	srv := newTestServer(t)
	pollID := createPoll(t, srv, "tabs or spaces?", []string{"tabs", "spaces"})

	voter := dial(t, srv, "voter-1")
	viewer := dial(t, srv, "voter-2")
	writeFrame(t, voter, clientMessage{Type: msgSubscribe, PollID: pollID})
	writeFrame(t, viewer, clientMessage{Type: msgSubscribe, PollID: pollID})
	readFrame(t, voter)
	readFrame(t, viewer)

	writeFrame(t, voter, clientMessage{Type: msgVote, PollID: pollID, Option: "tabs"})

	// The broadcast is enqueued at commit, before the ack.
	frame := readFrame(t, voter)
	assert.Equal(t, "snapshot", frame["type"])
	assert.EqualValues(t, 1, frame["totalVotes"])

	frame = readFrame(t, voter)
	assert.Equal(t, "voteAck", frame["type"])
	assert.Equal(t, true, frame["accepted"])

	frame = readFrame(t, viewer)
	assert.Equal(t, "snapshot", frame["type"])
	assert.EqualValues(t, 1, frame["totalVotes"])
}

func TestDuplicateVoteRejected(t *testing.T) {
	srv := newTestServer(t)
	pollID := createPoll(t, srv, "tabs or spaces?", []string{"tabs", "spaces"})

	conn := dial(t, srv, "voter-1")
	writeFrame(t, conn, clientMessage{Type: msgVote, PollID: pollID, Option: "tabs"})
	writeFrame(t, conn, clientMessage{Type: msgVote, PollID: pollID, Option: "spaces"})

	frame := readFrame(t, conn)
	assert.Equal(t, "voteAck", frame["type"])
	assert.Equal(t, true, frame["accepted"])

	frame = readFrame(t, conn)
	assert.Equal(t, "voteAck", frame["type"])
	assert.Equal(t, false, frame["accepted"])
	assert.Equal(t, "AlreadyVoted", frame["reason"])
}

func TestVoteInvalidOption(t *testing.T) {
	srv := newTestServer(t)
	pollID := createPoll(t, srv, "tabs or spaces?", []string{"tabs", "spaces"})

	conn := dial(t, srv, "voter-1")
	writeFrame(t, conn, clientMessage{Type: msgVote, PollID: pollID, Option: "both"})

	frame := readFrame(t, conn)
	assert.Equal(t, "voteAck", frame["type"])
	assert.Equal(t, false, frame["accepted"])
	assert.Equal(t, "InvalidOption", frame["reason"])
}

func TestVoteUnknownPoll(t *testing.T) {
	srv := newTestServer(t)

	conn := dial(t, srv, "voter-1")
	writeFrame(t, conn, clientMessage{Type: msgVote, PollID: "missing", Option: "tabs"})

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "PollNotFound", frame["message"])
}

func TestMalformedFrames(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv, "voter-1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "MalformedRequest", frame["message"])

	writeFrame(t, conn, clientMessage{Type: "bogus"})
	frame = readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, "MalformedRequest", frame["message"])
}

func TestProtocolPing(t *testing.T) {
	srv := newTestServer(t)
	conn := dial(t, srv, "voter-1")

	writeFrame(t, conn, clientMessage{Type: msgPing})
	frame := readFrame(t, conn)
	assert.Equal(t, "pong", frame["type"])
}

func TestPollAPI(t *testing.T) {
	srv := newTestServer(t)
	pollID := createPoll(t, srv, "tabs or spaces?", []string{"tabs", "spaces"})

	resp, err := http.Get(srv.URL + "/polls/" + pollID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got pollResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, pollID, got.PollID)
	assert.Equal(t, []optionPayload{{Value: "tabs"}, {Value: "spaces"}}, got.Options)

	missing, err := http.Get(srv.URL + "/polls/missing")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	list, err := http.Get(srv.URL + "/polls")
	require.NoError(t, err)
	defer list.Body.Close()
	var polls []pollResponse
	require.NoError(t, json.NewDecoder(list.Body).Decode(&polls))
	require.Len(t, polls, 1)
	assert.Equal(t, pollID, polls[0].PollID)
}

func TestCreatePollValidationOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	body, err := json.Marshal(createPollRequest{Question: "q", Options: []string{"only"}})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/polls", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Voter-Token", "creator-1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Creation is authenticated like everything else.
	req, err = http.NewRequest(http.MethodPost, srv.URL+"/polls", bytes.NewReader(body))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
