package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/livepoll/livepoll/internal/domain"
	"github.com/livepoll/livepoll/internal/usecase"
)

// Config - gateway listen address and origin policy.
type Config struct {
	Addr          string
	AllowedOrigin string
}

func LoadConfig() Config {
	var cfg Config

	cfg.Addr = os.Getenv("LP_ADDR")
	if cfg.Addr == "" {
		cfg.Addr = ":3000"
	}
	cfg.AllowedOrigin = os.Getenv("LP_ALLOWED_ORIGIN")

	return cfg
}

// IdentityResolver turns an incoming connection into a stable voter ID.
// Resolution happens once, at upgrade time, and must never rely on
// anything a client can put into a message payload.
type IdentityResolver interface {
	ResolveVoter(r *http.Request) (string, error)
}

var errNoVoterToken = errors.New("no voter token")

// TokenResolver reads the opaque voter token issued by the identity
// provider from the X-Voter-Token header or the voter cookie.
type TokenResolver struct{}

func (TokenResolver) ResolveVoter(r *http.Request) (string, error) {
	if token := strings.TrimSpace(r.Header.Get("X-Voter-Token")); token != "" {
		return token, nil
	}
	if cookie, err := r.Cookie("voter"); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	return "", errNoVoterToken
}

// Gateway hosts the websocket endpoint and the poll JSON API on one
// HTTP surface.
type Gateway struct {
	cfg      Config
	svc      *usecase.Voting
	identity IdentityResolver
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewGateway(cfg Config, svc *usecase.Voting, identity IdentityResolver, logger *slog.Logger) *Gateway {
	if identity == nil {
		identity = TokenResolver{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		cfg:      cfg,
		svc:      svc,
		identity: identity,
		logger:   logger,
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", g.handleConnect)
	mux.HandleFunc("POST /polls", g.handleCreatePoll)
	mux.HandleFunc("GET /polls", g.handleListPolls)
	mux.HandleFunc("GET /polls/{id}", g.handleGetPoll)
	return mux
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if g.cfg.AllowedOrigin == "" {
		return true
	}
	return r.Header.Get("Origin") == g.cfg.AllowedOrigin
}

func (g *Gateway) handleConnect(w http.ResponseWriter, r *http.Request) {
	voterID, err := g.identity.ResolveVoter(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	s := newSession(conn, voterID, g.svc, g.logger)
	g.logger.Info("connection opened", "conn_id", s.id)
	s.run()
	g.logger.Info("connection closed", "conn_id", s.id)
}

type createPollRequest struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

type pollResponse struct {
	PollID     string          `json:"pollId"`
	Question   string          `json:"question"`
	Options    []optionPayload `json:"options"`
	TotalVotes int             `json:"totalVotes"`
}

func newPollResponse(snap domain.Snapshot) pollResponse {
	options := make([]optionPayload, len(snap.Options))
	for i, option := range snap.Options {
		options[i] = optionPayload{Value: option.Value, Votes: option.Votes}
	}
	return pollResponse{
		PollID:     snap.PollID,
		Question:   snap.Question,
		Options:    options,
		TotalVotes: snap.TotalVotes,
	}
}

func (g *Gateway) handleCreatePoll(w http.ResponseWriter, r *http.Request) {
	voterID, err := g.identity.ResolveVoter(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req createPollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	snap, err := g.svc.CreatePoll(r.Context(), req.Question, req.Options, voterID)
	if err != nil {
		if errors.Is(err, usecase.ErrInvalidPoll) {
			http.Error(w, "invalid poll definition", http.StatusBadRequest)
			return
		}
		g.logger.Error("poll creation failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, newPollResponse(snap))
}

func (g *Gateway) handleGetPoll(w http.ResponseWriter, r *http.Request) {
	snap, err := g.svc.GetPoll(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, usecase.ErrPollNotFound) {
			http.Error(w, "poll not found", http.StatusNotFound)
			return
		}
		g.logger.Error("poll lookup failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, newPollResponse(snap))
}

func (g *Gateway) handleListPolls(w http.ResponseWriter, _ *http.Request) {
	snaps := g.svc.ListPolls()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].PollID < snaps[j].PollID })

	polls := make([]pollResponse, len(snaps))
	for i, snap := range snaps {
		polls[i] = newPollResponse(snap)
	}
	writeJSON(w, http.StatusOK, polls)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
