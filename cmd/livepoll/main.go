package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/livepoll/livepoll/internal/gateway/ws"
	"github.com/livepoll/livepoll/internal/hub"
	"github.com/livepoll/livepoll/internal/ledger"
	"github.com/livepoll/livepoll/internal/repository/ttadapter"
	"github.com/livepoll/livepoll/internal/store"
	"github.com/livepoll/livepoll/internal/usecase"
	"github.com/tarantool/go-tarantool/v2"
)

type tarantoolConfig struct {
	address  string
	user     string
	password string
}

const (
	ttReconnectSeconds = 3
	ttMaxReconnects    = 5

	warmLoadTimeout = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	ctx := context.Background()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	ttCfg := loadTarantoolConfig(logger)
	conn, err := connectTarantool(ctx, ttCfg)
	if err != nil {
		logger.Error("connection to tarantool refused", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to tarantool", "address", ttCfg.address)

	pollRepo := ttadapter.NewPollRepository(conn)
	voteRepo := ttadapter.NewVoteRepository(conn)

	polls := store.New(pollRepo, logger)
	votes := ledger.New(voteRepo, logger)
	if err := warmLoad(ctx, pollRepo, voteRepo, polls, votes, logger); err != nil {
		logger.Error("could not load durable state", "error", err)
		os.Exit(1)
	}

	broadcast := hub.New(logger)
	voting := usecase.NewVoting(polls, votes, broadcast, logger)

	gwCfg := ws.LoadConfig()
	gateway := ws.NewGateway(gwCfg, voting, nil, logger)

	server := &http.Server{
		Addr:    gwCfg.Addr,
		Handler: gateway.Handler(),
	}
	go func() {
		logger.Info("listening", "addr", gwCfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server closed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	conn.CloseGraceful()
}

// warmLoad seeds the in-memory store and ledger from tarantool, so the
// process resumes with the tallies and vote records it last persisted.
func warmLoad(
	ctx context.Context,
	pollRepo *ttadapter.PollRepository,
	voteRepo *ttadapter.VoteRepository,
	polls *store.Store,
	votes *ledger.Ledger,
	logger *slog.Logger,
) error {
	ctx, cancel := context.WithTimeout(ctx, warmLoadTimeout)
	defer cancel()

	loaded, err := pollRepo.ListPolls(ctx)
	if err != nil {
		return err
	}
	polls.Restore(loaded)

	records, err := voteRepo.ListVotes(ctx)
	if err != nil {
		return err
	}
	votes.Restore(records)

	logger.Info("durable state loaded", "polls", len(loaded), "vote_records", len(records))
	return nil
}

func loadTarantoolConfig(logger *slog.Logger) tarantoolConfig {
	var cfg tarantoolConfig

	cfg.address = os.Getenv("TT_ADDRESS")
	if cfg.address == "" {
		cfg.address = "127.0.0.1:3301"
	}
	cfg.user = os.Getenv("TT_USER")
	if cfg.user == "" {
		logger.Error("tarantool user is not set")
		os.Exit(1)
	}
	cfg.password = os.Getenv("TT_PASSWORD")
	if cfg.password == "" {
		logger.Error("tarantool password is not set")
		os.Exit(1)
	}

	return cfg
}

func connectTarantool(ctx context.Context, cfg tarantoolConfig) (*tarantool.Connection, error) {
	dialer := tarantool.NetDialer{
		Address:  cfg.address,
		User:     cfg.user,
		Password: cfg.password,
	}
	opts := tarantool.Opts{
		Timeout:       time.Second,
		Reconnect:     ttReconnectSeconds * time.Second,
		MaxReconnects: ttMaxReconnects,
	}

	return tarantool.Connect(ctx, dialer, opts)
}
