package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zlnvch/boardsync/api"
	"github.com/zlnvch/boardsync/cache/redis"
	"github.com/zlnvch/boardsync/config"
	"github.com/zlnvch/boardsync/logging"
	"github.com/zlnvch/boardsync/mq/sqsmq"
	"github.com/zlnvch/boardsync/store/dynamo"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx := context.Background()
	devMode := cfg.Server.DevMode

	boardsyncStore, err := dynamo.NewDynamoStore(ctx, devMode, cfg.Dynamo.Endpoint, cfg.Dynamo.Table)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create dynamodb store")
	}

	outboxQueue, err := sqsmq.NewSQSMessageQueue(ctx, devMode, cfg.SQS.Endpoint, cfg.SQS.OutboxQueue)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create SQS outbox queue")
	}

	boardsyncCache, err := redis.NewRedisCache(ctx, devMode, cfg.Redis.Endpoint)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create redis cache")
	}

	shutdownCtx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	boardsyncAPI, err := api.NewBoardsyncAPI(boardsyncStore, boardsyncStore, outboxQueue, boardsyncCache, cfg, shutdownCtx)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create boardsync api")
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           boardsyncAPI.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logging.Info().Int("port", cfg.Server.Port).Bool("dev_mode", devMode).Msg("Starting server")
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("Server failed")
		}
	case <-shutdownCtx.Done():
	}

	logging.Info().Msg("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// Hijacked websockets are not tracked by Shutdown; their write pumps
	// watch shutdownCtx and send a going-away close frame.
	if err := server.Shutdown(ctx); err != nil {
		logging.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	boardsyncAPI.Close(ctx)

	logging.Info().Msg("Server stopped")
}
