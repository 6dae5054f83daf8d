package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zlnvch/boardsync/api/rest"
	"github.com/zlnvch/boardsync/api/ws"
	"github.com/zlnvch/boardsync/cache"
	"github.com/zlnvch/boardsync/config"
	"github.com/zlnvch/boardsync/logging"
	"github.com/zlnvch/boardsync/mq"
	"github.com/zlnvch/boardsync/service"
	"github.com/zlnvch/boardsync/session"
	"github.com/zlnvch/boardsync/store"
	"github.com/zlnvch/boardsync/worker"
)

type BoardsyncAPI struct {
	service     *service.Service
	wsHandler   *ws.Handler
	restHandler *rest.Handler
}

// NewBoardsyncAPI wires the session registry, diff pipeline and websocket
// handler. The outbox consumer runs until shutdownCtx is done.
func NewBoardsyncAPI(
	whiteboardStore store.WhiteboardStore,
	userStore store.UserStore,
	outbox mq.MessageQueue,
	boardsyncCache cache.BoardsyncCache,
	cfg *config.Config,
	shutdownCtx context.Context,
) (*BoardsyncAPI, error) {
	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		return nil, err
	}

	registry := session.NewRegistry(whiteboardStore, session.RegistryOptions{
		Session: session.Options{BroadcastBacklog: cfg.Session.BroadcastBacklog},
	})

	flusher := service.NewDiffFlusher(whiteboardStore, outbox, service.FlushOptions{
		MaxAttempts:     cfg.Flush.MaxAttempts,
		InitialBackoff:  cfg.Flush.InitialBackoff,
		StoreTimeout:    cfg.Flush.StoreTimeout,
		BreakerFailures: cfg.Flush.BreakerFailures,
		BreakerTimeout:  cfg.Flush.BreakerTimeout,
	})

	if outbox != nil {
		outboxConsumer := worker.NewOutboxConsumer(outbox, flusher)
		go outboxConsumer.Run(shutdownCtx)
	}

	svc := service.NewService(whiteboardStore, userStore, boardsyncCache, registry, flusher, jwtSecret)

	wsHandler := ws.NewHandler(svc, cfg.Server.AllowedOrigins, ws.ClientOptions{
		MaxMessageBytes:   cfg.Session.MaxMessageBytes,
		MessagesPerSecond: cfg.Session.MessagesPerSecond,
		Burst:             cfg.Session.Burst,
	}, shutdownCtx)

	return &BoardsyncAPI{
		service:     svc,
		wsHandler:   wsHandler,
		restHandler: rest.NewHandler(svc),
	}, nil
}

func (boardsyncAPI *BoardsyncAPI) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	// Health check endpoint (no auth required)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/{whiteboardId}", boardsyncAPI.wsHandler.ServeWS)

	r.Get("/whiteboards/{whiteboardId}", boardsyncAPI.restHandler.HandleGetWhiteboard)
	r.Get("/whiteboards/{whiteboardId}/canvases/{canvasId}", boardsyncAPI.restHandler.HandleGetCanvas)

	return r
}

// Close waits for websocket readers to stop, writes out every queued diff
// and ends every live session. Call after the HTTP server has stopped and
// the shutdown context passed to NewBoardsyncAPI is done.
func (boardsyncAPI *BoardsyncAPI) Close(ctx context.Context) {
	if err := boardsyncAPI.wsHandler.Wait(ctx); err != nil {
		logging.Warn().Err(err).Msg("Websocket readers still running at shutdown")
	}
	boardsyncAPI.service.FlushAll()
	boardsyncAPI.service.Registry.Close()
}
