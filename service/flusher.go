package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
	"github.com/zlnvch/boardsync/logging"
	"github.com/zlnvch/boardsync/metrics"
	"github.com/zlnvch/boardsync/models"
	"github.com/zlnvch/boardsync/mq"
	"github.com/zlnvch/boardsync/protocol"
	"github.com/zlnvch/boardsync/store"
)

type FlushOptions struct {
	MaxAttempts     int
	InitialBackoff  time.Duration
	StoreTimeout    time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Broadcaster is the part of a session the flusher needs to report lost edits.
type Broadcaster interface {
	Broadcast(msg protocol.ServerMessage) error
}

// DiffFlusher writes diffs to the store through a circuit breaker. A diff
// that keeps failing is handed to the outbox queue for later replay. From
// then on the whiteboard is backlogged: its later diffs also go to the
// outbox, behind the failed one, until the outbox consumer has settled them
// all. Direct writes never overtake a queued diff.
type DiffFlusher struct {
	store   store.WhiteboardStore
	outbox  mq.MessageQueue
	breaker *gobreaker.CircuitBreaker[any]
	opts    FlushOptions

	mu      sync.Mutex
	backlog map[string]int // whiteboard id -> diffs sent to the outbox and not yet settled
}

func NewDiffFlusher(whiteboardStore store.WhiteboardStore, outbox mq.MessageQueue, opts FlushOptions) *DiffFlusher {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}

	metrics.BreakerState.Set(0)
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "diff-store",
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerFailures
		},
		// A missing target is the diff's problem, not the store's.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, store.ErrItemNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state change")
			metrics.BreakerState.Set(float64(to))
		},
	})

	return &DiffFlusher{
		store:   whiteboardStore,
		outbox:  outbox,
		breaker: breaker,
		opts:    opts,
		backlog: make(map[string]int),
	}
}

// Flush persists diffs in order. It never fails the caller: diffs that
// cannot be stored go to the outbox, and if that fails too every client on
// the session is told their recent edits were not saved.
func (f *DiffFlusher) Flush(ctx context.Context, sess Broadcaster, diffs []models.Diff) {
	for _, diff := range diffs {
		if f.Backlog(diff.WhiteboardId) > 0 {
			f.enqueue(ctx, sess, diff)
			continue
		}

		err := f.applyWithRetry(ctx, diff)
		switch {
		case err == nil:
			metrics.DiffsFlushed.WithLabelValues(string(diff.Kind), metrics.ResultOK).Inc()
			continue
		case errors.Is(err, store.ErrItemNotFound):
			metrics.DiffsFlushed.WithLabelValues(string(diff.Kind), metrics.ResultRejected).Inc()
			logging.Warn().Err(err).Str("whiteboard_id", diff.WhiteboardId).Str("kind", string(diff.Kind)).Msg("Dropping diff for missing item")
			continue
		}

		metrics.DiffsFlushed.WithLabelValues(string(diff.Kind), metrics.ResultError).Inc()
		logging.Error().Err(err).Str("whiteboard_id", diff.WhiteboardId).Str("kind", string(diff.Kind)).Msg("Diff flush failed")
		f.enqueue(ctx, sess, diff)
	}
}

// Backlog reports how many of the whiteboard's diffs are queued for replay.
func (f *DiffFlusher) Backlog(whiteboardId string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backlog[whiteboardId]
}

// Settle marks one queued diff of the whiteboard as done with, whether it
// was replayed or given up on.
func (f *DiffFlusher) Settle(whiteboardId string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.backlog[whiteboardId] <= 1 {
		delete(f.backlog, whiteboardId)
		return
	}
	f.backlog[whiteboardId]--
}

func (f *DiffFlusher) enqueue(ctx context.Context, sess Broadcaster, diff models.Diff) {
	// Count before sending so the consumer can never settle ahead of us.
	f.mu.Lock()
	f.backlog[diff.WhiteboardId]++
	f.mu.Unlock()

	if err := f.sendToOutbox(ctx, diff); err != nil {
		f.Settle(diff.WhiteboardId)
		metrics.DiffOutbox.WithLabelValues(metrics.ResultError).Inc()
		logging.Error().Err(err).Str("whiteboard_id", diff.WhiteboardId).Str("kind", string(diff.Kind)).Msg("Diff outbox send failed, edit lost")

		lost := protocol.BroadcastError{Kind: protocol.KindOther, Message: "recent changes could not be saved"}
		if err := sess.Broadcast(lost); err != nil {
			logging.Error().Err(err).Str("whiteboard_id", diff.WhiteboardId).Msg("Failed to broadcast lost edits")
		}
		return
	}
	metrics.DiffOutbox.WithLabelValues(metrics.ResultOK).Inc()
}

func (f *DiffFlusher) applyWithRetry(ctx context.Context, diff models.Diff) error {
	backoff := f.opts.InitialBackoff
	var err error
	for attempt := 1; attempt <= f.opts.MaxAttempts; attempt++ {
		err = f.Apply(ctx, diff)
		if err == nil || errors.Is(err, store.ErrItemNotFound) || errors.Is(err, gobreaker.ErrOpenState) {
			return err
		}
		if attempt == f.opts.MaxAttempts {
			break
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return err
}

// Apply issues the store operations for one diff. Every operation is safe
// to repeat, so a partially applied diff can be retried whole.
func (f *DiffFlusher) Apply(ctx context.Context, diff models.Diff) error {
	wid := diff.WhiteboardId
	switch diff.Kind {
	case models.DiffCreateCanvas:
		if diff.Canvas == nil {
			return fmt.Errorf("create_canvas diff without canvas")
		}
		return f.storeOp(ctx, func(ctx context.Context) error {
			return f.store.CreateCanvas(ctx, wid, *diff.Canvas)
		})

	case models.DiffDeleteCanvases:
		return f.storeOp(ctx, func(ctx context.Context) error {
			return f.store.DeleteCanvases(ctx, wid, diff.CanvasIds)
		})

	case models.DiffCreateShapes:
		for shapeId, shape := range diff.Shapes {
			err := f.storeOp(ctx, func(ctx context.Context) error {
				return f.store.InsertShape(ctx, wid, diff.CanvasId, shapeId, shape, diff.TimeLastModified)
			})
			if err != nil {
				return fmt.Errorf("insert shape %s: %w", shapeId, err)
			}
		}
		return nil

	case models.DiffUpdateShapes:
		for shapeId, shape := range diff.Shapes {
			err := f.storeOp(ctx, func(ctx context.Context) error {
				return f.store.ReplaceShape(ctx, wid, diff.CanvasId, shapeId, shape, diff.TimeLastModified)
			})
			if err != nil {
				return fmt.Errorf("replace shape %s: %w", shapeId, err)
			}
		}
		return nil

	case models.DiffUpdateCanvasAllowedUsers:
		return f.storeOp(ctx, func(ctx context.Context) error {
			return f.store.UpdateCanvasAllowedUsers(ctx, wid, diff.CanvasId, diff.AllowedUsers, diff.TimeLastModified)
		})

	default:
		return fmt.Errorf("unknown diff kind %q", diff.Kind)
	}
}

func (f *DiffFlusher) storeOp(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := f.breaker.Execute(func() (any, error) {
		opCtx, cancel := context.WithTimeout(ctx, f.opts.StoreTimeout)
		defer cancel()
		return nil, op(opCtx)
	})
	return err
}

func (f *DiffFlusher) sendToOutbox(ctx context.Context, diff models.Diff) error {
	if f.outbox == nil {
		return errors.New("no outbox configured")
	}

	body, err := json.Marshal(diff)
	if err != nil {
		return fmt.Errorf("encode diff: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, f.opts.StoreTimeout)
	defer cancel()
	return f.outbox.Send(sendCtx, diff.WhiteboardId, string(body))
}
