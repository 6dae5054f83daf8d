package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zlnvch/boardsync/logging"
	"github.com/zlnvch/boardsync/metrics"
	"github.com/zlnvch/boardsync/models"
	"github.com/zlnvch/boardsync/store"
	"golang.org/x/sync/singleflight"
)

var ErrWhiteboardNotFound = errors.New("whiteboard not found")

// Loader reads a whiteboard's durable document tree and permission list.
type Loader interface {
	LoadWhiteboard(ctx context.Context, whiteboardId string) (*models.Whiteboard, error)
}

type RegistryOptions struct {
	Session     Options
	LoadTimeout time.Duration
}

// Registry maps whiteboard ids to live Sessions, loading them on first use.
// Sessions are never evicted; Close tears them all down at shutdown.
type Registry struct {
	loader Loader
	opts   RegistryOptions

	mu       sync.RWMutex
	sessions map[string]*Session

	loads     singleflight.Group
	instances atomic.Uint64
}

func NewRegistry(loader Loader, opts RegistryOptions) *Registry {
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 10 * time.Second
	}
	return &Registry{
		loader:   loader,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// GetOrLoad returns the live Session for whiteboardId. Concurrent misses for
// the same id share one load and observe the same Session. A whiteboard
// that does not exist is reported as ErrWhiteboardNotFound and not cached.
func (r *Registry) GetOrLoad(ctx context.Context, whiteboardId string) (*Session, error) {
	if s := r.lookup(whiteboardId); s != nil {
		return s, nil
	}

	// The load continues for other waiters even if this caller gives up.
	loadCtx := context.WithoutCancel(ctx)
	ch := r.loads.DoChan(whiteboardId, func() (any, error) {
		if s := r.lookup(whiteboardId); s != nil {
			return s, nil
		}

		ctx, cancel := context.WithTimeout(loadCtx, r.opts.LoadTimeout)
		defer cancel()

		wb, err := r.loader.LoadWhiteboard(ctx, whiteboardId)
		if err != nil {
			if errors.Is(err, store.ErrItemNotFound) {
				return nil, ErrWhiteboardNotFound
			}
			return nil, fmt.Errorf("load whiteboard %s: %w", whiteboardId, err)
		}

		return r.insert(whiteboardId, wb), nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) lookup(whiteboardId string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[whiteboardId]
}

func (r *Registry) insert(whiteboardId string, wb *models.Whiteboard) *Session {
	s := New(wb, r.instances.Add(1), r.opts.Session)

	r.mu.Lock()
	if existing, ok := r.sessions[whiteboardId]; ok {
		r.mu.Unlock()
		return existing
	}
	r.sessions[whiteboardId] = s
	n := len(r.sessions)
	r.mu.Unlock()

	metrics.SessionsLoaded.Set(float64(n))
	logging.Info().Str("whiteboard_id", whiteboardId).Int("canvases", len(wb.Canvases)).Msg("Session loaded")
	return s
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sessions returns the live sessions in no particular order.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Close ends every session's broadcast stream and empties the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	metrics.SessionsLoaded.Set(0)
}
