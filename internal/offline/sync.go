package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Marcelo060877/ict-tutor-pwa/internal/storage"
)

// MutationQueue is the persistent queue of deferred write requests.
// Implemented by storage.Store.
type MutationQueue interface {
	ClaimNextMutation() (*storage.Mutation, error)
	CompleteMutation(id string) error
	FailMutation(id string, errMsg string) error
}

// defaultSyncInterval is how often the worker polls for due mutations when
// idle. A connectivity wake replays sooner.
const defaultSyncInterval = 30 * time.Second

// SyncWorker drains the mutation queue by replaying each queued request
// against the network. Failed replays are rescheduled with growing backoff
// by the queue itself.
type SyncWorker struct {
	queue    MutationQueue
	fetch    Fetcher
	logger   *slog.Logger
	interval time.Duration
	wake     chan struct{}
}

// NewSyncWorker builds a worker over the given queue and fetcher.
func NewSyncWorker(queue MutationQueue, fetch Fetcher, logger *slog.Logger) *SyncWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncWorker{
		queue:    queue,
		fetch:    fetch,
		logger:   logger,
		interval: defaultSyncInterval,
		wake:     make(chan struct{}, 1),
	}
}

// SetInterval overrides the idle poll interval. Call before Run.
func (w *SyncWorker) SetInterval(d time.Duration) {
	if d > 0 {
		w.interval = d
	}
}

// Attach subscribes the worker to connectivity transitions so regained
// connectivity triggers an immediate drain.
func (w *SyncWorker) Attach(hub *Hub) {
	hub.Subscribe(func(online bool) {
		if online {
			w.Wake()
		}
	})
}

// Wake requests an immediate drain pass. Safe from any goroutine; coalesces
// when a wake is already pending.
func (w *SyncWorker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run drains the queue on a fixed interval and on wake signals until ctx
// ends.
func (w *SyncWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// drain replays due mutations until the queue is empty or an unexpected
// error occurs.
func (w *SyncWorker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("sync pass failed", "error", err)
			return
		}
		if !processed {
			return
		}
	}
}

// RunOnce claims and replays at most one due mutation. Returns false when
// nothing was due. A failed replay counts as processed; the mutation is
// rescheduled, not retried inline.
func (w *SyncWorker) RunOnce(ctx context.Context) (bool, error) {
	mut, err := w.queue.ClaimNextMutation()
	if err != nil {
		return false, fmt.Errorf("claiming mutation: %w", err)
	}
	if mut == nil {
		return false, nil
	}

	if err := w.replay(ctx, *mut); err != nil {
		w.logger.Warn("mutation replay failed",
			"id", mut.ID, "method", mut.Method, "url", mut.URL,
			"attempt", mut.Attempts+1, "error", err)
		if failErr := w.queue.FailMutation(mut.ID, err.Error()); failErr != nil {
			return false, fmt.Errorf("recording mutation failure: %w", failErr)
		}
		return true, nil
	}

	if err := w.queue.CompleteMutation(mut.ID); err != nil {
		return false, fmt.Errorf("completing mutation: %w", err)
	}
	w.logger.Info("mutation synced", "id", mut.ID, "method", mut.Method, "url", mut.URL)
	return true, nil
}

// replay re-issues the stored request. A reachable server rejecting the
// request (4xx/5xx) still counts as failure so the mutation is retried.
func (w *SyncWorker) replay(ctx context.Context, mut storage.Mutation) error {
	var body io.Reader
	if len(mut.Body) > 0 {
		body = bytes.NewReader(mut.Body)
	}
	req, err := http.NewRequestWithContext(ctx, mut.Method, mut.URL, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if mut.HeadersJSON != "" {
		var headers map[string][]string
		if err := json.Unmarshal([]byte(mut.HeadersJSON), &headers); err != nil {
			return fmt.Errorf("decoding stored headers: %w", err)
		}
		req.Header = http.Header(headers)
	}

	resp, err := w.fetch.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return nil
}
