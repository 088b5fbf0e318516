package offline

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Marcelo060877/ict-tutor-pwa/internal/storage"
)

func newTestSyncWorker(t *testing.T) (*SyncWorker, *storage.Store, *fakeFetcher) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	fetch := newFakeFetcher()
	w := NewSyncWorker(store, fetch, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return w, store, fetch
}

func enqueue(t *testing.T, store *storage.Store, method, url, body string) string {
	t.Helper()
	id := uuid.NewString()
	err := store.EnqueueMutation(storage.Mutation{
		ID:     id,
		Method: method,
		URL:    url,
		Body:   []byte(body),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return id
}

func TestRunOnceReplaysAndCompletes(t *testing.T) {
	w, store, fetch := newTestSyncWorker(t)
	fetch.serve("http://localhost:8080/api/sessions", 201, "created")
	enqueue(t, store, "POST", "http://localhost:8080/api/sessions", `{"topic":"Capítulo I"}`)

	processed, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !processed {
		t.Fatal("due mutation not processed")
	}

	pending, err := store.PendingMutations(10)
	if err != nil {
		t.Fatalf("listing pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("%d mutations still queued after replay", len(pending))
	}
	if fetch.callCount("http://localhost:8080/api/sessions") != 1 {
		t.Fatal("mutation was not replayed against the network")
	}
}

func TestRunOnceIdleQueue(t *testing.T) {
	w, _, _ := newTestSyncWorker(t)

	processed, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if processed {
		t.Fatal("empty queue reported a processed mutation")
	}
}

func TestRunOnceFailureReschedulesWithBackoff(t *testing.T) {
	w, store, fetch := newTestSyncWorker(t)
	fetch.setOffline(true)
	id := enqueue(t, store, "POST", "http://localhost:8080/api/sessions", "{}")

	processed, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if !processed {
		t.Fatal("failed mutation should still count as processed")
	}

	pending, err := store.PendingMutations(10)
	if err != nil {
		t.Fatalf("listing pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	got := pending[0]
	if got.ID != id || got.Attempts != 1 || got.LastError == "" {
		t.Fatalf("rescheduled mutation = %+v", got)
	}
	if !got.RunAfter.After(time.Now().UTC().Add(time.Second)) {
		t.Fatalf("run_after %v not pushed into the future", got.RunAfter)
	}

	// Backed-off mutation is not due yet, so a second pass finds nothing.
	processed, err = w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("second run once: %v", err)
	}
	if processed {
		t.Fatal("backed-off mutation claimed before its retry time")
	}
}

func TestRunOnceServerErrorCountsAsFailure(t *testing.T) {
	w, store, fetch := newTestSyncWorker(t)
	fetch.serve("http://localhost:8080/api/sessions", 500, "boom")
	enqueue(t, store, "POST", "http://localhost:8080/api/sessions", "{}")

	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	pending, err := store.PendingMutations(10)
	if err != nil {
		t.Fatalf("listing pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Attempts != 1 {
		t.Fatalf("pending = %+v, want one mutation with a recorded attempt", pending)
	}
}

func TestAttachWakesOnReconnect(t *testing.T) {
	w, _, _ := newTestSyncWorker(t)
	hub := NewHub(false)
	w.Attach(hub)

	hub.Set(true)

	select {
	case <-w.wake:
	default:
		t.Fatal("reconnect did not wake the worker")
	}
}

func TestWakeCoalesces(t *testing.T) {
	w, _, _ := newTestSyncWorker(t)
	w.Wake()
	w.Wake()
	w.Wake()

	<-w.wake
	select {
	case <-w.wake:
		t.Fatal("wake signals were not coalesced")
	default:
	}
}

func TestHubNotifiesOnTransitionOnly(t *testing.T) {
	hub := NewHub(true)
	var events []bool
	hub.Subscribe(func(online bool) { events = append(events, online) })

	hub.Set(true)
	hub.Set(false)
	hub.Set(false)
	hub.Set(true)

	if len(events) != 2 || events[0] != false || events[1] != true {
		t.Fatalf("events = %v, want [false true]", events)
	}
	if !hub.Online() {
		t.Fatal("hub should report online")
	}
}
