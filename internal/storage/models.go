package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// CachedEntry is an immutable snapshot of a prior HTTP response, keyed by the
// normalized request identity ("METHOD URL") within a named cache store.
type CachedEntry struct {
	CacheName   string
	Key         string
	URL         string
	Method      string
	Status      int
	HeadersJSON string // response headers stored as a JSON object
	Body        []byte
	CreatedAt   time.Time
}

// Mutation is a write request captured while offline, queued for replay
// against its origin once connectivity returns.
type Mutation struct {
	ID          string
	Method      string
	URL         string
	HeadersJSON string // request headers stored as a JSON object
	Body        []byte
	Status      string // "pending", "running", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
