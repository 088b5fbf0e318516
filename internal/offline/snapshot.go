package offline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Marcelo060877/ict-tutor-pwa/internal/storage"
)

// Snapshot is an immutable copy of a prior response: status, headers and body
// bytes. Snapshots are what cache stores hold and replay.
type Snapshot struct {
	Status    int
	Header    http.Header
	Body      []byte
	FetchedAt time.Time
}

// NewSnapshot drains resp.Body and captures the response. The caller must not
// reuse resp after this; replay the snapshot instead.
func NewSnapshot(resp *http.Response) (*Snapshot, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return &Snapshot{
		Status:    resp.StatusCode,
		Header:    resp.Header.Clone(),
		Body:      body,
		FetchedAt: time.Now().UTC(),
	}, nil
}

// OK reports whether the snapshot captured a successful (2xx) response.
func (s *Snapshot) OK() bool {
	return s.Status >= 200 && s.Status < 300
}

// Response replays the snapshot as a fresh *http.Response for req.
func (s *Snapshot) Response(req *http.Request) *http.Response {
	header := s.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		StatusCode:    s.Status,
		Status:        fmt.Sprintf("%d %s", s.Status, http.StatusText(s.Status)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(s.Body)),
		ContentLength: int64(len(s.Body)),
		Request:       req,
	}
}

// CachedResponse replays a stored snapshot with an X-Served-From: cache
// marker. Fresh network responses go through Response and stay unmarked.
func (s *Snapshot) CachedResponse(req *http.Request) *http.Response {
	resp := s.Response(req)
	resp.Header.Set("X-Served-From", "cache")
	return resp
}

// entryFromSnapshot converts a snapshot into its storage representation.
func entryFromSnapshot(cacheName, key, rawURL, method string, s *Snapshot) (storage.CachedEntry, error) {
	headers, err := json.Marshal(s.Header)
	if err != nil {
		return storage.CachedEntry{}, fmt.Errorf("marshalling headers: %w", err)
	}
	return storage.CachedEntry{
		CacheName:   cacheName,
		Key:         key,
		URL:         rawURL,
		Method:      method,
		Status:      s.Status,
		HeadersJSON: string(headers),
		Body:        s.Body,
		CreatedAt:   s.FetchedAt,
	}, nil
}

// snapshotFromEntry restores a snapshot from its storage representation.
// Malformed stored headers degrade to an empty header set.
func snapshotFromEntry(e storage.CachedEntry) *Snapshot {
	var header http.Header
	if err := json.Unmarshal([]byte(e.HeadersJSON), &header); err != nil || header == nil {
		header = make(http.Header)
	}
	return &Snapshot{
		Status:    e.Status,
		Header:    header,
		Body:      e.Body,
		FetchedAt: e.CreatedAt,
	}
}
