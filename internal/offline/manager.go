package offline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Marcelo060877/ict-tutor-pwa/internal/storage"
)

// CachePrefix tags every cache store owned by this subsystem. Stores without
// the prefix are never touched, not even by clear-all.
const CachePrefix = "tutor-ict-"

// defaultShellPath is the pre-cached entry-point document served as offline
// fallback for navigations.
const defaultShellPath = "/index.html"

// installConcurrency bounds parallel manifest fetches during Install.
const installConcurrency = 4

// ErrUnavailableOffline is returned when a request cannot be satisfied from
// network or any cache and no shell fallback applies.
var ErrUnavailableOffline = errors.New("resource not available offline")

// State is the manager's lifecycle stage.
type State string

const (
	StateInstalling State = "installing"
	StateWaiting    State = "waiting"
	StateActive     State = "active"
	StateSuperseded State = "superseded"
)

// dynamicPatterns selects which network-first responses are worth keeping:
// cross-origin font hosts plus script/style/font file extensions.
var dynamicPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https://fonts\.googleapis\.com`),
	regexp.MustCompile(`^https://fonts\.gstatic\.com`),
	regexp.MustCompile(`\.(?:js|css|woff2?|ttf|eot)$`),
}

// CacheStorage defines the versioned cache store operations the Manager
// needs. Implemented by storage.Store.
type CacheStorage interface {
	OpenCache(name string) error
	CacheNames() ([]string, error)
	DeleteCache(name string) error
	PutEntry(e storage.CachedEntry) error
	MatchEntry(cacheName, key string) (storage.CachedEntry, error)
	MatchEntryAnywhere(namePrefix, key string) (storage.CachedEntry, error)
}

// Fetcher performs network fetches. Satisfied by *http.Client. The manager
// imposes no timeout of its own; configure one on the client.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options configures a Manager.
type Options struct {
	Version  string // version tag, e.g. "v1.0.0"
	Storage  CacheStorage
	Fetcher  Fetcher
	BaseURL  string   // origin used to resolve root-relative paths
	Manifest []string // root-relative shell asset paths to pre-cache
	Shell    string   // shell document path; defaults to /index.html
	Logger   *slog.Logger
}

// Manager owns the versioned response caches and routes intercepted requests
// through cache-first / network-first strategies. It implements
// http.RoundTripper so page networking can be pointed at it transparently.
//
// Request handling is independent per request; no lock is held across a
// routing decision. Store put/match calls are individually atomic.
type Manager struct {
	version     string
	staticName  string
	dynamicName string
	storage     CacheStorage
	fetch       Fetcher
	base        *url.URL
	manifest    map[string]bool
	manifestSeq []string
	shellPath   string
	logger      *slog.Logger

	mu    sync.Mutex
	state State
}

// New creates a Manager in the Installing state. Call Install, then Activate,
// before routing requests through it.
func New(opts Options) (*Manager, error) {
	if opts.Version == "" {
		return nil, fmt.Errorf("version is required")
	}
	if opts.Storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}

	base, err := url.Parse(opts.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", opts.BaseURL)
	}

	shell := opts.Shell
	if shell == "" {
		shell = defaultShellPath
	}

	m := &Manager{
		version:     opts.Version,
		staticName:  CachePrefix + "static-" + opts.Version,
		dynamicName: CachePrefix + "dynamic-" + opts.Version,
		storage:     opts.Storage,
		fetch:       opts.Fetcher,
		base:        base,
		manifest:    make(map[string]bool, len(opts.Manifest)),
		manifestSeq: append([]string(nil), opts.Manifest...),
		shellPath:   shell,
		logger:      opts.Logger,
		state:       StateInstalling,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	for _, p := range opts.Manifest {
		m.manifest[p] = true
	}
	return m, nil
}

// Version returns the manager's version tag.
func (m *Manager) Version() string { return m.version }

// State returns the current lifecycle stage.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// StaticCacheName returns the name of the static store for this version.
func (m *Manager) StaticCacheName() string { return m.staticName }

// DynamicCacheName returns the name of the dynamic store for this version.
func (m *Manager) DynamicCacheName() string { return m.dynamicName }

// Install populates the static store with the full manifest, all-or-nothing:
// a single failed fetch fails the install and leaves the store untouched.
// Successful install moves the manager to Waiting.
func (m *Manager) Install(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateInstalling {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("install from state %q", state)
	}
	m.mu.Unlock()

	snapshots := make([]*Snapshot, len(m.manifestSeq))
	keys := make([]string, len(m.manifestSeq))
	urls := make([]string, len(m.manifestSeq))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(installConcurrency)
	for i, p := range m.manifestSeq {
		g.Go(func() error {
			u := m.resolve(p)
			req, err := http.NewRequestWithContext(gCtx, http.MethodGet, u, nil)
			if err != nil {
				return fmt.Errorf("building request for %s: %w", p, err)
			}
			resp, err := m.fetch.Do(req)
			if err != nil {
				return fmt.Errorf("fetching %s: %w", p, err)
			}
			snap, err := NewSnapshot(resp)
			if err != nil {
				return fmt.Errorf("snapshotting %s: %w", p, err)
			}
			if !snap.OK() {
				return fmt.Errorf("fetching %s: status %d", p, snap.Status)
			}
			snapshots[i] = snap
			keys[i] = requestKey(http.MethodGet, u)
			urls[i] = u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		m.logger.Error("install failed, static cache untouched", "version", m.version, "error", err)
		return fmt.Errorf("installing static assets: %w", err)
	}

	if err := m.storage.OpenCache(m.staticName); err != nil {
		return fmt.Errorf("opening static cache: %w", err)
	}
	for i, snap := range snapshots {
		entry, err := entryFromSnapshot(m.staticName, keys[i], urls[i], http.MethodGet, snap)
		if err != nil {
			return err
		}
		if err := m.storage.PutEntry(entry); err != nil {
			return fmt.Errorf("caching %s: %w", urls[i], err)
		}
	}

	m.mu.Lock()
	m.state = StateWaiting
	m.mu.Unlock()
	m.logger.Info("static assets cached", "version", m.version, "count", len(snapshots))
	return nil
}

// Activate deletes every store carrying this subsystem's tag that does not
// belong to the current version, then takes ownership. Cleanup completes
// before the manager reports Active. Activating an active manager is a no-op.
func (m *Manager) Activate(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateActive:
		m.mu.Unlock()
		return nil
	case StateInstalling:
		m.mu.Unlock()
		return fmt.Errorf("activate before install completed")
	}
	m.mu.Unlock()

	names, err := m.storage.CacheNames()
	if err != nil {
		return fmt.Errorf("listing caches: %w", err)
	}
	for _, name := range names {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !strings.HasPrefix(name, CachePrefix) {
			continue
		}
		if name == m.staticName || name == m.dynamicName {
			continue
		}
		m.logger.Info("deleting stale cache", "name", name)
		if err := m.storage.DeleteCache(name); err != nil {
			return fmt.Errorf("deleting stale cache %q: %w", name, err)
		}
	}

	if err := m.storage.OpenCache(m.dynamicName); err != nil {
		return fmt.Errorf("opening dynamic cache: %w", err)
	}

	m.mu.Lock()
	m.state = StateActive
	m.mu.Unlock()
	m.logger.Info("cache manager active", "version", m.version)
	return nil
}

// SkipWaiting activates immediately, skipping the waiting stage. Stale-cache
// cleanup still runs.
func (m *Manager) SkipWaiting(ctx context.Context) error {
	return m.Activate(ctx)
}

// Supersede marks the manager replaced by a newer version. Routing still
// works but lifecycle transitions are over.
func (m *Manager) Supersede() {
	m.mu.Lock()
	m.state = StateSuperseded
	m.mu.Unlock()
}

// RoundTrip applies the routing algorithm to a single intercepted request:
//
//  1. non-http(s) schemes pass through untouched;
//  2. manifest entries and script/style assets go cache-first against the
//     static store;
//  3. other safe requests go network-first with dynamic-store writeback;
//  4. mutating methods pass straight through, never cached.
func (m *Manager) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return m.fetch.Do(req)
	}
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return m.fetch.Do(req)
	}
	if m.isStaticAsset(req.URL) {
		return m.cacheFirst(req)
	}
	return m.networkFirst(req)
}

// isStaticAsset reports whether a URL belongs to the static shell: an exact
// manifest path match, or a script/stylesheet extension.
func (m *Manager) isStaticAsset(u *url.URL) bool {
	if m.manifest[u.Path] {
		return true
	}
	switch path.Ext(u.Path) {
	case ".js", ".css":
		return true
	}
	return false
}

func (m *Manager) cacheFirst(req *http.Request) (*http.Response, error) {
	key := requestKey(req.Method, req.URL.String())

	if entry, err := m.storage.MatchEntry(m.staticName, key); err == nil {
		m.logger.Debug("serving from cache", "url", req.URL.String())
		return snapshotFromEntry(entry).CachedResponse(req), nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		m.logger.Warn("cache lookup failed", "url", req.URL.String(), "error", err)
	}

	resp, err := m.fetch.Do(req)
	if err == nil {
		snap, snapErr := NewSnapshot(resp)
		if snapErr != nil {
			return nil, snapErr
		}
		if snap.OK() {
			m.writeEntry(m.staticName, key, req.URL.String(), req.Method, snap)
		}
		return snap.Response(req), nil
	}

	if isNavigation(req) {
		if shell, shellErr := m.shellSnapshot(); shellErr == nil {
			m.logger.Debug("serving shell fallback", "url", req.URL.String())
			return shell.CachedResponse(req), nil
		}
	}
	return nil, fmt.Errorf("fetching %s: %w", req.URL.String(), err)
}

func (m *Manager) networkFirst(req *http.Request) (*http.Response, error) {
	resp, err := m.fetch.Do(req)
	if err == nil {
		if resp.StatusCode == http.StatusOK && matchesDynamicPattern(req.URL.String()) {
			snap, snapErr := NewSnapshot(resp)
			if snapErr != nil {
				return nil, snapErr
			}
			m.writeEntry(m.dynamicName, requestKey(req.Method, req.URL.String()), req.URL.String(), req.Method, snap)
			return snap.Response(req), nil
		}
		return resp, nil
	}

	key := requestKey(req.Method, req.URL.String())
	if entry, matchErr := m.storage.MatchEntryAnywhere(CachePrefix, key); matchErr == nil {
		m.logger.Debug("serving from cache after network failure", "url", req.URL.String())
		return snapshotFromEntry(entry).CachedResponse(req), nil
	}

	if isNavigation(req) {
		if shell, shellErr := m.shellSnapshot(); shellErr == nil {
			m.logger.Debug("serving shell fallback", "url", req.URL.String())
			return shell.CachedResponse(req), nil
		}
	}
	return nil, fmt.Errorf("%s: %w", req.URL.String(), ErrUnavailableOffline)
}

// writeEntry copies a successful snapshot into a cache store. Write failures
// only degrade future offline hits, so they are logged, not surfaced.
func (m *Manager) writeEntry(cacheName, key, rawURL, method string, snap *Snapshot) {
	entry, err := entryFromSnapshot(cacheName, key, rawURL, method, snap)
	if err != nil {
		m.logger.Warn("building cache entry failed", "url", rawURL, "error", err)
		return
	}
	if err := m.storage.PutEntry(entry); err != nil {
		m.logger.Warn("cache write failed", "url", rawURL, "error", err)
	}
}

// CacheURLs bulk-adds URLs into the dynamic store: each is fetched and must
// return 2xx. The first failure aborts and is returned.
func (m *Manager) CacheURLs(ctx context.Context, urls []string) error {
	for _, raw := range urls {
		u := m.resolve(raw)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("building request for %s: %w", raw, err)
		}
		resp, err := m.fetch.Do(req)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", raw, err)
		}
		snap, err := NewSnapshot(resp)
		if err != nil {
			return fmt.Errorf("snapshotting %s: %w", raw, err)
		}
		if !snap.OK() {
			return fmt.Errorf("fetching %s: status %d", raw, snap.Status)
		}
		entry, err := entryFromSnapshot(m.dynamicName, requestKey(http.MethodGet, u), u, http.MethodGet, snap)
		if err != nil {
			return err
		}
		if err := m.storage.PutEntry(entry); err != nil {
			return fmt.Errorf("caching %s: %w", raw, err)
		}
	}
	return nil
}

// ClearOwnedCaches deletes every store carrying this subsystem's tag.
// Best-effort: per-store failures are logged and the sweep continues.
func (m *Manager) ClearOwnedCaches() {
	names, err := m.storage.CacheNames()
	if err != nil {
		m.logger.Warn("listing caches for clear failed", "error", err)
		return
	}
	for _, name := range names {
		if !strings.HasPrefix(name, CachePrefix) {
			continue
		}
		if err := m.storage.DeleteCache(name); err != nil {
			m.logger.Warn("deleting cache failed", "name", name, "error", err)
		}
	}
}

// shellSnapshot returns the pre-cached entry-point document.
func (m *Manager) shellSnapshot() (*Snapshot, error) {
	key := requestKey(http.MethodGet, m.resolve(m.shellPath))
	entry, err := m.storage.MatchEntry(m.staticName, key)
	if err != nil {
		return nil, err
	}
	return snapshotFromEntry(entry), nil
}

// resolve turns a root-relative path into an absolute URL on the base origin.
// Absolute URLs come back unchanged.
func (m *Manager) resolve(p string) string {
	if strings.Contains(p, "://") {
		return p
	}
	ref, err := url.Parse(p)
	if err != nil {
		return p
	}
	return m.base.ResolveReference(ref).String()
}

// requestKey normalizes a request identity for cache lookup: method plus URL
// with any fragment dropped.
func requestKey(method, rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		u.Fragment = ""
		rawURL = u.String()
	}
	return method + " " + rawURL
}

// isNavigation reports whether a request represents a full-page navigation.
func isNavigation(req *http.Request) bool {
	if req.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}

func matchesDynamicPattern(rawURL string) bool {
	// Match on the path-only form as well, so query strings don't hide the
	// file extension.
	trimmed := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		u.RawQuery = ""
		u.Fragment = ""
		trimmed = u.String()
	}
	for _, p := range dynamicPatterns {
		if p.MatchString(trimmed) {
			return true
		}
	}
	return false
}
