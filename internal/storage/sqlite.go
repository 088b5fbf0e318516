package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for the user profile, the named
// response caches, and the offline sync queue.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite database under dataDir and brings the
// schema up to date. The literal ":memory:" gives an in-memory database,
// which is what the tests use.
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "icttutor.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Single connection sidesteps "database is locked" under writers; WAL and
	// a busy timeout keep concurrent readers off the fast-fail path.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode=WAL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies any embedded migration whose version is not yet recorded
// in schema_version. Filenames sort by their numeric prefix, so lexical
// order is apply order.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	applied, err := s.AppliedMigrations()
	if err != nil {
		return fmt.Errorf("listing applied migrations: %w", err)
	}
	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		version, err := parseMigrationVersion(name)
		if err != nil {
			return err
		}
		if done[version] {
			continue
		}
		if err := s.applyMigration(version, name); err != nil {
			return err
		}
	}

	return nil
}

// applyMigration runs one migration file and records its version, atomically.
func (s *Store) applyMigration(version int, name string) error {
	content, err := migrationsFS.ReadFile("migrations/" + name)
	if err != nil {
		return fmt.Errorf("reading migration %s: %w", name, err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("applying migration %d: %w", version, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("recording migration %d: %w", version, err)
	}
	return tx.Commit()
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations reports the recorded migration versions, ascending.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Profile document ---

func (s *Store) SetProfileKey(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO user_profile (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetProfileKey(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM user_profile WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

func (s *Store) GetAllProfileKeys() (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM user_profile")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		result[k] = v
	}
	return result, rows.Err()
}

// --- Response caches ---

// OpenCache ensures a named cache store exists. Opening an existing store is a no-op.
func (s *Store) OpenCache(name string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO caches (name, created_at) VALUES (?, ?)`,
		name, time.Now().UTC().Format(time.RFC3339))
	return err
}

// CacheNames returns the names of all cache stores in ascending order.
func (s *Store) CacheNames() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM caches ORDER BY name ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// DeleteCache removes a cache store and every entry it holds.
func (s *Store) DeleteCache(name string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM cache_entries WHERE cache_name = ?", name); err != nil {
		return fmt.Errorf("deleting entries of cache %q: %w", name, err)
	}
	if _, err := tx.Exec("DELETE FROM caches WHERE name = ?", name); err != nil {
		return fmt.Errorf("deleting cache %q: %w", name, err)
	}
	return tx.Commit()
}

// PutEntry writes (or overwrites) a snapshot in its cache store. The store
// row is created on demand so a put never fails on a missing store.
func (s *Store) PutEntry(e CachedEntry) error {
	if err := s.OpenCache(e.CacheName); err != nil {
		return fmt.Errorf("opening cache %q: %w", e.CacheName, err)
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO cache_entries (cache_name, req_key, url, method, status, headers_json, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_name, req_key) DO UPDATE SET
			url = excluded.url, method = excluded.method, status = excluded.status,
			headers_json = excluded.headers_json, body = excluded.body, created_at = excluded.created_at`,
		e.CacheName, e.Key, e.URL, e.Method, e.Status, e.HeadersJSON, e.Body,
		createdAt.Format(time.RFC3339),
	)
	return err
}

// MatchEntry looks up a snapshot by request identity in a single cache store.
func (s *Store) MatchEntry(cacheName, key string) (CachedEntry, error) {
	row := s.db.QueryRow(`
		SELECT cache_name, req_key, url, method, status, headers_json, body, created_at
		FROM cache_entries WHERE cache_name = ? AND req_key = ?`, cacheName, key)
	return scanEntry(row)
}

// MatchEntryAnywhere looks up a snapshot by request identity across all cache
// stores whose name carries the given prefix, preferring the newest snapshot.
func (s *Store) MatchEntryAnywhere(namePrefix, key string) (CachedEntry, error) {
	row := s.db.QueryRow(`
		SELECT cache_name, req_key, url, method, status, headers_json, body, created_at
		FROM cache_entries WHERE req_key = ? AND cache_name LIKE ? || '%'
		ORDER BY created_at DESC LIMIT 1`, key, namePrefix)
	return scanEntry(row)
}

// CountEntries returns the number of snapshots held by a cache store.
func (s *Store) CountEntries(cacheName string) (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM cache_entries WHERE cache_name = ?", cacheName).Scan(&n)
	return n, err
}

func scanEntry(row *sql.Row) (CachedEntry, error) {
	var e CachedEntry
	var createdAt string
	err := row.Scan(&e.CacheName, &e.Key, &e.URL, &e.Method, &e.Status, &e.HeadersJSON, &e.Body, &createdAt)
	if err == sql.ErrNoRows {
		return CachedEntry{}, ErrNotFound
	}
	if err != nil {
		return CachedEntry{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return CachedEntry{}, fmt.Errorf("parsing created_at: %w", err)
	}
	e.CreatedAt = t
	return e, nil
}

// --- Sync queue ---

// EnqueueMutation stores an offline write for later replay.
func (s *Store) EnqueueMutation(m Mutation) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !m.RunAfter.IsZero() {
		runAfter = m.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := m.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 5
	}
	headersJSON := m.HeadersJSON
	if headersJSON == "" {
		headersJSON = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO sync_queue (id, method, url, headers_json, body, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		m.ID, m.Method, m.URL, headersJSON, m.Body, maxAttempts, runAfter, now, now,
	)
	return err
}

// ClaimNextMutation claims the oldest due pending mutation, marking it
// running. Returns nil when nothing is due.
func (s *Store) ClaimNextMutation() (*Mutation, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var m Mutation
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(`
		SELECT id, method, url, headers_json, body, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM sync_queue
		WHERE status = 'pending' AND run_after <= ?
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`, now).Scan(
		&m.ID, &m.Method, &m.URL, &m.HeadersJSON, &m.Body, &m.Status, &m.Attempts, &m.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next mutation: %w", err)
	}

	res, err := tx.Exec(`UPDATE sync_queue SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, m.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating mutation status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated mutation rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	m.Status = "running"
	m.LastError = lastError.String
	if m.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for mutation %s: %w", m.ID, err)
	}
	if m.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for mutation %s: %w", m.ID, err)
	}
	if m.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for mutation %s: %w", m.ID, err)
	}
	return &m, nil
}

// CompleteMutation removes a replayed mutation from the queue.
func (s *Store) CompleteMutation(id string) error {
	res, err := s.db.Exec(`DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailMutation records a replay failure. The mutation stays queued with
// exponential backoff until max_attempts, then moves to terminal "failed".
func (s *Store) FailMutation(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM sync_queue WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE sync_queue SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE sync_queue SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}

// PendingMutations returns queued mutations (any status) oldest first, capped at limit.
func (s *Store) PendingMutations(limit int) ([]Mutation, error) {
	rows, err := s.db.Query(`
		SELECT id, method, url, headers_json, body, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM sync_queue ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Mutation
	for rows.Next() {
		var m Mutation
		var runAfter, createdAt, updatedAt string
		var lastError sql.NullString
		if err := rows.Scan(&m.ID, &m.Method, &m.URL, &m.HeadersJSON, &m.Body, &m.Status, &m.Attempts, &m.MaxAttempts,
			&runAfter, &createdAt, &updatedAt, &lastError); err != nil {
			return nil, err
		}
		m.LastError = lastError.String
		if m.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
			return nil, fmt.Errorf("parsing run_after: %w", err)
		}
		if m.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if m.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at: %w", err)
		}
		results = append(results, m)
	}
	return results, rows.Err()
}
