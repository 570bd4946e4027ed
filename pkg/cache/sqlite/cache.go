// Package sqlite implements the persistent cache tier: one payload file per
// key under a two-character shard directory, indexed by a SQLite table that
// tracks the original question, timestamps and hit counts.
//
// A payload file and its index row exist together or not at all. Deletion
// removes the file before the row; a row left without a file (the only
// possible leftover of a failed delete) is removed on the next Load or
// Reconcile.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/qcache/pkg/fingerprint"
	"github.com/pario-ai/qcache/pkg/models"
)

var (
	// ErrNotFound is returned when no entry exists for a key.
	ErrNotFound = errors.New("cache entry not found")
	// ErrCorrupt is returned when a payload cannot be decoded. The entry has
	// already been removed when Load returns it.
	ErrCorrupt = errors.New("corrupt cache payload")
)

const (
	indexFile     = "cache_index.db"
	payloadSuffix = ".cache"
	tempPrefix    = ".tmp-"
)

const createIndexTable = `
CREATE TABLE IF NOT EXISTS cache_index (
	cache_key TEXT PRIMARY KEY,
	question TEXT NOT NULL,
	config_id TEXT NOT NULL,
	scope TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	last_accessed INTEGER NOT NULL,
	hit_count INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_cache_last_accessed ON cache_index(last_accessed);
CREATE INDEX IF NOT EXISTS idx_cache_created ON cache_index(created_at);
`

// Store is the persistent tier. Writers hold the write lock, so index writes
// never race; readers share the read lock.
type Store struct {
	db  *sqlx.DB
	dir string
	mu  sync.RWMutex
}

type indexRow struct {
	Key          string `db:"cache_key"`
	Question     string `db:"question"`
	ConfigID     string `db:"config_id"`
	Scope        string `db:"scope"`
	CreatedAt    int64  `db:"created_at"`
	LastAccessed int64  `db:"last_accessed"`
	HitCount     int64  `db:"hit_count"`
}

func (r indexRow) model() models.IndexRow {
	return models.IndexRow{
		Key:          r.Key,
		Question:     r.Question,
		ConfigID:     r.ConfigID,
		Scope:        r.Scope,
		CreatedAt:    fromMillis(r.CreatedAt),
		LastAccessed: fromMillis(r.LastAccessed),
		HitCount:     r.HitCount,
	}
}

// New opens (creating if needed) the cache directory and its index.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	dsn := "file:" + filepath.Join(dir, indexFile) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache index: %w", err)
	}

	if _, err := db.Exec(createIndexTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache index: %w", err)
	}

	return &Store{db: db, dir: dir}, nil
}

// Dir returns the cache root directory.
func (s *Store) Dir() string {
	return s.dir
}

// PayloadPath returns the payload file location for key.
func (s *Store) PayloadPath(key string) string {
	return filepath.Join(s.dir, fingerprint.Shard(key), key+payloadSuffix)
}

// Save writes the payload file and upserts its index row. Re-saving a key
// resets its creation time and counts as a hit. If the row cannot be written,
// the file is removed again.
func (s *Store) Save(ctx context.Context, row models.IndexRow, r models.Result) error {
	data, err := Encode(row.Key, row.CreatedAt, r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.PayloadPath(row.Key)
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cache_index (cache_key, question, config_id, scope, created_at, last_accessed, hit_count)
		 VALUES (?, ?, ?, ?, ?, ?, 1)
		 ON CONFLICT(cache_key) DO UPDATE SET
			question = excluded.question,
			config_id = excluded.config_id,
			scope = excluded.scope,
			created_at = excluded.created_at,
			last_accessed = excluded.last_accessed,
			hit_count = cache_index.hit_count + 1`,
		row.Key, row.Question, row.ConfigID, row.Scope, toMillis(row.CreatedAt), toMillis(row.LastAccessed),
	)
	if err != nil {
		_ = os.Remove(path)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM cache_index WHERE cache_key = ?`, row.Key)
		return fmt.Errorf("upsert index row: %w", err)
	}
	return nil
}

// Load returns the decoded payload and index row for key. A row whose file is
// missing is dropped and reported as ErrNotFound; an unreadable payload is
// deleted and reported as ErrCorrupt.
func (s *Store) Load(ctx context.Context, key string) (models.Result, models.IndexRow, error) {
	s.mu.RLock()
	var row indexRow
	err := s.db.GetContext(ctx, &row,
		`SELECT cache_key, question, config_id, scope, created_at, last_accessed, hit_count
		 FROM cache_index WHERE cache_key = ?`, key)
	if err != nil {
		s.mu.RUnlock()
		if errors.Is(err, sql.ErrNoRows) {
			return models.Result{}, models.IndexRow{}, ErrNotFound
		}
		return models.Result{}, models.IndexRow{}, fmt.Errorf("read index row: %w", err)
	}
	data, readErr := os.ReadFile(s.PayloadPath(key))
	s.mu.RUnlock()

	if readErr != nil {
		discarded, delErr := s.discardBroken(ctx, key, row.CreatedAt)
		if delErr != nil {
			return models.Result{}, models.IndexRow{}, delErr
		}
		if !discarded || errors.Is(readErr, fs.ErrNotExist) {
			return models.Result{}, models.IndexRow{}, ErrNotFound
		}
		return models.Result{}, models.IndexRow{}, fmt.Errorf("%w: %v", ErrCorrupt, readErr)
	}

	res, err := Decode(key, data)
	if err != nil {
		discarded, delErr := s.discardBroken(ctx, key, row.CreatedAt)
		if delErr != nil {
			return models.Result{}, models.IndexRow{}, errors.Join(err, delErr)
		}
		if !discarded {
			return models.Result{}, models.IndexRow{}, ErrNotFound
		}
		return models.Result{}, models.IndexRow{}, err
	}
	return res, row.model(), nil
}

// discardBroken deletes the entry for key after a failed payload read made
// under the read lock. It first re-checks under the write lock: if a Save
// replaced the entry in between (a different created_at, or a payload that
// now decodes) the entry is kept and false is returned.
func (s *Store) discardBroken(ctx context.Context, key string, seenCreatedAt int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var createdAt int64
	err := s.db.GetContext(ctx, &createdAt, `SELECT created_at FROM cache_index WHERE cache_key = ?`, key)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// already gone; drop any stray file
	case err != nil:
		return false, fmt.Errorf("read index row: %w", err)
	case createdAt != seenCreatedAt:
		return false, nil
	default:
		if data, readErr := os.ReadFile(s.PayloadPath(key)); readErr == nil {
			if _, decErr := Decode(key, data); decErr == nil {
				return false, nil
			}
		}
	}
	return true, s.deleteLocked(ctx, key)
}

// Touch records an access to key.
func (s *Store) Touch(ctx context.Context, key string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE cache_index SET last_accessed = ?, hit_count = hit_count + 1 WHERE cache_key = ?`,
		toMillis(now), key)
	if err != nil {
		return fmt.Errorf("touch index row: %w", err)
	}
	return nil
}

// Delete removes the payload file and then the index row for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(ctx, key)
}

func (s *Store) deleteLocked(ctx context.Context, key string) error {
	if err := os.Remove(s.PayloadPath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove payload: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_index WHERE cache_key = ?`, key); err != nil {
		return fmt.Errorf("delete index row: %w", err)
	}
	return nil
}

// DeleteAccessedBefore removes entries last accessed before cutoff.
func (s *Store) DeleteAccessedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return s.deleteWhere(ctx, `SELECT cache_key FROM cache_index WHERE last_accessed < ?`, toMillis(cutoff))
}

// DeleteCreatedBefore removes entries created at or before cutoff.
func (s *Store) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return s.deleteWhere(ctx, `SELECT cache_key FROM cache_index WHERE created_at <= ?`, toMillis(cutoff))
}

// Purge removes every entry and any stray payload files.
func (s *Store) Purge(ctx context.Context) error {
	if _, err := s.deleteWhere(ctx, `SELECT cache_key FROM cache_index`); err != nil {
		return err
	}
	_, err := s.Reconcile(ctx)
	return err
}

func (s *Store) deleteWhere(ctx context.Context, query string, args ...any) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	if err := s.db.SelectContext(ctx, &keys, query, args...); err != nil {
		return 0, fmt.Errorf("select cache keys: %w", err)
	}

	deleted := 0
	for _, key := range keys {
		if err := s.deleteLocked(ctx, key); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// Reconcile restores the file/row pairing after a crash: payload files
// without a row, rows without a payload file and leftover temp files are
// removed. It returns the number of repairs.
func (s *Store) Reconcile(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	if err := s.db.SelectContext(ctx, &keys, `SELECT cache_key FROM cache_index`); err != nil {
		return 0, fmt.Errorf("select cache keys: %w", err)
	}
	indexed := make(map[string]bool, len(keys))
	for _, k := range keys {
		indexed[k] = true
	}

	repaired := 0
	onDisk := make(map[string]bool)
	err := s.walkShards(func(path, name string) error {
		if strings.HasPrefix(name, tempPrefix) {
			repaired++
			return os.Remove(path)
		}
		key, ok := strings.CutSuffix(name, payloadSuffix)
		if !ok {
			return nil
		}
		if !indexed[key] {
			repaired++
			return os.Remove(path)
		}
		onDisk[key] = true
		return nil
	})
	if err != nil {
		return repaired, fmt.Errorf("sweep payload files: %w", err)
	}

	for _, k := range keys {
		if onDisk[k] {
			continue
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_index WHERE cache_key = ?`, k); err != nil {
			return repaired, fmt.Errorf("delete orphan row: %w", err)
		}
		repaired++
	}
	return repaired, nil
}

// Count returns the number of index rows.
func (s *Store) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM cache_index`); err != nil {
		return 0, fmt.Errorf("count index rows: %w", err)
	}
	return n, nil
}

// FileCount returns the number of payload files on disk.
func (s *Store) FileCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	err := s.walkShards(func(_, name string) error {
		if strings.HasSuffix(name, payloadSuffix) && !strings.HasPrefix(name, tempPrefix) {
			n++
		}
		return nil
	})
	return n, err
}

// TopByHits returns the k most hit questions.
func (s *Store) TopByHits(ctx context.Context, k int) ([]models.TopQuery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []struct {
		Question string `db:"question"`
		HitCount int64  `db:"hit_count"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT question, hit_count FROM cache_index ORDER BY hit_count DESC, last_accessed DESC LIMIT ?`, k)
	if err != nil {
		return nil, fmt.Errorf("top queries: %w", err)
	}

	top := make([]models.TopQuery, 0, len(rows))
	for _, r := range rows {
		top = append(top, models.TopQuery{Question: r.Question, HitCount: r.HitCount})
	}
	return top, nil
}

// AverageAge returns the mean age of indexed entries at now.
func (s *Store) AverageAge(ctx context.Context, now time.Time) (time.Duration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var avg float64
	err := s.db.GetContext(ctx, &avg,
		`SELECT COALESCE(AVG(? - created_at), 0) FROM cache_index`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("average age: %w", err)
	}
	return time.Duration(avg * float64(time.Millisecond)), nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) walkShards(fn func(path, name string) error) error {
	shards, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, shard := range shards {
		if !shard.IsDir() || len(shard.Name()) != 2 {
			continue
		}
		shardDir := filepath.Join(s.dir, shard.Name())
		files, err := os.ReadDir(shardDir)
		if err != nil {
			return err
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			if err := fn(filepath.Join(shardDir, f.Name()), f.Name()); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
