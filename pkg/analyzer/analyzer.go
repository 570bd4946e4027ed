// Package analyzer keeps a durable log of executed questions, maintains
// rolling statistics per detected pattern and derives optimization
// suggestions from them.
package analyzer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/qcache/pkg/config"
	"github.com/pario-ai/qcache/pkg/metrics"
	"github.com/pario-ai/qcache/pkg/models"
)

const createLogTable = `
CREATE TABLE IF NOT EXISTS query_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	question TEXT NOT NULL,
	config_id TEXT NOT NULL,
	scope TEXT NOT NULL DEFAULT '',
	timestamp INTEGER NOT NULL,
	execution_time REAL NOT NULL,
	cost REAL NOT NULL,
	result_count INTEGER NOT NULL,
	pattern TEXT
);
CREATE INDEX IF NOT EXISTS idx_query_log_timestamp ON query_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_query_log_pattern ON query_log(pattern);
`

const createPatternsTable = `
CREATE TABLE IF NOT EXISTS query_patterns (
	pattern TEXT PRIMARY KEY,
	occurrence_count INTEGER NOT NULL,
	avg_execution_time REAL NOT NULL,
	avg_cost REAL NOT NULL,
	last_updated INTEGER NOT NULL
);
`

// Analyzer records executed questions in a SQLite database.
type Analyzer struct {
	db      *sqlx.DB
	cfg     config.AnalyzerConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	writeMu   sync.Mutex
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// New opens the query log database and creates the schema. When retention is
// enabled an hourly loop deletes expired log records.
func New(cfg config.AnalyzerConfig, opts ...Option) (*Analyzer, error) {
	if dir := filepath.Dir(cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create analyzer dir: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", "file:"+cfg.DBPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open analyzer db: %w", err)
	}
	if _, err := db.Exec(createLogTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate query log: %w", err)
	}
	if _, err := db.Exec(createPatternsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate query patterns: %w", err)
	}

	a := &Analyzer{
		db:     db,
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = metrics.New(nil)
	}

	if cfg.RetentionDays > 0 {
		a.wg.Add(1)
		go a.retentionLoop()
	}
	return a, nil
}

// DefaultCost is the cost attributed to a translated question when the
// caller does not know it.
func (a *Analyzer) DefaultCost() float64 { return a.cfg.DefaultCost }

// Detect returns the pattern of question. See DetectPattern.
func (a *Analyzer) Detect(question string) string { return DetectPattern(question) }

// LogQuery appends rec to the query log and, when a pattern is detected,
// folds it into that pattern's running averages. A zero Timestamp is set to
// the current time. The stored record is returned.
func (a *Analyzer) LogQuery(ctx context.Context, rec models.QueryLogRecord) (models.QueryLogRecord, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = a.now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	rec.Pattern = DetectPattern(rec.Question)

	var pattern sql.NullString
	if rec.Pattern != "" {
		pattern = sql.NullString{String: rec.Pattern, Valid: true}
	}
	secs := rec.ExecutionTime.Seconds()

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return rec, fmt.Errorf("begin log tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO query_log (question, config_id, scope, timestamp, execution_time, cost, result_count, pattern)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Question, rec.ConfigID, rec.Scope, rec.Timestamp.UnixMilli(), secs, rec.Cost, rec.ResultCount, pattern)
	if err != nil {
		return rec, fmt.Errorf("insert query log: %w", err)
	}
	if rec.ID, err = res.LastInsertId(); err != nil {
		return rec, fmt.Errorf("query log id: %w", err)
	}

	if pattern.Valid {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO query_patterns (pattern, occurrence_count, avg_execution_time, avg_cost, last_updated)
			 VALUES (?, 1, ?, ?, ?)
			 ON CONFLICT(pattern) DO UPDATE SET
				avg_execution_time = (query_patterns.avg_execution_time * query_patterns.occurrence_count + excluded.avg_execution_time) / (query_patterns.occurrence_count + 1),
				avg_cost = (query_patterns.avg_cost * query_patterns.occurrence_count + excluded.avg_cost) / (query_patterns.occurrence_count + 1),
				occurrence_count = query_patterns.occurrence_count + 1,
				last_updated = excluded.last_updated`,
			rec.Pattern, secs, rec.Cost, rec.Timestamp.UnixMilli())
		if err != nil {
			return rec, fmt.Errorf("update pattern stats: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return rec, fmt.Errorf("commit query log: %w", err)
	}
	a.metrics.QueriesLoggedTotal.Inc()
	return rec, nil
}

type patternRow struct {
	Pattern          string  `db:"pattern"`
	Count            int64   `db:"occurrence_count"`
	AvgExecutionTime float64 `db:"avg_execution_time"`
	AvgCost          float64 `db:"avg_cost"`
	LastUpdated      int64   `db:"last_updated"`
}

func (r patternRow) model() models.PatternStat {
	return models.PatternStat{
		Pattern:              r.Pattern,
		Count:                r.Count,
		AvgExecutionTime:     seconds(r.AvgExecutionTime),
		AvgCost:              r.AvgCost,
		LastUpdated:          time.UnixMilli(r.LastUpdated).UTC(),
		EstimatedMonthlyCost: round2(r.AvgCost * float64(r.Count) * 30 / 7),
	}
}

// PatternStats returns the most frequent patterns, at most limit.
func (a *Analyzer) PatternStats(ctx context.Context, limit int) ([]models.PatternStat, error) {
	if limit <= 0 {
		limit = 5
	}
	var rows []patternRow
	err := a.db.SelectContext(ctx, &rows,
		`SELECT pattern, occurrence_count, avg_execution_time, avg_cost, last_updated
		 FROM query_patterns ORDER BY occurrence_count DESC, pattern LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("pattern stats: %w", err)
	}
	stats := make([]models.PatternStat, 0, len(rows))
	for _, r := range rows {
		stats = append(stats, r.model())
	}
	return stats, nil
}

// PatternStat returns the statistics of one pattern.
func (a *Analyzer) PatternStat(ctx context.Context, pattern string) (models.PatternStat, bool, error) {
	var row patternRow
	err := a.db.GetContext(ctx, &row,
		`SELECT pattern, occurrence_count, avg_execution_time, avg_cost, last_updated
		 FROM query_patterns WHERE pattern = ?`, pattern)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PatternStat{}, false, nil
	}
	if err != nil {
		return models.PatternStat{}, false, fmt.Errorf("pattern stat: %w", err)
	}
	return row.model(), true, nil
}

type logRow struct {
	ID            int64   `db:"id"`
	Question      string  `db:"question"`
	ConfigID      string  `db:"config_id"`
	Scope         string  `db:"scope"`
	Timestamp     int64   `db:"timestamp"`
	ExecutionTime float64 `db:"execution_time"`
	Cost          float64 `db:"cost"`
	ResultCount   int     `db:"result_count"`
	Pattern       string  `db:"pattern"`
}

// Records returns log records matching opts, newest first.
func (a *Analyzer) Records(ctx context.Context, opts models.LogQueryOpts) ([]models.QueryLogRecord, error) {
	q := `SELECT id, question, config_id, scope, timestamp, execution_time, cost, result_count,
		COALESCE(pattern, '') AS pattern
		FROM query_log WHERE 1=1`
	var args []any

	if opts.ConfigID != "" {
		q += " AND config_id = ?"
		args = append(args, opts.ConfigID)
	}
	if opts.Pattern != "" {
		q += " AND pattern = ?"
		args = append(args, opts.Pattern)
	}
	if !opts.Since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, opts.Since.UnixMilli())
	}

	q += " ORDER BY timestamp DESC, id DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	var rows []logRow
	if err := a.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("query log: %w", err)
	}

	records := make([]models.QueryLogRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, models.QueryLogRecord{
			ID:            r.ID,
			Question:      r.Question,
			ConfigID:      r.ConfigID,
			Scope:         r.Scope,
			Timestamp:     time.UnixMilli(r.Timestamp).UTC(),
			ExecutionTime: seconds(r.ExecutionTime),
			Cost:          r.Cost,
			ResultCount:   r.ResultCount,
			Pattern:       r.Pattern,
		})
	}
	return records, nil
}

// Cleanup deletes log records older than the retention period. Pattern
// statistics are kept.
func (a *Analyzer) Cleanup(ctx context.Context) (int64, error) {
	if a.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := a.now().AddDate(0, 0, -a.cfg.RetentionDays)

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	res, err := a.db.ExecContext(ctx, `DELETE FROM query_log WHERE timestamp < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("query log cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (a *Analyzer) Close() error {
	var err error
	a.closeOnce.Do(func() {
		close(a.done)
		a.wg.Wait()
		err = a.db.Close()
	})
	return err
}

func (a *Analyzer) retentionLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			n, err := a.Cleanup(context.Background())
			if err != nil {
				a.logger.Warn("query log cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				a.logger.Info("query log cleaned up", zap.Int64("deleted", n))
			}
		}
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
