// Package persistence provides the SQLite audit store for routed messages
// and scheduled report runs.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"starkagent/pkg/logx"
)

// CurrentSchemaVersion defines the audit schema version for migration support.
const CurrentSchemaVersion = 1

// MessageRecord is one routed request as persisted for auditing.
type MessageRecord struct {
	ID         int64     `json:"id"`
	RequestID  string    `json:"request_id"`
	UserID     string    `json:"user_id"`
	Skill      string    `json:"skill"`
	Confidence float64   `json:"confidence"`
	Status     string    `json:"status"`
	Prompt     string    `json:"prompt"`
	Response   string    `json:"response"`
	Error      string    `json:"error,omitempty"`
	LatencyMS  int64     `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// ReportRunRecord is one scheduled report execution.
type ReportRunRecord struct {
	ID         int64     `json:"id"`
	Schedule   string    `json:"schedule"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

// Store owns the database connection. SQLite supports a single writer, so
// the pool is pinned to one connection and writes funnel through the async
// worker.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (or creates) the audit database at dbPath and brings the schema
// up to the current version.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping audit database: %w", err)
	}

	if err := initializeSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger := logx.NewLogger("persistence")
	logger.Info("audit database ready: %s", dbPath)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close audit database: %w", err)
	}
	return nil
}

// InsertMessage persists one routed request synchronously.
func (s *Store) InsertMessage(ctx context.Context, rec MessageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (request_id, user_id, skill, confidence, status, prompt, response, error, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.UserID, rec.Skill, rec.Confidence, rec.Status,
		rec.Prompt, rec.Response, rec.Error, rec.LatencyMS,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert message record: %w", err)
	}
	return nil
}

// InsertReportRun persists one scheduled report execution synchronously.
func (s *Store) InsertReportRun(ctx context.Context, rec ReportRunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO report_runs (schedule, started_at, duration_ms, status, error)
		VALUES (?, ?, ?, ?, ?)`,
		rec.Schedule, rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.DurationMS, rec.Status, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert report run record: %w", err)
	}
	return nil
}

// RecentMessages returns the newest message records, newest first.
func (s *Store) RecentMessages(ctx context.Context, limit int) ([]MessageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, user_id, skill, confidence, status, prompt, response, error, latency_ms, created_at
		FROM messages ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []MessageRecord
	for rows.Next() {
		var rec MessageRecord
		var created string
		if err := rows.Scan(&rec.ID, &rec.RequestID, &rec.UserID, &rec.Skill, &rec.Confidence,
			&rec.Status, &rec.Prompt, &rec.Response, &rec.Error, &rec.LatencyMS, &created); err != nil {
			return nil, fmt.Errorf("failed to scan message record: %w", err)
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate message records: %w", err)
	}
	return out, nil
}

// RecentReportRuns returns the newest report runs, newest first, optionally
// filtered by schedule name.
func (s *Store) RecentReportRuns(ctx context.Context, schedule string, limit int) ([]ReportRunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, schedule, started_at, duration_ms, status, error
		FROM report_runs`
	args := []any{}
	if schedule != "" {
		query += ` WHERE schedule = ?`
		args = append(args, schedule)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query report runs: %w", err)
	}
	defer rows.Close()

	var out []ReportRunRecord
	for rows.Next() {
		var rec ReportRunRecord
		var started string
		if err := rows.Scan(&rec.ID, &rec.Schedule, &started, &rec.DurationMS, &rec.Status, &rec.Error); err != nil {
			return nil, fmt.Errorf("failed to scan report run record: %w", err)
		}
		rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate report run records: %w", err)
	}
	return out, nil
}

// MessageCount returns the number of audited messages.
func (s *Store) MessageCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}
