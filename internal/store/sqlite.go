// Package store provides storage backends for costbridge.
//
// This file implements the SQLite-backed store for single-node deployments.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/costbridge/costbridge/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
	// sqliteClockLayout is the layout produced by sqliteClockExpr.
	sqliteClockLayout = "2006-01-02 15:04:05.000"
	// sqliteClockExpr yields the database's own UTC clock at millisecond resolution.
	sqliteClockExpr = "strftime('%Y-%m-%d %H:%M:%f', 'now')"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: creating SQLite store", "DSN_set", cfg.SQLiteDSN != "")

	dsn := cfg.SQLiteDSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: migrations applied")
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) InsertJobLog(e models.JobLogEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO job_log (`+jobLogColumns+`)
		 VALUES (?, ?, NULL, ?, ?, ?, ?, ?, NULL, ?, ?, ?)`,
		e.JobID, e.StartTime, e.JobName, e.Status, nilIfEmpty(e.UserID), e.IsOnline,
		nilIfEmpty(e.RequestBody), nilIfEmpty(e.SchedulerJobID), nilIfEmpty(e.ScheduleID), nilIfEmpty(e.RunID),
	)
	if err != nil {
		return fmt.Errorf("insert job log failed: %w", err)
	}
	slog.Debug("SQLiteStore.InsertJobLog", "jobID", e.JobID, "status", e.Status, "jobName", e.JobName)
	return nil
}

func (s *SQLiteStore) CompleteJobLog(startTime time.Time, status models.JobStatus, responseBody string) error {
	_, err := s.db.Exec(
		`UPDATE job_log SET job_status = ?, response_body = ?, end_timestamp = `+sqliteClockExpr+`
		 WHERE start_timestamp = ?`,
		status, nilIfEmpty(responseBody), startTime,
	)
	if err != nil {
		return fmt.Errorf("complete job log failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetJobLog(jobID int64) (*models.JobLogEntry, error) {
	row := s.db.QueryRow(
		`SELECT `+jobLogColumns+` FROM job_log WHERE job_id = ? ORDER BY start_timestamp DESC LIMIT 1`,
		jobID,
	)
	e, err := scanJobLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job log failed: %w", err)
	}
	return &e, nil
}

func (s *SQLiteStore) ListJobLogs(limit int) ([]models.JobLogEntry, error) {
	rows, err := s.db.Query(
		`SELECT `+jobLogColumns+` FROM job_log ORDER BY start_timestamp DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list job logs query failed: %w", err)
	}
	return collectJobLogs(rows)
}

func (s *SQLiteStore) MinJobID() (int64, bool, error) {
	var min sql.NullInt64
	if err := s.db.QueryRow(`SELECT MIN(job_id) FROM job_log`).Scan(&min); err != nil {
		return 0, false, fmt.Errorf("min job id query failed: %w", err)
	}
	return min.Int64, min.Valid, nil
}

func (s *SQLiteStore) MaxJobID() (int64, bool, error) {
	var max sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(job_id) FROM job_log`).Scan(&max); err != nil {
		return 0, false, fmt.Errorf("max job id query failed: %w", err)
	}
	return max.Int64, max.Valid, nil
}

func (s *SQLiteStore) HasRunningFakeJob() (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM job_log WHERE job_id < 0 AND is_online = 0 AND job_status = ?`,
		models.JobStatusRunning,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("running fake job query failed: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) ClaimFakeJob(jobID int64) (bool, error) {
	// Conditional promotion: the claim only lands when no sibling fake job is
	// running, keeping the single-flight constraint inside one statement.
	result, err := s.db.Exec(
		`UPDATE job_log SET job_status = ?
		 WHERE job_id = ? AND job_status = ?
		   AND NOT EXISTS (
		     SELECT 1 FROM job_log r
		     WHERE r.job_id < 0 AND r.is_online = 0 AND r.job_status = ?
		   )`,
		models.JobStatusRunning, jobID, models.JobStatusPending, models.JobStatusRunning,
	)
	if err != nil {
		return false, fmt.Errorf("claim fake job failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim fake job rows failed: %w", err)
	}
	slog.Debug("SQLiteStore.ClaimFakeJob", "jobID", jobID, "claimed", n > 0)
	return n > 0, nil
}

func (s *SQLiteStore) NextPendingFakeJob() (*models.JobLogEntry, error) {
	// Earliest allocated interactive id is the negative id closest to zero.
	row := s.db.QueryRow(
		`SELECT ` + jobLogColumns + ` FROM job_log
		 WHERE job_id < 0 AND is_online = 0 AND job_status = '` + string(models.JobStatusPending) + `'
		 ORDER BY job_id DESC LIMIT 1`,
	)
	e, err := scanJobLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next pending fake job failed: %w", err)
	}
	return &e, nil
}

func (s *SQLiteStore) RequeueStaleRunningFakeJobs(staleBefore time.Time) (int, error) {
	result, err := s.db.Exec(
		`UPDATE job_log SET job_status = ?
		 WHERE job_id < 0 AND is_online = 0 AND job_status = ? AND start_timestamp < ?`,
		models.JobStatusPending, models.JobStatusRunning, staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale fake jobs failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("SQLiteStore.RequeueStaleRunningFakeJobs", "requeued", n)
	}
	return int(n), nil
}

func (s *SQLiteStore) AddMessage(m models.Message) error {
	var jobID interface{}
	if m.JobID != nil {
		jobID = *m.JobID
	}
	_, err := s.db.Exec(
		`INSERT INTO job_messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Timestamp, jobID, m.Severity, m.Text,
		nilIfEmpty(m.Details), nilIfEmpty(m.Operation), nilIfEmpty(m.ObjectType), nilIfEmpty(m.ObjectID),
	)
	if err != nil {
		return fmt.Errorf("insert message failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMessages(jobID int64) ([]models.Message, error) {
	rows, err := s.db.Query(
		`SELECT `+messageColumns+` FROM job_messages WHERE job_id = ? ORDER BY timestamp ASC`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages query failed: %w", err)
	}
	return collectMessages(rows)
}

func (s *SQLiteStore) CountErrorMessages(jobID int64) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM job_messages WHERE job_id = ? AND severity = ?`,
		jobID, models.SeverityError,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count error messages failed: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) GetSetting(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting failed: %w", err)
	}
	return value, true, nil
}

func (s *SQLiteStore) SetSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSetting(key string) error {
	if _, err := s.db.Exec(`DELETE FROM settings WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete setting failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CurrentTimestamp() (time.Time, error) {
	var raw string
	if err := s.db.QueryRow(`SELECT ` + sqliteClockExpr).Scan(&raw); err != nil {
		return time.Time{}, fmt.Errorf("current timestamp query failed: %w", err)
	}
	t, err := time.Parse(sqliteClockLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("current timestamp parse failed: %w", err)
	}
	return t.UTC(), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
