// Package store provides storage backends for costbridge.
//
// This file implements the PostgreSQL-backed store. It is the backend of
// choice when several costbridge instances share one database: the fake-job
// claim statement serializes single-flight execution across all of them.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/costbridge/costbridge/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.PostgresDSN != "")
	dsn := cfg.PostgresDSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgresStore.NewPostgresStore: migrations applied")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) InsertJobLog(e models.JobLogEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO job_log (`+jobLogColumns+`)
		 VALUES ($1, $2, NULL, $3, $4, $5, $6, $7, NULL, $8, $9, $10)`,
		e.JobID, e.StartTime, e.JobName, e.Status, nilIfEmpty(e.UserID), e.IsOnline,
		nilIfEmpty(e.RequestBody), nilIfEmpty(e.SchedulerJobID), nilIfEmpty(e.ScheduleID), nilIfEmpty(e.RunID),
	)
	if err != nil {
		return fmt.Errorf("insert job log failed: %w", err)
	}
	slog.Debug("PostgresStore.InsertJobLog", "jobID", e.JobID, "status", e.Status, "jobName", e.JobName)
	return nil
}

func (s *PostgresStore) CompleteJobLog(startTime time.Time, status models.JobStatus, responseBody string) error {
	_, err := s.db.Exec(
		`UPDATE job_log SET job_status = $1, response_body = $2, end_timestamp = (now() AT TIME ZONE 'utc')
		 WHERE start_timestamp = $3`,
		status, nilIfEmpty(responseBody), startTime,
	)
	if err != nil {
		return fmt.Errorf("complete job log failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJobLog(jobID int64) (*models.JobLogEntry, error) {
	row := s.db.QueryRow(
		`SELECT `+jobLogColumns+` FROM job_log WHERE job_id = $1 ORDER BY start_timestamp DESC LIMIT 1`,
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

func (s *PostgresStore) ListJobLogs(limit int) ([]models.JobLogEntry, error) {
	rows, err := s.db.Query(
		`SELECT `+jobLogColumns+` FROM job_log ORDER BY start_timestamp DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list job logs query failed: %w", err)
	}
	return collectJobLogs(rows)
}

func (s *PostgresStore) MinJobID() (int64, bool, error) {
	var min sql.NullInt64
	if err := s.db.QueryRow(`SELECT MIN(job_id) FROM job_log`).Scan(&min); err != nil {
		return 0, false, fmt.Errorf("min job id query failed: %w", err)
	}
	return min.Int64, min.Valid, nil
}

func (s *PostgresStore) MaxJobID() (int64, bool, error) {
	var max sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(job_id) FROM job_log`).Scan(&max); err != nil {
		return 0, false, fmt.Errorf("max job id query failed: %w", err)
	}
	return max.Int64, max.Valid, nil
}

func (s *PostgresStore) HasRunningFakeJob() (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM job_log WHERE job_id < 0 AND is_online = FALSE AND job_status = $1`,
		models.JobStatusRunning,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("running fake job query failed: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) ClaimFakeJob(jobID int64) (bool, error) {
	// Conditional promotion: the claim only lands when no sibling fake job is
	// running. Postgres serializes the row updates, so concurrent claimers
	// across instances resolve to exactly one winner.
	result, err := s.db.Exec(
		`UPDATE job_log SET job_status = $1
		 WHERE job_id = $2 AND job_status = $3
		   AND NOT EXISTS (
		     SELECT 1 FROM job_log r
		     WHERE r.job_id < 0 AND r.is_online = FALSE AND r.job_status = $1
		   )`,
		models.JobStatusRunning, jobID, models.JobStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("claim fake job failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim fake job rows failed: %w", err)
	}
	slog.Debug("PostgresStore.ClaimFakeJob", "jobID", jobID, "claimed", n > 0)
	return n > 0, nil
}

func (s *PostgresStore) NextPendingFakeJob() (*models.JobLogEntry, error) {
	row := s.db.QueryRow(
		`SELECT `+jobLogColumns+` FROM job_log
		 WHERE job_id < 0 AND is_online = FALSE AND job_status = $1
		 ORDER BY job_id DESC LIMIT 1`,
		models.JobStatusPending,
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

func (s *PostgresStore) RequeueStaleRunningFakeJobs(staleBefore time.Time) (int, error) {
	result, err := s.db.Exec(
		`UPDATE job_log SET job_status = $1
		 WHERE job_id < 0 AND is_online = FALSE AND job_status = $2 AND start_timestamp < $3`,
		models.JobStatusPending, models.JobStatusRunning, staleBefore,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue stale fake jobs failed: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("PostgresStore.RequeueStaleRunningFakeJobs", "requeued", n)
	}
	return int(n), nil
}

func (s *PostgresStore) AddMessage(m models.Message) error {
	var jobID interface{}
	if m.JobID != nil {
		jobID = *m.JobID
	}
	_, err := s.db.Exec(
		`INSERT INTO job_messages (`+messageColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		m.ID, m.Timestamp, jobID, m.Severity, m.Text,
		nilIfEmpty(m.Details), nilIfEmpty(m.Operation), nilIfEmpty(m.ObjectType), nilIfEmpty(m.ObjectID),
	)
	if err != nil {
		return fmt.Errorf("insert message failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMessages(jobID int64) ([]models.Message, error) {
	rows, err := s.db.Query(
		`SELECT `+messageColumns+` FROM job_messages WHERE job_id = $1 ORDER BY timestamp ASC`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages query failed: %w", err)
	}
	return collectMessages(rows)
}

func (s *PostgresStore) CountErrorMessages(jobID int64) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM job_messages WHERE job_id = $1 AND severity = $2`,
		jobID, models.SeverityError,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count error messages failed: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) GetSetting(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting failed: %w", err)
	}
	return value, true, nil
}

func (s *PostgresStore) SetSetting(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteSetting(key string) error {
	if _, err := s.db.Exec(`DELETE FROM settings WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete setting failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) CurrentTimestamp() (time.Time, error) {
	var t time.Time
	if err := s.db.QueryRow(`SELECT now() AT TIME ZONE 'utc'`).Scan(&t); err != nil {
		return time.Time{}, fmt.Errorf("current timestamp query failed: %w", err)
	}
	return t.UTC(), nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
