// Package store provides storage backends for costbridge.
//
// It persists the job audit log, the append-only message log, and the
// technical-user setting. Three implementations share one interface: an
// in-memory store for tests and development, an SQLite store for single-node
// deployments, and a PostgreSQL store for shared multi-instance deployments.
// The single-flight fake-job constraint lives in the store (ClaimFakeJob) so
// it holds across process instances sharing one database.
package store

import (
	"strings"
	"time"

	"github.com/costbridge/costbridge/internal/models"
)

// Store is the persistence interface consumed by the job subsystem.
type Store interface {
	// InsertJobLog creates a new job log row with the status carried by the entry.
	InsertJobLog(e models.JobLogEntry) error

	// CompleteJobLog terminates the row matched by its start timestamp, setting
	// the terminal status, the response body, and an end timestamp taken from
	// the store's own clock (never the caller's).
	CompleteJobLog(startTime time.Time, status models.JobStatus, responseBody string) error

	// GetJobLog retrieves a job log entry by its signed job id. Returns nil
	// when absent.
	GetJobLog(jobID int64) (*models.JobLogEntry, error)

	// ListJobLogs returns the most recent entries, newest first.
	ListJobLogs(limit int) ([]models.JobLogEntry, error)

	// MinJobID returns the smallest job id on record, with ok=false when the
	// log is empty.
	MinJobID() (int64, bool, error)

	// MaxJobID returns the largest job id on record, with ok=false when the
	// log is empty.
	MaxJobID() (int64, bool, error)

	// HasRunningFakeJob reports whether any fake-job row is currently running.
	HasRunningFakeJob() (bool, error)

	// ClaimFakeJob atomically promotes the pending row with the given id to
	// running, but only if no other fake job is running. Returns true when the
	// claim succeeded.
	ClaimFakeJob(jobID int64) (bool, error)

	// NextPendingFakeJob returns the earliest-allocated pending fake job
	// (the one with the lowest id magnitude), or nil when the queue is empty.
	NextPendingFakeJob() (*models.JobLogEntry, error)

	// RequeueStaleRunningFakeJobs demotes fake jobs left running by a dead
	// process back to pending (crash recovery). Returns the number demoted.
	RequeueStaleRunningFakeJobs(staleBefore time.Time) (int, error)

	// AddMessage appends an immutable message log row.
	AddMessage(m models.Message) error

	// ListMessages returns all messages recorded for a job id, oldest first.
	ListMessages(jobID int64) ([]models.Message, error)

	// CountErrorMessages counts error-severity messages recorded for a job id.
	CountErrorMessages(jobID int64) (int, error)

	// GetSetting reads a settings row, with ok=false when absent.
	GetSetting(key string) (string, bool, error)

	// SetSetting writes a settings row, replacing any previous value.
	SetSetting(key, value string) error

	// DeleteSetting removes a settings row. Removing an absent key is not an error.
	DeleteSetting(key string) error

	// CurrentTimestamp returns the store's own UTC clock. Job timestamps always
	// come from here so ordering is consistent with stored rows under clock skew.
	CurrentTimestamp() (time.Time, error)

	// Close releases the underlying connection pool.
	Close() error
}

// Opts holds configuration options for building a store.
type Opts struct {
	PostgresDSN string
	SQLiteDSN   string
}

// Option defines a configuration option for building a store.
type Option func(*Opts)

// WithPostgresDSN selects the PostgreSQL backend with the given connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.PostgresDSN = dsn
	}
}

// WithSQLiteDSN selects the SQLite backend with the given database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.SQLiteDSN = dsn
	}
}

// New builds a store from the provided options: PostgreSQL when a Postgres DSN
// is set, SQLite when a file path is set, otherwise the in-memory store.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.PostgresDSN != "" {
		return NewPostgresStore(WithPostgresDSN(cfg.PostgresDSN))
	}
	if cfg.SQLiteDSN != "" {
		return NewSQLiteStore(WithSQLiteDSN(cfg.SQLiteDSN))
	}
	return NewInMemoryStore(), nil
}

// DetectDSNType classifies a DSN string as "postgres" or "sqlite".
// PostgreSQL DSNs use URL schemes or key=value form; everything else is
// treated as an SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
