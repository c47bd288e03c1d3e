package jobs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/costbridge/costbridge/internal/apperr"
	"github.com/costbridge/costbridge/internal/auth"
	"github.com/costbridge/costbridge/internal/models"
	"github.com/costbridge/costbridge/internal/store"
	"github.com/google/uuid"
)

// AuditLog is the append-only record of job lifecycle plus the timestamped
// message log. Rows are created at dispatch time and mutated exactly once, at
// completion; nothing here ever deletes them.
type AuditLog struct {
	store    store.Store
	resolver *auth.CredentialResolver
}

// NewAuditLog creates the audit log over the given store and resolver.
func NewAuditLog(st store.Store, resolver *auth.CredentialResolver) *AuditLog {
	return &AuditLog{store: st, resolver: resolver}
}

// Insert creates the job log row for a freshly allocated execution. Fake jobs
// enter as pending: the insert itself is the enqueue operation, giving every
// fake job a durable place to park while waiting. Everything else enters as
// running. Any execution that is not an authenticated online call requires a
// configured technical user; without one the insert fails with entity-not-found.
func (l *AuditLog) Insert(entry models.JobLogEntry, mode models.JobMode) (models.JobLogEntry, error) {
	if entry.JobName == "" {
		return entry, apperr.New(apperr.KindValidation, "job name is required")
	}
	if mode != models.ModeOnline {
		_, ok, err := l.resolver.TechnicalUserName()
		if err != nil {
			return entry, err
		}
		if !ok {
			return entry, apperr.New(apperr.KindEntityNotFound, "no technical user configured")
		}
	}

	entry.IsOnline = mode == models.ModeOnline
	if mode == models.ModeFakeJob {
		entry.Status = models.JobStatusPending
	} else {
		entry.Status = models.JobStatusRunning
	}
	entry.RequestBody = models.Truncate(entry.RequestBody)

	if err := l.store.InsertJobLog(entry); err != nil {
		return entry, apperr.Wrap(apperr.KindUnexpected, "inserting job log entry", err)
	}
	slog.Debug("AuditLog.Insert: job log row created", "jobID", entry.JobID, "status", entry.Status, "jobName", entry.JobName)
	return entry, nil
}

// Complete terminates the row matched by its start timestamp. The terminal
// status is error for any non-200 response code; otherwise it derives from
// the message log: done if any error-severity message exists for the job id,
// success when none does. The end timestamp comes from the store clock.
func (l *AuditLog) Complete(startTime time.Time, jobID int64, httpStatus int, responseBody string) error {
	status, err := l.classifyStatus(jobID, httpStatus)
	if err != nil {
		return err
	}
	if err := l.store.CompleteJobLog(startTime, status, models.Truncate(responseBody)); err != nil {
		return apperr.Wrap(apperr.KindUnexpected, "completing job log entry", err)
	}
	slog.Debug("AuditLog.Complete: job log row terminated", "jobID", jobID, "status", status, "httpStatus", httpStatus)
	return nil
}

func (l *AuditLog) classifyStatus(jobID int64, httpStatus int) (models.JobStatus, error) {
	if httpStatus != http.StatusOK {
		return models.JobStatusError, nil
	}
	n, err := l.store.CountErrorMessages(jobID)
	if err != nil {
		return "", apperr.Wrap(apperr.KindUnexpected, "counting error messages", err)
	}
	if n > 0 {
		return models.JobStatusDone, nil
	}
	return models.JobStatusSuccess, nil
}

// AddLog appends a message to the job's audit channel. A nil job id makes
// this a no-op: that is how online calls without job bookkeeping stay silent
// while real and fake jobs are always audited. Text and serialized details
// are independently truncated.
func (l *AuditLog) AddLog(jobID *int64, severity models.Severity, text string, details interface{}, operation, objectType, objectID string) {
	if jobID == nil {
		slog.Debug("AuditLog.AddLog: no job id, message not persisted", "operation", operation)
		return
	}
	if !models.IsValidSeverity(severity) {
		slog.Warn("AuditLog.AddLog: invalid severity, defaulting to info", "severity", severity)
		severity = models.SeverityInfo
	}

	ts, err := l.store.CurrentTimestamp()
	if err != nil {
		slog.Error("AuditLog.AddLog: reading store clock failed", "error", err, "jobID", *jobID)
		ts = time.Now().UTC()
	}

	m := models.Message{
		ID:         uuid.NewString(),
		Timestamp:  ts,
		JobID:      jobID,
		Severity:   severity,
		Text:       models.Truncate(text),
		Details:    models.Truncate(serializeDetails(details)),
		Operation:  operation,
		ObjectType: objectType,
		ObjectID:   objectID,
	}
	if err := l.store.AddMessage(m); err != nil {
		// The message sink must never fail the job it describes.
		slog.Error("AuditLog.AddLog: persisting message failed", "error", err, "jobID", *jobID)
	}
}

// LogError records err on the job's message channel if a job id exists.
func (l *AuditLog) LogError(jobID *int64, err error, operation string) {
	l.AddLog(jobID, models.SeverityError, apperr.MessageOf(err), err.Error(), operation, "", "")
}

// Messages returns the message channel for a job, oldest first.
func (l *AuditLog) Messages(jobID int64) ([]models.Message, error) {
	msgs, err := l.store.ListMessages(jobID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnexpected, "listing job messages", err)
	}
	return msgs, nil
}

func serializeDetails(details interface{}) string {
	switch v := details.(type) {
	case nil:
		return ""
	case string:
		return v
	case error:
		return v.Error()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
