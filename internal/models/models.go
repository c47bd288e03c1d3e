// Package models defines the core data structures for costbridge.
//
// It includes the job identifier and audit-trail types shared across modules,
// plus the API response envelope used by the HTTP layer.
package models

import (
	"errors"
	"strings"
	"time"
)

// JobMode classifies how an inbound call executes.
type JobMode string

const (
	// ModeOnline is an interactive call executed synchronously with the caller's identity.
	ModeOnline JobMode = "online"
	// ModeRealJob is an execution dispatched by the external scheduler.
	ModeRealJob JobMode = "job"
	// ModeFakeJob is a web request that simulates a background job and is
	// subject to the single-flight queue.
	ModeFakeJob JobMode = "fake_job"
)

// JobOrigin identifies which id namespace a job belongs to.
type JobOrigin string

const (
	// OriginInteractive covers online and fake-job executions (negative ids at the storage boundary).
	OriginInteractive JobOrigin = "interactive"
	// OriginScheduler covers real scheduler-dispatched executions (positive ids).
	OriginScheduler JobOrigin = "scheduler"
)

// JobID is a tagged job identifier. Business logic carries origin and sequence
// explicitly; the signed integer form exists only at the storage boundary,
// where interactive ids are negative and scheduler ids positive.
type JobID struct {
	Origin   JobOrigin `json:"origin"`
	Sequence uint64    `json:"sequence"`
}

// Signed serializes the identifier to its storage form.
func (id JobID) Signed() int64 {
	if id.Origin == OriginScheduler {
		return int64(id.Sequence)
	}
	return -int64(id.Sequence)
}

// JobIDFromSigned parses the storage form back into a tagged identifier.
func JobIDFromSigned(v int64) JobID {
	if v > 0 {
		return JobID{Origin: OriginScheduler, Sequence: uint64(v)}
	}
	return JobID{Origin: OriginInteractive, Sequence: uint64(-v)}
}

// JobStatus represents the lifecycle state of a job log entry.
type JobStatus string

const (
	// JobStatusPending is a fake job parked behind a running sibling.
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	// JobStatusSuccess is a clean completion with no error-severity messages.
	JobStatusSuccess JobStatus = "success"
	// JobStatusDone is a completion that logged at least one error-severity message.
	JobStatusDone JobStatus = "done"
	JobStatusError JobStatus = "error"
)

// IsTerminal reports whether the status ends the job lifecycle.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSuccess, JobStatusDone, JobStatusError:
		return true
	default:
		return false
	}
}

// JobLogEntry is one row per job execution attempt. Created at dispatch time
// and mutated exactly once, at completion, to a terminal status.
type JobLogEntry struct {
	JobID          int64      `json:"job_id"` // signed storage form
	StartTime      time.Time  `json:"start_timestamp"`
	EndTime        *time.Time `json:"end_timestamp,omitempty"`
	JobName        string     `json:"job_name"`
	Status         JobStatus  `json:"job_status"`
	UserID         string     `json:"user_id"`
	IsOnline       bool       `json:"is_online_mode"`
	RequestBody    string     `json:"request_body,omitempty"`
	ResponseBody   string     `json:"response_body,omitempty"`
	SchedulerJobID string     `json:"scheduler_job_id,omitempty"`
	ScheduleID     string     `json:"scheduler_schedule_id,omitempty"`
	RunID          string     `json:"scheduler_run_id,omitempty"`
}

// ID returns the tagged form of the entry's job identifier.
func (e *JobLogEntry) ID() JobID {
	return JobIDFromSigned(e.JobID)
}

// IsFakeJob reports whether the entry was created by a simulated background
// job, i.e. a non-online call in the interactive id namespace. Only these
// entries are subject to the single-flight constraint.
func (e *JobLogEntry) IsFakeJob() bool {
	return e.JobID < 0 && !e.IsOnline
}

// Severity classifies message log entries.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// IsValidSeverity checks if the given severity is supported.
func IsValidSeverity(s Severity) bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError:
		return true
	default:
		return false
	}
}

// MaxMessageTextLength caps message text and serialized details independently.
const MaxMessageTextLength = 5000

// TruncationMarker is appended when a field exceeds MaxMessageTextLength.
const TruncationMarker = "..."

// Truncate caps s at MaxMessageTextLength runes, appending the marker when cut.
func Truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= MaxMessageTextLength {
		return s
	}
	return string(runes[:MaxMessageTextLength]) + TruncationMarker
}

// Message is an immutable, append-only log line tied to a job execution.
type Message struct {
	ID         string    `json:"message_id"`
	Timestamp  time.Time `json:"timestamp"`
	JobID      *int64    `json:"job_id,omitempty"`
	Severity   Severity  `json:"severity"`
	Text       string    `json:"text"`
	Details    string    `json:"details,omitempty"`
	Operation  string    `json:"operation,omitempty"`
	ObjectType string    `json:"object_type,omitempty"`
	ObjectID   string    `json:"object_id,omitempty"`
}

// SettingTechnicalUser is the singleton settings key holding the current
// technical-user name. The secret itself lives only in the credential store.
const SettingTechnicalUser = "technical_user"

// Error variables for better error handling and testability
var (
	ErrEmptyJobName       = errors.New("job name cannot be empty")
	ErrInvalidSeverity    = errors.New("invalid message severity")
	ErrEmptyTechnicalUser = errors.New("technical user name cannot be empty")
)

// TechnicalUserRequest is the payload for configuring the technical user.
type TechnicalUserRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// Validate performs validation on a TechnicalUserRequest structure.
func (r *TechnicalUserRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrEmptyTechnicalUser
	}
	return nil
}

// APIStatus represents the status values used in API responses.
type APIStatus string

const (
	// APIStatusOK indicates a successful API operation.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates a failed API operation.
	APIStatusError APIStatus = "error"
	// APIStatusAccepted indicates an asynchronous job was accepted for execution.
	APIStatusAccepted APIStatus = "accepted"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status   string      `json:"status"`             // status of the API response
	Message  string      `json:"message,omitempty"`  // optional message for error responses or additional info
	Kind     string      `json:"kind,omitempty"`     // error taxonomy kind for error responses
	JobID    *int64      `json:"job_id,omitempty"`   // job handle for accepted/queued executions
	Result   interface{} `json:"result,omitempty"`   // optional result data for successful responses
	Location string      `json:"location,omitempty"` // re-authentication target for session-expired responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}

// Accepted creates a response for an asynchronously executing job.
func Accepted(jobID int64, message string) APIResponse {
	return APIResponse{Status: string(APIStatusAccepted), Message: message, JobID: &jobID}
}
