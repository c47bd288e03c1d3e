package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/costbridge/costbridge/internal/apperr"
	"github.com/costbridge/costbridge/internal/models"
	"github.com/costbridge/costbridge/internal/store"
)

// DefaultStaleThreshold bounds how long a fake job may sit in running state
// before crash recovery demotes it back to pending.
const DefaultStaleThreshold = 15 * time.Minute

// Execution carries everything a business action needs to run.
type Execution struct {
	JobID       models.JobID
	Mode        models.JobMode
	JobName     string
	RequestBody string
	// Token is the bearer credential for outbound backend calls: the caller's
	// own token for online executions, the technical-user token otherwise.
	Token string
	// UserID is the initiating application user, empty for scheduler runs.
	UserID string
}

// Handler executes a job's business action and reports the response code and
// body to record on the audit row.
type Handler func(ctx context.Context, exec Execution) (httpStatus int, responseBody string, err error)

// TokenSource produces the technical-user token for deferred fake-job
// executions. An empty token with nil error means the technical user is not
// currently usable. Satisfied by *auth.Service.TechnicalUserToken.
type TokenSource func(ctx context.Context) (string, error)

// Arbitrator is the concurrency core: it guarantees at most one fake job's
// business logic executes at a time system-wide, and drains pending fake jobs
// in FIFO order of allocation once the running one completes. Real jobs and
// online calls are never throttled by it. The single-flight constraint lives
// in the store's claim statement, not an in-memory lock, so it holds across
// process instances sharing one database.
type Arbitrator struct {
	store    store.Store
	audit    *AuditLog
	techTok  TokenSource
	mu       sync.RWMutex
	handlers map[string]Handler
	fallback Handler
}

// NewArbitrator creates the arbitrator.
func NewArbitrator(st store.Store, audit *AuditLog, techTok TokenSource) *Arbitrator {
	return &Arbitrator{
		store:    st,
		audit:    audit,
		techTok:  techTok,
		handlers: make(map[string]Handler),
	}
}

// RegisterHandler registers the business action for a job name. Pending fake
// jobs are re-executed from their persisted rows, so every dispatchable job
// name needs a registered handler.
func (a *Arbitrator) RegisterHandler(jobName string, h Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[jobName] = h
	slog.Debug("Arbitrator.RegisterHandler", "jobName", jobName)
}

// SetFallbackHandler registers the handler used for job names without a
// specific registration. Rows recovered after a restart are executed through
// it, so the generic backend proxy belongs here.
func (a *Arbitrator) SetFallbackHandler(h Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fallback = h
}

// Lookup returns the handler for a job name, falling back to the fallback
// handler when no specific one is registered.
func (a *Arbitrator) Lookup(jobName string) (Handler, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if h, ok := a.handlers[jobName]; ok {
		return h, true
	}
	if a.fallback != nil {
		return a.fallback, true
	}
	return nil, false
}

// Dispatch attempts to run a freshly enqueued fake job now. The audit row was
// already written as pending before this call (the insert is the enqueue),
// so when another fake job holds the single-flight slot this returns
// started=false without error: the caller already has its job id and message
// channel, and the running job's drain loop will pick the row up.
func (a *Arbitrator) Dispatch(ctx context.Context, entry models.JobLogEntry) (started bool, err error) {
	claimed, err := a.store.ClaimFakeJob(entry.JobID)
	if err != nil {
		return false, apperr.Wrap(apperr.KindUnexpected, "claiming fake job", err)
	}
	if !claimed {
		slog.Info("Arbitrator.Dispatch: fake job queued behind running sibling", "jobID", entry.JobID)
		return false, nil
	}
	a.drain(ctx, entry)
	return true, nil
}

// drain executes the claimed entry, then keeps pulling and claiming the next
// pending fake job until the queue is empty. A flat loop rather than
// self-chaining recursion, so a deep backlog cannot grow the call stack.
func (a *Arbitrator) drain(ctx context.Context, entry models.JobLogEntry) {
	for {
		a.ExecuteWithTechnicalToken(ctx, entry)

		next, err := a.store.NextPendingFakeJob()
		if err != nil {
			slog.Error("Arbitrator.drain: reading pending queue failed", "error", err)
			return
		}
		if next == nil {
			slog.Debug("Arbitrator.drain: queue empty")
			return
		}
		claimed, err := a.store.ClaimFakeJob(next.JobID)
		if err != nil {
			slog.Error("Arbitrator.drain: claiming next pending job failed", "error", err, "jobID", next.JobID)
			return
		}
		if !claimed {
			// Another instance won the claim; its drain loop owns the queue now.
			return
		}
		entry = *next
	}
}

// ExecuteWithTechnicalToken resolves the technical-user token and runs the
// entry with it. When no token can be produced the job fails with
// entity-not-found instead of reusing stale credentials; the audit row is
// still completed, whatever happens, so later fake jobs cannot starve behind
// a row stuck in running.
func (a *Arbitrator) ExecuteWithTechnicalToken(ctx context.Context, entry models.JobLogEntry) (int, string) {
	token, err := a.techTok(ctx)
	if err == nil && token == "" {
		err = apperr.New(apperr.KindEntityNotFound, "technical user token not available")
	}
	if err != nil {
		a.audit.LogError(&entry.JobID, err, entry.JobName)
		status := apperr.HTTPStatus(apperr.KindOf(err))
		a.complete(entry, status, "")
		return status, ""
	}
	return a.Execute(ctx, entry, token)
}

// Execute runs the business action for an already-running audit row with the
// given bearer token. Any failure is converted to the error taxonomy, logged
// on the job's message channel, and still completes the audit row; nothing
// escapes unlogged when a job id exists. Returns the response code and body
// recorded on the row.
func (a *Arbitrator) Execute(ctx context.Context, entry models.JobLogEntry, token string) (int, string) {
	httpStatus := http.StatusInternalServerError
	var responseBody string

	func() {
		defer func() {
			if r := recover(); r != nil {
				httpStatus = http.StatusInternalServerError
				responseBody = ""
				slog.Error("Arbitrator.Execute: job panicked", "jobID", entry.JobID, "panic", r)
				a.audit.AddLog(&entry.JobID, models.SeverityError, "job execution panicked", fmt.Sprint(r), entry.JobName, "", "")
			}
		}()

		handler, ok := a.Lookup(entry.JobName)
		if !ok {
			err := apperr.Newf(apperr.KindEntityNotFound, "no handler registered for job %q", entry.JobName)
			a.audit.LogError(&entry.JobID, err, entry.JobName)
			httpStatus = apperr.HTTPStatus(apperr.KindEntityNotFound)
			return
		}

		exec := Execution{
			JobID:       entry.ID(),
			Mode:        entryMode(entry),
			JobName:     entry.JobName,
			RequestBody: entry.RequestBody,
			Token:       token,
			UserID:      entry.UserID,
		}
		status, body, err := handler(ctx, exec)
		httpStatus, responseBody = status, body
		if err != nil {
			a.audit.LogError(&entry.JobID, err, entry.JobName)
			if httpStatus == 0 || httpStatus == http.StatusOK {
				httpStatus = apperr.HTTPStatus(apperr.KindOf(err))
			}
		} else if httpStatus == 0 {
			httpStatus = http.StatusOK
		}
	}()

	a.complete(entry, httpStatus, responseBody)
	return httpStatus, responseBody
}

func (a *Arbitrator) complete(entry models.JobLogEntry, httpStatus int, responseBody string) {
	if err := a.audit.Complete(entry.StartTime, entry.JobID, httpStatus, responseBody); err != nil {
		slog.Error("Arbitrator.complete: audit completion failed", "error", err, "jobID", entry.JobID)
	}
}

// Recover demotes fake jobs left running by a dead process back to pending
// and kicks the drain loop if anything is waiting. Called once at startup.
func (a *Arbitrator) Recover(ctx context.Context) error {
	now, err := a.store.CurrentTimestamp()
	if err != nil {
		return apperr.Wrap(apperr.KindUnexpected, "reading store clock", err)
	}
	n, err := a.store.RequeueStaleRunningFakeJobs(now.Add(-DefaultStaleThreshold))
	if err != nil {
		return apperr.Wrap(apperr.KindUnexpected, "requeueing stale fake jobs", err)
	}
	if n > 0 {
		slog.Info("Arbitrator.Recover: stale fake jobs requeued", "count", n)
	}
	return a.DrainPending(ctx)
}

// DrainPending claims and runs queued fake jobs until the queue is empty or
// another instance holds the slot.
func (a *Arbitrator) DrainPending(ctx context.Context) error {
	next, err := a.store.NextPendingFakeJob()
	if err != nil {
		return apperr.Wrap(apperr.KindUnexpected, "reading pending queue", err)
	}
	if next == nil {
		return nil
	}
	claimed, err := a.store.ClaimFakeJob(next.JobID)
	if err != nil {
		return apperr.Wrap(apperr.KindUnexpected, "claiming pending fake job", err)
	}
	if claimed {
		a.drain(ctx, *next)
	}
	return nil
}

func entryMode(entry models.JobLogEntry) models.JobMode {
	switch {
	case entry.IsFakeJob():
		return models.ModeFakeJob
	case entry.IsOnline:
		return models.ModeOnline
	default:
		return models.ModeRealJob
	}
}
