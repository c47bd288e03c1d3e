// Package api provides HTTP handlers for costbridge endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/costbridge/costbridge/internal/apperr"
	"github.com/costbridge/costbridge/internal/idp"
	"github.com/costbridge/costbridge/internal/jobs"
	"github.com/costbridge/costbridge/internal/models"
	"github.com/costbridge/costbridge/internal/schedclient"
)

// proxyHandler is the fallback business action: it forwards the request body
// to the costing platform's action endpoint for the job name and reports the
// platform's status and body for the audit row.
func (s *Server) proxyHandler() jobs.Handler {
	return func(ctx context.Context, exec jobs.Execution) (int, string, error) {
		status, body, err := s.backend.Do(ctx, http.MethodPost, "v1/actions/"+exec.JobName, []byte(exec.RequestBody), exec.Token)
		if err != nil {
			return 0, "", err
		}
		return status, string(body), nil
	}
}

// dispatchHandler classifies an inbound call and routes it to the matching
// execution path: synchronous for online calls, acknowledged-then-async for
// real scheduler jobs, and queue-arbitrated for fake jobs.
func (s *Server) dispatchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	jobName := r.PathValue("job")
	slog.Debug("Server.dispatchHandler: processing dispatch", "jobName", jobName, "path", r.URL.Path)

	cls, err := jobs.Classify(r)
	if err != nil {
		slog.Warn("Server.dispatchHandler: classification failed", "error", err, "jobName", jobName)
		writeError(w, err)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindValidation, "reading request body", err))
		return
	}

	switch cls.Mode {
	case models.ModeRealJob:
		s.dispatchRealJob(w, jobName, cls, body)
	case models.ModeFakeJob:
		s.dispatchFakeJob(w, r, jobName, body)
	default:
		s.dispatchOnline(w, r, jobName, cls, body)
	}
}

// dispatchOnline executes an interactive call synchronously with the caller's
// own token. Without the online-mode flag there is no job bookkeeping at all;
// with it, the call gets an interactive job id and a full audit row.
func (s *Server) dispatchOnline(w http.ResponseWriter, r *http.Request, jobName string, cls jobs.Classification, body []byte) {
	authorization := r.Header.Get("Authorization")
	userID, err := idp.ExtractUserID(authorization)
	if err != nil {
		slog.Warn("Server.dispatchOnline: caller identity missing", "error", err, "jobName", jobName)
		writeError(w, err)
		return
	}
	token, err := s.tokens.ApplicationUserToken(r.Context(), userID, authorization)
	if err != nil {
		writeError(w, err)
		return
	}

	if !cls.FlagPresent {
		// Plain online call: no allocation, no audit row, messages stay silent.
		handler, ok := s.arbitrator.Lookup(jobName)
		if !ok {
			writeError(w, apperr.Newf(apperr.KindEntityNotFound, "no handler registered for job %q", jobName))
			return
		}
		exec := jobs.Execution{
			Mode:        models.ModeOnline,
			JobName:     jobName,
			RequestBody: string(body),
			Token:       token,
			UserID:      userID,
		}
		status, respBody, err := handler(r.Context(), exec)
		if err != nil {
			slog.Error("Server.dispatchOnline: handler failed", "error", err, "jobName", jobName)
			writeError(w, err)
			return
		}
		writeProxied(w, status, respBody)
		return
	}

	id, start, err := s.allocator.Allocate(models.ModeOnline)
	if err != nil {
		writeError(w, err)
		return
	}
	entry := models.JobLogEntry{
		JobID:       id.Signed(),
		StartTime:   start,
		JobName:     jobName,
		UserID:      userID,
		RequestBody: string(body),
	}
	entry, err = s.audit.Insert(entry, models.ModeOnline)
	if err != nil {
		writeError(w, err)
		return
	}
	status, respBody := s.arbitrator.Execute(r.Context(), entry, token)
	writeProxied(w, status, respBody)
}

// dispatchRealJob acknowledges the scheduler immediately and runs the job in
// the background. Real jobs never surface errors interactively; outcomes land
// in the audit trail and the scheduler's run log.
func (s *Server) dispatchRealJob(w http.ResponseWriter, jobName string, cls jobs.Classification, body []byte) {
	w.WriteHeader(http.StatusAccepted)
	go s.runRealJob(context.Background(), jobName, cls, body)
}

func (s *Server) runRealJob(ctx context.Context, jobName string, cls jobs.Classification, body []byte) {
	id, start, err := s.allocator.Allocate(models.ModeRealJob)
	if err != nil {
		slog.Error("Server.runRealJob: allocation failed", "error", err, "jobName", jobName)
		s.reportRunOutcome(ctx, cls, false, apperr.MessageOf(err))
		return
	}
	entry := models.JobLogEntry{
		JobID:          id.Signed(),
		StartTime:      start,
		JobName:        jobName,
		RequestBody:    string(body),
		SchedulerJobID: cls.SchedulerJobID,
		ScheduleID:     cls.ScheduleID,
		RunID:          cls.RunID,
	}
	entry, err = s.audit.Insert(entry, models.ModeRealJob)
	if err != nil {
		slog.Error("Server.runRealJob: audit insert failed", "error", err, "jobName", jobName)
		s.reportRunOutcome(ctx, cls, false, apperr.MessageOf(err))
		return
	}
	status, _ := s.arbitrator.ExecuteWithTechnicalToken(ctx, entry)
	s.reportRunOutcome(ctx, cls, status == http.StatusOK,
		fmt.Sprintf("job %d finished with status %d", entry.JobID, status))
}

// reportRunOutcome updates the external scheduler's run log when the dispatch
// carried run correlation ids.
func (s *Server) reportRunOutcome(ctx context.Context, cls jobs.Classification, success bool, message string) {
	if s.sched == nil || cls.ScheduleID == "" || cls.RunID == "" {
		return
	}
	token, err := s.tokens.TechnicalUserToken(ctx)
	if err != nil || token == "" {
		slog.Warn("Server.reportRunOutcome: technical user token not available", "error", err)
		return
	}
	state := schedclient.RunState{Success: success, Message: message}
	if err := s.sched.UpdateRunLog(ctx, cls.SchedulerJobID, cls.ScheduleID, cls.RunID, state, token); err != nil {
		slog.Error("Server.reportRunOutcome: run log update failed", "error", err, "runID", cls.RunID)
	}
}

// dispatchFakeJob enqueues a simulated background job: the audit insert is
// the durable enqueue, the caller gets the job id and message channel right
// away, and the arbitrator decides whether it runs now or waits its turn.
func (s *Server) dispatchFakeJob(w http.ResponseWriter, r *http.Request, jobName string, body []byte) {
	// The initiating user is recorded when a bearer token is present, but the
	// execution itself authenticates as the technical user.
	userID, _ := idp.ExtractUserID(r.Header.Get("Authorization"))

	id, start, err := s.allocator.Allocate(models.ModeFakeJob)
	if err != nil {
		writeError(w, err)
		return
	}
	entry := models.JobLogEntry{
		JobID:       id.Signed(),
		StartTime:   start,
		JobName:     jobName,
		UserID:      userID,
		RequestBody: string(body),
	}
	entry, err = s.audit.Insert(entry, models.ModeFakeJob)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusAccepted, models.Accepted(entry.JobID, "job accepted"))

	go func() {
		if _, err := s.arbitrator.Dispatch(context.Background(), entry); err != nil {
			slog.Error("Server.dispatchFakeJob: dispatch failed", "error", err, "jobID", entry.JobID)
		}
	}()
}

func (s *Server) listJobsHandler(w http.ResponseWriter, r *http.Request) {
	limit := DefaultJobListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, apperr.New(apperr.KindValidation, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	entries, err := s.store.ListJobLogs(limit)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindUnexpected, "listing job logs", err))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(entries))
}

func (s *Server) getJobHandler(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	entry, err := s.store.GetJobLog(jobID)
	if err != nil {
		writeError(w, apperr.Wrap(apperr.KindUnexpected, "reading job log", err))
		return
	}
	if entry == nil {
		writeError(w, apperr.Newf(apperr.KindEntityNotFound, "job %d not found", jobID))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(entry))
}

// jobMessagesHandler is the polling channel for fake jobs: the caller holds a
// job id and reads its messages until a terminal status shows up in the job row.
func (s *Server) jobMessagesHandler(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	msgs, err := s.audit.Messages(jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(msgs))
}

func (s *Server) getTechnicalUserHandler(w http.ResponseWriter, r *http.Request) {
	name, ok, err := s.tokens.Resolver().TechnicalUserName()
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apperr.New(apperr.KindEntityNotFound, "no technical user configured"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"name": name}))
}

func (s *Server) putTechnicalUserHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var req models.TechnicalUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.putTechnicalUserHandler: failed to decode JSON", "error", err)
		writeError(w, apperr.Wrap(apperr.KindValidation, "invalid JSON format", err))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, apperr.Wrap(apperr.KindValidation, "invalid technical user", err))
		return
	}
	if err := s.tokens.Resolver().Configure(req.Name, req.Password); err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("technical user configured", nil))
}

func (s *Server) deleteTechnicalUserHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.tokens.Resolver().Clear(); err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("technical user removed", nil))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.CurrentTimestamp(); err != nil {
		writeError(w, apperr.Wrap(apperr.KindUnexpected, "store not reachable", err))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"state": "healthy"}))
}

// parseJobID reads the signed job id path segment.
func parseJobID(r *http.Request) (int64, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.Newf(apperr.KindValidation, "job id %q is not an integer", raw)
	}
	return id, nil
}

// writeProxied forwards the backend's status and body to the caller.
func writeProxied(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != "" {
		if _, err := w.Write([]byte(body)); err != nil {
			slog.Error("writeProxied: failed to write response", "error", err)
		}
	}
}
