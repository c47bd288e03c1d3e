// Package schedclient wraps the external job scheduler's management API.
//
// The scheduler owns real background jobs: it stores job definitions and
// schedules, dispatches callbacks into costbridge with its correlation
// headers, and keeps a run log that costbridge reports completions to.
package schedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/costbridge/costbridge/internal/apperr"
)

// DefaultTimeout bounds every scheduler API round trip.
const DefaultTimeout = 15 * time.Second

// JobDefinition describes a job to register with the scheduler.
type JobDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Action      string `json:"action"` // callback URL dispatched into costbridge
	Active      bool   `json:"active"`
}

// Job is a registered scheduler job.
type Job struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// Schedule describes when a registered job fires.
type Schedule struct {
	ID          string `json:"scheduleId,omitempty"`
	Cron        string `json:"cron,omitempty"`
	Description string `json:"description,omitempty"`
	Active      bool   `json:"active"`
}

// RunState reports a run's outcome back to the scheduler's run log.
type RunState struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Opts holds configuration options for the scheduler client.
type Opts struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Option defines a configuration option for the scheduler client.
type Option func(*Opts)

// WithBaseURL sets the scheduler API root.
func WithBaseURL(u string) Option {
	return func(o *Opts) {
		o.BaseURL = u
	}
}

// WithTimeout overrides the scheduler call timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.Timeout = d
	}
}

// WithHTTPClient overrides the HTTP client used for scheduler calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTPClient = c
	}
}

// Client talks to the external scheduler's management API with the
// technical-user token supplied per call.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a scheduler client, applying any provided options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("scheduler base URL not set")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: strings.TrimRight(cfg.BaseURL, "/"), httpClient: httpClient}, nil
}

// FetchJob looks up a registered job by name. Returns nil when absent.
func (c *Client) FetchJob(ctx context.Context, name string, token string) (*Job, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/scheduler/jobs?name="+name, nil, token)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, apperr.Newf(apperr.KindUnexpected, "scheduler job lookup returned status %d", status)
	}
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, apperr.Wrap(apperr.KindUnexpected, "parsing scheduler job", err)
	}
	if job.ID == "" {
		return nil, nil
	}
	return &job, nil
}

// CreateJob registers a new job definition.
func (c *Client) CreateJob(ctx context.Context, def JobDefinition, token string) (*Job, error) {
	payload, err := json.Marshal(def)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUnexpected, "encoding job definition", err)
	}
	status, body, err := c.do(ctx, http.MethodPost, "/scheduler/jobs", payload, token)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, apperr.Newf(apperr.KindUnexpected, "scheduler job creation returned status %d", status)
	}
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, apperr.Wrap(apperr.KindUnexpected, "parsing created scheduler job", err)
	}
	return &job, nil
}

// CreateSchedule attaches a schedule to a registered job.
func (c *Client) CreateSchedule(ctx context.Context, jobID string, sched Schedule, token string) error {
	payload, err := json.Marshal(sched)
	if err != nil {
		return apperr.Wrap(apperr.KindUnexpected, "encoding schedule", err)
	}
	status, _, err := c.do(ctx, http.MethodPost, "/scheduler/jobs/"+jobID+"/schedules", payload, token)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return apperr.Newf(apperr.KindUnexpected, "scheduler schedule creation returned status %d", status)
	}
	return nil
}

// UpdateRunLog reports a run's outcome to the scheduler.
func (c *Client) UpdateRunLog(ctx context.Context, jobID, scheduleID, runID string, state RunState, token string) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return apperr.Wrap(apperr.KindUnexpected, "encoding run state", err)
	}
	path := "/scheduler/jobs/" + jobID + "/schedules/" + scheduleID + "/runs/" + runID
	status, _, err := c.do(ctx, http.MethodPut, path, payload, token)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return apperr.Newf(apperr.KindUnexpected, "scheduler run log update returned status %d", status)
	}
	return nil
}

// EnsureJob registers the job definition and its schedule if the scheduler
// does not know them yet, retrying with exponential backoff. Intended for
// startup, where the scheduler may come up after costbridge.
func (c *Client) EnsureJob(ctx context.Context, def JobDefinition, sched Schedule, token string) (*Job, error) {
	var job *Job
	operation := func() error {
		existing, err := c.FetchJob(ctx, def.Name, token)
		if err != nil {
			return err
		}
		if existing != nil {
			job = existing
			return nil
		}
		created, err := c.CreateJob(ctx, def, token)
		if err != nil {
			return err
		}
		if err := c.CreateSchedule(ctx, created.ID, sched, token); err != nil {
			return err
		}
		job = created
		return nil
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, apperr.Wrap(apperr.KindUnexpected, "registering scheduler job", err)
	}
	slog.Info("Client.EnsureJob: scheduler job registered", "name", def.Name, "jobID", job.ID)
	return job, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, token string) (int, json.RawMessage, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, apperr.Wrap(apperr.KindUnexpected, "building scheduler request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Client.do: scheduler call failed", "error", err, "method", method, "path", path)
		return 0, nil, apperr.Wrap(apperr.KindUnexpected, "scheduler call failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, apperr.Wrap(apperr.KindUnexpected, "reading scheduler response", err)
	}
	return resp.StatusCode, json.RawMessage(raw), nil
}
