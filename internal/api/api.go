// Package api provides HTTP handlers and the main server logic for costbridge.
//
// It exposes the dispatch endpoint that classifies inbound calls and hands
// them to the job core, the audit-trail query endpoints, and the
// technical-user administration endpoints. Run wires the store, the token
// services, the backend proxy, and the external scheduler together.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/costbridge/costbridge/internal/auth"
	"github.com/costbridge/costbridge/internal/backend"
	"github.com/costbridge/costbridge/internal/credstore"
	"github.com/costbridge/costbridge/internal/idp"
	"github.com/costbridge/costbridge/internal/jobs"
	"github.com/costbridge/costbridge/internal/schedclient"
	"github.com/costbridge/costbridge/internal/scheduler"
	"github.com/costbridge/costbridge/internal/store"
)

// Default server configuration constants
const (
	// DefaultAddr is the default API listen address.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultJobListLimit caps audit-trail listings.
	DefaultJobListLimit = 100
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
	// SchedulerJobName and SchedulerJobCron describe the recurring job
	// registered with the external scheduler at startup.
	SchedulerJobName string
	SchedulerJobCron string
	// CallbackBaseURL is the externally reachable root of this instance,
	// used as the scheduler callback target.
	CallbackBaseURL string
	// TechnicalUser seeds the technical-user configuration at startup.
	TechnicalUserName   string
	TechnicalUserSecret string
	Creds               credstore.Store
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the API listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithSchedulerJob sets the recurring job registered with the external scheduler.
func WithSchedulerJob(name, cron, callbackBaseURL string) Option {
	return func(o *Opts) {
		o.SchedulerJobName = name
		o.SchedulerJobCron = cron
		o.CallbackBaseURL = callbackBaseURL
	}
}

// WithTechnicalUser seeds the technical user at startup.
func WithTechnicalUser(name, secret string) Option {
	return func(o *Opts) {
		o.TechnicalUserName = name
		o.TechnicalUserSecret = secret
	}
}

// WithCredentialStore overrides the credential store implementation.
func WithCredentialStore(c credstore.Store) Option {
	return func(o *Opts) {
		o.Creds = c
	}
}

// Server carries the wired components behind the HTTP handlers.
type Server struct {
	store      store.Store
	tokens     *auth.Service
	allocator  *jobs.Allocator
	audit      *jobs.AuditLog
	arbitrator *jobs.Arbitrator
	backend    *backend.Client
	sched      *schedclient.Client
}

// NewServer wires the job core over the given collaborators. The backend
// client becomes the fallback business action: dispatching a job name without
// a specific handler proxies its request body to the costing platform.
func NewServer(st store.Store, tokens *auth.Service, bc *backend.Client, sc *schedclient.Client) *Server {
	audit := jobs.NewAuditLog(st, tokens.Resolver())
	s := &Server{
		store:      st,
		tokens:     tokens,
		allocator:  jobs.NewAllocator(st),
		audit:      audit,
		arbitrator: jobs.NewArbitrator(st, audit, tokens.TechnicalUserToken),
		backend:    bc,
		sched:      sc,
	}
	if bc != nil {
		s.arbitrator.SetFallbackHandler(s.proxyHandler())
	}
	return s
}

// Arbitrator exposes the arbitrator for registering specific job handlers.
func (s *Server) Arbitrator() *jobs.Arbitrator {
	return s.arbitrator
}

// Handler builds the route multiplexer.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/dispatch/{job}", s.dispatchHandler)
	mux.HandleFunc("GET /api/v1/jobs", s.listJobsHandler)
	mux.HandleFunc("GET /api/v1/jobs/{id}", s.getJobHandler)
	mux.HandleFunc("GET /api/v1/jobs/{id}/messages", s.jobMessagesHandler)
	mux.HandleFunc("GET /api/v1/technical-user", s.getTechnicalUserHandler)
	mux.HandleFunc("PUT /api/v1/technical-user", s.putTechnicalUserHandler)
	mux.HandleFunc("DELETE /api/v1/technical-user", s.deleteTechnicalUserHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	return mux
}

// Run bootstraps every module from its options and serves until interrupted.
func Run(storeOpts []store.Option, idpOpts []idp.Option, backendOpts []backend.Option, schedOpts []schedclient.Option, apiOpts []Option) error {
	var cfg Opts
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Creds == nil {
		cfg.Creds = credstore.NewInMemoryStore()
	}

	st, err := store.New(storeOpts...)
	if err != nil {
		return err
	}
	defer st.Close()

	idpClient, err := idp.NewClient(idpOpts...)
	if err != nil {
		return err
	}
	bc, err := backend.NewClient(backendOpts...)
	if err != nil {
		return err
	}
	var sc *schedclient.Client
	if len(schedOpts) > 0 {
		sc, err = schedclient.NewClient(schedOpts...)
		if err != nil {
			return err
		}
	}

	resolver := auth.NewCredentialResolver(st, cfg.Creds)
	tokens := auth.NewService(idpClient, resolver)
	if cfg.TechnicalUserName != "" {
		if err := resolver.Configure(cfg.TechnicalUserName, cfg.TechnicalUserSecret); err != nil {
			return err
		}
	}

	s := NewServer(st, tokens, bc, sc)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Minute tick: poll the technical-user token so a fresh configuration
	// picks up a token without waiting for traffic.
	tick := scheduler.NewScheduler()
	defer tick.Stop()
	if err := tick.AddMinuteTick(func() {
		if _, err := tokens.TechnicalUserToken(context.Background()); err != nil {
			slog.Warn("api.Run: technical user token poll failed", "error", err)
		}
	}); err != nil {
		return err
	}

	// Crash recovery: demote fake jobs a dead process left running, then
	// drain whatever is queued.
	go func() {
		if err := s.arbitrator.Recover(ctx); err != nil {
			slog.Error("api.Run: fake job recovery failed", "error", err)
		}
	}()

	if sc != nil && cfg.SchedulerJobName != "" {
		go s.registerSchedulerJob(ctx, cfg)
	}

	httpServer := &http.Server{Addr: cfg.Addr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("api.Run: costbridge API listening", "addr", cfg.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		slog.Info("api.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

// registerSchedulerJob registers the recurring costbridge job with the
// external scheduler once a technical-user token is obtainable.
func (s *Server) registerSchedulerJob(ctx context.Context, cfg Opts) {
	token, err := s.tokens.TechnicalUserToken(ctx)
	if err != nil || token == "" {
		slog.Warn("Server.registerSchedulerJob: technical user token not available, skipping registration", "error", err)
		return
	}
	def := schedclient.JobDefinition{
		Name:        cfg.SchedulerJobName,
		Description: "costbridge recurring background job",
		Action:      cfg.CallbackBaseURL + "/api/v1/dispatch/" + cfg.SchedulerJobName,
		Active:      true,
	}
	sched := schedclient.Schedule{Cron: cfg.SchedulerJobCron, Description: "costbridge default schedule", Active: true}
	if _, err := s.sched.EnsureJob(ctx, def, sched, token); err != nil {
		slog.Error("Server.registerSchedulerJob: registration failed", "error", err)
	}
}
