package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/costbridge/costbridge/internal/api"
	"github.com/costbridge/costbridge/internal/backend"
	"github.com/costbridge/costbridge/internal/idp"
	"github.com/costbridge/costbridge/internal/schedclient"
	"github.com/costbridge/costbridge/internal/store"
	"github.com/costbridge/costbridge/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultSchedulerJobName is the recurring job registered at startup.
	DefaultSchedulerJobName = "cost-sync"
	// DefaultSchedulerJobCron runs the recurring job nightly.
	DefaultSchedulerJobCron = "0 2 * * *"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Build module options
	storeOpts := buildStoreOptions(flags)
	idpOpts := buildIDPOptions(flags)
	backendOpts := buildBackendOptions(flags)
	schedOpts := buildSchedulerOptions(flags)
	apiOpts := buildAPIOptions(flags)

	// Start the service
	slog.Info("Bootstrapping costbridge with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "idp", len(idpOpts), "backend", len(backendOpts), "scheduler", len(schedOpts), "api", len(apiOpts))
	if err := api.Run(storeOpts, idpOpts, backendOpts, schedOpts, apiOpts); err != nil {
		slog.Error("costbridge failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("costbridge exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL       string
	IDPTokenURL       string
	IDPClientID       string
	IDPClientSecret   string
	BackendBaseURL    string
	SchedulerBaseURL  string
	APIAddr           string
	CallbackBaseURL   string
	SchedulerJobName  string
	SchedulerJobCron  string
	TechUserName      string
	TechUserPassword  string
	RegisterScheduler bool
}

// Flags holds command line flag values
type Flags struct {
	dbDSN            *string
	idpTokenURL      *string
	idpClientID      *string
	idpClientSecret  *string
	backendBaseURL   *string
	schedulerBaseURL *string
	apiAddr          *string
	callbackBaseURL  *string
	schedJobName     *string
	schedJobCron     *string
	techUserName     *string
	techUserPassword *string
	registerSched    *bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		IDPTokenURL:       os.Getenv("IDP_TOKEN_URL"),
		IDPClientID:       os.Getenv("IDP_CLIENT_ID"),
		IDPClientSecret:   os.Getenv("IDP_CLIENT_SECRET"),
		BackendBaseURL:    os.Getenv("BACKEND_BASE_URL"),
		SchedulerBaseURL:  os.Getenv("SCHEDULER_BASE_URL"),
		APIAddr:           os.Getenv("API_ADDR"),
		CallbackBaseURL:   os.Getenv("CALLBACK_BASE_URL"),
		SchedulerJobName:  util.GetEnvOrDefault("SCHEDULER_JOB_NAME", DefaultSchedulerJobName),
		SchedulerJobCron:  util.GetEnvOrDefault("SCHEDULER_JOB_CRON", DefaultSchedulerJobCron),
		TechUserName:      os.Getenv("TECHNICAL_USER_NAME"),
		TechUserPassword:  os.Getenv("TECHNICAL_USER_PASSWORD"),
		RegisterScheduler: util.ParseBoolEnv("REGISTER_SCHEDULER_JOB", true),
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"IDP_TOKEN_URL", config.IDPTokenURL,
		"IDP_CLIENT_ID_SET", config.IDPClientID != "",
		"BACKEND_BASE_URL", config.BackendBaseURL,
		"SCHEDULER_BASE_URL", config.SchedulerBaseURL,
		"API_ADDR", config.APIAddr,
		"CALLBACK_BASE_URL", config.CallbackBaseURL,
		"SCHEDULER_JOB_NAME", config.SchedulerJobName,
		"TECHNICAL_USER_NAME_SET", config.TechUserName != "",
		"REGISTER_SCHEDULER_JOB", config.RegisterScheduler)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		dbDSN:            flag.String("db-dsn", config.DatabaseURL, "database DSN, Postgres URL or SQLite path (overrides $DATABASE_URL)"),
		idpTokenURL:      flag.String("idp-token-url", config.IDPTokenURL, "identity provider token endpoint (overrides $IDP_TOKEN_URL)"),
		idpClientID:      flag.String("idp-client-id", config.IDPClientID, "OAuth client id (overrides $IDP_CLIENT_ID)"),
		idpClientSecret:  flag.String("idp-client-secret", config.IDPClientSecret, "OAuth client secret (overrides $IDP_CLIENT_SECRET)"),
		backendBaseURL:   flag.String("backend-base-url", config.BackendBaseURL, "costing platform API root (overrides $BACKEND_BASE_URL)"),
		schedulerBaseURL: flag.String("scheduler-base-url", config.SchedulerBaseURL, "external scheduler API root (overrides $SCHEDULER_BASE_URL)"),
		apiAddr:          flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		callbackBaseURL:  flag.String("callback-base-url", config.CallbackBaseURL, "externally reachable root of this instance (overrides $CALLBACK_BASE_URL)"),
		schedJobName:     flag.String("scheduler-job-name", config.SchedulerJobName, "recurring job name registered at startup (overrides $SCHEDULER_JOB_NAME)"),
		schedJobCron:     flag.String("scheduler-job-cron", config.SchedulerJobCron, "cron expression for the recurring job (overrides $SCHEDULER_JOB_CRON)"),
		techUserName:     flag.String("technical-user-name", config.TechUserName, "technical user name to seed at startup (overrides $TECHNICAL_USER_NAME)"),
		techUserPassword: flag.String("technical-user-password", config.TechUserPassword, "technical user password to seed at startup (overrides $TECHNICAL_USER_PASSWORD)"),
		registerSched:    flag.Bool("register-scheduler-job", config.RegisterScheduler, "register the recurring job with the external scheduler at startup (overrides $REGISTER_SCHEDULER_JOB)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"dbDSN_set", *flags.dbDSN != "",
		"idpTokenURL", *flags.idpTokenURL,
		"backendBaseURL", *flags.backendBaseURL,
		"schedulerBaseURL", *flags.schedulerBaseURL,
		"apiAddr", *flags.apiAddr,
		"schedJobName", *flags.schedJobName,
		"registerSched", *flags.registerSched)

	return flags
}

// ensureDirectoriesExist creates the state directory for a file-based database
func ensureDirectoriesExist(flags Flags) error {
	if *flags.dbDSN == "" || store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return nil
	}
	stateDir := filepath.Dir(*flags.dbDSN)
	slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
		return err
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildIDPOptions constructs identity provider configuration options
func buildIDPOptions(flags Flags) []idp.Option {
	var idpOpts []idp.Option
	if *flags.idpTokenURL != "" {
		idpOpts = append(idpOpts, idp.WithTokenURL(*flags.idpTokenURL))
	}
	if *flags.idpClientID != "" {
		idpOpts = append(idpOpts, idp.WithClientCredentials(*flags.idpClientID, *flags.idpClientSecret))
	}
	return idpOpts
}

// buildBackendOptions constructs costing platform client options
func buildBackendOptions(flags Flags) []backend.Option {
	var backendOpts []backend.Option
	if *flags.backendBaseURL != "" {
		backendOpts = append(backendOpts, backend.WithBaseURL(*flags.backendBaseURL))
	}
	return backendOpts
}

// buildSchedulerOptions constructs external scheduler client options
func buildSchedulerOptions(flags Flags) []schedclient.Option {
	var schedOpts []schedclient.Option
	if *flags.schedulerBaseURL != "" {
		schedOpts = append(schedOpts, schedclient.WithBaseURL(*flags.schedulerBaseURL))
	}
	return schedOpts
}

// buildAPIOptions constructs API server options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.registerSched && *flags.schedJobName != "" && *flags.callbackBaseURL != "" {
		apiOpts = append(apiOpts, api.WithSchedulerJob(*flags.schedJobName, *flags.schedJobCron, *flags.callbackBaseURL))
	}
	if *flags.techUserName != "" {
		apiOpts = append(apiOpts, api.WithTechnicalUser(*flags.techUserName, *flags.techUserPassword))
	}
	return apiOpts
}
