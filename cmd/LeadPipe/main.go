package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/LeadPipe/internal/api"
	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/genai"
	"github.com/BTreeMap/LeadPipe/internal/leadapi"
	"github.com/BTreeMap/LeadPipe/internal/lockfile"
	"github.com/BTreeMap/LeadPipe/internal/poller"
	"github.com/BTreeMap/LeadPipe/internal/session"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/util"
)

// Default configuration constants
const (
	// DefaultAPIAddr is the default listen address for the LeadPipe API
	DefaultAPIAddr = ":8080"
	// DefaultPollSchedule refreshes open sessions once a minute
	DefaultPollSchedule = "* * * * *"
	// DefaultReplyDelaySeconds is the automated-reply countdown length
	DefaultReplyDelaySeconds = 5
	// DefaultStateDir is the default directory for LeadPipe state data
	DefaultStateDir = "/var/lib/leadpipe"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if *flags.leadAPIURL == "" {
		slog.Error("LEAD_API_URL is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags); err != nil {
		slog.Error("LeadPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("LeadPipe exited successfully")
}

func run(ctx context.Context, flags Flags) error {
	// One LeadPipe instance per state directory: the audit database and
	// lock file live there.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	audit, err := buildAuditRepo(flags)
	if err != nil {
		return err
	}

	registry := store.NewBookingFlowRegistry()
	timer := flow.NewSimpleTimer()
	classifier := buildIntentClassifier()
	augmenter := flow.NewAugmenter(registry, classifier, audit)
	apiClient := leadapi.NewHTTPClient(*flags.leadAPIURL, *flags.leadAPIKey)

	manager := session.NewManager(session.ManagerConfig{
		CompanyID:           *flags.companyID,
		API:                 apiClient,
		Registry:            registry,
		Augmenter:           augmenter,
		Timer:               timer,
		DefaultMode:         flow.SchedulerMode(*flags.replyMode),
		DefaultDelaySeconds: *flags.replyDelaySeconds,
		SmartDelayMin:       time.Duration(*flags.smartDelayMinSeconds) * time.Second,
		SmartDelayMax:       time.Duration(*flags.smartDelayMaxSeconds) * time.Second,
	})

	p, err := poller.NewPoller(manager, *flags.pollSchedule)
	if err != nil {
		return err
	}
	defer p.Stop()

	server := api.NewServer(manager, registry, audit, timer)
	slog.Info("Bootstrapping LeadPipe",
		"api_addr", *flags.apiAddr,
		"audit_driver", *flags.auditDriver,
		"reply_mode", *flags.replyMode,
		"poll_schedule", *flags.pollSchedule)
	return server.Run(ctx, *flags.apiAddr)
}

// Config holds environment configuration
type Config struct {
	LeadAPIURL           string
	LeadAPIKey           string
	CompanyID            string
	APIAddr              string
	StateDir             string
	AuditDriver          string
	AuditDSN             string
	ReplyMode            string
	ReplyDelaySeconds    int
	SmartDelayMinSeconds int
	SmartDelayMaxSeconds int
	PollSchedule         string
}

// Flags holds command line flag values
type Flags struct {
	leadAPIURL           *string
	leadAPIKey           *string
	companyID            *string
	apiAddr              *string
	stateDir             *string
	auditDriver          *string
	auditDSN             *string
	replyMode            *string
	replyDelaySeconds    *int
	smartDelayMinSeconds *int
	smartDelayMaxSeconds *int
	pollSchedule         *string
}

// initializeLogger sets up structured logging
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("LEADPIPE_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
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
		LeadAPIURL:           os.Getenv("LEAD_API_URL"),
		LeadAPIKey:           os.Getenv("LEAD_API_KEY"),
		CompanyID:            os.Getenv("COMPANY_ID"),
		APIAddr:              os.Getenv("API_ADDR"),
		StateDir:             os.Getenv("LEADPIPE_STATE_DIR"),
		AuditDriver:          os.Getenv("AUDIT_DB_DRIVER"),
		AuditDSN:             os.Getenv("AUDIT_DB_DSN"),
		ReplyMode:            os.Getenv("REPLY_MODE"),
		ReplyDelaySeconds:    util.ParseIntEnv("REPLY_DELAY_SECONDS", DefaultReplyDelaySeconds),
		SmartDelayMinSeconds: util.ParseIntEnv("SMART_DELAY_MIN_SECONDS", 0),
		SmartDelayMaxSeconds: util.ParseIntEnv("SMART_DELAY_MAX_SECONDS", 0),
		PollSchedule:         os.Getenv("POLL_SCHEDULE"),
	}

	if config.APIAddr == "" {
		config.APIAddr = DefaultAPIAddr
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.AuditDriver == "" {
		config.AuditDriver = "memory"
	}
	if config.ReplyMode == "" {
		config.ReplyMode = string(flow.ModeManual)
	}
	if config.PollSchedule == "" {
		config.PollSchedule = DefaultPollSchedule
	}
	return config
}

// parseCommandLineFlags parses flags with environment values as defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		leadAPIURL:           flag.String("lead-api-url", config.LeadAPIURL, "Base URL of the lead API backend"),
		leadAPIKey:           flag.String("lead-api-key", config.LeadAPIKey, "API key for the lead API backend"),
		companyID:            flag.String("company-id", config.CompanyID, "Company scope for lead API calls"),
		apiAddr:              flag.String("api-addr", config.APIAddr, "Listen address for the LeadPipe API"),
		stateDir:             flag.String("state-dir", config.StateDir, "Directory for LeadPipe state data and the instance lock"),
		auditDriver:          flag.String("audit-driver", config.AuditDriver, "Audit log backend: memory, sqlite, or postgres"),
		auditDSN:             flag.String("audit-dsn", config.AuditDSN, "Audit log DSN (file path for sqlite, connection string for postgres)"),
		replyMode:            flag.String("reply-mode", config.ReplyMode, "Default reply scheduler mode: manual or automated"),
		replyDelaySeconds:    flag.Int("reply-delay", config.ReplyDelaySeconds, "Automated reply countdown in seconds"),
		smartDelayMinSeconds: flag.Int("smart-delay-min", config.SmartDelayMinSeconds, "Lower bound in seconds for the randomized reply delay (0 disables)"),
		smartDelayMaxSeconds: flag.Int("smart-delay-max", config.SmartDelayMaxSeconds, "Upper bound in seconds for the randomized reply delay (0 disables)"),
		pollSchedule:         flag.String("poll-schedule", config.PollSchedule, "Cron expression for background conversation refresh"),
	}
	flag.Parse()
	return flags
}

// buildAuditRepo selects the audit log backend from configuration.
func buildAuditRepo(flags Flags) (store.AuditRepo, error) {
	switch *flags.auditDriver {
	case "sqlite":
		dsn := *flags.auditDSN
		if dsn == "" {
			dsn = filepath.Join(*flags.stateDir, "audit.db")
		}
		return store.NewSQLiteStore(store.WithDSN(dsn))
	case "postgres":
		return store.NewPostgresStore(store.WithDSN(*flags.auditDSN))
	default:
		slog.Debug("Using in-memory audit log", "driver", *flags.auditDriver)
		return store.NewInMemoryAuditRepo(), nil
	}
}

// buildIntentClassifier prefers the GenAI classifier when an OpenAI key is
// configured, otherwise falls back to the keyword classifier.
func buildIntentClassifier() flow.IntentClassifier {
	client, err := genai.NewClient()
	if err != nil {
		slog.Info("GenAI classifier unavailable, using keyword classifier", "reason", err)
		return flow.NewKeywordIntentClassifier()
	}
	slog.Info("Using GenAI booking intent classifier")
	return client
}
