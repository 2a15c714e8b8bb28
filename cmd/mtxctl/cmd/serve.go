package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dan246/mtx-toolkit/internal/blocklist"
	"github.com/dan246/mtx-toolkit/internal/config"
	"github.com/dan246/mtx-toolkit/internal/database"
	"github.com/dan246/mtx-toolkit/internal/ffmpeg"
	"github.com/dan246/mtx-toolkit/internal/fleet"
	"github.com/dan246/mtx-toolkit/internal/health"
	internalhttp "github.com/dan246/mtx-toolkit/internal/http"
	"github.com/dan246/mtx-toolkit/internal/http/handlers"
	"github.com/dan246/mtx-toolkit/internal/httpclient"
	"github.com/dan246/mtx-toolkit/internal/models"
	"github.com/dan246/mtx-toolkit/internal/nodeconfig"
	"github.com/dan246/mtx-toolkit/internal/observability"
	"github.com/dan246/mtx-toolkit/internal/relay"
	"github.com/dan246/mtx-toolkit/internal/remediation"
	"github.com/dan246/mtx-toolkit/internal/repository"
	"github.com/dan246/mtx-toolkit/internal/retention"
	"github.com/dan246/mtx-toolkit/internal/scheduler"
	"github.com/dan246/mtx-toolkit/internal/sessions"
	"github.com/dan246/mtx-toolkit/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the mtxctl control plane server",
	Long: `Start the mtxctl HTTP server, job runner, and recurring schedules.

The server provides:
- REST API for nodes, streams, sessions, config, recordings, blocklist, and jobs
- Health check endpoints (/livez, /readyz, /health)
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "host to bind to (overrides config)")
	serveCmd.Flags().Int("port", 0, "port to listen on (overrides config)")
	serveCmd.Flags().String("db-dsn", "", "database DSN (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	applyServeFlags(cmd, cfg)

	// Rebuild the logger now that file and env configuration is known.
	// CLI flags still win.
	logger := observability.NewLogger(loggingConfigFromFlags(rootCmd.PersistentFlags(), cfg.Logging))
	observability.SetDefault(logger)

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	store := repository.NewStore(db.DB)

	// One circuit-breaker-wrapped client per node, shared by every
	// component that talks to the relay control API.
	clientCfg := httpclient.DefaultConfig()
	clientCfg.Timeout = cfg.Relay.APITimeout
	clientCfg.RetryAttempts = cfg.Relay.RetryAttempts
	clientCfg.CircuitThreshold = cfg.Relay.CircuitBreakerThreshold
	clientCfg.CircuitTimeout = cfg.Relay.CircuitBreakerTimeout
	clientCfg.UserAgent = version.UserAgent()
	clientCfg.Logger = logger
	clients := httpclient.NewManager(clientCfg)

	relayFor := func(node *models.Node) *relay.Client {
		return relay.NewClient(node.APIBase(), clients.ClientFor(node.Name), logger)
	}

	// Core engines.
	locks := health.NewStreamLocks()
	checker := health.NewChecker(store,
		func(node *models.Node) health.PathLister { return relayFor(node) },
		locks, cfg.Health, logger)

	prober := ffmpeg.NewProber(cfg.FFmpeg.FFprobeBinary(), cfg.Health.ProbeTimeout)
	detector := ffmpeg.NewDetector(cfg.FFmpeg.FFmpegBinary(), cfg.Health.DetectorTimeout)
	deep := health.NewDeepChecker(store, prober, detector, locks, cfg.Health, logger)

	syncer := fleet.NewSyncer(store,
		func(node *models.Node) fleet.PathLister { return relayFor(node) },
		logger)

	remediator := remediation.NewEngine(store,
		func(node *models.Node) remediation.NodeAPI { return relayFor(node) },
		nil, locks, cfg.Remediation, logger)

	configMgr := nodeconfig.NewManager(store,
		func(node *models.Node) nodeconfig.NodeAPI { return relayFor(node) },
		logger)

	aggregator := sessions.NewAggregator(store,
		func(node *models.Node) sessions.NodeAPI { return relayFor(node) },
		logger)

	blockMgr := blocklist.NewManager(store, logger)

	scanner := retention.NewScanner(store, cfg.Retention.RecordingRoot, cfg.Retention.ContinuousRetentionDays, logger)
	cleaner := retention.NewCleaner(store, cfg.Retention, logger)
	archiver := retention.NewArchiver(store, cfg.Retention.ArchiveRoot, logger)
	capture := retention.NewEventCapture(store,
		ffmpeg.NewCapturer(cfg.FFmpeg.FFmpegBinary()),
		cfg.Retention.RecordingRoot, cfg.Retention.EventRetentionDays, cfg.Retention.CaptureDuration, logger)

	// Background jobs: every piece of periodic and API-triggered work goes
	// through the persisted job queue.
	fanout := scheduler.FanoutOptions{
		Concurrency:  cfg.Scheduler.FanoutConcurrency,
		TaskDeadline: cfg.Scheduler.ProbeDeadline,
	}
	executor := scheduler.NewExecutor(store.Jobs).WithLogger(logger)
	executor.RegisterHandler(models.JobTypeFastHealth,
		scheduler.NewFastHealthHandler(store, checker, fanout, logger))
	executor.RegisterHandler(models.JobTypeDeepHealth,
		scheduler.NewDeepHealthHandler(store, deep, remediator, cfg.Health.DeepSampleLimit, fanout, logger).
			WithCapture(capture))
	executor.RegisterHandler(models.JobTypeFleetSync,
		scheduler.NewFleetSyncHandler(store, syncer, fanout, logger))
	executor.RegisterHandler(models.JobTypeRetentionCleanup,
		scheduler.NewRetentionCleanupHandler(scanner, cleaner))
	executor.RegisterHandler(models.JobTypeArchiveSweep,
		scheduler.NewArchiveSweepHandler(archiver))
	executor.RegisterHandler(models.JobTypeBlocklistSweep,
		scheduler.NewBlocklistSweepHandler(blockMgr))
	executor.RegisterHandler(models.JobTypeRemediation,
		scheduler.NewRemediationHandler(store, remediator))
	executor.RegisterHandler(models.JobTypeRollingUpdate,
		scheduler.NewRollingUpdateHandler(configMgr, cfg.Scheduler.RollingBatchSize, cfg.Scheduler.RollingBatchDelay))

	runner := scheduler.NewRunner(store.Jobs, executor).
		WithLogger(logger).
		WithConfig(scheduler.RunnerConfig{
			WorkerCount: cfg.Scheduler.Workers,
			TypeTimeouts: map[models.JobType]time.Duration{
				models.JobTypeRetentionCleanup: cfg.Scheduler.CleanupDeadline,
			},
		})

	sched := scheduler.NewScheduler(store.Jobs, cfg.Scheduler, cfg.Blocklist.SweepInterval).
		WithLogger(logger)

	// HTTP API.
	server := internalhttp.NewServer(internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger, version.Version)

	api := server.API()
	handlers.NewNodeHandler(store, sched).Register(api)
	handlers.NewStreamHandler(store, sched).Register(api)
	handlers.NewSessionHandler(aggregator).Register(api)
	handlers.NewConfigHandler(store, configMgr, sched).Register(api)
	handlers.NewBlocklistHandler(blockMgr).Register(api)
	handlers.NewJobHandler(store, sched, runner).Register(api)
	handlers.NewDashboardHandler(store, aggregator).
		WithRecordingRoot(cfg.Retention.RecordingRoot).
		Register(api)
	handlers.NewHealthHandler(version.Version).
		WithClientManager(clients).
		WithDB(db.DB).
		Register(api)

	recordings := handlers.NewRecordingHandler(store, archiver, sched)
	recordings.Register(api)
	recordings.RegisterMedia(server.Router())

	server.Router().Get("/docs", handlers.NewDocsHandler("mtx-toolkit API", "/openapi.json").ServeHTTP)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.SeedRecurring(ctx); err != nil {
		return fmt.Errorf("seeding recurring jobs: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}
	defer sched.Stop()

	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("starting job runner: %w", err)
	}
	defer runner.Stop()

	logger.Info("control plane ready",
		slog.String("address", cfg.Server.Address()),
		slog.String("version", version.Version),
		slog.Int("workers", cfg.Scheduler.Workers),
	)

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("running server: %w", err)
	}
	return nil
}

// applyServeFlags layers explicitly set CLI flags over the loaded config.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("db-dsn") {
		cfg.Database.DSN, _ = flags.GetString("db-dsn")
	}
}
