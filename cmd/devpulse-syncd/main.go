// devpulse-syncd runs the sync daemon: the periodic GitHub sync scheduler,
// the webhook receiver, and the ops HTTP surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/devpulse/devpulse/internal/aggregate"
	"github.com/devpulse/devpulse/internal/config"
	"github.com/devpulse/devpulse/internal/githubapi"
	"github.com/devpulse/devpulse/internal/scheduler"
	"github.com/devpulse/devpulse/internal/storage"
	"github.com/devpulse/devpulse/internal/survey"
	ghsync "github.com/devpulse/devpulse/internal/sync"
	"github.com/devpulse/devpulse/internal/telemetry"
	"github.com/devpulse/devpulse/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "devpulse-syncd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", "config/local.yaml", "path to YAML config file")
	flag.Parse()

	configFile, err := os.Open(configPath)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer func() {
		_ = configFile.Close()
	}()

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	loggerConfig := zap.NewProductionConfig()
	loggerConfig.Level = zap.NewAtomicLevelAt(logLevel(cfg.Server.LogLevel))
	logger, err := loggerConfig.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	telemetryRuntime, err := telemetry.Setup(telemetry.Config{
		Enabled:     cfg.Telemetry.OTELEnabled,
		Mode:        cfg.Telemetry.OTELTraceMode,
		SampleRatio: cfg.Telemetry.OTELTraceSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetryRuntime.Shutdown(shutdownCtx)
	}()

	store, err := storage.OpenPostgres(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	rootCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	credential, err := resolveCredential(rootCtx, cfg)
	if err != nil {
		return fmt.Errorf("resolve github credential: %w", err)
	}
	logger.Info("github credential resolved", zap.String("source", string(credential.Source)))

	requestClient := githubapi.NewClient(credential.HTTPClient, githubapi.RetryConfig{
		MaxAttempts:    cfg.GitHub.Retry.MaxAttempts,
		InitialBackoff: cfg.GitHub.Retry.InitialBackoff,
		MaxBackoff:     cfg.GitHub.Retry.MaxBackoff,
	}, githubapi.RateLimitPolicy{
		MinRemainingThreshold: cfg.GitHub.RateLimit.MinRemainingThreshold,
		MinResetBuffer:        cfg.GitHub.RateLimit.MinResetBuffer,
		SecondaryLimitBackoff: cfg.GitHub.RateLimit.SecondaryLimitBackoff,
	})
	pullClient, err := githubapi.NewPullClient(cfg.GitHub.APIBaseURL, requestClient)
	if err != nil {
		return fmt.Errorf("build pull client: %w", err)
	}

	surveys := &survey.Service{
		Store: store,
		Issuer: survey.TokenIssuer{
			Secret: []byte(cfg.Survey.TokenSecret),
			TTL:    cfg.Survey.TokenTTL,
		},
		Logger: logger,
	}

	processors := &ghsync.Processors{Store: store, Source: pullClient, Logger: logger}
	orchestrator := &ghsync.Orchestrator{
		Store:      store,
		Source:     pullClient,
		Processors: processors,
		Calculator: ghsync.MetricsCalculator{Store: store},
		Guard:      ghsync.RateLimitGuard{MinRemaining: cfg.GitHub.RateLimit.MinRemainingThreshold},
		Surveys:    surveys,
		Logger:     logger,
		DaysBack:   cfg.GitHub.DaysBack,
	}

	leaser, deduper := sharedState(cfg)
	sched := &scheduler.Scheduler{
		Store:        store,
		Runner:       orchestrator,
		Weekly:       aggregate.WeeklyAggregator{Store: store, Logger: logger},
		Correlations: aggregate.CorrelationCalculator{Store: store, Logger: logger},
		Leaser:       leaser,
		Logger:       logger,
		Interval:     cfg.Sync.Interval,
		Workers:      cfg.Sync.Workers,
		LeaseTTL:     cfg.Sync.LeaseTTL,
	}
	go func() {
		if err := sched.Run(rootCtx); err != nil && rootCtx.Err() == nil {
			logger.Error("scheduler stopped", zap.Error(err))
		}
	}()

	if cfg.GitHub.CopilotOrg != "" {
		ghClient, err := githubapi.NewGitHubRESTClient(credential.HTTPClient, cfg.GitHub.APIBaseURL)
		if err != nil {
			return fmt.Errorf("build github rest client: %w", err)
		}
		seats := aggregate.SeatSnapshotService{Store: store, Billing: ghClient.Copilot, Logger: logger}
		go runSeatCaptureLoop(rootCtx, store, seats, cfg.GitHub.CopilotOrg, logger)
	}

	webhookHandler := &webhook.Handler{
		Store:      store,
		Calculator: ghsync.MetricsCalculator{Store: store},
		Surveys:    surveys,
		Deduper:    deduper,
		Logger:     logger,
	}

	router := chi.NewRouter()
	router.Mount("/", webhookHandler.Routes())
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.ListenAddr))
		if serveErr := server.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			serverErrCh <- serveErr
		}
		close(serverErrCh)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case serveErr := <-serverErrCh:
		if serveErr != nil {
			return fmt.Errorf("http server failed: %w", serveErr)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func resolveCredential(ctx context.Context, cfg *config.Config) (githubapi.Credential, error) {
	provider := githubapi.CredentialProvider{
		OAuthToken: cfg.GitHub.Auth.OAuthToken,
		Timeout:    cfg.GitHub.RequestTimeout,
	}
	if cfg.GitHub.Auth.HasInstallation() {
		provider.Installation = &githubapi.InstallationAuthConfig{
			AppID:          cfg.GitHub.Auth.AppID,
			InstallationID: cfg.GitHub.Auth.InstallationID,
			PrivateKeyPath: cfg.GitHub.Auth.PrivateKeyPath,
			Timeout:        cfg.GitHub.RequestTimeout,
		}
	}
	return provider.Resolve(ctx)
}

func sharedState(cfg *config.Config) (scheduler.Leaser, webhook.Deduper) {
	if cfg.Redis.Addr == "" {
		return &scheduler.MemoryLeaser{}, &webhook.MemoryDeduper{TTL: cfg.Sync.WebhookDedupTTL}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return &scheduler.RedisLeaser{Client: client}, &webhook.RedisDeduper{Client: client, TTL: cfg.Sync.WebhookDedupTTL}
}

// runSeatCaptureLoop captures one Copilot seat snapshot per team per day.
// Teams are derived from the tracked repository set.
func runSeatCaptureLoop(ctx context.Context, store storage.Store, seats aggregate.SeatSnapshotService, org string, logger *zap.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		captureSeats(ctx, store, seats, org, logger)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func captureSeats(ctx context.Context, store storage.Store, seats aggregate.SeatSnapshotService, org string, logger *zap.Logger) {
	repos, err := store.ListTrackedRepositories(ctx)
	if err != nil {
		logger.Error("seat capture: list repositories failed", zap.Error(err))
		return
	}
	teams := make(map[uint]struct{})
	for _, repo := range repos {
		teams[repo.TeamID] = struct{}{}
	}
	for teamID := range teams {
		if _, err := seats.Capture(ctx, teamID, org); err != nil {
			logger.Error("seat capture failed", zap.Uint("team_id", teamID), zap.Error(err))
		}
	}
}

func logLevel(raw string) zapcore.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
