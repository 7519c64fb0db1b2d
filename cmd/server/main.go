// Command server runs the stackwatch-ai monitoring service.
//
// Startup order: configuration → logging → persistence → platform
// adapter → pipeline components → HTTP/gRPC listeners. Only failures
// in this sequence are fatal; once the loop is running, per-resource
// and per-investigation failures are isolated and logged.
//
// Shutdown drains in the reverse order so nothing publishes into a
// closed hub or writes to a closed store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/stackwatch/stackwatch-ai/internal/audit"
	"github.com/stackwatch/stackwatch-ai/internal/broadcast"
	"github.com/stackwatch/stackwatch-ai/internal/config"
	"github.com/stackwatch/stackwatch-ai/internal/correlation"
	"github.com/stackwatch/stackwatch-ai/internal/investigation"
	"github.com/stackwatch/stackwatch-ai/internal/llm"
	"github.com/stackwatch/stackwatch-ai/internal/logging"
	"github.com/stackwatch/stackwatch-ai/internal/middleware"
	"github.com/stackwatch/stackwatch-ai/internal/monitor"
	"github.com/stackwatch/stackwatch-ai/internal/platform/dockeradapter"
	"github.com/stackwatch/stackwatch-ai/internal/remediation"
	"github.com/stackwatch/stackwatch-ai/internal/server"
	"github.com/stackwatch/stackwatch-ai/internal/store"
)

func main() {
	configPath := flag.String("config", "/etc/stackwatch/config.yaml", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "stackwatch-ai: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx := context.Background()

	mgr, err := config.NewConfigManager(configPath)
	if err != nil {
		return fmt.Errorf("config manager: %w", err)
	}
	if err := mgr.Load(ctx); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	cfg := mgr.Get(ctx)

	logger, err := logging.New(cfg)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if !cfg.LLM.Configured {
		logger.Warn("llm provider not configured, running degraded: investigations disabled")
	}

	var auditLog audit.Logger
	if cfg.Audit.Enabled {
		auditLog, err = audit.NewLogger(&audit.Config{
			AuditLogPath:  cfg.Audit.Path,
			AppLogPath:    cfg.Audit.Path + ".errors",
			MaxSize:       cfg.Logging.MaxSizeMB,
			MaxBackups:    cfg.Logging.MaxBackups,
			MaxAge:        cfg.Logging.MaxAgeDays,
			Compress:      true,
			BufferSize:    cfg.Audit.BufferSize,
			FlushInterval: time.Duration(cfg.Audit.FlushIntervalSeconds) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("audit logger: %w", err)
		}
		defer func() { _ = auditLog.Close() }()
	}

	st, err := store.Open(cfg.Database.Type, databaseDSN(cfg))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	var archive store.EvidenceArchive
	if cfg.Archive.Enabled {
		archive, err = store.NewMinioArchive(store.ArchiveConfig{
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("evidence archive: %w", err)
		}
	}

	adapter, err := dockeradapter.New(dockeradapter.Config{
		EndpointID:     cfg.Platform.EndpointID,
		Host:           cfg.Platform.DockerHost,
		RequestTimeout: time.Duration(cfg.Platform.RequestTimeout) * time.Second,
	}, logger.Named("docker"))
	if err != nil {
		return fmt.Errorf("docker adapter: %w", err)
	}
	defer func() { _ = adapter.Close() }()

	client, err := llm.New(cfg)
	if err != nil {
		return fmt.Errorf("llm client: %w", err)
	}

	hub := broadcast.NewHub(cfg.Server.AllowedOrigins, logger.Named("broadcast"))
	defer hub.Close()

	cooldown, err := buildCooldown(ctx, cfg)
	if err != nil {
		return fmt.Errorf("cooldown store: %w", err)
	}

	emitter := monitor.NewEmitter(st, cooldown, hub, auditLog, logger.Named("emitter"))

	var correlator *correlation.Correlator
	if cfg.Correlation.Enabled {
		correlator = correlation.NewCorrelator(cfg, st, hub, auditLog, logger.Named("correlation"))
	}

	gatherer, err := investigation.NewGatherer(adapter, adapter,
		cfg.Investigations.LogTailLines, cfg.Monitoring.MetricWindow, logger.Named("evidence"))
	if err != nil {
		return fmt.Errorf("evidence gatherer: %w", err)
	}
	orchestrator := investigation.NewOrchestrator(cfg, investigation.Deps{
		Store:     st,
		Gatherer:  gatherer,
		Client:    client,
		Archive:   archive,
		Publisher: hub,
		Audit:     auditLog,
		Logger:    logger.Named("investigation"),
	})
	defer orchestrator.Close()

	advisor := remediation.NewAdvisor(cfg, st, hub, auditLog, logger.Named("remediation"))
	executor := remediation.NewExecutor(st, adapter, hub, auditLog, logger.Named("remediation"))

	schedDeps := monitor.Deps{
		Samples:  adapter,
		Emitter:  emitter,
		Cooldown: cooldown,
		Audit:    auditLog,
		Logger:   logger.Named("monitor"),
	}
	if correlator != nil {
		schedDeps.Correlator = correlator
	}
	if cfg.Investigations.Enabled && cfg.LLM.Configured {
		schedDeps.Investigations = orchestrator
	}
	if cfg.Remediation.Enabled {
		schedDeps.Advisor = advisor
	}
	scheduler := monitor.NewScheduler(cfg, schedDeps)

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	defer limiter.Stop()

	srvDeps := server.Deps{
		Store:          st,
		Hub:            hub,
		Scheduler:      scheduler,
		Actions:        executor,
		Investigations: orchestrator,
		Platform:       adapter,
		Limiter:        limiter,
		Logger:         logger.Named("server"),
	}
	if correlator != nil {
		srvDeps.Correlator = correlator
	}
	srv := server.New(cfg, srvDeps)

	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer cancelLoop()
	if cfg.Monitoring.Enabled {
		scheduler.Start(loopCtx)
		defer scheduler.Stop()
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	logger.Info("stackwatch-ai started",
		zap.Int("port", cfg.Server.Port),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.Bool("monitoring", cfg.Monitoring.Enabled),
		zap.Bool("investigations", cfg.Investigations.Enabled && cfg.LLM.Configured),
		zap.Bool("remediation", cfg.Remediation.Enabled))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	return nil
}

// databaseDSN picks the connection string for the configured engine.
func databaseDSN(cfg *config.Config) string {
	if cfg.Database.Type == "postgres" {
		return cfg.Database.PostgresURL
	}
	return cfg.Database.SQLitePath
}

// buildCooldown prefers the shared Redis store when an address is
// configured so replicas suppress as one; otherwise the in-memory map.
func buildCooldown(ctx context.Context, cfg *config.Config) (monitor.CooldownStore, error) {
	window := time.Duration(cfg.Monitoring.CooldownMinutes) * time.Minute
	if cfg.Redis.Addr == "" {
		return monitor.NewMemoryCooldown(window), nil
	}
	client, err := monitor.DialCooldownRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}
	return monitor.NewRedisCooldown(client, window), nil
}
