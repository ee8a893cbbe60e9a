// Package main wires together the monitor worker binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/web-monitor/internal/alerts"
	"github.com/JakeFAU/web-monitor/internal/api"
	"github.com/JakeFAU/web-monitor/internal/clock/system"
	"github.com/JakeFAU/web-monitor/internal/config"
	"github.com/JakeFAU/web-monitor/internal/id/uuid"
	"github.com/JakeFAU/web-monitor/internal/logging"
	"github.com/JakeFAU/web-monitor/internal/metrics"
	"github.com/JakeFAU/web-monitor/internal/notify"
	"github.com/JakeFAU/web-monitor/internal/orchestrator"
	"github.com/JakeFAU/web-monitor/internal/scheduler"
	"github.com/JakeFAU/web-monitor/internal/taskqueue"
	"github.com/JakeFAU/web-monitor/internal/telemetry"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("monitor exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Warn("tracer provider shutdown failed", zap.Error(err))
			}
		}()
	}

	clock := system.New()
	idGen := uuid.New()

	w, err := newWiring(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer w.close(logger)

	broker, err := w.buildBroker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	tasks := taskqueue.New(broker, clock, idGen, taskqueue.Config{
		Concurrency:   cfg.Tasks.Concurrency,
		MaxRetries:    cfg.Tasks.MaxRetries,
		RetryDelay:    cfg.Tasks.RetryDelay,
		HardTimeLimit: cfg.Tasks.HardTimeLimit,
		SoftTimeLimit: cfg.Tasks.SoftTimeLimit,
	}, logger.Named("tasks"))

	search, err := buildSearch(cfg, clock)
	if err != nil {
		return err
	}
	analysis, err := buildAnalysis(ctx, cfg)
	if err != nil {
		return err
	}
	notifier, err := notify.New(notify.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}, logger)
	if err != nil {
		return fmt.Errorf("init notifier: %w", err)
	}
	engine := alerts.New(w.store, notifier, clock, alerts.Config{
		AppURL:   cfg.Alerts.AppURL,
		Location: cfg.Alerts.Location(),
	}, logger)

	deps := orchestrator.Deps{
		Store:    w.store,
		Search:   search,
		Analysis: analysis,
		Alerts:   engine,
		Clock:    clock,
	}
	if err := w.attachSidecars(ctx, cfg, &deps, logger); err != nil {
		return err
	}
	orch, err := orchestrator.New(deps, orchestrator.Config{
		LookbackDays:        cfg.Orchestrator.LookbackDays,
		MaxResults:          cfg.Orchestrator.MaxResults,
		AnalysisInterval:    cfg.Orchestrator.AnalysisInterval,
		AnalysisConcurrency: cfg.Orchestrator.AnalysisConcurrency,
		ScheduleInterval:    cfg.Orchestrator.ScheduleInterval,
		EventsTopic:         cfg.PubSub.EventsTopic,
		ArchivePrefix:       cfg.Storage.Prefix,
	}, logger)
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}
	tasks.Register(taskqueue.TaskScrapeProject, orch.HandleTask)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.New(w.store, tasks, scheduler.Config{
			Interval:     cfg.Scheduler.Interval,
			RunOnStart:   cfg.Scheduler.RunOnStart,
			SkipInFlight: cfg.Scheduler.SkipInFlight,
		}, logger)
		if err != nil {
			return fmt.Errorf("init scheduler: %w", err)
		}
	}

	apiDeps := api.Deps{Store: w.store, Enqueuer: tasks, Pinger: w.pinger}
	if sched != nil {
		apiDeps.Scheduler = sched
	}
	apiServer := api.NewServer(apiDeps, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		logger.Info("task runtime started", zap.Int("concurrency", cfg.Tasks.Concurrency))
		tasks.Run(ctx)
	}()

	if sched != nil {
		go func() {
			logger.Info("scheduler started", zap.Duration("interval", cfg.Scheduler.Interval))
			sched.Run(ctx)
		}()
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("task runtime did not drain before shutdown timeout")
	}
	logger.Info("shutdown complete")
	return nil
}
