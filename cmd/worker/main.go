// Package main - точка входа фонового процесса прогресса Alem.
//
// Worker держит движки прогресса в одном процессе:
// - Сменяет недельные сезоны лиг и фиксирует итоговые места
// - Заранее создаёт квесты дня
// - Пишет ленту активности из событий движков
// - Отдаёт метрики Prometheus на /metrics и проверки на /healthz, /readyz
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alem-hub/alem-progression/config"
	"github.com/alem-hub/alem-progression/internal/infrastructure/health"
	"github.com/alem-hub/alem-progression/internal/infrastructure/scheduler"
	"github.com/alem-hub/alem-progression/internal/infrastructure/scheduler/jobs"
	"github.com/alem-hub/alem-progression/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	// Корневой контекст отменяется по SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log, err := setupLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting progression worker",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("timezone", cfg.App.Timezone),
		logger.String("level_up_mode", cfg.Progression.LevelUpMode),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ХРАНИЛИЩА (PostgreSQL, аналитика, Redis)
	// ─────────────────────────────────────────────────────────────────────────
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing stores...")
		st.close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ДВИЖКИ ПРОГРЕССА И EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	eng, err := buildEngine(cfg, st, nil, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing event bus...")
		eng.close()
	}()

	eng.startupChecks(ctx, cfg, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 5. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(scheduler.Config{Location: cfg.App.Location, Logger: log})
		if err := sched.Register(jobs.NewSeasonRolloverJob(eng.leagues, log), cfg.Scheduler.RolloverSchedule); err != nil {
			return err
		}
		if cfg.Features.IsEnabled(config.FeatureQuests) {
			if err := sched.Register(jobs.NewDailyQuestsJob(eng.quests, nil, log), cfg.Scheduler.DailyQuestsSchedule); err != nil {
				return err
			}
		}
		sched.Start()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. МЕТРИКИ И HEALTH CHECKS
	// ─────────────────────────────────────────────────────────────────────────
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		checker := health.NewChecker(cfg.App.Version, 3*time.Second)
		st.registerChecks(checker)

		mux := http.NewServeMux()
		mux.Handle("/metrics", eng.metrics.Handler())
		mux.Handle("/healthz", health.LiveHandler())
		mux.Handle("/readyz", checker.ReadyHandler())
		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", logger.Err(err))
			}
		}()
		log.Info("metrics endpoint started", logger.String("addr", cfg.Metrics.Addr))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("progression worker is running")
	<-ctx.Done()
	log.Info("received shutdown signal", logger.Duration("timeout", cfg.App.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			log.Warn("scheduler did not stop in time", logger.Err(err))
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown failed", logger.Err(err))
		}
	}

	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger настраивает структурированное логирование.
func setupLogger(cfg *config.Config) (*logger.Logger, error) {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Log.Level)
	opts.Format = cfg.Log.Format
	opts.Development = cfg.App.Debug
	if cfg.App.Debug {
		opts.Level = logger.LevelDebug
	}

	log, err := logger.New(opts)
	if err != nil {
		return nil, err
	}
	return log.With(logger.String("app", cfg.App.Name)), nil
}
