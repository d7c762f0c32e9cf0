// Command worker runs the engine's background schedule: an hourly list-state
// snapshot to keep the cache warm, and the weekly reconciliation sweep. It
// shares the five-list lock with the server process, so running both never
// produces concurrent mutating runs.
package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/list-rotator/internal/advisor"
	"github.com/ignite/list-rotator/internal/cache"
	"github.com/ignite/list-rotator/internal/config"
	"github.com/ignite/list-rotator/internal/coordinator"
	"github.com/ignite/list-rotator/internal/executor"
	"github.com/ignite/list-rotator/internal/ledger"
	"github.com/ignite/list-rotator/internal/ongage"
	"github.com/ignite/list-rotator/internal/plan"
	"github.com/ignite/list-rotator/internal/pkg/distlock"
	"github.com/ignite/list-rotator/internal/pkg/logger"
	"github.com/ignite/list-rotator/internal/pkg/retry"
	"github.com/ignite/list-rotator/internal/repository/postgres"
)

const sweepPeriod = 7 * 24 * time.Hour

func main() {
	cfg, err := config.LoadFromEnv(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("database open failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	if err := db.PingContext(ctx); err != nil {
		logger.Error("database unreachable", "error", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, cache disabled", "error", err)
			redisClient = nil
		}
	}

	var limiter ongage.Limiter
	if redisClient != nil {
		limiter = ongage.NewRedisLimiter(redisClient, cfg.Ongage.RatePerSecond)
	} else {
		limiter = ongage.NewLocalLimiter(cfg.Ongage.RatePerSecond)
	}
	client := ongage.NewClient(ongage.Config{
		BaseURL:     cfg.Ongage.BaseURL,
		Username:    cfg.Ongage.Username,
		Password:    cfg.Ongage.Password,
		AccountCode: cfg.Ongage.AccountCode,
		Timeout:     time.Duration(cfg.Ongage.TimeoutSeconds) * time.Second,
		ListIDs:     cfg.Ongage.ListIDs(),
	}, limiter)

	repo := postgres.NewMembershipRepo(db)
	ledgerSvc := ledger.NewService(repo)

	var execCache executor.StateCache
	if redisClient != nil {
		execCache = cache.New(redisClient, cfg.Rotation.CacheFreshness())
	}
	exec := executor.New(client, ledgerSvc, execCache, executor.Config{
		MaxInflight: cfg.Rotation.MaxInflightCalls,
		Retry:       retry.DefaultPolicy(),
	})

	auditRepo := postgres.NewAuditRepo(db)
	listLock := distlock.NewLock(redisClient, db, distlock.ListSetKey, cfg.Rotation.LockTTL())

	coord := coordinator.New(coordinator.Deps{
		Engine: exec,
		Validator: plan.NewValidator(ledgerSvc, auditRepo, plan.Config{
			TolerancePct:      cfg.Rotation.TolerancePct,
			SuppressionCapPct: cfg.Rotation.SuppressionCapPct,
		}),
		Fallback: advisor.NewFallback(),
		Lock:     listLock,
		Audit:    auditRepo,
		Bounces:  client,
		Ledger:   ledgerSvc,
		Members:  ongage.RecordSource{Client: client},
		Counts:   client,
	}, coordinator.Config{
		TolerancePct: cfg.Rotation.TolerancePct,
		PostSendGate: cfg.Rotation.PostSendGate(),
		LockTTL:      cfg.Rotation.LockTTL(),
		Workers:      1,
	})
	coord.Start(ctx)

	snapshotTicker := time.NewTicker(time.Duration(cfg.Rotation.SweepIntervalHours) * time.Hour)
	defer snapshotTicker.Stop()
	sweepTicker := time.NewTicker(sweepPeriod)
	defer sweepTicker.Stop()

	logger.Info("worker started",
		"snapshot_every_hours", cfg.Rotation.SweepIntervalHours,
		"sweep_every", sweepPeriod.String())

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutting down")
			coord.Stop()
			return
		case <-snapshotTicker.C:
			// Snapshot refreshes the cache, so it takes the list-set
			// lock like any other cache writer. A held lock means a
			// run is refreshing state anyway; skip this tick.
			ok, err := listLock.Acquire(ctx)
			if err != nil {
				logger.Warn("snapshot lock acquire failed", "error", err)
				continue
			}
			if !ok {
				logger.Info("snapshot skipped, list set locked")
				continue
			}
			if _, err := exec.Snapshot(ctx); err != nil {
				logger.Warn("scheduled snapshot failed", "error", err)
			}
			if err := listLock.Release(ctx); err != nil {
				logger.Warn("snapshot lock release failed", "error", err)
			}
		case <-sweepTicker.C:
			runID, err := coord.TriggerWeeklySweep()
			if err != nil {
				logger.Error("weekly sweep trigger failed", "error", err)
				continue
			}
			logger.Info("weekly sweep triggered", "run_id", runID)
		}
	}
}
