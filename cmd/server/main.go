// Command server runs the list rotation engine: the trigger API, the
// workflow coordinator and its worker pool, all in one process.
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
	"github.com/ignite/list-rotator/internal/api"
	"github.com/ignite/list-rotator/internal/audit/s3archive"
	"github.com/ignite/list-rotator/internal/cache"
	"github.com/ignite/list-rotator/internal/config"
	"github.com/ignite/list-rotator/internal/coordinator"
	"github.com/ignite/list-rotator/internal/executor"
	"github.com/ignite/list-rotator/internal/ledger"
	"github.com/ignite/list-rotator/internal/notify"
	"github.com/ignite/list-rotator/internal/ongage"
	"github.com/ignite/list-rotator/internal/plan"
	"github.com/ignite/list-rotator/internal/pkg/distlock"
	"github.com/ignite/list-rotator/internal/pkg/logger"
	"github.com/ignite/list-rotator/internal/pkg/retry"
	"github.com/ignite/list-rotator/internal/repository/postgres"
)

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
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Minute)
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
			logger.Warn("redis unreachable, cache and redis lock disabled", "error", err)
			redisClient = nil
		}
	}

	deps, client := buildDeps(ctx, cfg, db, redisClient)

	coord := coordinator.New(deps, coordinator.Config{
		TolerancePct: cfg.Rotation.TolerancePct,
		PostSendGate: cfg.Rotation.PostSendGate(),
		LockTTL:      cfg.Rotation.LockTTL(),
		Workers:      cfg.Rotation.Workers,
	})
	coord.Start(ctx)

	server := api.NewServer(cfg.Server, api.NewHandlers(coord, client))
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	coord.Stop()
}

// buildDeps wires the full dependency graph from config.
func buildDeps(ctx context.Context, cfg *config.Config, db *sql.DB, redisClient *redis.Client) (coordinator.Deps, *ongage.Client) {
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
	auditRepo := postgres.NewAuditRepo(db)

	var stateCache *cache.StateCache
	var execCache executor.StateCache
	if redisClient != nil {
		stateCache = cache.New(redisClient, cfg.Rotation.CacheFreshness())
		execCache = stateCache
	}

	exec := executor.New(client, ledgerSvc, execCache, executor.Config{
		MaxInflight: cfg.Rotation.MaxInflightCalls,
		Retry:       retry.DefaultPolicy(),
	})

	validator := plan.NewValidator(ledgerSvc, auditRepo, plan.Config{
		TolerancePct:      cfg.Rotation.TolerancePct,
		SuppressionCapPct: cfg.Rotation.SuppressionCapPct,
	})

	var bedrock advisor.Advisor
	if cfg.Advisor.Enabled {
		b, err := advisor.NewBedrock(ctx, advisor.Config{
			ModelID: cfg.Advisor.ModelID,
			Region:  cfg.Advisor.Region,
			Timeout: cfg.Advisor.Timeout(),
		})
		if err != nil {
			logger.Warn("bedrock advisor unavailable, using fallback only", "error", err)
		} else {
			bedrock = b
		}
	}

	notifier, err := notify.NewSES(ctx, cfg.Notify)
	if err != nil {
		logger.Warn("notifier unavailable", "error", err)
		notifier = nil
	}
	archiver, err := s3archive.New(ctx, cfg.Archive)
	if err != nil {
		logger.Warn("run archiver unavailable", "error", err)
		archiver = nil
	}

	deps := coordinator.Deps{
		Engine:    exec,
		Validator: validator,
		Advisor:   bedrock,
		Fallback:  advisor.NewFallback(),
		Lock:      distlock.NewLock(redisClient, db, distlock.ListSetKey, cfg.Rotation.LockTTL()),
		Audit:     auditRepo,
		Bounces:   client,
		Ledger:    ledgerSvc,
		Members:   ongage.RecordSource{Client: client},
		Counts:    client,
	}
	if stateCache != nil {
		deps.Cache = stateCache
	}
	if notifier != nil {
		deps.Notifier = notifier
	}
	if archiver != nil {
		deps.Archiver = archiver
	}
	return deps, client
}
