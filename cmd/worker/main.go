package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/sentra-iam/sentra/internal/app"
	"github.com/sentra-iam/sentra/internal/features"
	"github.com/sentra-iam/sentra/internal/groups"
	"github.com/sentra-iam/sentra/internal/jobs"
	"github.com/sentra-iam/sentra/internal/permissions"
	"github.com/sentra-iam/sentra/internal/platform/cache"
	"github.com/sentra-iam/sentra/internal/platform/db"
	"github.com/sentra-iam/sentra/internal/policy"
	"github.com/sentra-iam/sentra/internal/resolver"
	"github.com/sentra-iam/sentra/internal/roles"
	"github.com/sentra-iam/sentra/internal/users"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	accessCache := resolver.NewCache(redisClient, cfg.AccessCacheTTL, nil)
	if err := accessCache.ListenForInvalidation(ctx); err != nil {
		logger.Warn("cache invalidation listener", slog.Any("error", err))
	}

	permissionsRepo := permissions.NewRepository(pool)
	rolesRepo := roles.NewRepository(pool)
	groupsRepo := groups.NewRepository(pool)
	featuresRepo := features.NewRepository(pool)
	usersRepo := users.NewRepository(pool)

	policyValidator := policy.NewValidator(permissionsRepo, rolesRepo, groupsRepo)

	permissionsService := permissions.NewService(permissionsRepo, policyValidator, accessCache, logger)
	rolesService := roles.NewService(rolesRepo, policyValidator, accessCache, logger, nil, cfg.ClosureCacheSize)
	groupsService := groups.NewService(groupsRepo, policyValidator, accessCache, logger)
	featuresService := features.NewService(featuresRepo, permissionsRepo, accessCache, logger)

	resolverService := resolver.NewService(
		usersRepo,
		rolesService,
		groupsService,
		permissionsService,
		featuresService,
		accessCache,
		nil,
		logger,
	)

	warmJob := jobs.NewAccessWarmJob(resolverService, logger, jobs.NewMetrics(nil))

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAccessWarm, Handler: warmJob.Handle},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
