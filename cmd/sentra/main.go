package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sentra-iam/sentra/internal/app"
	"github.com/sentra-iam/sentra/internal/auth"
	"github.com/sentra-iam/sentra/internal/features"
	"github.com/sentra-iam/sentra/internal/groups"
	"github.com/sentra-iam/sentra/internal/jobs"
	"github.com/sentra-iam/sentra/internal/observability"
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
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	metrics := observability.NewMetrics()
	accessCache := resolver.NewCache(redisClient, cfg.AccessCacheTTL, metrics)
	if err := accessCache.ListenForInvalidation(ctx); err != nil {
		logger.Warn("cache invalidation listener", slog.Any("error", err))
	}

	warmClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := warmClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	permissionsRepo := permissions.NewRepository(pool)
	rolesRepo := roles.NewRepository(pool)
	groupsRepo := groups.NewRepository(pool)
	featuresRepo := features.NewRepository(pool)
	usersRepo := users.NewRepository(pool)
	tokensRepo := auth.NewRepository(pool)

	policyValidator := policy.NewValidator(permissionsRepo, rolesRepo, groupsRepo)

	permissionsService := permissions.NewService(permissionsRepo, policyValidator, accessCache, logger)
	rolesService := roles.NewService(rolesRepo, policyValidator, accessCache, logger, metrics, cfg.ClosureCacheSize)
	groupsService := groups.NewService(groupsRepo, policyValidator, accessCache, logger)
	featuresService := features.NewService(featuresRepo, permissionsRepo, accessCache, logger)
	usersService := users.NewService(usersRepo, rolesRepo, groupsRepo, accessCache, warmClient, logger)
	tokensService := auth.NewService(tokensRepo, usersRepo, logger)

	resolverService := resolver.NewService(
		usersRepo,
		rolesService,
		groupsService,
		permissionsService,
		featuresService,
		accessCache,
		metrics,
		logger,
	)

	guard := resolver.Middleware{Service: resolverService, Logger: logger}
	authMiddleware := auth.Middleware{Service: tokensService, Logger: logger}

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Pool:               pool,
		AuthMiddleware:     authMiddleware,
		TokensHandler:      auth.NewHandler(logger, tokensService, guard),
		PermissionsHandler: permissions.NewHandler(logger, permissionsService, guard),
		RolesHandler:       roles.NewHandler(logger, rolesService, guard),
		GroupsHandler:      groups.NewHandler(logger, groupsService, guard),
		FeaturesHandler:    features.NewHandler(logger, featuresService, guard),
		UsersHandler:       users.NewHandler(logger, usersService, guard),
		ResolverHandler:    resolver.NewHandler(logger, resolverService, cfg.CheckRateLimit),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
