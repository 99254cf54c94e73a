package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/tour-auth-service/internal/api/http"
	"github.com/spec-kit/tour-auth-service/internal/api/http/handlers"
	"github.com/spec-kit/tour-auth-service/internal/auth"
	"github.com/spec-kit/tour-auth-service/internal/config"
	"github.com/spec-kit/tour-auth-service/internal/events"
	"github.com/spec-kit/tour-auth-service/internal/limiter"
	"github.com/spec-kit/tour-auth-service/internal/mail"
	"github.com/spec-kit/tour-auth-service/internal/observability"
	"github.com/spec-kit/tour-auth-service/internal/persistence"
	"github.com/spec-kit/tour-auth-service/internal/repository"
	"github.com/spec-kit/tour-auth-service/internal/service"
	"github.com/spec-kit/tour-auth-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	userRepo := repository.NewUserRepository(pg.PoolHandle())
	mailer := mail.New(cfg.Mail, logger)
	dispatcher := events.NewInMemoryDispatcher()
	attempts := limiter.NewAttemptLimiter(redis.Client, cfg.RateLimit, logger)

	authService := service.NewAuthService(*cfg, service.AuthDependencies{
		UserRepo:   userRepo,
		Mailer:     mailer,
		Dispatcher: dispatcher,
		Limiter:    attempts,
	}, logger)
	guard := auth.NewGuard(authService.TokenManager(), userRepo, logger, metrics)

	notifications := service.NewNotificationService(dispatcher, mailer, logger)
	worker.StartNotificationWorker(notifications)

	app := fiber.New()
	httptransport.RegisterMiddlewares(app, logger, metrics, httptransport.MiddlewareConfig{
		Timeout:     cfg.App.RequestTimeout(),
		Development: cfg.App.IsDevelopment(),
	})

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Auth:   handlers.NewAuthHandler(authService, cfg.Auth.CookieTTL()),
		Guard:  guard,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
