package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/helpline-labs/support-desk/internal/api/dto"
	httptransport "github.com/helpline-labs/support-desk/internal/api/http"
	"github.com/helpline-labs/support-desk/internal/api/http/handlers"
	"github.com/helpline-labs/support-desk/internal/auth"
	"github.com/helpline-labs/support-desk/internal/config"
	"github.com/helpline-labs/support-desk/internal/events"
	"github.com/helpline-labs/support-desk/internal/lifecycle"
	"github.com/helpline-labs/support-desk/internal/observability"
	"github.com/helpline-labs/support-desk/internal/persistence"
	"github.com/helpline-labs/support-desk/internal/repository"
	"github.com/helpline-labs/support-desk/internal/repository/memory"
	"github.com/helpline-labs/support-desk/internal/service"
	"github.com/helpline-labs/support-desk/internal/storage"
	"github.com/helpline-labs/support-desk/internal/worker"
)

const shutdownTimeout = 10 * time.Second

type repositories struct {
	tickets   repository.TicketRepository
	messages  repository.ChatMessageRepository
	users     repository.UserRepository
	analytics repository.AnalyticsRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.App, cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.App, cfg.Tracing, logger)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	pool := pg.PoolHandle()
	if pool != nil && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pool, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}
	repos := buildRepositories(pg)

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	var (
		revocations auth.RevocationStore
		otps        auth.OTPStore
	)
	if redis.Enabled() {
		revocations = auth.NewRedisRevocationStore(redis.Client)
		otps = auth.NewRedisOTPStore(redis.Client)
	} else {
		revocations = auth.NewMemoryRevocationStore()
		otps = auth.NewMemoryOTPStore()
	}

	files, err := storage.NewLocalStore(cfg.Tickets.UploadDir, cfg.Tickets.MaxUploadBytes)
	if err != nil {
		logger.Fatal("failed to prepare upload dir", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	notifyWorker := worker.NewNotificationWorker(logger, 2, 0)
	notificationService := service.NewNotificationService(dispatcher, logger, cfg.Notification, notifyWorker)
	notifyWorker.Start(ctx, notificationService)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL())
	authService := service.NewAuthService(cfg.Auth, service.AuthDependencies{
		UserRepo:    repos.users,
		Tokens:      tokens,
		Revocations: revocations,
		OTPs:        otps,
		Dispatcher:  dispatcher,
		Logger:      logger,
	})
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:        repos.tickets,
		UserRepo:          repos.users,
		Files:             files,
		Dispatcher:        dispatcher,
		Policy:            lifecycle.PolicyFor(cfg.Tickets.StrictTransitions),
		Metrics:           metrics,
		Logger:            logger,
		MaxUpdateAttempts: cfg.Tickets.MaxUpdateAttempts,
		MaxAttachments:    cfg.Tickets.MaxAttachments,
	})
	chatService := service.NewChatService(service.ChatDependencies{
		TicketRepo:  repos.tickets,
		MessageRepo: repos.messages,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
		Logger:      logger,
	})
	analyticsService := service.NewAnalyticsService(repos.analytics, nil)
	userService := service.NewUserService(repos.users, analyticsService)

	if cfg.Auth.BootstrapAdminEmail != "" {
		admin, created, err := authService.BootstrapAdmin(ctx, cfg.Auth.BootstrapAdminEmail, cfg.Auth.BootstrapAdminPass)
		if err != nil {
			logger.Fatal("failed to bootstrap admin", zap.Error(err))
		}
		if created {
			logger.Info("bootstrap admin created", zap.String("user_id", admin.ID))
		}
	}

	validator := dto.NewValidator()
	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ErrorHandler: httptransport.ErrorHandler,
		BodyLimit:    bodyLimit(cfg.Tickets),
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}),
		Users:          handlers.NewUsersHandler(authService, userService, validator),
		Tickets:        handlers.NewTicketsHandler(ticketService, files, validator, logger, cfg.Tickets.MaxAttachments),
		Chat:           handlers.NewChatHandler(chatService, validator),
		Analytics:      handlers.NewAnalyticsHandler(analyticsService),
		Metrics:        metrics,
		AuthMiddleware: auth.NewAuthMiddleware(tokens, repos.users, revocations),
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	notifyWorker.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}

// buildRepositories picks Postgres when a pool is configured and in-memory stores otherwise.
func buildRepositories(pg *persistence.Postgres) repositories {
	if pool := pg.PoolHandle(); pool != nil {
		return repositories{
			tickets:   repository.NewTicketRepository(pool),
			messages:  repository.NewChatMessageRepository(pool),
			users:     repository.NewUserRepository(pool),
			analytics: repository.NewAnalyticsRepository(pool),
		}
	}
	store := memory.NewStore()
	return repositories{
		tickets:   store.Tickets(),
		messages:  store.Messages(),
		users:     store.Users(),
		analytics: store.Analytics(),
	}
}

func bodyLimit(cfg config.TicketsConfig) int {
	const overhead = 1 << 20
	limit := cfg.MaxUploadBytes*int64(max(cfg.MaxAttachments, 1)) + overhead
	return int(limit)
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
