package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"

	"github.com/gmela/gmela-api/internal/auth"
	"github.com/gmela/gmela-api/internal/config"
	"github.com/gmela/gmela-api/internal/database"
	"github.com/gmela/gmela-api/internal/email"
	httpServer "github.com/gmela/gmela-api/internal/http"
	"github.com/gmela/gmela-api/internal/logging"
	"github.com/gmela/gmela-api/internal/ratelimit"
	"github.com/gmela/gmela-api/internal/token"
	"github.com/gmela/gmela-api/internal/user"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	logger := logging.NewLogger(cfg.Server.IsDevelopment())
	logger.Info("starting application",
		"env", cfg.Server.Env,
		"port", cfg.Server.Port,
	)

	// Initialize database connection
	db, err := initDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	// Initialize Redis connection
	redisClient, err := initRedis(cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	defer redisClient.Close()

	// Initialize repositories
	userRepo := user.NewRepository(db, logger)
	tokenRepo := token.NewRepository(db, logger)
	confirmationRepo := auth.NewConfirmationRepository(db, logger)
	accountRepo := auth.NewAccountRepository(db, logger)

	// Initialize rate limiter
	rateLimiter := ratelimit.NewLimiter(redisClient)

	// Initialize PASETO service for session cookies
	pasetoService, err := auth.NewPasetoService(cfg.Auth.PasetoKey)
	if err != nil {
		return fmt.Errorf("failed to initialize PASETO service: %w", err)
	}

	// Initialize token service
	tokenService := token.NewService(
		tokenRepo,
		cfg.Auth.VerificationTTL,
		cfg.Auth.PasswordResetTTL,
		cfg.Auth.TwoFactorTokenTTL,
	)

	// Initialize email service
	emailService := email.NewService(
		cfg.Email.SMTPHost,
		cfg.Email.SMTPPort,
		cfg.Email.SMTPUser,
		cfg.Email.SMTPPassword,
		cfg.App.Name,
		cfg.App.FrontendURL,
	)

	// Initialize password hasher and session provider
	hasher := auth.NewBcryptHasher(cfg.Auth.BcryptCost)
	sessionProvider := auth.NewRedisSessionProvider(
		userRepo,
		confirmationRepo,
		hasher,
		pasetoService,
		redisClient,
		cfg.Auth.SessionDuration,
		logger,
	)

	// Initialize auth service
	authService := auth.NewService(
		userRepo,
		tokenService,
		confirmationRepo,
		emailService,
		sessionProvider,
		hasher,
		logger,
		cfg.App.DefaultLoginRedirect,
	)

	// Initialize HTTP handlers and route guard
	authHandler := auth.NewHandler(
		authService,
		rateLimiter,
		!cfg.Server.IsDevelopment(), // isProduction
	)
	guard := auth.NewGuard(sessionProvider, cfg.App.DefaultLoginRedirect)

	// Initialize router
	router := httpServer.NewRouter(cfg, authHandler, guard, accountRepo, logger)

	// Initialize HTTP server
	serverAddr := ":" + cfg.Server.Port
	server := httpServer.NewServer(
		serverAddr,
		router,
		cfg.Server.ReadTimeout,
		cfg.Server.WriteTimeout,
		logger,
	)

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	// Wait for interrupt signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("received shutdown signal", "signal", sig.String())

		// Graceful shutdown with timeout
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// initDB initializes the database connection and returns a Bun DB instance
func initDB(cfg config.DatabaseConfig) (*bun.DB, error) {
	sqlDB, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify connection
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return database.NewBunDB(sqlDB), nil
}

// initRedis initializes the Redis connection and returns a Redis client
func initRedis(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Verify connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return client, nil
}
