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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/findmydocs/backend/internal/api"
	"github.com/findmydocs/backend/internal/auth"
	"github.com/findmydocs/backend/internal/config"
	"github.com/findmydocs/backend/internal/domain"
	"github.com/findmydocs/backend/internal/fcm"
	"github.com/findmydocs/backend/internal/middleware"
	"github.com/findmydocs/backend/internal/realtime"
	"github.com/findmydocs/backend/internal/repository"
	"github.com/findmydocs/backend/internal/storage"
)

const version = "1.0.0"

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting FindMyDocs API",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("realtime_source", cfg.Realtime.Source),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := initDatabase(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Connected to database")

	repo := repository.NewPostgresRepository(db)
	verifier := auth.NewTokenVerifier(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.Audience)

	// Change feed. Services publish directly in local mode; otherwise the
	// database trigger is the single source of change events.
	hub := realtime.NewHub(cfg.Realtime.QueueSize, logger)
	defer hub.Close()
	var publisher domain.ChangePublisher
	var listener *realtime.PGListener
	if cfg.Realtime.Source == config.RealtimeLocal {
		publisher = hub
	} else {
		listener = realtime.NewPGListener(db, cfg.Realtime.Channel, hub, logger)
	}

	// Initialize Firebase
	var push domain.PushSender
	fcmClient, err := fcm.NewClient(ctx, logger, cfg.Firebase.CredentialsFile)
	if err != nil {
		logger.Warn("Failed to initialize Firebase client - push notifications will be disabled", zap.Error(err))
	} else {
		push = fcmClient
		logger.Info("Firebase client initialized")
	}

	// Initialize storage
	fileStorage, uploadDir, err := initStorage(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize file storage", zap.Error(err))
	}

	// Initialize services
	profiles := domain.NewProfileResolver(repo, cfg.Profiles.CacheTTL, logger)
	notificationService := domain.NewNotificationService(repo, push, publisher, logger)
	chatService := domain.NewChatService(repo, profiles, notificationService, publisher, logger)
	documentService := domain.NewDocumentService(repo, repo, notificationService, fileStorage, cfg.Documents.MatchRadiusKm, logger)

	wsManager := api.NewWebSocketManager(hub, profiles, api.OriginChecker(cfg.Server.AllowedOrigins), logger)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.MessagesPerSecond, cfg.RateLimit.MessageBurst)

	// Initialize handlers
	router := api.NewRouter(
		api.NewChatHandler(chatService, wsManager, logger),
		api.NewNotificationHandler(notificationService, logger),
		api.NewProfileHandler(profiles, repo, logger),
		api.NewDocumentHandler(documentService, logger),
		api.NewHealthHandler(repo, version, logger),
		api.RouterConfig{
			Verifier:       verifier,
			Limiter:        limiter,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			UploadDir:      uploadDir,
		},
		logger,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.Setup(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	repo.StartCleanupWorker(ctx, time.Hour, cfg.Database.NotificationRetention, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wsManager.Run(gctx)
		return nil
	})
	g.Go(func() error {
		limiter.Run(gctx)
		return nil
	})
	if listener != nil {
		g.Go(func() error {
			return listener.Run(gctx)
		})
	}
	g.Go(func() error {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		return
	}
	logger.Info("Server stopped")
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	zapCfg := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zapCfg = zap.NewProductionConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}

func initDatabase(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Connection pool settings. One connection stays parked in LISTEN.
	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// initStorage returns the configured image store and, for local storage, the
// directory to serve under /uploads.
func initStorage(ctx context.Context, cfg *config.Config) (storage.FileStorage, string, error) {
	if cfg.UsesObjectStorage() {
		s3, err := storage.NewS3Storage(ctx, storage.S3Config{
			Bucket:          cfg.Storage.Bucket,
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			PublicURL:       cfg.Storage.PublicURL,
			UsePathStyle:    cfg.Storage.UsePathStyle,
		})
		if err != nil {
			return nil, "", err
		}
		return s3, "", nil
	}

	local, err := storage.NewLocalFileStorage(cfg.Storage.UploadDir, cfg.Storage.BaseURL)
	if err != nil {
		return nil, "", err
	}
	return local, cfg.Storage.UploadDir, nil
}
