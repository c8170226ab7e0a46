package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/fileregistry/backend/internal/api"
	"github.com/fileregistry/backend/internal/auth"
	"github.com/fileregistry/backend/internal/blob"
	"github.com/fileregistry/backend/internal/cache"
	"github.com/fileregistry/backend/internal/config"
	"github.com/fileregistry/backend/internal/db"
	"github.com/fileregistry/backend/internal/events"
	"github.com/fileregistry/backend/internal/health"
	"github.com/fileregistry/backend/internal/logger"
	"github.com/fileregistry/backend/internal/metrics"
	"github.com/fileregistry/backend/internal/middleware"
	"github.com/fileregistry/backend/internal/registry"
)

func main() {
	cfg := config.Load()

	logger.SetDefault(logger.New(os.Stdout, logger.LevelInfo, "server"))

	database, err := db.New(cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	blobStore, err := newBlobStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize blob store: %v", err)
	}

	var recordCache *cache.Cache
	if cfg.RedisAddr != "" {
		recordCache, err = cache.New(cfg.RedisAddr, cfg.CacheTTL)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer recordCache.Close()
	}

	userRepo := db.NewUserRepository(database)
	tokenRepo := db.NewTokenRepository(database)
	fileRepo := db.NewFileRepository(database)

	// Sweep revoked and expired refresh tokens so the table doesn't grow
	// without bound.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if err := tokenRepo.DeleteExpired(context.Background()); err != nil {
				logger.Warn(context.Background(), "refresh token sweep failed",
					map[string]interface{}{"error": err.Error()})
			}
		}
	}()

	authService := auth.NewService(userRepo, tokenRepo, cfg.JWTSecret)
	authHandlers := auth.NewHandlers(authService)

	hub := events.NewHub()
	go hub.Run()

	registryService := registry.NewService(fileRepo, blobStore, recordCache, hub)
	fileHandlers := api.NewFileHandlers(registryService)
	eventsHandler := events.NewHandler(hub, authService)

	healthChecker := health.NewChecker(health.CheckerConfig{
		DB:        database.DB,
		Redis:     recordCache.Client(),
		BlobCheck: blobStore.Ping,
	})

	router := api.NewRouter(authHandlers, authService, fileHandlers, eventsHandler, healthChecker)

	handler := middleware.Chain(router,
		middleware.RequestID,
		middleware.Logging(logger.Default()),
		metrics.Instrument,
		middleware.CORS(cfg.CORSOrigins),
		middleware.Gzip,
		middleware.Recoverer(logger.Default()),
	)

	log.Printf("Starting server on %s", cfg.ServerAddr)
	if err := http.ListenAndServe(cfg.ServerAddr, handler); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}

func newBlobStore(cfg *config.Config) (blob.Store, error) {
	if cfg.BlobBackend == "s3" {
		store, err := blob.NewS3Store(&blob.S3Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(context.Background()); err != nil {
			return nil, err
		}
		return store, nil
	}

	return blob.NewFSStore(cfg.UploadDir)
}
