package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"cycleport/internal/config"
	"cycleport/internal/database"
	"cycleport/internal/logger"
	"cycleport/internal/payment"
	"cycleport/internal/server"
	"cycleport/internal/storage"
	"cycleport/internal/worker"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func newImageStore(cfg config.UploadConfig, log *zap.Logger) (storage.ImageStore, error) {
	if cfg.CloudinaryURL != "" {
		log.Info("Storing uploads on Cloudinary", zap.String("folder", cfg.CloudinaryFolder))
		return storage.NewCloudinaryImageStore(cfg.CloudinaryURL, cfg.CloudinaryFolder)
	}
	log.Info("Storing uploads on disk", zap.String("dir", cfg.Dir))
	return storage.NewLocalImageStore(cfg.Dir, cfg.PublicPath)
}

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.Server.Env)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("Starting CyclePort API",
		zap.String("env", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
	)

	if cfg.JWT.Secret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	// Initialize database
	dbService, err := database.New(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database health check", zap.Any("health", dbService.Health()))

	// Run migrations
	if err := database.RunMigrations(dbService.DB(), "migrations", log); err != nil {
		log.Fatal("Failed to run migrations", zap.Error(err))
	}
	log.Info("Database migrations completed successfully")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     net.JoinHostPort(cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		// Rate limiting and caching degrade to pass-through without Redis
		log.Warn("Redis unavailable", zap.Error(err))
	}
	cancelPing()

	images, err := newImageStore(cfg.Upload, log)
	if err != nil {
		log.Fatal("Failed to initialize image store", zap.Error(err))
	}

	srv := server.NewServer(cfg, log, server.Dependencies{
		DB:      dbService,
		Redis:   redisClient,
		Gateway: payment.NewStripeGateway(cfg.Payment.StripeSecretKey, cfg.Payment.WebhookSecret, cfg.Payment.DefaultCountry, log),
		Images:  images,
	})

	sweeper := worker.NewSweeper(srv.Reservations(), worker.SweeperConfig{
		Interval: cfg.Payment.SweepInterval,
	}, log)
	if err := sweeper.Start(context.Background()); err != nil {
		log.Fatal("Failed to start reservation sweeper", zap.Error(err))
	}

	go func() {
		log.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// Stop accepting requests first, then the sweeper, then the stores both depend on
	wait := gfshutdown.GracefulShutdown(context.Background(), shutdownTimeout, map[string]gfshutdown.Operation{
		"api": func(ctx context.Context) error {
			log.Info("Shutting down gracefully")
			if err := srv.Shutdown(ctx); err != nil {
				log.Error("Server forced to shutdown", zap.Error(err))
			}
			if err := sweeper.Stop(ctx); err != nil {
				log.Error("Reservation sweeper did not stop in time", zap.Error(err))
			}
			return srv.Close()
		},
	})

	exitCode := <-wait
	log.Info("Graceful shutdown complete", zap.Int("exit_code", exitCode))
	log.Sync()
	os.Exit(exitCode)
}
