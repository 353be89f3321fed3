package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/your-org/vigil/internal/config"
	"github.com/your-org/vigil/internal/ingest"
	"github.com/your-org/vigil/internal/observability"
	"github.com/your-org/vigil/internal/queue"
	"github.com/your-org/vigil/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting Vigil gateway", "port", cfg.Server.Port)

	// Connect to Postgres (camera inventory for retention sweeps)
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Media retention sweep
	if cfg.Storage.FrameRetention > 0 {
		slog.Info("media retention enabled", "keep_per_camera", cfg.Storage.FrameRetention)
		go func() {
			ticker := time.NewTicker(10 * time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					sweepRetention(ctx, db, minioStore, cfg.Storage.FrameRetention)
				}
			}
		}()
	}

	intake := ingest.NewIntake(minioStore, producer)
	router := ingest.NewRouter(cfg.Server.APIKey, intake)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("gateway listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down gateway...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("gateway stopped")
}

func sweepRetention(ctx context.Context, db *storage.PostgresStore, minio *storage.MinIOStore, keep int) {
	cameras, err := db.ListCameraIDs(ctx)
	if err != nil {
		slog.Warn("retention: list cameras", "error", err)
		return
	}
	for _, cameraID := range cameras {
		deleted, err := minio.EnforceRetention(ctx, cameraID, keep)
		if err != nil {
			slog.Warn("retention: sweep camera", "camera_id", cameraID, "error", err)
			continue
		}
		if deleted > 0 {
			slog.Info("retention: deleted old media", "camera_id", cameraID, "deleted", deleted, "kept", keep)
		}
	}
}
