package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/vigil/internal/baseline"
	"github.com/your-org/vigil/internal/config"
	"github.com/your-org/vigil/internal/inference"
	"github.com/your-org/vigil/internal/models"
	"github.com/your-org/vigil/internal/notify"
	"github.com/your-org/vigil/internal/observability"
	"github.com/your-org/vigil/internal/pipeline"
	"github.com/your-org/vigil/internal/queue"
	"github.com/your-org/vigil/internal/resolver"
	"github.com/your-org/vigil/internal/rules"
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

	slog.Info("starting Vigil worker",
		"workers", cfg.Alerts.WorkerCount,
		"providers", len(cfg.Inference.Chain),
		"cpu_cores", runtime.NumCPU(),
	)

	// Initialize ONNX Runtime for embedding extraction
	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	// Connect to Postgres
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

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	// Inference chain and spend ledger
	chain, err := inference.NewChain(cfg.Inference.Chain)
	if err != nil {
		slog.Error("build inference chain", "error", err)
		os.Exit(1)
	}
	ledger := inference.NewSpendLedger()
	seedLedger(db, ledger)
	orchestrator := inference.NewOrchestrator(chain, cfg.Inference, ledger)

	// Entity resolver
	embedder, err := resolver.NewONNXEmbedder(filepath.Join(cfg.Resolver.ModelsDir, "embedder.onnx"))
	if err != nil {
		slog.Error("load embedder model", "error", err)
		os.Exit(1)
	}
	defer embedder.Close()
	res := resolver.New(embedder, db, cfg.Resolver)

	// Baseline manager and rule engine
	bl := baseline.NewManager(db, cfg.Baseline)
	engine := rules.NewEngine(db)

	// Alert sinks
	sinks := []notify.Sink{notify.NewNATSSink(producer)}
	if cfg.Alerts.MQTT.Broker != "" {
		mqttSink, err := notify.NewMQTTSink(cfg.Alerts.MQTT)
		if err != nil {
			slog.Warn("mqtt sink unavailable", "broker", cfg.Alerts.MQTT.Broker, "error", err)
		} else {
			defer mqttSink.Close()
			sinks = append(sinks, mqttSink)
		}
	}
	fanout := notify.NewFanout(sinks...)

	pipe := pipeline.New(minioStore, db, orchestrator, res, bl, engine, fanout)

	// Create NATS consumer
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start consuming trigger tasks
	err = consumer.ConsumeTriggers(ctx, "vigil-workers", func(ctx context.Context, msg jetstream.Msg) error {
		var task models.TriggerTask
		if err := json.Unmarshal(msg.Data(), &task); err != nil {
			slog.Error("unmarshal trigger task", "error", err)
			return nil // Don't retry on unmarshal errors
		}

		if err := pipe.Process(ctx, task); err != nil {
			return fmt.Errorf("process trigger %s: %w", task.TriggerID, err)
		}

		return nil
	}, cfg.Alerts.WorkerCount)
	if err != nil {
		slog.Error("start trigger consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", ":8082")
		if err := http.ListenAndServe(":8082", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}

// seedLedger primes the in-process spend ledger from the persisted attempt
// records so a restart keeps honoring partially consumed budget ceilings.
func seedLedger(db *storage.PostgresStore, ledger *inference.SpendLedger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	day, err := db.SumAttemptCosts(ctx, dayStart)
	if err != nil {
		slog.Warn("seed spend ledger", "error", err)
		return
	}
	month, err := db.SumAttemptCosts(ctx, monthStart)
	if err != nil {
		slog.Warn("seed spend ledger", "error", err)
		return
	}
	ledger.Seed(day, month, now)
	slog.Info("spend ledger seeded", "day_usd", day, "month_usd", month)
}

// getONNXLibPath returns the ONNX Runtime shared library path
// based on the operating system.
func getONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
