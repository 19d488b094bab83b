// Package main wires together the conversion service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/markvault/markvault/internal/api"
	"github.com/markvault/markvault/internal/batch"
	"github.com/markvault/markvault/internal/clock/system"
	"github.com/markvault/markvault/internal/collate"
	"github.com/markvault/markvault/internal/config"
	"github.com/markvault/markvault/internal/fetch"
	collyfetcher "github.com/markvault/markvault/internal/fetch/colly"
	headlessfetcher "github.com/markvault/markvault/internal/fetch/headless"
	"github.com/markvault/markvault/internal/hash/sha256"
	"github.com/markvault/markvault/internal/id/uuid"
	"github.com/markvault/markvault/internal/keys"
	"github.com/markvault/markvault/internal/logging"
	"github.com/markvault/markvault/internal/metrics"
	"github.com/markvault/markvault/internal/processor"
	memorypublisher "github.com/markvault/markvault/internal/publisher/memory"
	pubsubpublisher "github.com/markvault/markvault/internal/publisher/pubsub"
	"github.com/markvault/markvault/internal/registry"
	registrypostgres "github.com/markvault/markvault/internal/registry/postgres"
	"github.com/markvault/markvault/internal/scheduler"
	gcsstorage "github.com/markvault/markvault/internal/storage/gcs"
	localstorage "github.com/markvault/markvault/internal/storage/local"
	memorystorage "github.com/markvault/markvault/internal/storage/memory"
	"github.com/markvault/markvault/internal/webhook"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()
	hasher := sha256.New()

	blobStore, err := buildBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	reg := registry.New(registry.Config{Retention: cfg.Retention()}, clock, logger.Named("registry"))
	predictor := keys.New(keys.Config{
		Prefix:     cfg.Keys.Prefix,
		MaxSlugLen: cfg.Keys.MaxSlugLen,
	}, hasher, idGen, clock)

	staticFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
	})
	var headless fetch.PageFetcher
	if cfg.Headless.Enabled {
		hf, herr := headlessfetcher.New(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			ScreenshotQuality: cfg.Headless.ScreenshotQuality,
		})
		if herr != nil {
			logger.Warn("headless fetcher init failed", zap.Error(herr))
		} else {
			headless = hf
			defer hf.Close()
		}
	}
	pipeline := fetch.NewPipeline(staticFetcher, headless, logger.Named("fetch"))

	proc := processor.New(reg, blobStore, pipeline, clock, logger.Named("processor"))
	collator := collate.New(blobStore, logger.Named("collate"))
	notifier := webhook.New(webhook.Config{
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		BaseDelay:      time.Duration(cfg.Webhook.BaseDelayMs) * time.Millisecond,
		MaxDelay:       time.Duration(cfg.Webhook.MaxDelayMs) * time.Millisecond,
		RequestTimeout: time.Duration(cfg.Webhook.RequestTimeoutSec) * time.Second,
	}, nil, logger.Named("webhook"))

	publisher, pubCleanup, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	defer pubCleanup()

	var archiver batch.Archiver
	if cfg.Archive.Enabled {
		store, aerr := registrypostgres.NewArchiveStore(ctx, registrypostgres.ArchiveStoreConfig{
			DSN:      cfg.Archive.DSN,
			Table:    cfg.Archive.Table,
			MaxConns: cfg.Archive.MaxConns,
		})
		if aerr != nil {
			logger.Fatal("archive store init failed", zap.Error(aerr))
		}
		defer store.Close()
		archiver = store
	}

	sched := scheduler.New(scheduler.Config{
		MaxConcurrent:     cfg.Jobs.MaxConcurrent,
		ItemTimeout:       cfg.ItemTimeout(),
		JobTimeout:        cfg.JobTimeout(),
		CompletionTopic:   cfg.PubSub.TopicName,
		WritePlaceholders: cfg.Jobs.WritePlaceholders,
	}, reg, blobStore, proc, collator, predictor, notifier, publisher, archiver, logger.Named("scheduler"))

	apiServer := api.NewServer(reg, sched, predictor, idGen, clock, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go reapLoop(ctx, reg, logger)

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	sched.Wait()
	logger.Info("shutdown complete")
}

// reapLoop evicts terminal jobs past their retention window.
func reapLoop(ctx context.Context, reg *registry.Registry, logger *zap.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := reg.ReapExpired(ctx); n > 0 {
				logger.Info("reaped expired jobs", zap.Int("count", n))
			}
		}
	}
}

func buildBlobStore(ctx context.Context, cfg config.Config) (batch.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return memorystorage.NewBlobStore(), nil
	case "local":
		return localstorage.New(localstorage.Config{BaseDir: cfg.Storage.LocalDir})
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Storage.GCSBucket})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (batch.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		logger.Info("pubsub not configured, using memory publisher")
		return memorypublisher.New(), func() {}, nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	pub := pubsubpublisher.New(client)
	return pub, func() {
		if cerr := pub.Close(); cerr != nil {
			logger.Warn("pubsub close failed", zap.Error(cerr))
		}
	}, nil
}
