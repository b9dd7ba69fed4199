package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/latchflow/latchflow/internal/authz"
	"github.com/latchflow/latchflow/internal/bundle"
	"github.com/latchflow/latchflow/internal/config"
	"github.com/latchflow/latchflow/internal/history"
	"github.com/latchflow/latchflow/internal/httpapi"
	"github.com/latchflow/latchflow/internal/logging"
	"github.com/latchflow/latchflow/internal/mail"
	"github.com/latchflow/latchflow/internal/metrics"
	"github.com/latchflow/latchflow/internal/pipeline"
	"github.com/latchflow/latchflow/internal/plugins"
	"github.com/latchflow/latchflow/internal/queue"
	"github.com/latchflow/latchflow/internal/server"
	"github.com/latchflow/latchflow/internal/storage"
	"github.com/latchflow/latchflow/internal/store"
)

func main() {
	configFile := flag.String("config", "", "path to configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var files []string
	if *configFile != "" {
		files = append(files, *configFile)
	}
	cfg, err := config.NewLoader(files...).Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	promRegistry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(promRegistry)

	// The in-memory store is the reference driver; databaseUrl selects
	// the SQL collaborator once one ships.
	st := store.NewMemory()
	logger.Info("store ready", slog.String("driver", "memory"))

	storageDriver, err := buildStorageDriver(ctx, cfg)
	if err != nil {
		logger.Error("storage setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	signer := storage.NewLinkSigner([]byte(cfg.Storage.LinkSecret), cfg.PublicBaseURL)
	storageSvc := storage.NewService(storageDriver, signer, logger)
	masterKey, err := cfg.Encryption.MasterKey()
	if err != nil {
		logger.Error("encryption setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := storageSvc.EnableEncryption(storage.EncryptionMode(cfg.Encryption.Mode), masterKey); err != nil {
		logger.Error("encryption setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	actionQueue, err := buildQueue(cfg, recorder, logger)
	if err != nil {
		logger.Error("queue setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := actionQueue.Stop(stopCtx); err != nil {
			logger.Error("queue shutdown failed", slog.Any("error", err))
		}
	}()

	registry := plugins.NewRegistry(logger)
	loader := plugins.NewLoader(registry, plugins.NewExecutors(logger), logger)
	if err := loader.LoadDirectory(cfg.Plugins.Path); err != nil {
		logger.Warn("plugin load failed", slog.String("path", cfg.Plugins.Path), slog.Any("error", err))
	}
	if watcher, err := loader.Watch(ctx, cfg.Plugins.Path, time.Duration(cfg.Plugins.DebounceMs)*time.Millisecond); err != nil {
		logger.Warn("plugin watcher setup failed", slog.Any("error", err))
	} else {
		defer watcher.Stop()
	}

	runner, err := pipeline.NewRunner(st, actionQueue, registry, logger)
	if err != nil {
		logger.Error("pipeline setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	consumer := pipeline.NewConsumer(st, actionQueue, registry, recorder, logger)
	if err := consumer.Start(); err != nil {
		logger.Error("action consumer setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := runner.StartTriggers(ctx); err != nil {
		logger.Warn("trigger startup incomplete", slog.Any("error", err))
	}
	defer runner.StopTriggers(ctx)

	builder := bundle.NewBuilder(st, storageSvc, recorder, logger)
	scheduler := bundle.NewScheduler(builder, st, logger, 2*time.Second)
	defer scheduler.Stop()

	hist := history.NewLog(st, history.StoreSerializer(st), logger, history.Options{
		SnapshotInterval: cfg.History.SnapshotInterval,
		MaxChainDepth:    cfg.History.MaxChainDepth,
	})

	limiter := authz.NewRateLimiter()
	cache := authz.NewCache(logger, recorder)
	authorizer := authz.NewAuthorizer(cache, limiter, logger, recorder, authz.Options{
		Mode:            cfg.Authz.Mode(),
		SystemUserID:    cfg.History.SystemUserID,
		RequireAdmin2FA: cfg.Authz.RequireAdmin2FA,
		ReauthWindow:    cfg.ReauthWindow(),
	})

	templates, err := mail.NewTemplates()
	if err != nil {
		logger.Error("mail template setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	api := httpapi.New(httpapi.Deps{
		Config:     cfg,
		Store:      st,
		Logger:     logger,
		Recorder:   recorder,
		Authorizer: authorizer,
		Storage:    storageSvc,
		Builder:    builder,
		Scheduler:  scheduler,
		Runner:     runner,
		Registry:   registry,
		History:    hist,
		Mailer:     mail.NewLogMailer(logger),
		Templates:  templates,
		QueueName:  cfg.Queue.Driver,
	})

	srv, err := server.New(cfg, logger, api.Router())
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("server shutdown complete")
}

func buildStorageDriver(ctx context.Context, cfg config.Config) (storage.Driver, error) {
	switch cfg.Storage.Driver {
	case "s3":
		return storage.NewS3Driver(ctx, storage.S3Options{
			Bucket:   cfg.Storage.S3.Bucket,
			Prefix:   cfg.Storage.S3.Prefix,
			Region:   cfg.Storage.S3.Region,
			Endpoint: cfg.Storage.S3.Endpoint,
		})
	default:
		return storage.NewFSDriver(cfg.Storage.BasePath)
	}
}

func buildQueue(cfg config.Config, recorder *metrics.Recorder, logger *slog.Logger) (queue.Queue, error) {
	switch cfg.Queue.Driver {
	case "valkey":
		return queue.NewValkey(queue.ValkeyConfig{
			Address:  cfg.Queue.Valkey.Address,
			Username: cfg.Queue.Valkey.Username,
			Password: cfg.Queue.Valkey.Password,
			DB:       cfg.Queue.Valkey.DB,
			ListKey:  cfg.Queue.Valkey.ListKey,
		}, recorder, logger)
	default:
		return queue.NewMemory(recorder), nil
	}
}
