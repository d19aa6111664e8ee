package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/idverify/internal/config"
	"github.com/kirillkom/idverify/internal/core/ports"
	"github.com/kirillkom/idverify/internal/core/usecase"
	"github.com/kirillkom/idverify/internal/infrastructure/escalation"
	natsevents "github.com/kirillkom/idverify/internal/infrastructure/events/nats"
	"github.com/kirillkom/idverify/internal/infrastructure/extractor/textlayer"
	"github.com/kirillkom/idverify/internal/infrastructure/ocr/local"
	"github.com/kirillkom/idverify/internal/infrastructure/ocr/remote"
	redisqueue "github.com/kirillkom/idverify/internal/infrastructure/queue/redis"
	"github.com/kirillkom/idverify/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/idverify/internal/infrastructure/resilience"
	"github.com/kirillkom/idverify/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/idverify/internal/infrastructure/storage/r2"
)

type Options struct {
	Logger *slog.Logger
	// BreakerObserver is told about every circuit breaker transition.
	BreakerObserver resilience.StateObserver
}

type App struct {
	Config config.Config
	Logger *slog.Logger

	Repo       *postgres.DocumentRepository
	Queue      *redisqueue.Queue
	Storage    ports.ObjectStorage
	Escalation *escalation.Client
	// Events is nil when NATS_URL is empty.
	Events    ports.EventPublisher
	Publisher *natsevents.Publisher

	IngestUC   *usecase.IngestDocumentUseCase
	ProcessUC  *usecase.ProcessDocumentUseCase
	EscalateUC *usecase.EscalateDocumentUseCase
	ReviewUC   *usecase.ReviewUseCase

	closers []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	executorOpts := []resilience.Option{resilience.WithLogger(logger)}
	if opts.BreakerObserver != nil {
		executorOpts = append(executorOpts, resilience.WithStateObserver(opts.BreakerObserver))
	}
	newExecutor := func(policy resilience.Config) *resilience.Executor {
		return resilience.NewExecutor(policy, executorOpts...)
	}

	app := &App{Config: cfg, Logger: logger}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.closers = append(app.closers, func() { _ = db.Close() })

	repo := postgres.NewDocumentRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	app.Repo = repo

	storage, err := newObjectStorage(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}
	app.Storage = storage

	queue := redisqueue.New(redisqueue.Options{
		Addr:               cfg.RedisAddr,
		Password:           cfg.RedisPassword,
		DB:                 cfg.RedisDB,
		KeyPrefix:          cfg.QueueKeyPrefix,
		ResilienceExecutor: newExecutor(resilience.QueueStoreConfig()),
	})
	app.Queue = queue
	app.closers = append(app.closers, func() { _ = queue.Close() })

	if cfg.NATSURL != "" {
		publisher, err := natsevents.New(cfg.NATSURL, cfg.NATSSubject, natsevents.Options{
			ResilienceExecutor: newExecutor(resilience.EventsConfig()),
			Logger:             logger,
		})
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("init event publisher: %w", err)
		}
		app.Publisher = publisher
		app.Events = publisher
		app.closers = append(app.closers, publisher.Close)
	}

	app.Escalation = escalation.New(cfg.EscalationURL, cfg.EscalationToken, cfg.EscalationTimeout).
		WithResilience(newExecutor(resilience.EscalationConfig()))

	var ocr ports.OCRService
	switch cfg.OCRProvider {
	case "http":
		ocr = remote.New(cfg.OCRURL, cfg.WorkerProcessTimeout).
			WithResilience(newExecutor(resilience.OCRConfig()))
	default:
		ocr = local.NewProvider(textlayer.NewExtractor(cfg.MaxUploadBytes))
	}

	app.EscalateUC = usecase.NewEscalateDocumentUseCase(repo, app.Escalation, app.Events, cfg.EscalationCallbackURL, logger)
	app.IngestUC = usecase.NewIngestDocumentUseCase(repo, storage, queue, logger)
	app.ProcessUC = usecase.NewProcessDocumentUseCase(repo, storage, ocr, app.EscalateUC, app.Events, logger)
	app.ReviewUC = usecase.NewReviewUseCase(repo, app.Escalation, app.Events, logger)

	return app, nil
}

// NewWorker builds the queue worker from the app's collaborators.
func (a *App) NewWorker(observer usecase.WorkerObserver) *usecase.Worker {
	return usecase.NewWorker(usecase.WorkerConfig{
		PollInterval:        a.Config.WorkerPollInterval,
		DelayedInterval:     a.Config.WorkerDelayedInterval,
		BaseDelay:           a.Config.WorkerBaseDelay,
		MaxRetries:          a.Config.WorkerMaxRetries,
		ShutdownTimeout:     a.Config.WorkerShutdownTimeout,
		ProcessTimeout:      a.Config.WorkerProcessTimeout,
		SkipStartupRecovery: !a.Config.WorkerRecoverOnStartup,
	}, usecase.WorkerDeps{
		Queue:     a.Queue,
		Processor: a.ProcessUC,
		Ledger:    a.Repo,
		Escalator: a.EscalateUC,
		Events:    a.Events,
		Observer:  observer,
		Logger:    a.Logger,
	})
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newObjectStorage(ctx context.Context, cfg config.Config) (ports.ObjectStorage, error) {
	switch cfg.StorageBackend {
	case "r2":
		store, err := r2.New(r2.Config{
			Endpoint:  cfg.R2Endpoint,
			AccessKey: cfg.R2AccessKey,
			SecretKey: cfg.R2SecretKey,
			Bucket:    cfg.R2Bucket,
			UseSSL:    cfg.R2UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return localfs.New(cfg.StoragePath)
	}
}
