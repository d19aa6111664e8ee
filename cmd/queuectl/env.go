package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kirillkom/idverify/internal/config"
	"github.com/kirillkom/idverify/internal/core/domain"
	natsevents "github.com/kirillkom/idverify/internal/infrastructure/events/nats"
	redisqueue "github.com/kirillkom/idverify/internal/infrastructure/queue/redis"
	"github.com/kirillkom/idverify/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/idverify/internal/observability/logging"
)

// queueAdmin is the slice of the Redis queue the operator commands touch.
type queueAdmin interface {
	Stats(ctx context.Context) (domain.QueueStats, error)
	ProcessingMembers(ctx context.Context) ([]string, error)
	DelayedEntries(ctx context.Context) ([]domain.DelayedEntry, error)
	Attempts(ctx context.Context, documentID string) (int, error)
	ResetAttempts(ctx context.Context, documentID string) error
	PromoteDelayed(ctx context.Context, now time.Time) (int, error)
	RecoverStuck(ctx context.Context) (int, error)
	RequeueStuck(ctx context.Context) (int, error)
}

type documentLister interface {
	ListByStatus(ctx context.Context, status domain.VerificationStatus, limit int) ([]domain.Document, error)
	ListAttempts(ctx context.Context, documentID string) ([]domain.ProcessingAttempt, error)
}

type eventSubscriber interface {
	Subscribe(ctx context.Context, handler func(domain.StatusEvent)) error
}

// cliEnv holds the collaborators each command opens on demand, so a
// command only dials the backends it needs.
type cliEnv struct {
	openQueue     func() (queueAdmin, func(), error)
	openDocuments func() (documentLister, func(), error)
	openEvents    func() (eventSubscriber, func(), error)
	now           func() time.Time
	logger        *slog.Logger
}

func defaultEnv() *cliEnv {
	env := &cliEnv{
		now:    func() time.Time { return time.Now().UTC() },
		logger: logging.New(os.Stderr, "idverify-queuectl", "warn"),
	}

	env.openQueue = func() (queueAdmin, func(), error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		queue := redisqueue.New(redisqueue.Options{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.QueueKeyPrefix,
		})
		return queue, func() { _ = queue.Close() }, nil
	}

	env.openDocuments = func() (documentLister, func(), error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return postgres.NewDocumentRepository(db), func() { _ = db.Close() }, nil
	}

	env.openEvents = func() (eventSubscriber, func(), error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		if cfg.NATSURL == "" {
			return nil, nil, fmt.Errorf("NATS_URL is not set")
		}
		publisher, err := natsevents.New(cfg.NATSURL, cfg.NATSSubject, natsevents.Options{Logger: env.logger})
		if err != nil {
			return nil, nil, err
		}
		return publisher, publisher.Close, nil
	}

	return env
}
