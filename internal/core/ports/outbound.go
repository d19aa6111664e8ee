package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/idverify/internal/core/domain"
)

// DocumentRepository persists and reads verification records.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	ListByStatus(ctx context.Context, status domain.VerificationStatus, limit int) ([]domain.Document, error)
	SaveVerificationResult(ctx context.Context, id string, result domain.VerificationResult) error
	MarkProcessingFailed(ctx context.Context, id string, reason string, failedAt time.Time) error
	SaveEscalation(ctx context.Context, id string, ticketID string, status domain.VerificationStatus) error
	ApplyReviewDecision(ctx context.Context, id string, status domain.VerificationStatus, notes string) error
	RecordAttempt(ctx context.Context, attempt domain.ProcessingAttempt) error
	Ping(ctx context.Context) error
}

// ObjectStorage stores uploaded document images.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// JobQueue is the durable work queue between upload and the worker.
type JobQueue interface {
	Enqueue(ctx context.Context, documentID string) error
	Dequeue(ctx context.Context) (string, bool, error)
	Requeue(ctx context.Context, documentID string, delay time.Duration) error
	MarkComplete(ctx context.Context, documentID string) error
	MarkFailed(ctx context.Context, documentID string) error
	Attempts(ctx context.Context, documentID string) (int, error)
	IncrementAttempts(ctx context.Context, documentID string) (int, error)
	PromoteDelayed(ctx context.Context, now time.Time) (int, error)
	RecoverStuck(ctx context.Context) (int, error)
	Stats(ctx context.Context) (domain.QueueStats, error)
	Ping(ctx context.Context) error
}

// OCRService turns a stored document into raw text and structured fields.
type OCRService interface {
	Recognize(ctx context.Context, doc *domain.Document, content io.Reader) (domain.OCRResult, error)
}

// EscalationClient talks to the external manual review system.
type EscalationClient interface {
	Submit(ctx context.Context, req domain.EscalationRequest) (domain.EscalationTicket, error)
	GetStatus(ctx context.Context, ticketID string) (domain.TicketStatus, error)
	Cancel(ctx context.Context, ticketID, reason string) error
}

// EventPublisher broadcasts settled document states.
type EventPublisher interface {
	PublishStatus(ctx context.Context, event domain.StatusEvent) error
}
