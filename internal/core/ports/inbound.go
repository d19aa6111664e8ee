package ports

import (
	"context"
	"io"

	"github.com/kirillkom/idverify/internal/core/domain"
)

// UploadRequest carries one multipart identity document upload.
type UploadRequest struct {
	UserID       string
	DocumentType string
	Filename     string
	MimeType     string
	Size         int64
	Body         io.Reader
}

// DocumentIngestor is the inbound contract for document upload orchestration.
type DocumentIngestor interface {
	Upload(ctx context.Context, req UploadRequest) (*domain.Document, error)
}

// DocumentReader is the inbound read model for document metadata/state.
type DocumentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
}

// DocumentProcessor runs OCR, scoring and the decision for one document.
type DocumentProcessor interface {
	ProcessByID(ctx context.Context, documentID string) (domain.ProcessingResult, error)
}

// DocumentEscalator hands a document over to manual review.
type DocumentEscalator interface {
	Escalate(ctx context.Context, documentID string, reason domain.EscalationReason) (domain.EscalationTicket, error)
}

// ReviewService covers the manual review lifecycle after escalation.
type ReviewService interface {
	ApplyDecision(ctx context.Context, decision domain.ReviewDecision) (*domain.Document, error)
	TicketStatus(ctx context.Context, documentID string) (domain.TicketStatus, error)
	CancelTicket(ctx context.Context, documentID, reason string) error
}

// QueueInspector exposes read-only queue state.
type QueueInspector interface {
	Stats(ctx context.Context) (domain.QueueStats, error)
}
