package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/idverify/internal/core/domain"
	"github.com/kirillkom/idverify/internal/core/ports"
)

type EscalateDocumentUseCase struct {
	repo        ports.DocumentRepository
	client      ports.EscalationClient
	events      ports.EventPublisher
	callbackURL string
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
}

func NewEscalateDocumentUseCase(
	repo ports.DocumentRepository,
	client ports.EscalationClient,
	events ports.EventPublisher,
	callbackURL string,
	logger *slog.Logger,
) *EscalateDocumentUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &EscalateDocumentUseCase{
		repo:        repo,
		client:      client,
		events:      events,
		callbackURL: callbackURL,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// Escalate submits the document to manual review and stores the returned
// ticket. Client errors are returned unchanged so callers can inspect the
// escalation error kind.
func (uc *EscalateDocumentUseCase) Escalate(ctx context.Context, documentID string, reason domain.EscalationReason) (domain.EscalationTicket, error) {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return domain.EscalationTicket{}, fmt.Errorf("load document for escalation: %w", err)
	}

	req := uc.buildRequest(doc, reason)
	ticket, err := uc.client.Submit(ctx, req)
	if err != nil {
		return domain.EscalationTicket{}, err
	}

	if err := uc.repo.SaveEscalation(ctx, doc.ID, ticket.TicketID, domain.StatusPendingManualReview); err != nil {
		return ticket, fmt.Errorf("save escalation ticket: %w", err)
	}

	uc.logger.Info("escalation_submitted",
		"document_id", doc.ID,
		"ticket_id", ticket.TicketID,
		"ticket_status", ticket.Status,
		"reason", reason,
		"correlation_id", req.CorrelationID,
	)

	publishStatus(ctx, uc.events, uc.logger, domain.StatusEvent{
		DocumentID: doc.ID,
		UserID:     doc.UserID,
		Type:       doc.Type,
		Status:     domain.StatusPendingManualReview,
		Score:      doc.AIScore,
		TicketID:   ticket.TicketID,
		Failed:     reason == domain.EscalationPermanentFailure,
		OccurredAt: uc.now(),
	})
	return ticket, nil
}

func (uc *EscalateDocumentUseCase) buildRequest(doc *domain.Document, reason domain.EscalationReason) domain.EscalationRequest {
	parsed := doc.ParsedFields
	if parsed == nil {
		parsed = domain.ParsedFields{}
	}
	score := 0
	if doc.AIScore != nil {
		score = *doc.AIScore
	}
	ocrText := ""
	if doc.OCRText != nil {
		ocrText = *doc.OCRText
	}
	return domain.EscalationRequest{
		DocumentID:    doc.ID,
		UserID:        doc.UserID,
		DocumentType:  doc.Type,
		ParsedData:    parsed,
		AIScore:       score,
		OCRText:       ocrText,
		CorrelationID: uc.newID(),
		CallbackURL:   uc.callbackURL,
		Metadata: domain.EscalationMetadata{
			OriginalFilename: doc.OriginalFilename,
			R2Key:            doc.StorageKey,
			SubmittedAt:      uc.now(),
			Reason:           string(reason),
		},
	}
}
