package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirillkom/idverify/internal/core/domain"
	"github.com/kirillkom/idverify/internal/core/ports"
)

// ProcessDocumentUseCase runs OCR, scoring and the decision for a single
// queued document and persists the outcome onto its record.
type ProcessDocumentUseCase struct {
	repo      ports.DocumentRepository
	storage   ports.ObjectStorage
	ocr       ports.OCRService
	escalator ports.DocumentEscalator
	events    ports.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewProcessDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	ocr ports.OCRService,
	escalator ports.DocumentEscalator,
	events ports.EventPublisher,
	logger *slog.Logger,
) *ProcessDocumentUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessDocumentUseCase{
		repo:      repo,
		storage:   storage,
		ocr:       ocr,
		escalator: escalator,
		events:    events,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (uc *ProcessDocumentUseCase) ProcessByID(ctx context.Context, documentID string) (domain.ProcessingResult, error) {
	doc, err := uc.loadDocument(ctx, documentID)
	if err != nil {
		return domain.ProcessingResult{}, err
	}

	// A recovered job may point at a record an earlier run already settled.
	if settled, ok := settledResult(doc); ok {
		uc.logger.Info("document_already_processed",
			"document_id", doc.ID,
			"status", doc.Status,
		)
		return settled, nil
	}

	ocr, err := uc.recognize(ctx, doc)
	if err != nil {
		return domain.ProcessingResult{}, err
	}

	score := domain.ComputeAIScore(doc.Type, ocr.Fields)
	decision := domain.Decide(score)
	result := domain.VerificationResult{
		Score:        score,
		Decision:     decision,
		ParsedFields: ocr.Fields,
		OCRText:      ocr.Text,
		ProcessedAt:  uc.now(),
	}
	if err := uc.repo.SaveVerificationResult(ctx, doc.ID, result); err != nil {
		return domain.ProcessingResult{}, domain.WrapError(domain.ErrPipelineFailure, "save verification result", err)
	}

	out := domain.ProcessingResult{
		DocumentID:   doc.ID,
		Score:        score,
		Outcome:      decision.Outcome,
		Decision:     decision.Decision,
		ParsedFields: ocr.Fields,
		OCRText:      ocr.Text,
	}
	uc.logger.Info("document_scored",
		"document_id", doc.ID,
		"document_type", doc.Type,
		"score", score,
		"decision", decision.Decision,
	)

	if decision.Decision == domain.DecisionNeedsReview {
		out.TicketID = uc.escalate(ctx, doc.ID)
		return out, nil
	}

	publishStatus(ctx, uc.events, uc.logger, domain.StatusEvent{
		DocumentID: doc.ID,
		UserID:     doc.UserID,
		Type:       doc.Type,
		Status:     decision.Outcome,
		Score:      &score,
		OccurredAt: result.ProcessedAt,
	})
	return out, nil
}

func (uc *ProcessDocumentUseCase) loadDocument(ctx context.Context, documentID string) (*domain.Document, error) {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		if domain.IsKind(err, domain.ErrDocumentNotFound) {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrPipelineFailure, "fetch document by id", err)
	}
	return doc, nil
}

func (uc *ProcessDocumentUseCase) recognize(ctx context.Context, doc *domain.Document) (domain.OCRResult, error) {
	content, err := uc.storage.Open(ctx, doc.StorageKey)
	if err != nil {
		return domain.OCRResult{}, domain.WrapError(domain.ErrPipelineFailure, "open stored document", err)
	}
	defer content.Close()

	result, err := uc.ocr.Recognize(ctx, doc, content)
	if err != nil {
		return domain.OCRResult{}, domain.WrapError(domain.ErrPipelineFailure, "recognize document", err)
	}
	if result.Fields == nil {
		result.Fields = domain.ParsedFields{}
	}
	return result, nil
}

// escalate hands a low score document to manual review. A failed submit
// leaves the record in pending_manual_review without a ticket; the scoring
// result is already persisted so the job itself is not retried.
func (uc *ProcessDocumentUseCase) escalate(ctx context.Context, documentID string) string {
	if uc.escalator == nil {
		return ""
	}
	ticket, err := uc.escalator.Escalate(ctx, documentID, domain.EscalationLowScore)
	if err != nil {
		uc.logger.Error("escalation_failed",
			"document_id", documentID,
			"reason", domain.EscalationLowScore,
			"error", err,
		)
		return ""
	}
	return ticket.TicketID
}

func settledResult(doc *domain.Document) (domain.ProcessingResult, bool) {
	if doc.AIScore == nil || doc.AIDecision == nil {
		return domain.ProcessingResult{}, false
	}
	switch {
	case doc.Status.IsFinal():
	case doc.Status == domain.StatusPendingManualReview && doc.TicketID != nil:
	default:
		return domain.ProcessingResult{}, false
	}
	out := domain.ProcessingResult{
		DocumentID:   doc.ID,
		Score:        *doc.AIScore,
		Outcome:      doc.Status,
		Decision:     *doc.AIDecision,
		ParsedFields: doc.ParsedFields,
	}
	if doc.OCRText != nil {
		out.OCRText = *doc.OCRText
	}
	if doc.TicketID != nil {
		out.TicketID = *doc.TicketID
	}
	return out, true
}

func publishStatus(ctx context.Context, events ports.EventPublisher, logger *slog.Logger, event domain.StatusEvent) {
	if events == nil {
		return
	}
	if err := events.PublishStatus(ctx, event); err != nil {
		logger.Warn("status_event_publish_failed",
			"document_id", event.DocumentID,
			"status", event.Status,
			"error", err,
		)
	}
}
