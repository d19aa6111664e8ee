package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/idverify/internal/core/domain"
	"github.com/kirillkom/idverify/internal/core/ports"
)

type ReviewUseCase struct {
	repo   ports.DocumentRepository
	client ports.EscalationClient
	events ports.EventPublisher
	logger *slog.Logger
	now    func() time.Time
}

func NewReviewUseCase(
	repo ports.DocumentRepository,
	client ports.EscalationClient,
	events ports.EventPublisher,
	logger *slog.Logger,
) *ReviewUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReviewUseCase{
		repo:   repo,
		client: client,
		events: events,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ApplyDecision records the reviewer's verdict. Repeating the same verdict
// is a no-op; a different verdict for an already settled document is
// rejected.
func (uc *ReviewUseCase) ApplyDecision(ctx context.Context, decision domain.ReviewDecision) (*domain.Document, error) {
	status, err := reviewStatus(decision.Decision)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(decision.DocumentID) == "" || strings.TrimSpace(decision.TicketID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "apply review decision", errors.New("documentId and ticketId are required"))
	}

	doc, err := uc.repo.GetByID(ctx, decision.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.TicketID == nil || *doc.TicketID != decision.TicketID {
		return nil, domain.WrapError(domain.ErrTicketNotFound, "apply review decision",
			fmt.Errorf("ticket %s does not belong to document %s", decision.TicketID, decision.DocumentID))
	}

	switch doc.Status {
	case status:
		return doc, nil
	case domain.StatusManuallyApproved, domain.StatusManuallyRejected:
		return nil, domain.WrapError(domain.ErrInvalidInput, "apply review decision",
			fmt.Errorf("document already %s", doc.Status))
	}

	if err := uc.repo.ApplyReviewDecision(ctx, doc.ID, status, decision.Notes); err != nil {
		return nil, fmt.Errorf("apply review decision: %w", err)
	}
	doc.Status = status
	if decision.Notes != "" {
		notes := decision.Notes
		doc.ReviewNotes = &notes
	}

	uc.logger.Info("review_decision_applied",
		"document_id", doc.ID,
		"ticket_id", decision.TicketID,
		"status", status,
	)
	publishStatus(ctx, uc.events, uc.logger, domain.StatusEvent{
		DocumentID: doc.ID,
		UserID:     doc.UserID,
		Type:       doc.Type,
		Status:     status,
		Score:      doc.AIScore,
		TicketID:   decision.TicketID,
		OccurredAt: uc.now(),
	})
	return doc, nil
}

func (uc *ReviewUseCase) TicketStatus(ctx context.Context, documentID string) (domain.TicketStatus, error) {
	ticketID, err := uc.ticketFor(ctx, documentID)
	if err != nil {
		return domain.TicketStatus{}, err
	}
	return uc.client.GetStatus(ctx, ticketID)
}

func (uc *ReviewUseCase) CancelTicket(ctx context.Context, documentID, reason string) error {
	ticketID, err := uc.ticketFor(ctx, documentID)
	if err != nil {
		return err
	}
	if err := uc.client.Cancel(ctx, ticketID, reason); err != nil {
		return err
	}
	uc.logger.Info("review_ticket_cancelled", "document_id", documentID, "ticket_id", ticketID)
	return nil
}

func (uc *ReviewUseCase) ticketFor(ctx context.Context, documentID string) (string, error) {
	doc, err := uc.repo.GetByID(ctx, documentID)
	if err != nil {
		return "", err
	}
	if doc.TicketID == nil || *doc.TicketID == "" {
		return "", domain.WrapError(domain.ErrTicketNotFound, "lookup review ticket", fmt.Errorf("document %s has no ticket", documentID))
	}
	return *doc.TicketID, nil
}

func reviewStatus(verdict domain.ReviewVerdict) (domain.VerificationStatus, error) {
	switch domain.ReviewVerdict(strings.ToLower(string(verdict))) {
	case domain.ReviewApproved:
		return domain.StatusManuallyApproved, nil
	case domain.ReviewRejected:
		return domain.StatusManuallyRejected, nil
	default:
		return "", domain.WrapError(domain.ErrInvalidInput, "apply review decision", fmt.Errorf("unknown decision %q", verdict))
	}
}
