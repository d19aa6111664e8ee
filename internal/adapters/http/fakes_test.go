package httpadapter

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/kirillkom/idverify/internal/config"
	"github.com/kirillkom/idverify/internal/core/domain"
	"github.com/kirillkom/idverify/internal/core/ports"
	"github.com/kirillkom/idverify/internal/observability/logging"
)

type ingestFake struct {
	err  error
	got  ports.UploadRequest
	body string
}

func (f *ingestFake) Upload(_ context.Context, req ports.UploadRequest) (*domain.Document, error) {
	f.got = req
	raw, _ := io.ReadAll(req.Body)
	f.body = string(raw)
	if f.err != nil {
		return nil, f.err
	}
	docType, _ := domain.ParseDocumentType(req.DocumentType)
	return &domain.Document{
		ID:               "doc-1",
		UserID:           req.UserID,
		Type:             docType,
		OriginalFilename: req.Filename,
		MimeType:         req.MimeType,
		Status:           domain.StatusPending,
	}, nil
}

type docsFake struct {
	err error
}

func (f docsFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Document{ID: id, Type: domain.DocumentTypeKTP, Status: domain.StatusPending}, nil
}

type reviewsFake struct {
	err       error
	decisions []domain.ReviewDecision
	cancelled []string
	status    domain.TicketStatus
}

func (f *reviewsFake) ApplyDecision(_ context.Context, d domain.ReviewDecision) (*domain.Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.decisions = append(f.decisions, d)
	return &domain.Document{ID: d.DocumentID, Status: domain.StatusManuallyApproved}, nil
}

func (f *reviewsFake) TicketStatus(context.Context, string) (domain.TicketStatus, error) {
	if f.err != nil {
		return domain.TicketStatus{}, f.err
	}
	return f.status, nil
}

func (f *reviewsFake) CancelTicket(_ context.Context, documentID, reason string) error {
	if f.err != nil {
		return f.err
	}
	f.cancelled = append(f.cancelled, documentID+":"+reason)
	return nil
}

type queueStatsFake struct {
	stats domain.QueueStats
	err   error
}

func (f queueStatsFake) Stats(context.Context) (domain.QueueStats, error) {
	return f.stats, f.err
}

func testDeps() Dependencies {
	return Dependencies{
		Ingestor:  &ingestFake{},
		Documents: docsFake{},
		Reviews:   &reviewsFake{},
		Queue:     queueStatsFake{stats: domain.QueueStats{Queued: 2, Processing: 1, Delayed: 3}},
		Logger:    logging.Discard(),
	}
}

func newTestHandler(cfg config.Config) http.Handler {
	return NewRouter(cfg, testDeps()).Handler()
}

var errBoom = errors.New("boom")
