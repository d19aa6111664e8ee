package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/idverify/internal/core/domain"
	"github.com/kirillkom/idverify/internal/core/ports"
)

var allowedMimeTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"application/pdf": true,
	"text/plain":      true,
}

type IngestDocumentUseCase struct {
	repo    ports.DocumentRepository
	storage ports.ObjectStorage
	queue   ports.JobQueue
	logger  *slog.Logger
	now     func() time.Time
}

func NewIngestDocumentUseCase(
	repo ports.DocumentRepository,
	storage ports.ObjectStorage,
	queue ports.JobQueue,
	logger *slog.Logger,
) *IngestDocumentUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestDocumentUseCase{
		repo:    repo,
		storage: storage,
		queue:   queue,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Upload stores the file, creates a pending record and enqueues it for the
// worker. The record exists before the id reaches the queue.
func (uc *IngestDocumentUseCase) Upload(ctx context.Context, req ports.UploadRequest) (*domain.Document, error) {
	docType, ok := domain.ParseDocumentType(req.DocumentType)
	if !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload", fmt.Errorf("unsupported document type %q", req.DocumentType))
	}
	if req.Body == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload", errors.New("file is required"))
	}
	mimeType := normalizeMimeType(req.MimeType)
	if !allowedMimeTypes[mimeType] {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload", fmt.Errorf("unsupported content type %q", req.MimeType))
	}

	id := uuid.NewString()
	storageKey := fmt.Sprintf("documents/%s/%s_%s", strings.ToLower(string(docType)), id, sanitizeFilename(req.Filename))
	now := uc.now()

	if err := uc.storage.Save(ctx, storageKey, req.Body, req.Size, mimeType); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	doc := &domain.Document{
		ID:               id,
		UserID:           strings.TrimSpace(req.UserID),
		Type:             docType,
		OriginalFilename: req.Filename,
		MimeType:         mimeType,
		StorageKey:       storageKey,
		Status:           domain.StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := uc.repo.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document record: %w", err)
	}

	if err := uc.queue.Enqueue(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("enqueue document: %w", err)
	}

	uc.logger.Info("document_enqueued",
		"document_id", doc.ID,
		"document_type", doc.Type,
		"user_id", doc.UserID,
	)
	return doc, nil
}

func normalizeMimeType(raw string) string {
	mt := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if mt == "image/jpg" {
		return "image/jpeg"
	}
	return mt
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == "/" {
		return "document.bin"
	}
	return base
}
