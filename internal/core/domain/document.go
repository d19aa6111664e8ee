package domain

import (
	"strings"
	"time"
)

type DocumentType string

const (
	DocumentTypeKTP  DocumentType = "KTP"
	DocumentTypeNPWP DocumentType = "NPWP"
)

// ParseDocumentType accepts the type case-insensitively.
func ParseDocumentType(raw string) (DocumentType, bool) {
	switch DocumentType(strings.ToUpper(strings.TrimSpace(raw))) {
	case DocumentTypeKTP:
		return DocumentTypeKTP, true
	case DocumentTypeNPWP:
		return DocumentTypeNPWP, true
	default:
		return "", false
	}
}

type VerificationStatus string

const (
	StatusPending             VerificationStatus = "pending"
	StatusAutoApproved        VerificationStatus = "auto_approved"
	StatusAutoRejected        VerificationStatus = "auto_rejected"
	StatusPendingManualReview VerificationStatus = "pending_manual_review"
	StatusManuallyApproved    VerificationStatus = "manually_approved"
	StatusManuallyRejected    VerificationStatus = "manually_rejected"
)

func (s VerificationStatus) Valid() bool {
	return s == StatusPending || s == StatusPendingManualReview || s.IsFinal()
}

// IsFinal reports whether a human or the pipeline has settled the document.
func (s VerificationStatus) IsFinal() bool {
	switch s {
	case StatusAutoApproved, StatusAutoRejected, StatusManuallyApproved, StatusManuallyRejected:
		return true
	default:
		return false
	}
}

type AIDecision string

const (
	DecisionAutoApprove AIDecision = "auto_approve"
	DecisionNeedsReview AIDecision = "needs_review"
)

// ParsedFields maps OCR field names to values. Values are usually strings
// but the OCR provider may return booleans or nulls.
type ParsedFields map[string]any

type Document struct {
	ID               string             `json:"id"`
	UserID           string             `json:"user_id,omitempty"`
	Type             DocumentType       `json:"type"`
	OriginalFilename string             `json:"original_filename"`
	MimeType         string             `json:"mime_type"`
	StorageKey       string             `json:"storage_key"`
	Status           VerificationStatus `json:"status"`
	AIScore          *int               `json:"ai_score,omitempty"`
	AIDecision       *AIDecision        `json:"ai_decision,omitempty"`
	ParsedFields     ParsedFields       `json:"parsed_fields,omitempty"`
	OCRText          *string            `json:"-"`
	TicketID         *string            `json:"ticket_id,omitempty"`
	ProcessingError  *string            `json:"-"`
	ReviewNotes      *string            `json:"review_notes,omitempty"`
	ProcessedAt      *time.Time         `json:"processed_at,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// OCRResult is what the OCR collaborator hands back for a stored document.
type OCRResult struct {
	Text   string
	Fields ParsedFields
}

// VerificationResult is persisted onto the document after a successful run.
type VerificationResult struct {
	Score        int
	Decision     Decision
	ParsedFields ParsedFields
	OCRText      string
	ProcessedAt  time.Time
}

// ProcessingResult is returned by the pipeline for one document.
type ProcessingResult struct {
	DocumentID   string
	Score        int
	Outcome      VerificationStatus
	Decision     AIDecision
	ParsedFields ParsedFields
	OCRText      string
	TicketID     string
}

type AttemptOutcome string

const (
	AttemptSucceeded AttemptOutcome = "succeeded"
	AttemptRetrying  AttemptOutcome = "retrying"
	AttemptFailed    AttemptOutcome = "failed"
)

// ProcessingAttempt is one audited pipeline execution for a document.
type ProcessingAttempt struct {
	DocumentID string
	Attempt    int
	Outcome    AttemptOutcome
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}
