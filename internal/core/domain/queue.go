package domain

import "time"

type QueueStats struct {
	Queued     int64 `json:"queued"`
	Processing int64 `json:"processing"`
	Delayed    int64 `json:"delayed"`
}

// DelayedEntry is a document waiting out its backoff.
type DelayedEntry struct {
	DocumentID string
	ReadyAt    time.Time
}

type EscalationReason string

const (
	EscalationLowScore         EscalationReason = "low_score"
	EscalationPermanentFailure EscalationReason = "permanent_failure"
)

type EscalationMetadata struct {
	OriginalFilename string    `json:"originalFilename,omitempty"`
	R2Key            string    `json:"r2Key,omitempty"`
	SubmittedAt      time.Time `json:"submittedAt"`
	Reason           string    `json:"reason,omitempty"`
}

type EscalationRequest struct {
	DocumentID    string             `json:"documentId"`
	UserID        string             `json:"userId,omitempty"`
	DocumentType  DocumentType       `json:"documentType"`
	ParsedData    ParsedFields       `json:"parsedData"`
	AIScore       int                `json:"aiScore"`
	OCRText       string             `json:"ocrText,omitempty"`
	CorrelationID string             `json:"correlationId,omitempty"`
	CallbackURL   string             `json:"callbackUrl,omitempty"`
	Metadata      EscalationMetadata `json:"metadata"`
}

type EscalationTicket struct {
	TicketID string `json:"ticketId"`
	Status   string `json:"status"`
	Message  string `json:"message,omitempty"`
}

type TicketStatus struct {
	Status   string `json:"status"`
	Decision string `json:"decision,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

type ReviewVerdict string

const (
	ReviewApproved ReviewVerdict = "approved"
	ReviewRejected ReviewVerdict = "rejected"
)

// ReviewDecision arrives from the external review service callback.
type ReviewDecision struct {
	TicketID   string        `json:"ticketId"`
	DocumentID string        `json:"documentId"`
	Decision   ReviewVerdict `json:"decision"`
	Notes      string        `json:"notes,omitempty"`
}

// StatusEvent is published whenever a document reaches a settled state.
type StatusEvent struct {
	DocumentID string             `json:"documentId"`
	UserID     string             `json:"userId,omitempty"`
	Type       DocumentType       `json:"documentType"`
	Status     VerificationStatus `json:"status"`
	Score      *int               `json:"aiScore,omitempty"`
	TicketID   string             `json:"ticketId,omitempty"`
	Failed     bool               `json:"failed,omitempty"`
	OccurredAt time.Time          `json:"occurredAt"`
}

// EventTopicFailed carries permanent processing failures. The record keeps
// its pending status, so failures get a topic of their own.
const EventTopicFailed = "failed"

// Topic names the event stream: the status, or EventTopicFailed.
func (e StatusEvent) Topic() string {
	if e.Failed {
		return EventTopicFailed
	}
	return string(e.Status)
}
