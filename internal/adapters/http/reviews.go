package httpadapter

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kirillkom/idverify/internal/core/domain"
	"github.com/kirillkom/idverify/internal/observability/logging"
)

// reviewCallback receives the human verdict from the review service.
func (rt *Router) reviewCallback(w http.ResponseWriter, r *http.Request) {
	var decision domain.ReviewDecision
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&decision); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	doc, err := rt.deps.Reviews.ApplyDecision(r.Context(), decision)
	if err != nil {
		rt.writeDomainError(w, r, "review_callback_failed", err)
		return
	}
	if rt.deps.Metrics != nil {
		rt.deps.Metrics.RecordReviewDecision(serviceName, string(decision.Decision))
	}
	logging.FromContext(r.Context()).Info("review_decision_applied",
		"document_id", doc.ID,
		"ticket_id", decision.TicketID,
		"status", doc.Status,
	)
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) getReviewStatus(w http.ResponseWriter, r *http.Request) {
	status, err := rt.deps.Reviews.TicketStatus(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		rt.writeDomainError(w, r, "review_status_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (rt *Router) cancelReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	documentID := chi.URLParam(r, "documentID")
	if err := rt.deps.Reviews.CancelTicket(r.Context(), documentID, strings.TrimSpace(req.Reason)); err != nil {
		rt.writeDomainError(w, r, "review_cancel_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"documentId": documentID, "status": "cancelled"})
}
