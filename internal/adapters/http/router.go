package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kirillkom/idverify/internal/config"
	"github.com/kirillkom/idverify/internal/core/ports"
	"github.com/kirillkom/idverify/internal/observability/logging"
	"github.com/kirillkom/idverify/internal/observability/metrics"
)

const serviceName = "idverify-api"

// ReadinessCheck probes one dependency for /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Dependencies struct {
	Ingestor  ports.DocumentIngestor
	Documents ports.DocumentReader
	Reviews   ports.ReviewService
	Queue     ports.QueueInspector
	Checks    []ReadinessCheck
	Metrics   *metrics.HTTPServerMetrics
	Logger    *slog.Logger
}

type Router struct {
	cfg  config.Config
	deps Dependencies
}

func NewRouter(cfg config.Config, deps Dependencies) *Router {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	return &Router{cfg: cfg, deps: deps}
}

func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(rt.accessLogMiddleware)
	if rt.deps.Metrics != nil {
		r.Use(func(next http.Handler) http.Handler {
			return rt.deps.Metrics.Middleware(serviceName, next)
		})
	}
	r.Use(middleware.Recoverer)

	r.Get("/healthz", rt.healthz)
	r.Get("/readyz", rt.readyz)
	if rt.deps.Metrics != nil {
		r.Handle("/metrics", rt.deps.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return rt.rateLimitMiddleware(next)
		})
		r.Use(func(next http.Handler) http.Handler {
			return backpressureMiddleware(next, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureTimeout)
		})

		r.Post("/v1/documents", rt.uploadDocument)
		r.Get("/v1/documents/{documentID}", rt.getDocumentByID)
		r.Get("/v1/documents/{documentID}/review", rt.getReviewStatus)
		r.Post("/v1/documents/{documentID}/review/cancel", rt.cancelReview)
		r.Get("/v1/queue/stats", rt.queueStats)
	})

	r.With(rt.internalAuthMiddleware).Post("/internal/reviews/callback", rt.reviewCallback)

	return r
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(rt.deps.Checks))
	for _, c := range rt.deps.Checks {
		if err := c.Check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			checks[c.Name] = "unavailable"
			logging.FromContext(r.Context()).Warn("readiness_check_failed", "check", c.Name, "error", err)
			continue
		}
		checks[c.Name] = "ok"
	}

	body := map[string]any{"status": "ready", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "not_ready"
	}
	writeJSON(w, status, body)
}

func (rt *Router) uploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.MaxUploadBytes)

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "file exceeds upload limit")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	docType := r.FormValue("documentType")
	doc, err := rt.deps.Ingestor.Upload(r.Context(), ports.UploadRequest{
		UserID:       strings.TrimSpace(r.FormValue("userId")),
		DocumentType: docType,
		Filename:     fileHeader.Filename,
		MimeType:     fileHeader.Header.Get("Content-Type"),
		Size:         fileHeader.Size,
		Body:         file,
	})
	if err != nil {
		rt.writeDomainError(w, r, "upload_failed", err)
		return
	}
	if rt.deps.Metrics != nil {
		rt.deps.Metrics.RecordUpload(serviceName, string(doc.Type), fileHeader.Size)
	}

	writeJSON(w, http.StatusAccepted, doc)
}

func (rt *Router) getDocumentByID(w http.ResponseWriter, r *http.Request) {
	doc, err := rt.deps.Documents.GetByID(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		rt.writeDomainError(w, r, "get_document_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (rt *Router) queueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := rt.deps.Queue.Stats(r.Context())
	if err != nil {
		rt.writeDomainError(w, r, "queue_stats_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (rt *Router) writeDomainError(w http.ResponseWriter, r *http.Request, event string, err error) {
	status := mapErrorToHTTPStatus(err)
	logger := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error(event, "status", status, "error", err)
	} else {
		logger.Info(event, "status", status, "error", err)
	}
	writeError(w, status, publicErrorMessage(status, err))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
