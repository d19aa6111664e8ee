package escalation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/idverify/internal/core/domain"
	"github.com/kirillkom/idverify/internal/infrastructure/resilience"
)

func sampleRequest() domain.EscalationRequest {
	return domain.EscalationRequest{
		DocumentID:    "doc-1",
		UserID:        "user-1",
		DocumentType:  domain.DocumentTypeKTP,
		ParsedData:    domain.ParsedFields{"nik": "3171234567890123"},
		AIScore:       42,
		OCRText:       "NIK 3171234567890123",
		CorrelationID: "corr-1",
		CallbackURL:   "https://api.example.test/internal/reviews/callback",
		Metadata: domain.EscalationMetadata{
			OriginalFilename: "ktp.jpg",
			R2Key:            "documents/ktp/doc-1_ktp.jpg",
			SubmittedAt:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		},
	}
}

func TestSubmitPostsRequestWithBearerToken(t *testing.T) {
	var (
		gotAuth string
		gotBody map[string]any
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/internal/reviews", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"taskId":"TASK-7","status":"queued","message":"accepted"}`))
	}))
	defer server.Close()

	client := New(server.URL, "secret", time.Second)
	ticket, err := client.Submit(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.Equal(t, domain.EscalationTicket{TicketID: "TASK-7", Status: "queued", Message: "accepted"}, ticket)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "doc-1", gotBody["documentId"])
	assert.Equal(t, "KTP", gotBody["documentType"])
	assert.Equal(t, float64(42), gotBody["aiScore"])
	assert.Equal(t, "corr-1", gotBody["correlationId"])
	metadata, ok := gotBody["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "documents/ktp/doc-1_ktp.jpg", metadata["r2Key"])
	assert.Equal(t, "2026-03-01T10:00:00Z", metadata["submittedAt"])
}

func TestSubmitAcceptsTicketIDField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ticketId":"TKT-1","status":"open"}`))
	}))
	defer server.Close()

	ticket, err := New(server.URL, "", time.Second).Submit(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "TKT-1", ticket.TicketID)
}

func TestSubmitFallsBackToLocalTicketID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	}))
	defer server.Close()

	client := New(server.URL, "", time.Second)
	client.now = func() time.Time { return time.UnixMilli(1772359200000) }

	ticket, err := client.Submit(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "ESC-1772359200000", ticket.TicketID)
	assert.Equal(t, "queued", ticket.Status)
}

func TestSubmitRejectedCarriesStatusAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid document type", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	_, err := New(server.URL, "", time.Second).Submit(context.Background(), sampleRequest())
	require.Error(t, err)

	ce, ok := AsClientError(err)
	require.True(t, ok, "got %T", err)
	assert.Equal(t, KindRejected, ce.Kind)
	assert.Equal(t, http.StatusUnprocessableEntity, ce.StatusCode)
	assert.Equal(t, "invalid document type", ce.Body)
	assert.Equal(t, "doc-1", ce.DocumentID)
	assert.Equal(t, "corr-1", ce.CorrelationID)
	assert.False(t, domain.IsKind(err, domain.ErrTemporary))
}

func TestSubmitServerErrorIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := New(server.URL, "", time.Second).Submit(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrTemporary))
}

func TestSubmitTimeoutIsDistinguished(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	_, err := New(server.URL, "", 50*time.Millisecond).Submit(context.Background(), sampleRequest())
	require.Error(t, err)

	ce, ok := AsClientError(err)
	require.True(t, ok)
	assert.Equal(t, KindTimeout, ce.Kind)
	assert.Equal(t, "doc-1", ce.DocumentID)
}

func TestSubmitTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	_, err := New(addr, "", time.Second).Submit(context.Background(), sampleRequest())
	require.Error(t, err)

	ce, ok := AsClientError(err)
	require.True(t, ok)
	assert.Equal(t, KindTransport, ce.Kind)
	assert.True(t, domain.IsKind(err, domain.ErrTemporary))
}

func TestSubmitDoesNotRetry(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := resilience.DefaultConfig()
	cfg.RetryInitialBackoff = time.Millisecond
	client := New(server.URL, "", time.Second).WithResilience(resilience.NewExecutor(resilience.BreakerOnly(cfg)))

	_, err := client.Submit(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestGetStatusAndCancel(t *testing.T) {
	var cancelBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/internal/reviews/TKT-1/status":
			_, _ = w.Write([]byte(`{"status":"completed","decision":"approved","notes":"ok"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/internal/reviews/TKT-1/cancel":
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, &cancelBody)
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := New(server.URL, "", time.Second)
	status, err := client.GetStatus(context.Background(), "TKT-1")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatus{Status: "completed", Decision: "approved", Notes: "ok"}, status)

	require.NoError(t, client.Cancel(context.Background(), "TKT-1", "document withdrawn"))
	assert.Equal(t, map[string]string{"reason": "document withdrawn"}, cancelBody)

	_, err = client.GetStatus(context.Background(), "TKT-404")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrTicketNotFound), "got %v", err)
}
