package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/idverify/internal/core/domain"
)

type repoFake struct {
	mu sync.Mutex

	docs       map[string]*domain.Document
	getErr     error
	createErr  error
	saveErr    error
	created    []*domain.Document
	results    map[string]domain.VerificationResult
	failures   map[string]string
	escalated  map[string]string
	reviewed   map[string]domain.VerificationStatus
	attempts   []domain.ProcessingAttempt
	saveCalls  int
	reviewErr  error
	escSaveErr error
}

func newRepoFake(docs ...*domain.Document) *repoFake {
	f := &repoFake{
		docs:      make(map[string]*domain.Document),
		results:   make(map[string]domain.VerificationResult),
		failures:  make(map[string]string),
		escalated: make(map[string]string),
		reviewed:  make(map[string]domain.VerificationStatus),
	}
	for _, d := range docs {
		f.docs[d.ID] = d
	}
	return f
}

func (f *repoFake) Create(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	copyDoc := *doc
	f.created = append(f.created, &copyDoc)
	f.docs[doc.ID] = &copyDoc
	return nil
}

func (f *repoFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New(id))
	}
	copyDoc := *doc
	return &copyDoc, nil
}

func (f *repoFake) ListByStatus(_ context.Context, status domain.VerificationStatus, limit int) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Document
	for _, d := range f.docs {
		if d.Status == status && len(out) < limit {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (f *repoFake) SaveVerificationResult(_ context.Context, id string, result domain.VerificationResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.results[id] = result
	if doc, ok := f.docs[id]; ok {
		score := result.Score
		decision := result.Decision.Decision
		text := result.OCRText
		processedAt := result.ProcessedAt
		doc.AIScore = &score
		doc.AIDecision = &decision
		doc.Status = result.Decision.Outcome
		doc.ParsedFields = result.ParsedFields
		doc.OCRText = &text
		doc.ProcessedAt = &processedAt
	}
	return nil
}

func (f *repoFake) MarkProcessingFailed(_ context.Context, id string, reason string, failedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[id] = reason
	if doc, ok := f.docs[id]; ok {
		doc.ProcessingError = &reason
		doc.ProcessedAt = &failedAt
	}
	return nil
}

func (f *repoFake) SaveEscalation(_ context.Context, id string, ticketID string, status domain.VerificationStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.escSaveErr != nil {
		return f.escSaveErr
	}
	f.escalated[id] = ticketID
	if doc, ok := f.docs[id]; ok {
		doc.TicketID = &ticketID
		doc.Status = status
	}
	return nil
}

func (f *repoFake) ApplyReviewDecision(_ context.Context, id string, status domain.VerificationStatus, notes string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reviewErr != nil {
		return f.reviewErr
	}
	f.reviewed[id] = status
	if doc, ok := f.docs[id]; ok {
		doc.Status = status
		doc.ReviewNotes = &notes
	}
	return nil
}

func (f *repoFake) RecordAttempt(_ context.Context, attempt domain.ProcessingAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, attempt)
	return nil
}

func (f *repoFake) Ping(context.Context) error { return nil }

type storageFake struct {
	objects   map[string]string
	saveErr   error
	openErr   error
	savedKey  string
	savedType string
}

func newStorageFake() *storageFake {
	return &storageFake{objects: make(map[string]string)}
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader, _ int64, contentType string) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[key] = string(raw)
	f.savedKey = key
	f.savedType = contentType
	return nil
}

func (f *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	body, ok := f.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

// queueFake is an in-memory JobQueue with the same set semantics as the
// Redis implementation.
type queueFake struct {
	mu sync.Mutex

	queue      []string
	processing map[string]bool
	delayed    map[string]time.Time
	attempts   map[string]int
	maxSeen    map[string]int
	requeues   []time.Duration
	completed  []string
	failed     []string
	pingErr    error
	dequeueErr error
	now        func() time.Time
}

func newQueueFake(ids ...string) *queueFake {
	return &queueFake{
		queue:      append([]string(nil), ids...),
		processing: make(map[string]bool),
		delayed:    make(map[string]time.Time),
		attempts:   make(map[string]int),
		maxSeen:    make(map[string]int),
		now:        time.Now,
	}
}

func (f *queueFake) Enqueue(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, id)
	return nil
}

func (f *queueFake) Dequeue(context.Context) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dequeueErr != nil {
		return "", false, f.dequeueErr
	}
	if len(f.queue) == 0 {
		return "", false, nil
	}
	id := f.queue[0]
	f.queue = f.queue[1:]
	f.processing[id] = true
	return id, true, nil
}

func (f *queueFake) Requeue(_ context.Context, id string, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.processing, id)
	f.delayed[id] = f.now().Add(delay)
	f.requeues = append(f.requeues, delay)
	return nil
}

func (f *queueFake) MarkComplete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.processing, id)
	delete(f.attempts, id)
	f.completed = append(f.completed, id)
	return nil
}

func (f *queueFake) MarkFailed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.processing, id)
	delete(f.attempts, id)
	f.failed = append(f.failed, id)
	return nil
}

func (f *queueFake) Attempts(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[id], nil
}

func (f *queueFake) IncrementAttempts(_ context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[id]++
	if f.attempts[id] > f.maxSeen[id] {
		f.maxSeen[id] = f.attempts[id]
	}
	return f.attempts[id], nil
}

func (f *queueFake) PromoteDelayed(_ context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, readyAt := range f.delayed {
		if !now.Before(readyAt) {
			delete(f.delayed, id)
			f.queue = append(f.queue, id)
			n++
		}
	}
	return n, nil
}

func (f *queueFake) RecoverStuck(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pingErr != nil {
		return 0, f.pingErr
	}
	n := 0
	for id := range f.processing {
		f.queue = append(f.queue, id)
		n++
	}
	f.processing = make(map[string]bool)
	return n, nil
}

func (f *queueFake) Stats(context.Context) (domain.QueueStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return domain.QueueStats{
		Queued:     int64(len(f.queue)),
		Processing: int64(len(f.processing)),
		Delayed:    int64(len(f.delayed)),
	}, nil
}

func (f *queueFake) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *queueFake) setPingErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingErr = err
}

// releaseDelayed moves every delayed entry to the queue regardless of readyAt.
func (f *queueFake) releaseDelayed() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id := range f.delayed {
		f.queue = append(f.queue, id)
		delete(f.delayed, id)
	}
}

type ocrFake struct {
	result domain.OCRResult
	err    error
	calls  int
}

func (f *ocrFake) Recognize(_ context.Context, _ *domain.Document, content io.Reader) (domain.OCRResult, error) {
	f.calls++
	if _, err := io.ReadAll(content); err != nil {
		return domain.OCRResult{}, err
	}
	if f.err != nil {
		return domain.OCRResult{}, f.err
	}
	return f.result, nil
}

type escalatorFake struct {
	mu      sync.Mutex
	calls   []string
	reasons []domain.EscalationReason
	err     error
}

func (f *escalatorFake) Escalate(_ context.Context, id string, reason domain.EscalationReason) (domain.EscalationTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	f.reasons = append(f.reasons, reason)
	if f.err != nil {
		return domain.EscalationTicket{}, f.err
	}
	return domain.EscalationTicket{TicketID: "ESC-1", Status: "queued"}, nil
}

func (f *escalatorFake) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type escalationClientFake struct {
	submitted []domain.EscalationRequest
	ticket    domain.EscalationTicket
	status    domain.TicketStatus
	cancelled []string
	err       error
}

func (f *escalationClientFake) Submit(_ context.Context, req domain.EscalationRequest) (domain.EscalationTicket, error) {
	f.submitted = append(f.submitted, req)
	if f.err != nil {
		return domain.EscalationTicket{}, f.err
	}
	return f.ticket, nil
}

func (f *escalationClientFake) GetStatus(_ context.Context, ticketID string) (domain.TicketStatus, error) {
	if f.err != nil {
		return domain.TicketStatus{}, f.err
	}
	return f.status, nil
}

func (f *escalationClientFake) Cancel(_ context.Context, ticketID, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.cancelled = append(f.cancelled, ticketID)
	return nil
}

type eventsFake struct {
	mu     sync.Mutex
	events []domain.StatusEvent
	err    error
}

func (f *eventsFake) PublishStatus(_ context.Context, event domain.StatusEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

// processorFake fails the first `failures` calls per document, then
// succeeds.
type processorFake struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    map[string]int
	block    chan struct{}
}

func newProcessorFake(failures int) *processorFake {
	return &processorFake{
		failures: failures,
		err:      domain.WrapError(domain.ErrPipelineFailure, "recognize document", errors.New("ocr timeout")),
		calls:    make(map[string]int),
	}
}

func (f *processorFake) ProcessByID(ctx context.Context, id string) (domain.ProcessingResult, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return domain.ProcessingResult{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if f.calls[id] <= f.failures {
		return domain.ProcessingResult{}, f.err
	}
	return domain.ProcessingResult{
		DocumentID: id,
		Score:      90,
		Outcome:    domain.StatusAutoApproved,
		Decision:   domain.DecisionAutoApprove,
	}, nil
}

type observerFake struct {
	mu          sync.Mutex
	outcomes    []string
	escalations []string
	promoted    int
	recovered   int
	available   []bool
}

func (f *observerFake) JobStarted() {}
func (f *observerFake) JobFinished(outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
}
func (f *observerFake) QueueDepth(int64, int64, int64) {}
func (f *observerFake) Promoted(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.promoted += n
}
func (f *observerFake) Recovered(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovered += n
}
func (f *observerFake) Escalation(reason, result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.escalations = append(f.escalations, reason+":"+result)
}
func (f *observerFake) StoreAvailable(up bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.available = append(f.available, up)
}

func ptr[T any](v T) *T {
	return &v
}
