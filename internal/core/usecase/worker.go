package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirillkom/idverify/internal/core/domain"
	"github.com/kirillkom/idverify/internal/core/ports"
)

// Job outcomes reported to the WorkerObserver.
const (
	OutcomeCompleted = "completed"
	OutcomeRequeued  = "requeued"
	OutcomeFailed    = "failed"
	OutcomeDropped   = "dropped"
)

var ErrWorkerRunning = errors.New("worker already running")

// WorkerObserver receives worker measurements; metrics.WorkerMetrics
// implements it.
type WorkerObserver interface {
	JobStarted()
	JobFinished(outcome string, duration time.Duration)
	QueueDepth(queued, processing, delayed int64)
	Promoted(n int)
	Recovered(n int)
	Escalation(reason, result string)
	StoreAvailable(available bool)
}

// ProcessingLedger is the part of the record store the worker writes to
// on the failure path.
type ProcessingLedger interface {
	MarkProcessingFailed(ctx context.Context, id string, reason string, failedAt time.Time) error
	RecordAttempt(ctx context.Context, attempt domain.ProcessingAttempt) error
}

type WorkerConfig struct {
	PollInterval    time.Duration
	DelayedInterval time.Duration
	BaseDelay       time.Duration
	MaxRetries      int
	ShutdownTimeout time.Duration
	ProcessTimeout  time.Duration
	// SkipStartupRecovery leaves the processing set alone on Start. Meant
	// for extra workers sharing a queue with one that already swept it.
	SkipStartupRecovery bool
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:    3000 * time.Millisecond,
		DelayedInterval: 1000 * time.Millisecond,
		BaseDelay:       3000 * time.Millisecond,
		MaxRetries:      3,
		ShutdownTimeout: 30 * time.Second,
		ProcessTimeout:  2 * time.Minute,
	}
}

func (c WorkerConfig) normalize() WorkerConfig {
	out := c
	def := DefaultWorkerConfig()
	if out.PollInterval <= 0 {
		out.PollInterval = def.PollInterval
	}
	if out.DelayedInterval <= 0 {
		out.DelayedInterval = def.DelayedInterval
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = def.BaseDelay
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = def.MaxRetries
	}
	if out.ShutdownTimeout <= 0 {
		out.ShutdownTimeout = def.ShutdownTimeout
	}
	if out.ProcessTimeout <= 0 {
		out.ProcessTimeout = def.ProcessTimeout
	}
	return out
}

type WorkerDeps struct {
	Queue     ports.JobQueue
	Processor ports.DocumentProcessor
	Ledger    ProcessingLedger
	Escalator ports.DocumentEscalator
	Events    ports.EventPublisher
	Sweeper   *RecoverySweeper
	Observer  WorkerObserver
	Logger    *slog.Logger
}

type WorkerStatus struct {
	Running        bool      `json:"running"`
	StoreAvailable bool      `json:"store_available"`
	Recovered      bool      `json:"recovered"`
	InFlight       string    `json:"in_flight,omitempty"`
	Completed      uint64    `json:"completed"`
	Requeued       uint64    `json:"requeued"`
	Failed         uint64    `json:"failed"`
	LastTickAt     time.Time `json:"last_tick_at,omitempty"`
}

// Worker is the single consumer of the job queue. It owns two scheduled
// tasks: the poll loop that processes one job per tick and the promoter
// that moves ready delayed entries back onto the queue.
type Worker struct {
	cfg       WorkerConfig
	queue     ports.JobQueue
	processor ports.DocumentProcessor
	ledger    ProcessingLedger
	escalator ports.DocumentEscalator
	events    ports.EventPublisher
	sweeper   *RecoverySweeper
	observer  WorkerObserver
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	running  bool
	poller   *scheduledTask
	promoter *scheduledTask
	abortJob context.CancelFunc

	busy      atomic.Bool
	available atomic.Bool
	recovered atomic.Bool
	current   atomic.Value
	lastTick  atomic.Int64
	completed atomic.Uint64
	requeued  atomic.Uint64
	failed    atomic.Uint64
}

func NewWorker(cfg WorkerConfig, deps WorkerDeps) *Worker {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := deps.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	sweeper := deps.Sweeper
	if sweeper == nil {
		sweeper = NewRecoverySweeper(deps.Queue, logger)
	}
	w := &Worker{
		cfg:       cfg.normalize(),
		queue:     deps.Queue,
		processor: deps.Processor,
		ledger:    deps.Ledger,
		escalator: deps.Escalator,
		events:    deps.Events,
		sweeper:   sweeper,
		observer:  observer,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	w.available.Store(true)
	w.current.Store("")
	return w
}

// Start runs the recovery sweep and schedules both tasks. The sweep is
// retried on later ticks if the store is down at startup; no job is
// dequeued before it succeeds.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return ErrWorkerRunning
	}

	// Jobs outlive the caller's context so an in-flight job can finish
	// during shutdown; Stop aborts them when the forcing timeout elapses.
	jobCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	w.abortJob = abort

	if w.cfg.SkipStartupRecovery {
		w.recovered.Store(true)
	} else {
		w.recovered.Store(false)
		w.recoverStuck(ctx)
	}

	w.poller = schedule(ctx, w.cfg.PollInterval, func(tickCtx context.Context) {
		w.tick(tickCtx, jobCtx)
	})
	w.promoter = schedule(ctx, w.cfg.DelayedInterval, w.PromoteTick)
	w.running = true

	w.logger.Info("worker_started",
		"poll_interval_ms", w.cfg.PollInterval.Milliseconds(),
		"delayed_interval_ms", w.cfg.DelayedInterval.Milliseconds(),
		"base_delay_ms", w.cfg.BaseDelay.Milliseconds(),
		"max_retries", w.cfg.MaxRetries,
	)
	return nil
}

// Stop cancels both tasks and waits for the in-flight job. When the
// shutdown timeout (or ctx) expires first the job is abandoned; the
// recovery sweep of the next start picks it up again.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	poller, promoter, abort := w.poller, w.promoter, w.abortJob
	w.mu.Unlock()

	poller.cancel()
	promoter.cancel()

	done := make(chan struct{})
	go func() {
		<-poller.done
		<-promoter.done
		close(done)
	}()

	timer := time.NewTimer(w.cfg.ShutdownTimeout)
	defer timer.Stop()

	var err error
	select {
	case <-done:
		w.logger.Info("worker_stopped")
	case <-timer.C:
		err = fmt.Errorf("worker shutdown timed out after %s", w.cfg.ShutdownTimeout)
	case <-ctx.Done():
		err = fmt.Errorf("worker shutdown: %w", ctx.Err())
	}
	abort()
	if err != nil {
		w.logger.Warn("worker_shutdown_forced",
			"in_flight", w.current.Load(),
			"error", err,
		)
	}
	return err
}

func (w *Worker) Status() WorkerStatus {
	w.mu.Lock()
	running := w.running
	w.mu.Unlock()

	status := WorkerStatus{
		Running:        running,
		StoreAvailable: w.available.Load(),
		Recovered:      w.recovered.Load(),
		InFlight:       w.current.Load().(string),
		Completed:      w.completed.Load(),
		Requeued:       w.requeued.Load(),
		Failed:         w.failed.Load(),
	}
	if ts := w.lastTick.Load(); ts > 0 {
		status.LastTickAt = time.UnixMilli(ts).UTC()
	}
	return status
}

// Tick processes at most one job. Overlapping calls return immediately.
func (w *Worker) Tick(ctx context.Context) {
	w.tick(ctx, ctx)
}

func (w *Worker) tick(ctx, jobCtx context.Context) {
	if !w.busy.CompareAndSwap(false, true) {
		w.logger.Debug("worker_tick_skipped", "reason", "in_flight")
		return
	}
	defer w.busy.Store(false)
	defer w.recoverPanic("poll")

	w.lastTick.Store(w.now().UnixMilli())

	if !w.probe(ctx) {
		return
	}
	if !w.recovered.Load() && !w.recoverStuck(ctx) {
		return
	}

	documentID, ok, err := w.queue.Dequeue(ctx)
	if err != nil {
		w.storeError("dequeue", err)
		return
	}
	if !ok {
		w.reportDepth(ctx)
		return
	}

	w.handle(jobCtx, documentID)
}

// PromoteTick moves every ready delayed entry back to the queue.
func (w *Worker) PromoteTick(ctx context.Context) {
	defer w.recoverPanic("promote")

	if !w.available.Load() {
		return
	}
	n, err := w.queue.PromoteDelayed(ctx, w.now())
	if err != nil {
		w.storeError("promote_delayed", err)
		return
	}
	if n > 0 {
		w.observer.Promoted(n)
		w.logger.Info("delayed_jobs_promoted", "count", n)
	}
}

func (w *Worker) handle(ctx context.Context, documentID string) {
	w.current.Store(documentID)
	defer w.current.Store("")

	previous, err := w.queue.Attempts(ctx, documentID)
	if err != nil {
		w.logger.Warn("job_attempts_read_failed", "document_id", documentID, "error", err)
	}
	w.logger.Info("job_dequeued", "document_id", documentID, "previous_attempts", previous)

	w.observer.JobStarted()
	startedAt := w.now()

	processCtx, cancel := context.WithTimeout(ctx, w.cfg.ProcessTimeout)
	result, err := w.processor.ProcessByID(processCtx, documentID)
	cancel()

	var outcome string
	switch {
	case err == nil:
		outcome = w.complete(ctx, documentID, previous+1, startedAt, result)
	case domain.IsKind(err, domain.ErrDocumentNotFound):
		outcome = w.drop(ctx, documentID, err)
	default:
		outcome = w.fail(ctx, documentID, startedAt, err)
	}
	w.observer.JobFinished(outcome, w.now().Sub(startedAt))
}

func (w *Worker) complete(ctx context.Context, documentID string, attempt int, startedAt time.Time, result domain.ProcessingResult) string {
	if err := w.queue.MarkComplete(ctx, documentID); err != nil {
		w.storeError("mark_complete", err)
	}
	w.recordAttempt(ctx, domain.ProcessingAttempt{
		DocumentID: documentID,
		Attempt:    attempt,
		Outcome:    domain.AttemptSucceeded,
		StartedAt:  startedAt,
		FinishedAt: w.now(),
	})
	w.completed.Add(1)
	w.logger.Info("job_completed",
		"document_id", documentID,
		"score", result.Score,
		"outcome", result.Outcome,
		"ticket_id", result.TicketID,
	)
	return OutcomeCompleted
}

// drop settles a job whose record no longer exists. Retrying cannot help
// and there is nothing to escalate.
func (w *Worker) drop(ctx context.Context, documentID string, cause error) string {
	if err := w.queue.MarkFailed(ctx, documentID); err != nil {
		w.storeError("mark_failed", err)
	}
	w.failed.Add(1)
	w.logger.Warn("job_dropped", "document_id", documentID, "error", cause)
	return OutcomeDropped
}

func (w *Worker) fail(ctx context.Context, documentID string, startedAt time.Time, cause error) string {
	attempts, err := w.queue.IncrementAttempts(ctx, documentID)
	if err != nil {
		// The id stays in the processing set; the next recovery sweep
		// returns it to the queue.
		w.storeError("increment_attempts", err)
		return OutcomeFailed
	}

	if attempts < w.cfg.MaxRetries {
		delay := BackoffDelay(w.cfg.BaseDelay, attempts)
		if err := w.queue.Requeue(ctx, documentID, delay); err != nil {
			w.storeError("requeue", err)
		}
		w.recordAttempt(ctx, domain.ProcessingAttempt{
			DocumentID: documentID,
			Attempt:    attempts,
			Outcome:    domain.AttemptRetrying,
			Error:      cause.Error(),
			StartedAt:  startedAt,
			FinishedAt: w.now(),
		})
		w.requeued.Add(1)
		w.logger.Warn("job_requeued",
			"document_id", documentID,
			"attempts", attempts,
			"max_retries", w.cfg.MaxRetries,
			"delay_ms", delay.Milliseconds(),
			"error", cause,
		)
		return OutcomeRequeued
	}

	failure := domain.WrapError(domain.ErrPermanentFailure, "process document", cause)
	if err := w.queue.MarkFailed(ctx, documentID); err != nil {
		w.storeError("mark_failed", err)
	}
	failedAt := w.now()
	if w.ledger != nil {
		if err := w.ledger.MarkProcessingFailed(ctx, documentID, cause.Error(), failedAt); err != nil {
			w.logger.Error("mark_processing_failed_error", "document_id", documentID, "error", err)
		}
	}
	w.recordAttempt(ctx, domain.ProcessingAttempt{
		DocumentID: documentID,
		Attempt:    attempts,
		Outcome:    domain.AttemptFailed,
		Error:      cause.Error(),
		StartedAt:  startedAt,
		FinishedAt: failedAt,
	})
	w.failed.Add(1)
	w.logger.Error("job_failed_permanently",
		"document_id", documentID,
		"attempts", attempts,
		"error", failure,
	)

	publishStatus(ctx, w.events, w.logger, domain.StatusEvent{
		DocumentID: documentID,
		Status:     domain.StatusPending,
		Failed:     true,
		OccurredAt: failedAt,
	})
	w.escalate(ctx, documentID)
	return OutcomeFailed
}

func (w *Worker) escalate(ctx context.Context, documentID string) {
	reason := string(domain.EscalationPermanentFailure)
	if w.escalator == nil {
		return
	}
	ticket, err := w.escalator.Escalate(ctx, documentID, domain.EscalationPermanentFailure)
	if err != nil {
		w.observer.Escalation(reason, "error")
		w.logger.Error("escalation_failed",
			"document_id", documentID,
			"reason", reason,
			"error", err,
		)
		return
	}
	w.observer.Escalation(reason, "submitted")
	w.logger.Info("job_escalated", "document_id", documentID, "ticket_id", ticket.TicketID)
}

func (w *Worker) recordAttempt(ctx context.Context, attempt domain.ProcessingAttempt) {
	if w.ledger == nil {
		return
	}
	if err := w.ledger.RecordAttempt(ctx, attempt); err != nil {
		w.logger.Warn("record_attempt_failed", "document_id", attempt.DocumentID, "error", err)
	}
}

func (w *Worker) recoverStuck(ctx context.Context) bool {
	n, err := w.sweeper.RecoverStuckJobs(ctx)
	if err != nil {
		w.storeError("recover_stuck", err)
		return false
	}
	w.recovered.Store(true)
	w.observer.Recovered(n)
	return true
}

// probe pings the store and logs availability transitions.
func (w *Worker) probe(ctx context.Context) bool {
	err := w.queue.Ping(ctx)
	up := err == nil
	was := w.available.Swap(up)
	w.observer.StoreAvailable(up)
	switch {
	case was && !up:
		w.logger.Warn("queue_store_unavailable", "error", err)
	case !was && up:
		w.logger.Info("queue_store_recovered")
	}
	return up
}

func (w *Worker) storeError(operation string, err error) {
	if domain.IsKind(err, domain.ErrStoreUnavailable) {
		if w.available.Swap(false) {
			w.logger.Warn("queue_store_unavailable", "operation", operation, "error", err)
		}
		w.observer.StoreAvailable(false)
		return
	}
	w.logger.Error("queue_operation_failed", "operation", operation, "error", err)
}

func (w *Worker) reportDepth(ctx context.Context) {
	stats, err := w.queue.Stats(ctx)
	if err != nil {
		return
	}
	w.observer.QueueDepth(stats.Queued, stats.Processing, stats.Delayed)
}

func (w *Worker) recoverPanic(task string) {
	if r := recover(); r != nil {
		w.logger.Error("worker_tick_panic",
			"task", task,
			"panic", fmt.Sprint(r),
			"stack", string(debug.Stack()),
		)
	}
}

// scheduledTask runs fn every interval until cancelled. A slow fn delays
// the next run instead of overlapping it.
type scheduledTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func schedule(parent context.Context, interval time.Duration, fn func(context.Context)) *scheduledTask {
	ctx, cancel := context.WithCancel(parent)
	task := &scheduledTask{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(task.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
	return task
}

type noopObserver struct{}

func (noopObserver) JobStarted()                       {}
func (noopObserver) JobFinished(string, time.Duration) {}
func (noopObserver) QueueDepth(int64, int64, int64)    {}
func (noopObserver) Promoted(int)                      {}
func (noopObserver) Recovered(int)                     {}
func (noopObserver) Escalation(string, string)         {}
func (noopObserver) StoreAvailable(bool)               {}
