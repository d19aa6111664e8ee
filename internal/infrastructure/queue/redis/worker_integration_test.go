package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/idverify/internal/core/domain"
	"github.com/kirillkom/idverify/internal/core/usecase"
	"github.com/kirillkom/idverify/internal/observability/logging"
)

type scriptedProcessor struct {
	mu    sync.Mutex
	calls map[string]int
	fails map[string]int
}

func (p *scriptedProcessor) ProcessByID(_ context.Context, documentID string) (domain.ProcessingResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[documentID]++
	if p.calls[documentID] <= p.fails[documentID] {
		return domain.ProcessingResult{}, domain.WrapError(domain.ErrPipelineFailure, "ocr", errors.New("ocr timeout"))
	}
	return domain.ProcessingResult{DocumentID: documentID, Score: 90}, nil
}

type countingEscalator struct {
	mu  sync.Mutex
	ids []string
}

func (e *countingEscalator) Escalate(_ context.Context, documentID string, _ domain.EscalationReason) (domain.EscalationTicket, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, documentID)
	return domain.EscalationTicket{TicketID: "ESC-1"}, nil
}

// newRealClockQueue keeps the wall clock so delayed entries line up with
// the worker's promoter.
func newRealClockQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client, "it", nil)
}

// drain alternates poll and promote ticks until the queue settles.
func drain(t *testing.T, w *usecase.Worker, q *Queue) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		w.Tick(ctx)
		w.PromoteTick(ctx)
		stats, err := q.Stats(ctx)
		require.NoError(t, err)
		if stats == (domain.QueueStats{}) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("queue did not settle")
}

func TestWorkerAgainstRedisRetriesThenSucceeds(t *testing.T) {
	q := newRealClockQueue(t)
	ctx := context.Background()
	processor := &scriptedProcessor{calls: map[string]int{}, fails: map[string]int{"doc-flaky": 2}}
	escalator := &countingEscalator{}

	w := usecase.NewWorker(usecase.WorkerConfig{BaseDelay: time.Millisecond, MaxRetries: 3}, usecase.WorkerDeps{
		Queue:     q,
		Processor: processor,
		Escalator: escalator,
		Logger:    logging.Discard(),
	})

	require.NoError(t, q.Enqueue(ctx, "doc-flaky"))
	drain(t, w, q)

	assert.Equal(t, 3, processor.calls["doc-flaky"])
	assert.Empty(t, escalator.ids)
	n, err := q.Attempts(ctx, "doc-flaky")
	require.NoError(t, err)
	assert.Equal(t, 0, n, "completion clears the counter")
	assert.Equal(t, uint64(1), w.Status().Completed)
}

func TestWorkerAgainstRedisEscalatesAfterMaxRetries(t *testing.T) {
	q := newRealClockQueue(t)
	ctx := context.Background()
	processor := &scriptedProcessor{calls: map[string]int{}, fails: map[string]int{"doc-bad": 10}}
	escalator := &countingEscalator{}

	w := usecase.NewWorker(usecase.WorkerConfig{BaseDelay: time.Millisecond, MaxRetries: 3}, usecase.WorkerDeps{
		Queue:     q,
		Processor: processor,
		Escalator: escalator,
		Logger:    logging.Discard(),
	})

	require.NoError(t, q.Enqueue(ctx, "doc-bad"))
	drain(t, w, q)

	assert.Equal(t, 3, processor.calls["doc-bad"])
	assert.Equal(t, []string{"doc-bad"}, escalator.ids)
	members, err := q.ProcessingMembers(ctx)
	require.NoError(t, err)
	assert.Empty(t, members)
	assert.Equal(t, uint64(1), w.Status().Failed)
}

func TestWorkerAgainstRedisSweepsCrashedJobFirst(t *testing.T) {
	q := newRealClockQueue(t)
	ctx := context.Background()
	processor := &scriptedProcessor{calls: map[string]int{}, fails: map[string]int{}}

	require.NoError(t, q.Enqueue(ctx, "doc-orphan"))
	_, _, err := q.Dequeue(ctx)
	require.NoError(t, err)

	w := usecase.NewWorker(usecase.WorkerConfig{}, usecase.WorkerDeps{
		Queue:     q,
		Processor: processor,
		Logger:    logging.Discard(),
	})
	drain(t, w, q)

	assert.Equal(t, 1, processor.calls["doc-orphan"])
}
