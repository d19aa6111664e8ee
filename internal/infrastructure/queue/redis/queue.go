package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kirillkom/idverify/internal/core/domain"
	"github.com/kirillkom/idverify/internal/infrastructure/resilience"
)

const defaultKeyPrefix = "kyc:ocr"

// RPOP the head and claim it in the processing set in one step.
var dequeueScript = goredis.NewScript(`
local id = redis.call('RPOP', KEYS[1])
if not id then
	return false
end
redis.call('SADD', KEYS[2], id)
return id
`)

var requeueScript = goredis.NewScript(`
redis.call('SREM', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 1
`)

// ZREM decides ownership of each ready entry so a concurrent promoter can
// never push the same entry twice.
var promoteScript = goredis.NewScript(`
local ready = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local promoted = 0
for _, id in ipairs(ready) do
	if redis.call('ZREM', KEYS[1], id) == 1 then
		redis.call('LPUSH', KEYS[2], id)
		promoted = promoted + 1
	end
end
return promoted
`)

// ARGV[1] == "1" also clears attempt counters.
var recoverScript = goredis.NewScript(`
local stuck = redis.call('SMEMBERS', KEYS[1])
for _, id in ipairs(stuck) do
	redis.call('LPUSH', KEYS[2], id)
	if ARGV[1] == '1' then
		redis.call('HDEL', KEYS[3], id)
	end
end
redis.call('DEL', KEYS[1])
return #stuck
`)

type Queue struct {
	client   goredis.UniversalClient
	keys     keys
	executor *resilience.Executor
	now      func() time.Time
}

type keys struct {
	queue      string
	processing string
	delayed    string
	attempts   string
}

type Options struct {
	Addr               string
	Password           string
	DB                 int
	KeyPrefix          string
	DialTimeout        time.Duration
	ResilienceExecutor *resilience.Executor
}

func New(options Options) *Queue {
	dialTimeout := options.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 2 * time.Second
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:        options.Addr,
		Password:    options.Password,
		DB:          options.DB,
		DialTimeout: dialTimeout,
		MaxRetries:  1,
	})
	return NewWithClient(client, options.KeyPrefix, options.ResilienceExecutor)
}

// NewWithClient wraps an existing client; tests point it at miniredis.
func NewWithClient(client goredis.UniversalClient, keyPrefix string, executor *resilience.Executor) *Queue {
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &Queue{
		client: client,
		keys: keys{
			queue:      keyPrefix + ":queue",
			processing: keyPrefix + ":processing",
			delayed:    keyPrefix + ":delayed",
			attempts:   keyPrefix + ":attempts",
		},
		executor: executor,
		now:      time.Now,
	}
}

// WithClock replaces the wall clock used to compute readyAt.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) Ping(ctx context.Context) error {
	call := func(ctx context.Context) error {
		return q.client.Ping(ctx).Err()
	}
	return q.guard(ctx, "redis.ping", call)
}

func (q *Queue) Enqueue(ctx context.Context, documentID string) error {
	if documentID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "enqueue", errors.New("empty document id"))
	}
	call := func(ctx context.Context) error {
		return q.client.LPush(ctx, q.keys.queue, documentID).Err()
	}
	return q.guard(ctx, "redis.enqueue", call)
}

func (q *Queue) Dequeue(ctx context.Context) (string, bool, error) {
	id, err := dequeueScript.Run(ctx, q.client, []string{q.keys.queue, q.keys.processing}).Text()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapStoreError("dequeue", err)
	}
	return id, true, nil
}

func (q *Queue) Requeue(ctx context.Context, documentID string, delay time.Duration) error {
	readyAt := q.now().Add(delay).UnixMilli()
	err := requeueScript.Run(ctx, q.client,
		[]string{q.keys.processing, q.keys.delayed},
		documentID, readyAt,
	).Err()
	if err != nil {
		return wrapStoreError("requeue", err)
	}
	return nil
}

func (q *Queue) MarkComplete(ctx context.Context, documentID string) error {
	return q.settle(ctx, "mark complete", documentID)
}

func (q *Queue) MarkFailed(ctx context.Context, documentID string) error {
	return q.settle(ctx, "mark failed", documentID)
}

func (q *Queue) settle(ctx context.Context, operation, documentID string) error {
	_, err := q.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.SRem(ctx, q.keys.processing, documentID)
		pipe.HDel(ctx, q.keys.attempts, documentID)
		return nil
	})
	if err != nil {
		return wrapStoreError(operation, err)
	}
	return nil
}

func (q *Queue) Attempts(ctx context.Context, documentID string) (int, error) {
	n, err := q.client.HGet(ctx, q.keys.attempts, documentID).Int()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, wrapStoreError("get attempts", err)
	}
	return n, nil
}

func (q *Queue) IncrementAttempts(ctx context.Context, documentID string) (int, error) {
	n, err := q.client.HIncrBy(ctx, q.keys.attempts, documentID, 1).Result()
	if err != nil {
		return 0, wrapStoreError("increment attempts", err)
	}
	return int(n), nil
}

// ResetAttempts is operator tooling; the pipeline never resets counters.
func (q *Queue) ResetAttempts(ctx context.Context, documentID string) error {
	if err := q.client.HDel(ctx, q.keys.attempts, documentID).Err(); err != nil {
		return wrapStoreError("reset attempts", err)
	}
	return nil
}

// PromoteDelayed moves every delayed entry whose readyAt <= now to the tail
// of the active queue.
func (q *Queue) PromoteDelayed(ctx context.Context, now time.Time) (int, error) {
	n, err := promoteScript.Run(ctx, q.client,
		[]string{q.keys.delayed, q.keys.queue},
		strconv.FormatInt(now.UnixMilli(), 10),
	).Int()
	if err != nil {
		return 0, wrapStoreError("promote delayed", err)
	}
	return n, nil
}

// RecoverStuck moves every processing member back to the queue and keeps
// attempt counters so retry history survives a crash.
func (q *Queue) RecoverStuck(ctx context.Context) (int, error) {
	return q.recover(ctx, false)
}

// RequeueStuck is the operator reset: like RecoverStuck but attempt
// counters of the moved documents are cleared.
func (q *Queue) RequeueStuck(ctx context.Context) (int, error) {
	return q.recover(ctx, true)
}

func (q *Queue) recover(ctx context.Context, resetAttempts bool) (int, error) {
	flag := "0"
	if resetAttempts {
		flag = "1"
	}
	n, err := recoverScript.Run(ctx, q.client,
		[]string{q.keys.processing, q.keys.queue, q.keys.attempts},
		flag,
	).Int()
	if err != nil {
		return 0, wrapStoreError("recover stuck", err)
	}
	return n, nil
}

func (q *Queue) Stats(ctx context.Context) (domain.QueueStats, error) {
	var queued, processing, delayed *goredis.IntCmd
	_, err := q.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		queued = pipe.LLen(ctx, q.keys.queue)
		processing = pipe.SCard(ctx, q.keys.processing)
		delayed = pipe.ZCard(ctx, q.keys.delayed)
		return nil
	})
	if err != nil {
		return domain.QueueStats{}, wrapStoreError("queue stats", err)
	}
	return domain.QueueStats{
		Queued:     queued.Val(),
		Processing: processing.Val(),
		Delayed:    delayed.Val(),
	}, nil
}

// ProcessingMembers lists claimed ids, for operator output.
func (q *Queue) ProcessingMembers(ctx context.Context) ([]string, error) {
	ids, err := q.client.SMembers(ctx, q.keys.processing).Result()
	if err != nil {
		return nil, wrapStoreError("list processing", err)
	}
	return ids, nil
}

// DelayedEntries lists backoff entries ordered by readiness.
func (q *Queue) DelayedEntries(ctx context.Context) ([]domain.DelayedEntry, error) {
	zs, err := q.client.ZRangeWithScores(ctx, q.keys.delayed, 0, -1).Result()
	if err != nil {
		return nil, wrapStoreError("list delayed", err)
	}
	entries := make([]domain.DelayedEntry, 0, len(zs))
	for _, z := range zs {
		id, _ := z.Member.(string)
		entries = append(entries, domain.DelayedEntry{
			DocumentID: id,
			ReadyAt:    time.UnixMilli(int64(z.Score)),
		})
	}
	return entries, nil
}

func (q *Queue) guard(ctx context.Context, operation string, call func(context.Context) error) error {
	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, operation, call, classifyRedisError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapStoreError(operation, err)
	}
	return nil
}
