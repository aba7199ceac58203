// Copyright 2025 Certen Protocol
//
// Queue Broker - durable per-label job queues over Redis sorted sets, with
// at-least-once delivery, exponential backoff retry, and a cron-driven
// repeatable job for filesystem cleanup.

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Labels are the fixed set of job queues the pipeline dispatches work onto.
const (
	LabelNewItem        = "new-item"
	LabelPlanBundle     = "plan-bundle"
	LabelPrepareBundle  = "prepare-bundle"
	LabelPostBundle     = "post-bundle"
	LabelVerifyBundle   = "verify-bundle"
	LabelSeedBundle     = "seed-bundle"
	LabelPutOffsets     = "put-offsets"
	LabelOpticalPost    = "optical-post"
	LabelUnbundleNested = "unbundle-nested"
	LabelFinalizeUpload = "finalize-upload"
	LabelCleanupFS      = "cleanup-fs"
)

const (
	baseBackoff = 1 * time.Second
	maxBackoff  = 5 * time.Minute
)

// Job is a unit of work enqueued under a label.
type Job struct {
	ID       string          `json:"id"`
	Label    string          `json:"label"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
}

// Handler processes one job. A returned error triggers a retry with
// exponential backoff up to the label's MaxAttempts.
type Handler func(ctx context.Context, job *Job) error

// labelConfig holds per-label concurrency and retry settings.
type labelConfig struct {
	Concurrency int
	MaxAttempts int
}

// defaultLabelConfigs mirrors the spec's suggested per-label defaults.
var defaultLabelConfigs = map[string]labelConfig{
	LabelNewItem:        {Concurrency: 5, MaxAttempts: 5},
	LabelPlanBundle:     {Concurrency: 1, MaxAttempts: 5},
	LabelPrepareBundle:  {Concurrency: 2, MaxAttempts: 5},
	LabelPostBundle:     {Concurrency: 2, MaxAttempts: 10},
	LabelVerifyBundle:   {Concurrency: 2, MaxAttempts: 10},
	LabelSeedBundle:     {Concurrency: 2, MaxAttempts: 5},
	LabelPutOffsets:     {Concurrency: 2, MaxAttempts: 5},
	LabelOpticalPost:    {Concurrency: 3, MaxAttempts: 10},
	LabelUnbundleNested: {Concurrency: 2, MaxAttempts: 5},
	LabelFinalizeUpload: {Concurrency: 3, MaxAttempts: 5},
	LabelCleanupFS:      {Concurrency: 1, MaxAttempts: 3},
}

// Broker dispatches durable per-label jobs over Redis.
type Broker struct {
	rdb    *redis.Client
	logger *log.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	configs  map[string]labelConfig

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Config configures a new Broker.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Logger        *log.Logger
}

// NewBroker connects to Redis and constructs a Broker ready to register handlers.
func NewBroker(cfg Config) (*Broker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[Queue] ", log.LstdFlags)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	configs := make(map[string]labelConfig, len(defaultLabelConfigs))
	for k, v := range defaultLabelConfigs {
		configs[k] = v
	}

	return &Broker{
		rdb:      rdb,
		logger:   logger,
		handlers: make(map[string]Handler),
		configs:  configs,
		stopCh:   make(chan struct{}),
	}, nil
}

// Close releases the underlying Redis connection.
func (b *Broker) Close() error {
	return b.rdb.Close()
}

func readyKey(label string) string   { return "bundler:queue:" + label + ":ready" }
func delayedKey(label string) string { return "bundler:queue:" + label + ":delayed" }

// Enqueue pushes a job onto a label's ready queue for immediate processing.
func (b *Broker) Enqueue(ctx context.Context, label string, payload interface{}) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}

	job := &Job{ID: uuid.New().String(), Label: label, Payload: raw}
	jobJSON, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	score := float64(time.Now().UnixNano())
	if err := b.rdb.ZAdd(ctx, readyKey(label), redis.Z{Score: score, Member: jobJSON}).Err(); err != nil {
		return "", fmt.Errorf("enqueue job to %s: %w", label, err)
	}
	return job.ID, nil
}

// scheduleRetry re-enqueues a failed job into the delayed set, scored by
// its next-visible-at time, using an exponential backoff without jitter:
// baseBackoff * 2^attempts, capped at maxBackoff.
func (b *Broker) scheduleRetry(ctx context.Context, job *Job) error {
	backoff := time.Duration(math.Min(
		float64(maxBackoff),
		float64(baseBackoff)*math.Pow(2, float64(job.Attempts)),
	))
	visibleAt := time.Now().Add(backoff)

	jobJSON, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal retry job: %w", err)
	}

	return b.rdb.ZAdd(ctx, delayedKey(job.Label), redis.Z{
		Score:  float64(visibleAt.UnixNano()),
		Member: jobJSON,
	}).Err()
}

// promoteDelayed moves delayed jobs whose visible-at time has passed back
// onto the ready queue. Called once per polling tick per label.
func (b *Broker) promoteDelayed(ctx context.Context, label string) error {
	now := float64(time.Now().UnixNano())
	members, err := b.rdb.ZRangeByScore(ctx, delayedKey(label), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return fmt.Errorf("scan delayed jobs for %s: %w", label, err)
	}

	for _, m := range members {
		pipe := b.rdb.TxPipeline()
		pipe.ZRem(ctx, delayedKey(label), m)
		pipe.ZAdd(ctx, readyKey(label), redis.Z{Score: now, Member: m})
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("promote delayed job for %s: %w", label, err)
		}
	}
	return nil
}

// Register binds a handler to a label. Must be called before Start.
func (b *Broker) Register(label string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[label] = handler
}

// SetConcurrency overrides the default worker-pool size for a label.
func (b *Broker) SetConcurrency(label string, n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cfg := b.configs[label]
	cfg.Concurrency = n
	b.configs[label] = cfg
}

// Start launches a worker pool per registered label and begins polling.
func (b *Broker) Start(ctx context.Context) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for label, handler := range b.handlers {
		cfg := b.configs[label]
		if cfg.Concurrency == 0 {
			cfg.Concurrency = 1
		}
		for i := 0; i < cfg.Concurrency; i++ {
			b.wg.Add(1)
			go b.worker(ctx, label, handler, cfg.MaxAttempts)
		}
		b.wg.Add(1)
		go b.delayedPromoter(ctx, label)
	}
}

// Stop signals every worker goroutine to exit and waits for them to drain.
func (b *Broker) Stop() {
	close(b.stopCh)
	b.wg.Wait()
}

func (b *Broker) worker(ctx context.Context, label string, handler Handler, maxAttempts int) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		default:
		}

		job, err := b.popReady(ctx, label)
		if err != nil {
			b.logger.Printf("pop ready job for %s: %v", label, err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			time.Sleep(200 * time.Millisecond)
			continue
		}

		if err := handler(ctx, job); err != nil {
			job.Attempts++
			if job.Attempts >= maxAttempts {
				b.logger.Printf("job %s (%s) exhausted %d attempts, dropping: %v", job.ID, label, maxAttempts, err)
				continue
			}
			if retryErr := b.scheduleRetry(ctx, job); retryErr != nil {
				b.logger.Printf("failed to schedule retry for job %s: %v", job.ID, retryErr)
			}
		}
	}
}

func (b *Broker) popReady(ctx context.Context, label string) (*Job, error) {
	result, err := b.rdb.ZPopMin(ctx, readyKey(label), 1).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}

	raw, ok := result[0].Member.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected job member type %T", result[0].Member)
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

func (b *Broker) delayedPromoter(ctx context.Context, label string) {
	defer b.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case <-ticker.C:
			if err := b.promoteDelayed(ctx, label); err != nil {
				b.logger.Printf("promote delayed jobs for %s: %v", label, err)
			}
		}
	}
}
