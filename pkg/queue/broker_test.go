// Copyright 2025 Certen Protocol
//
// Unit tests for the Queue Broker
// Uses a test Redis instance or skips when unconfigured

package queue

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"
)

func testBroker(t *testing.T) *Broker {
	t.Helper()
	addr := os.Getenv("BUNDLER_TEST_REDIS")
	if addr == "" {
		t.Skip("Test redis not configured")
	}
	b, err := NewBroker(Config{RedisAddr: addr})
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	return b
}

func TestEnqueueAndProcess(t *testing.T) {
	b := testBroker(t)
	defer b.Close()

	var mu sync.Mutex
	var processed []string

	b.Register(LabelNewItem, func(ctx context.Context, job *Job) error {
		mu.Lock()
		processed = append(processed, job.ID)
		mu.Unlock()
		return nil
	})
	b.SetConcurrency(LabelNewItem, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)
	defer b.Stop()

	jobID, err := b.Enqueue(context.Background(), LabelNewItem, map[string]string{"itemId": "abc"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(processed)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(processed) != 1 || processed[0] != jobID {
		t.Fatalf("expected job %s processed once, got %v", jobID, processed)
	}
}

func TestRetryOnFailure(t *testing.T) {
	b := testBroker(t)
	defer b.Close()

	var mu sync.Mutex
	attempts := 0

	b.Register(LabelPlanBundle, func(ctx context.Context, job *Job) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 2 {
			return errRetryMe
		}
		return nil
	})
	b.SetConcurrency(LabelPlanBundle, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)
	defer b.Stop()

	if _, err := b.Enqueue(context.Background(), LabelPlanBundle, map[string]string{}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// first attempt fails fast; retry is scheduled ~2s out (base backoff
	// doubled once, since Attempts is already 1), so give the promoter a
	// couple of ticks beyond that to pick it back up.
	deadline := time.Now().Add(6 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := attempts
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts < 2 {
		t.Fatalf("expected at least 2 attempts after retry, got %d", attempts)
	}
}

var errRetryMe = &retryError{}

type retryError struct{}

func (e *retryError) Error() string { return "retry me" }
