// Copyright 2025 Certen Protocol

package optical

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// breakerWindow is the rolling window over which a sink's error rate is
// evaluated before ReadyToTrip reconsiders tripping it open.
const breakerWindow = time.Minute

// breakerOpenDuration is how long an open breaker blocks calls before
// allowing a single probe request through (half-open).
const breakerOpenDuration = 30 * time.Second

// breakerMinRequests is the minimum sample size a window must see before a
// high error rate is allowed to trip the breaker — guards against a single
// failed request in a quiet window tripping the sink.
const breakerMinRequests = 10

// sink is one downstream indexer endpoint behind its own circuit breaker.
type sink struct {
	name   string
	url    string
	client *http.Client
	cb     *gobreaker.CircuitBreaker
	logger *log.Logger
}

func newSink(name, url string, callTimeout time.Duration, logger *log.Logger) *sink {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     name,
		Interval: breakerWindow,
		Timeout:  breakerOpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerMinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Printf("sink %s breaker %s -> %s", name, from, to)
		},
	})

	return &sink{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: callTimeout},
		cb:     cb,
		logger: logger,
	}
}

// forward POSTs body to the sink through its breaker. A non-2xx response or
// transport error counts as a breaker failure; an open breaker fails fast
// without attempting the call.
func (s *sink) forward(ctx context.Context, body []byte) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request for sink %s: %w", s.name, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("sink %s unreachable: %w", s.name, err)
		}
		defer resp.Body.Close()

		if !httpStatusOK(resp) {
			return nil, fmt.Errorf("sink %s returned status %d", s.name, resp.StatusCode)
		}
		return nil, nil
	})
	return err
}
