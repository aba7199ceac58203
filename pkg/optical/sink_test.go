// Copyright 2025 Certen Protocol

package optical

import (
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "[test] ", 0)
}

func TestSinkForward_SuccessOnOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newSink("primary", srv.URL, time.Second, testLogger())
	if err := s.forward(context.Background(), []byte(`{}`)); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestSinkForward_NonOKStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := newSink("primary", srv.URL, time.Second, testLogger())
	if err := s.forward(context.Background(), []byte(`{}`)); err == nil {
		t.Fatal("expected a 500 response to surface as an error")
	}
}

func TestSinkForward_BreakerTripsAfterMajorityFailures(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := newSink("flaky", srv.URL, time.Second, testLogger())

	for i := 0; i < breakerMinRequests+1; i++ {
		_ = s.forward(context.Background(), []byte(`{}`))
	}

	seenBefore := atomic.LoadInt64(&hits)
	if err := s.forward(context.Background(), []byte(`{}`)); err == nil {
		t.Fatal("expected the open breaker to fail fast")
	}
	if atomic.LoadInt64(&hits) != seenBefore {
		t.Fatal("expected the open breaker to skip calling the server entirely")
	}
}
