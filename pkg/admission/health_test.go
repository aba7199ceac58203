// Copyright 2025 Certen Protocol

package admission

import (
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
)

func TestHandleHealth_AlwaysOK(t *testing.T) {
	s := &Server{logger: log.New(os.Stdout, "[test] ", 0)}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleHealthDetailed_NoComponentsConfiguredIsHealthy(t *testing.T) {
	s := &Server{logger: log.New(os.Stdout, "[test] ", 0)}

	req := httptest.NewRequest(http.MethodGet, "/health/detailed", nil)
	rec := httptest.NewRecorder()
	s.handleHealthDetailed(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
