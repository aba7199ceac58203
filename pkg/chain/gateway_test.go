// Copyright 2025 Certen Protocol

package chain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGateway_CurrentHeight_FallsThroughToSecondURL(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"height": 12345}`))
	}))
	defer good.Close()

	gw := NewGateway([]string{bad.URL, good.URL})
	h, err := gw.CurrentHeight(context.Background())
	if err != nil {
		t.Fatalf("CurrentHeight: %v", err)
	}
	if h != 12345 {
		t.Errorf("expected height 12345, got %d", h)
	}
}

func TestGateway_CurrentHeight_AllFailReturnsError(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	gw := NewGateway([]string{bad.URL})
	if _, err := gw.CurrentHeight(context.Background()); err == nil {
		t.Fatal("expected an error when every gateway fails")
	}
}

func TestGateway_CurrentHeight_NoURLsConfigured(t *testing.T) {
	gw := NewGateway(nil)
	if _, err := gw.CurrentHeight(context.Background()); err == nil {
		t.Fatal("expected an error with no gateways configured")
	}
}

func TestGateway_SubmitBundle_ReturnsTxID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tx" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "bundle-tx-1"}`))
	}))
	defer srv.Close()

	gw := NewGateway([]string{srv.URL})
	id, err := gw.SubmitBundle(context.Background(), []byte("bundle bytes"))
	if err != nil {
		t.Fatalf("SubmitBundle: %v", err)
	}
	if id != "bundle-tx-1" {
		t.Errorf("expected tx id bundle-tx-1, got %s", id)
	}
}

func TestGateway_SubmitBundle_NoURLsConfigured(t *testing.T) {
	gw := NewGateway(nil)
	if _, err := gw.SubmitBundle(context.Background(), []byte("x")); err == nil {
		t.Fatal("expected an error with no gateways configured")
	}
}

func TestGateway_TxStatus_FoundWithConfirmations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"found": true, "confirmations": 20}`))
	}))
	defer srv.Close()

	gw := NewGateway([]string{srv.URL})
	confirmations, found, err := gw.TxStatus(context.Background(), "bundle-tx-1")
	if err != nil {
		t.Fatalf("TxStatus: %v", err)
	}
	if !found || confirmations != 20 {
		t.Errorf("expected found=true confirmations=20, got found=%v confirmations=%d", found, confirmations)
	}
}

func TestGateway_TxStatus_NotFoundAcrossAllGateways(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	gw := NewGateway([]string{srv.URL})
	_, found, err := gw.TxStatus(context.Background(), "unknown-tx")
	if err != nil {
		t.Fatalf("TxStatus: %v", err)
	}
	if found {
		t.Error("expected found=false for a 404 from every gateway")
	}
}
