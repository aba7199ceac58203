// Copyright 2025 Certen Protocol

package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFacilitatorClient_Settle_FallsThroughToSecond(t *testing.T) {
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer first.Close()

	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(facilitatorSettleResponse{
			Success:     true,
			Transaction: "0xabc123",
			Network:     "base",
			Payer:       "0x1111111111111111111111111111111111111111",
		})
	}))
	defer second.Close()

	c := NewFacilitatorClient()
	env := &Envelope{X402Version: 1, Scheme: "exact", Network: "base"}
	req := sampleRequirements()

	result, err := c.Settle(context.Background(), []string{first.URL, second.URL}, env, req)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if result.TxHash != "0xabc123" {
		t.Fatalf("txHash = %q, want 0xabc123", result.TxHash)
	}
}

func TestFacilitatorClient_Settle_AllFailReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewFacilitatorClient()
	env := &Envelope{X402Version: 1}
	req := sampleRequirements()

	_, err := c.Settle(context.Background(), []string{srv.URL}, env, req)
	if err == nil {
		t.Fatal("expected error when every facilitator fails")
	}
}

func TestFacilitatorClient_Settle_NoSuccessFieldRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(facilitatorSettleResponse{Success: false, ErrorReason: "insufficient_funds"})
	}))
	defer srv.Close()

	c := NewFacilitatorClient()
	env := &Envelope{X402Version: 1}
	req := sampleRequirements()

	_, err := c.Settle(context.Background(), []string{srv.URL}, env, req)
	if err == nil {
		t.Fatal("expected error for unsuccessful settlement")
	}
}

func TestFacilitatorClient_VerifyRemote_AcceptsFirstValid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(facilitatorVerifyResponse{IsValid: true, Payer: "0x1111111111111111111111111111111111111111"})
	}))
	defer srv.Close()

	c := NewFacilitatorClient()
	env := &Envelope{X402Version: 1}
	req := sampleRequirements()

	if err := c.VerifyRemote(context.Background(), []string{srv.URL}, env, req); err != nil {
		t.Fatalf("VerifyRemote: %v", err)
	}
}
