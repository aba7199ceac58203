// Copyright 2025 Certen Protocol

package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/certen/bundler/pkg/config"
	"github.com/certen/bundler/pkg/pricing"
)

func testEngineNoRepo(t *testing.T, gatewayPrice uint64, fxRate float64) (*Engine, func()) {
	t.Helper()
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(gatewayPrice)
	}))
	fx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(fxRate)
	}))

	oracle := pricing.NewOracle(pricing.Config{GatewayURL: gateway.URL, FXURL: fx.URL, FeePercent: 30})
	engine := NewEngine(Config{
		Networks:       []config.NetworkConfig{sampleNetwork()},
		Oracle:         oracle,
		PublicBaseURL:  "https://bundler.example",
		FeePct:         30,
		FraudTolerance: 5,
	})
	return engine, func() {
		gateway.Close()
		fx.Close()
	}
}

func TestEngine_Quote_BuildsRequirementsFromOracle(t *testing.T) {
	engine, cleanup := testEngineNoRepo(t, 10, 1.0)
	defer cleanup()

	req, err := engine.Quote(context.Background(), "base", 1000, "/v1/tx")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if req.Scheme != "exact" {
		t.Fatalf("scheme = %q, want exact", req.Scheme)
	}
	if req.Network != "base" {
		t.Fatalf("network = %q, want base", req.Network)
	}
	if req.Resource != "https://bundler.example/v1/tx" {
		t.Fatalf("resource = %q", req.Resource)
	}
	if req.MaxTimeoutSeconds != 3600 {
		t.Fatalf("maxTimeoutSeconds = %d, want 3600", req.MaxTimeoutSeconds)
	}
	// 1000 bytes * 10 chainUnits/byte = 10000 chain units; at fx=1.0 and a
	// 30% fee that's 10000*1.3 = 13000 USD, i.e. 13_000_000_000 atomic
	// units at 6 decimals.
	if req.MaxAmountRequired != "13000000000" {
		t.Fatalf("maxAmountRequired = %q, want 13000000000", req.MaxAmountRequired)
	}
}

func TestEngine_Quote_UnknownNetworkReturnsNetworkDisabled(t *testing.T) {
	engine, cleanup := testEngineNoRepo(t, 10, 1.0)
	defer cleanup()

	_, err := engine.Quote(context.Background(), "nonexistent", 1000, "/v1/tx")
	if err == nil {
		t.Fatal("expected error for unknown network")
	}
}

func TestReconcileFraudBand_WithinToleranceConfirmed(t *testing.T) {
	r := reconcileFraudBand(1000, 1020, 5.0, 500)
	if r.Status != statusConfirmed {
		t.Fatalf("status = %q, want confirmed", r.Status)
	}
	if r.RefundAmount != nil {
		t.Fatal("expected no refund for confirmed payment")
	}
}

func TestReconcileFraudBand_BelowToleranceRefunded(t *testing.T) {
	r := reconcileFraudBand(1000, 800, 5.0, 500)
	if r.Status != statusRefunded {
		t.Fatalf("status = %q, want refunded", r.Status)
	}
	if r.RefundAmount == nil {
		t.Fatal("expected a refund amount")
	}
	// shortfall = 1 - 800/1000 = 0.2; refund = 500*0.2 = 100
	if *r.RefundAmount != 100 {
		t.Fatalf("refund = %v, want 100", *r.RefundAmount)
	}
}

func TestReconcileFraudBand_AboveToleranceFraudPenalty(t *testing.T) {
	r := reconcileFraudBand(1000, 1200, 5.0, 500)
	if r.Status != statusFraudPenalty {
		t.Fatalf("status = %q, want fraud_penalty", r.Status)
	}
	if !r.Quarantine {
		t.Fatal("expected quarantine flag for fraud penalty")
	}
	if r.RefundAmount != nil {
		t.Fatal("expected no refund for fraud penalty")
	}
}

func TestReconcileFraudBand_ExactBoundaryConfirmed(t *testing.T) {
	// exactly at the 5% upper boundary
	r := reconcileFraudBand(1000, 1050, 5.0, 500)
	if r.Status != statusConfirmed {
		t.Fatalf("status at exact upper boundary = %q, want confirmed", r.Status)
	}
}
