// Copyright 2025 Certen Protocol
//
// Unit tests for the Pricing Oracle

package pricing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testOracle(t *testing.T, gatewayPrice uint64, fxRate float64) (*Oracle, func()) {
	t.Helper()

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(gatewayPrice)
	}))
	fx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(fxRate)
	}))

	o := NewOracle(Config{GatewayURL: gateway.URL, FXURL: fx.URL, FeePercent: 30})
	return o, func() {
		gateway.Close()
		fx.Close()
	}
}

func TestChainUnitPriceForBytes(t *testing.T) {
	o, cleanup := testOracle(t, 10, 1.0)
	defer cleanup()

	price, err := o.ChainUnitPriceForBytes(context.Background(), 1000)
	if err != nil {
		t.Fatalf("ChainUnitPriceForBytes: %v", err)
	}
	if price != 10000 {
		t.Errorf("expected 10000, got %d", price)
	}
}

func TestChainUnitPriceForBytes_Cached(t *testing.T) {
	calls := 0
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(uint64(5))
	}))
	defer gateway.Close()

	o := NewOracle(Config{GatewayURL: gateway.URL, FeePercent: 30})
	ctx := context.Background()

	if _, err := o.ChainUnitPriceForBytes(ctx, 100); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := o.ChainUnitPriceForBytes(ctx, 100); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected cache to serve the second call without a new fetch, got %d gateway calls", calls)
	}
}

func TestStableForChainUnits_AppliesFeeAndFloor(t *testing.T) {
	o, cleanup := testOracle(t, 1, 2.0)
	defer cleanup()

	// tiny amount should hit the floor: 1 chain unit at $0.000000001 with
	// the 1.3 fee is 0.0013 atomic units, far below minStableFloor
	tiny, cleanupTiny := testOracle(t, 1, 0.000000001)
	defer cleanupTiny()
	atomic, err := tiny.StableForChainUnits(context.Background(), 1)
	if err != nil {
		t.Fatalf("StableForChainUnits: %v", err)
	}
	if atomic != minStableFloor {
		t.Errorf("expected floor %d, got %d", minStableFloor, atomic)
	}

	// larger amount: 1_000_000 chain units * $2 * 1.3 fee = $2,600,000 -> atomic units
	atomic2, err := o.StableForChainUnits(context.Background(), 1_000_000)
	if err != nil {
		t.Fatalf("StableForChainUnits large: %v", err)
	}
	want := uint64(1_000_000 * 2.0 * 1.3 * 1_000_000)
	if atomic2 != want {
		t.Errorf("expected %d, got %d", want, atomic2)
	}
}

func TestChainUnitsForStable_InverseOfStableForChainUnits(t *testing.T) {
	o, cleanup := testOracle(t, 1, 2.0)
	defer cleanup()
	ctx := context.Background()

	stable, err := o.StableForChainUnits(ctx, 1_000_000)
	if err != nil {
		t.Fatalf("StableForChainUnits: %v", err)
	}

	chainUnits, err := o.ChainUnitsForStable(ctx, stable)
	if err != nil {
		t.Fatalf("ChainUnitsForStable: %v", err)
	}

	// allow for integer truncation in the round trip
	if chainUnits < 999_000 || chainUnits > 1_000_000 {
		t.Errorf("expected round trip near 1_000_000, got %d", chainUnits)
	}
}
