// Copyright 2025 Certen Protocol
//
// Unit tests for the Object Store Adapter

package objectstore

import (
	"bytes"
	"context"
	"testing"
)

func TestClient_DisabledIsNoOp(t *testing.T) {
	client := &Client{enabled: false}
	ctx := context.Background()

	if err := client.Put(ctx, "raw-data-item/abc", bytes.NewReader([]byte("x")), "text/plain", 0); err != nil {
		t.Fatalf("expected Put to no-op, got %v", err)
	}

	ok, err := client.Exists(ctx, "raw-data-item/abc")
	if err != nil {
		t.Fatalf("expected Exists to no-op, got %v", err)
	}
	if ok {
		t.Error("expected Exists to report false while disabled")
	}

	page, err := client.ListByPrefix(ctx, "raw-data-item/", "")
	if err != nil {
		t.Fatalf("expected ListByPrefix to no-op, got %v", err)
	}
	if len(page.Keys) != 0 {
		t.Errorf("expected empty page while disabled, got %d keys", len(page.Keys))
	}

	if err := client.Delete(ctx, "raw-data-item/abc"); err != nil {
		t.Fatalf("expected Delete to no-op, got %v", err)
	}
}

func TestRawKey_PrefixesItemID(t *testing.T) {
	got := RawKey("item-123")
	want := "raw-data-item/item-123"
	if got != want {
		t.Errorf("RawKey(%q) = %q, want %q", "item-123", got, want)
	}
}

func TestIsEnabled(t *testing.T) {
	disabled := &Client{enabled: false}
	if disabled.IsEnabled() {
		t.Error("expected IsEnabled() false")
	}

	enabled := &Client{enabled: true}
	if !enabled.IsEnabled() {
		t.Error("expected IsEnabled() true")
	}
}
