// Copyright 2025 Certen Protocol

package optical

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/certen/bundler/pkg/database"
	"github.com/certen/bundler/pkg/wallet"
)

func testWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "key.hex")
	// Any nonzero 32-byte scalar below the secp256k1 order is a valid key.
	key := "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f3624a"
	if err := os.WriteFile(path, []byte(key), 0o600); err != nil {
		t.Fatalf("write fixture key: %v", err)
	}
	w, err := wallet.LoadFromFile(path)
	if err != nil {
		t.Fatalf("load fixture wallet: %v", err)
	}
	return w
}

func TestSignedHeader_CarriesItemFieldsAndSignature(t *testing.T) {
	w := testWallet(t)
	b := &Bridge{wallet: w}

	item := database.Item{
		ID:                 "item-123",
		OwnerAddress:       "owner-abc",
		ByteCount:          4096,
		PayloadContentType: "image/png",
		Tags:               []database.ItemTag{{Name: "Content-Type", Value: "image/png"}},
		DeadlineHeight:     5000,
	}

	raw, err := b.signedHeader(item)
	if err != nil {
		t.Fatalf("signedHeader: %v", err)
	}

	var h opticalHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		t.Fatalf("unmarshal signed header: %v", err)
	}

	if h.ItemID != item.ID || h.OwnerAddress != item.OwnerAddress || h.ByteCount != item.ByteCount {
		t.Fatalf("signed header lost item fields: %+v", h)
	}
	if h.SignerAddr != w.Address() {
		t.Fatalf("expected signer %s, got %s", w.Address(), h.SignerAddr)
	}
	if h.Signature == "" {
		t.Fatal("expected a non-empty signature")
	}
}

func TestSignedHeader_DeterministicAcrossCalls(t *testing.T) {
	w := testWallet(t)
	b := &Bridge{wallet: w}
	item := database.Item{ID: "item-456", ByteCount: 10}

	first, err := b.signedHeader(item)
	if err != nil {
		t.Fatalf("signedHeader: %v", err)
	}
	second, err := b.signedHeader(item)
	if err != nil {
		t.Fatalf("signedHeader: %v", err)
	}

	var h1, h2 opticalHeader
	json.Unmarshal(first, &h1)
	json.Unmarshal(second, &h2)
	if h1.SignerAddr != h2.SignerAddr {
		t.Fatalf("expected stable signer address across calls")
	}
}
