// Copyright 2025 Certen Protocol

package admission

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/certen/bundler/pkg/wallet"
)

func testWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "wallet.key")
	if err := os.WriteFile(path, []byte(hex.EncodeToString(crypto.FromECDSA(key))), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	w, err := wallet.LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	return w
}

func TestSign_ProducesVerifiableReceipt(t *testing.T) {
	w := testWallet(t)

	unsigned := newUnsignedReceipt("item-123", 42.5, 1000, []string{"cache-a"})
	signed, err := Sign(w, unsigned)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if signed.ID != "item-123" {
		t.Errorf("expected receipt id to round-trip, got %s", signed.ID)
	}
	if signed.OwnerAddress != w.Address() {
		t.Errorf("expected receipt owner address to be the signer's wallet address")
	}
	if signed.Signature == "" || signed.Signature[:2] != "0x" {
		t.Errorf("expected hex-encoded signature with 0x prefix, got %q", signed.Signature)
	}
	if signed.Version != receiptVersion {
		t.Errorf("expected version %s, got %s", receiptVersion, signed.Version)
	}
}

func TestSign_DifferentReceiptsProduceDifferentSignatures(t *testing.T) {
	w := testWallet(t)

	a, err := Sign(w, newUnsignedReceipt("item-a", 1, 1, nil))
	if err != nil {
		t.Fatalf("Sign a: %v", err)
	}
	b, err := Sign(w, newUnsignedReceipt("item-b", 1, 1, nil))
	if err != nil {
		t.Fatalf("Sign b: %v", err)
	}
	if a.Signature == b.Signature {
		t.Error("expected different receipts to produce different signatures")
	}
}
