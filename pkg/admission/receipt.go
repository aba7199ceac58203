// Copyright 2025 Certen Protocol
//
// Upload receipt construction and signing with the service's chain-native
// wallet.

package admission

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/certen/bundler/pkg/wallet"
)

const receiptVersion = "1.0.0"

// UnsignedReceipt is what the service commits to when it admits an item:
// a promise that the item will reach chain-native permanence by
// deadlineHeight.
type UnsignedReceipt struct {
	ID                  string   `json:"id"`
	Timestamp           int64    `json:"timestamp"`
	ChainUnitPrice      float64  `json:"chainUnitPrice"`
	Version             string   `json:"version"`
	DeadlineHeight      int64    `json:"deadlineHeight"`
	DataCaches          []string `json:"dataCaches"`
	FastFinalityIndexes []string `json:"fastFinalityIndexes"`
}

// SignedReceipt is the JSON body returned to the client on a successful
// upload.
type SignedReceipt struct {
	UnsignedReceipt
	OwnerAddress string `json:"ownerAddress"`
	Signature    string `json:"signature"`
}

// canonicalBytes produces a deterministic encoding of the receipt to sign
// over. Field order is fixed by the struct, so json.Marshal is stable here.
func (r UnsignedReceipt) canonicalBytes() ([]byte, error) {
	return json.Marshal(r)
}

// Sign builds the final SignedReceipt, signing the receipt's sha256 digest
// with the service wallet.
func Sign(w *wallet.Wallet, r UnsignedReceipt) (*SignedReceipt, error) {
	raw, err := r.canonicalBytes()
	if err != nil {
		return nil, fmt.Errorf("encode receipt: %w", err)
	}
	digest := sha256.Sum256(raw)
	sig, err := w.Sign(digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign receipt: %w", err)
	}
	return &SignedReceipt{
		UnsignedReceipt: r,
		OwnerAddress:    w.Address(),
		Signature:       hexEncode(sig),
	}, nil
}

// newUnsignedReceipt fills in a receipt for an item admitted now.
func newUnsignedReceipt(itemID string, chainUnitPrice float64, deadlineHeight int64, dataCaches []string) UnsignedReceipt {
	return UnsignedReceipt{
		ID:                  itemID,
		Timestamp:           time.Now().Unix(),
		ChainUnitPrice:      chainUnitPrice,
		Version:             receiptVersion,
		DeadlineHeight:      deadlineHeight,
		DataCaches:          dataCaches,
		FastFinalityIndexes: []string{},
	}
}
