// Copyright 2025 Certen Protocol
//
// Service wallet: signs upload receipts with the chain-native
// ecdsa-secp256k1 scheme (wire signature-type code 3), so a receipt
// verifies through the same signature-type table as any other item.

package wallet

import (
	"crypto/ecdsa"
	"encoding/base64"
	"crypto/sha256"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet holds the service's chain-native signing key.
type Wallet struct {
	key       *ecdsa.PrivateKey
	publicKey []byte
	address   string
}

// LoadFromFile reads a hex-encoded secp256k1 private key from path. The key
// itself is provisioned by an external secret loader; this only parses it.
func LoadFromFile(path string) (*Wallet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service wallet key %s: %w", path, err)
	}
	hexKey := strings.TrimSpace(string(raw))
	hexKey = strings.TrimPrefix(hexKey, "0x")

	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse service wallet key: %w", err)
	}

	pub := crypto.FromECDSAPub(&key.PublicKey)
	sum := sha256.Sum256(pub)
	address := base64.RawURLEncoding.EncodeToString(sum[:])

	return &Wallet{key: key, publicKey: pub, address: address}, nil
}

// Address returns the chain-native wallet address, derived the same way as
// wire.OwnerAddress so a receipt's signer address matches the convention
// used for uploaded items.
func (w *Wallet) Address() string { return w.address }

// PublicKey returns the raw 65-byte uncompressed public key.
func (w *Wallet) PublicKey() []byte { return w.publicKey }

// Sign signs digest (typically sha256 of a canonical receipt encoding) and
// returns a 65-byte signature verifiable under wire signature-type 3.
func (w *Wallet) Sign(digest []byte) ([]byte, error) {
	sig, err := crypto.Sign(digest, w.key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}
