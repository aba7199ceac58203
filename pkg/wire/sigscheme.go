// Copyright 2025 Certen Protocol
//
// Static signature-type registry. Dynamic dispatch over signature types is
// replaced by a table keyed on the 2-byte wire code, per the redesign notes.
// RSA-PSS-4096 and Ed25519 are verified with the standard library because no
// library in the examples pack implements this chain's specific deep-hash +
// RSA-PSS item-signing scheme (see DESIGN.md); the secp256k1 path reuses
// go-ethereum's crypto package, already wired for the payment engine.

package wire

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SignatureScheme describes one entry of the signature-type table.
type SignatureScheme struct {
	Name            string
	SignatureLength int
	PublicKeyLength int
	Verify          func(pubkey, sig, deepHash []byte) bool
}

// Registry maps wire signature-type codes to their scheme, per spec §6
// "Signature schemes".
var Registry = map[uint16]SignatureScheme{
	1: {
		Name:            "rsa-pss-4096",
		SignatureLength: 512,
		PublicKeyLength: 512,
		Verify:          verifyRSAPSS,
	},
	3: {
		Name:            "ecdsa-secp256k1",
		SignatureLength: 65,
		PublicKeyLength: 65,
		Verify:          verifySecp256k1,
	},
	4: {
		Name:            "ed25519",
		SignatureLength: 64,
		PublicKeyLength: 32,
		Verify:          verifyEd25519,
	},
}

func verifyRSAPSS(pubkeyBytes, sig, deepHash []byte) bool {
	pub := &rsa.PublicKey{N: new(big.Int).SetBytes(pubkeyBytes), E: 65537}
	hashed := sha256.Sum256(deepHash)
	err := rsa.VerifyPSS(pub, crypto.SHA256, hashed[:], sig, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	})
	return err == nil
}

func verifySecp256k1(pubkeyBytes, sig, deepHash []byte) bool {
	hashed := sha256.Sum256(deepHash)
	if len(sig) != 65 {
		return false
	}
	recovered, err := ethcrypto.SigToPub(hashed[:], sig)
	if err != nil {
		return false
	}
	recoveredBytes := ethcrypto.FromECDSAPub(recovered)
	return string(recoveredBytes) == string(pubkeyBytes)
}

func verifyEd25519(pubkeyBytes, sig, deepHash []byte) bool {
	if len(pubkeyBytes) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubkeyBytes), deepHash, sig)
}

// RegisterScheme allows adding a row to the signature-type table at
// startup, per spec §6: "Others permitted by adding a row."
func RegisterScheme(code uint16, s SignatureScheme) error {
	if _, exists := Registry[code]; exists {
		return fmt.Errorf("wire: signature type %d already registered", code)
	}
	Registry[code] = s
	return nil
}
