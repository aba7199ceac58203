// Copyright 2025 Certen Protocol

package payment

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func TestEIP712Digest_RecoversSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	to := common.HexToAddress("0x00000000000000000000000000000000000001")
	tokenAddr := common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7")

	auth := Authorization{
		From:        from.Hex(),
		To:          to.Hex(),
		Value:       "1000000",
		ValidAfter:  "0",
		ValidBefore: "9999999999",
		Nonce:       "0x11" + strings.Repeat("00", 31),
	}

	digest, _, err := eip712Digest("USD Coin", "2", big.NewInt(8453), tokenAddr, auth)
	if err != nil {
		t.Fatalf("eip712Digest: %v", err)
	}

	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	recovered, err := recoverEOA(digest, sig)
	if err != nil {
		t.Fatalf("recoverEOA: %v", err)
	}
	if recovered != from {
		t.Fatalf("recovered %s, want %s", recovered.Hex(), from.Hex())
	}
}

func TestEIP712Digest_DeterministicAcrossCalls(t *testing.T) {
	tokenAddr := common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7")
	auth := Authorization{
		From:        "0x1111111111111111111111111111111111111111",
		To:          "0x2222222222222222222222222222222222222222",
		Value:       "5000",
		ValidAfter:  "100",
		ValidBefore: "200",
		Nonce:       "0xabcdef",
	}

	d1, n1, err := eip712Digest("USD Coin", "2", big.NewInt(1), tokenAddr, auth)
	if err != nil {
		t.Fatalf("first digest: %v", err)
	}
	d2, n2, err := eip712Digest("USD Coin", "2", big.NewInt(1), tokenAddr, auth)
	if err != nil {
		t.Fatalf("second digest: %v", err)
	}
	if d1 != d2 {
		t.Fatalf("digest not deterministic: %s != %s", d1.Hex(), d2.Hex())
	}
	if n1 != n2 {
		t.Fatalf("nonce decode not deterministic")
	}
}

func TestEIP712Digest_DifferentChainIDChangesDigest(t *testing.T) {
	tokenAddr := common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7")
	auth := Authorization{
		From:        "0x1111111111111111111111111111111111111111",
		To:          "0x2222222222222222222222222222222222222222",
		Value:       "5000",
		ValidAfter:  "100",
		ValidBefore: "200",
		Nonce:       "0xabcdef",
	}

	d1, _, _ := eip712Digest("USD Coin", "2", big.NewInt(1), tokenAddr, auth)
	d2, _, _ := eip712Digest("USD Coin", "2", big.NewInt(8453), tokenAddr, auth)
	if d1 == d2 {
		t.Fatal("expected digest to change across chain ids")
	}
}

func TestPackTransferWithAuth_FixedLength(t *testing.T) {
	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	var nonce [32]byte
	var r, s [32]byte
	data := packTransferWithAuth(from, to, big.NewInt(1000), big.NewInt(0), big.NewInt(999), nonce, 27, r, s)
	wantLen := 4 + 9*32
	if len(data) != wantLen {
		t.Fatalf("packed call data length = %d, want %d", len(data), wantLen)
	}
	for i, b := range transferWithAuthSelector {
		if data[i] != b {
			t.Fatalf("selector mismatch at byte %d", i)
		}
	}
}
