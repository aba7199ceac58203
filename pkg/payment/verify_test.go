// Copyright 2025 Certen Protocol

package payment

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/certen/bundler/pkg/apierr"
	"github.com/certen/bundler/pkg/config"
)

func sampleRequirements() *Requirements {
	return &Requirements{
		Scheme:            "exact",
		Network:           "base",
		MaxAmountRequired: "1000",
		Resource:          "https://example.test/v1/tx",
		PayTo:             "0x2222222222222222222222222222222222222222",
		Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7",
		MaxTimeoutSeconds: 3600,
		Extra:             RequirementsExtra{Name: "USD Coin", Version: "2"},
	}
}

func sampleNetwork() config.NetworkConfig {
	return config.NetworkConfig{
		Name:         "base",
		ChainID:      8453,
		RPCURL:       "http://127.0.0.1:0",
		TokenAddress: "0x036CbD53842c5426634e7929541eC2318f3dCF7",
		TokenName:    "USD Coin",
		TokenVersion: "2",
		PayTo:        "0x2222222222222222222222222222222222222222",
		Facilitators: []string{"https://facilitator.example"},
		Enabled:      true,
	}
}

func signedEnvelope(t *testing.T, req *Requirements, net config.NetworkConfig, validBefore int64, value string) (*Envelope, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	auth := Authorization{
		From:        from.Hex(),
		To:          req.PayTo,
		Value:       value,
		ValidAfter:  "0",
		ValidBefore: itoa(validBefore),
		Nonce:       "0x" + strings.Repeat("ab", 32),
	}

	digest, _, err := eip712Digest(req.Extra.Name, req.Extra.Version, big.NewInt(net.ChainID), common.HexToAddress(req.Asset), auth)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	// go-ethereum's Sign returns v in {0,1}; contracts/ecrecover expect {27,28}.
	sig[64] += 27

	return &Envelope{
		X402Version: 1,
		Scheme:      req.Scheme,
		Network:     req.Network,
		Payload: Payload{
			Signature:     "0x" + hex.EncodeToString(sig),
			Authorization: auth,
		},
	}, from
}

func TestVerify_ValidEOASignaturePasses(t *testing.T) {
	req := sampleRequirements()
	net := sampleNetwork()
	env, _ := signedEnvelope(t, req, net, time.Now().Add(time.Hour).Unix(), req.MaxAmountRequired)

	if err := Verify(context.Background(), net, req, env); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerify_ExpiredAuthorizationRejected(t *testing.T) {
	req := sampleRequirements()
	net := sampleNetwork()
	env, _ := signedEnvelope(t, req, net, time.Now().Add(-time.Hour).Unix(), req.MaxAmountRequired)

	err := Verify(context.Background(), net, req, env)
	if err == nil {
		t.Fatal("expected expiry rejection")
	}
	if apierr.KindOf(err) != apierr.KindPaymentExpired {
		t.Fatalf("expected KindPaymentExpired, got %v", apierr.KindOf(err))
	}
}

func TestVerify_InsufficientAmountRejected(t *testing.T) {
	req := sampleRequirements()
	net := sampleNetwork()
	env, _ := signedEnvelope(t, req, net, time.Now().Add(time.Hour).Unix(), "1")

	err := Verify(context.Background(), net, req, env)
	if err == nil {
		t.Fatal("expected insufficient-amount rejection")
	}
	if apierr.KindOf(err) != apierr.KindPaymentAmountInsufficient {
		t.Fatalf("expected KindPaymentAmountInsufficient, got %v", apierr.KindOf(err))
	}
}

func TestVerify_NetworkMismatchRejected(t *testing.T) {
	req := sampleRequirements()
	net := sampleNetwork()
	env, _ := signedEnvelope(t, req, net, time.Now().Add(time.Hour).Unix(), req.MaxAmountRequired)
	env.Network = "other-network"

	err := Verify(context.Background(), net, req, env)
	if apierr.KindOf(err) != apierr.KindPaymentDecodeError {
		t.Fatalf("expected KindPaymentDecodeError, got %v", apierr.KindOf(err))
	}
}

func TestVerify_TamperedSignatureFallsThroughToContractWalletAndFails(t *testing.T) {
	req := sampleRequirements()
	net := sampleNetwork()
	env, from := signedEnvelope(t, req, net, time.Now().Add(time.Hour).Unix(), req.MaxAmountRequired)
	_ = from

	// Corrupt the signature so EOA recovery fails; the contract-wallet
	// fallback then also fails because RPCURL is unreachable, which
	// should surface as a signature-invalid error rather than a panic.
	sigBytes, _ := decodeSignatureBytes(env.Payload.Signature)
	sigBytes[0] ^= 0xFF
	env.Payload.Signature = "0x" + hex.EncodeToString(sigBytes)

	err := Verify(context.Background(), net, req, env)
	if err == nil {
		t.Fatal("expected signature verification to fail")
	}
	if apierr.KindOf(err) != apierr.KindPaymentSignatureInvalid {
		t.Fatalf("expected KindPaymentSignatureInvalid, got %v: %v", apierr.KindOf(err), err)
	}
}

func TestDecodeEnvelope_RoundTrip(t *testing.T) {
	env := &Envelope{
		X402Version: 1,
		Scheme:      "exact",
		Network:     "base",
		Payload: Payload{
			Signature: "0xdeadbeef",
			Authorization: Authorization{
				From: "0x1111111111111111111111111111111111111111",
				To:   "0x2222222222222222222222222222222222222222",
			},
		},
	}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b64 := base64.StdEncoding.EncodeToString(raw)

	decoded, err := DecodeEnvelope(b64)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if decoded.Payload.Authorization.From != env.Payload.Authorization.From {
		t.Fatalf("round trip mismatch")
	}
}

func TestDecodeEnvelope_InvalidBase64Rejected(t *testing.T) {
	_, err := DecodeEnvelope("not-base64!!!")
	if apierr.KindOf(err) != apierr.KindPaymentDecodeError {
		t.Fatalf("expected KindPaymentDecodeError, got %v", apierr.KindOf(err))
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
