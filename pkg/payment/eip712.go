// Copyright 2025 Certen Protocol
//
// EIP-712 typed-data hashing for EIP-3009 transferWithAuthorization, and the
// manual ABI encoding of the call used to settle it on-chain.

package payment

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Pre-computed EIP-712 type hashes; constant across every network and call.
var (
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
	authTypeHash = crypto.Keccak256Hash([]byte(
		"TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)",
	))
)

// transferWithAuthSelector is the 4-byte selector for the EIP-3009
// transferWithAuthorization call.
var transferWithAuthSelector = crypto.Keccak256([]byte(
	"transferWithAuthorization(address,address,uint256,uint256,uint256,bytes32,uint8,bytes32,bytes32)",
))[:4]

// isValidSignatureSelector is the 4-byte selector for ERC-1271's
// isValidSignature(bytes32,bytes).
var isValidSignatureSelector = crypto.Keccak256([]byte("isValidSignature(bytes32,bytes)"))[:4]

// erc1271MagicValue is the 4-byte value a compliant smart wallet returns
// from isValidSignature when the signature is valid.
var erc1271MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

func pad32(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

func addrPad(a common.Address) []byte {
	padded := make([]byte, 32)
	copy(padded[12:], a.Bytes())
	return padded
}

func domainSeparator(name, version string, chainID *big.Int, verifyingContract common.Address) common.Hash {
	enc := make([]byte, 5*32)
	copy(enc[0:32], domainTypeHash.Bytes())
	copy(enc[32:64], crypto.Keccak256([]byte(name)))
	copy(enc[64:96], crypto.Keccak256([]byte(version)))
	copy(enc[96:128], pad32(chainID))
	copy(enc[128:160], addrPad(verifyingContract))
	return crypto.Keccak256Hash(enc)
}

func authHash(from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte) common.Hash {
	enc := make([]byte, 7*32)
	copy(enc[0:32], authTypeHash.Bytes())
	copy(enc[32:64], addrPad(from))
	copy(enc[64:96], addrPad(to))
	copy(enc[96:128], pad32(value))
	copy(enc[128:160], pad32(validAfter))
	copy(enc[160:192], pad32(validBefore))
	copy(enc[192:224], nonce[:])
	return crypto.Keccak256Hash(enc)
}

// eip712Digest computes the final signing digest for an authorization,
// `keccak256(0x19 0x01 || domainSeparator || authHash)`, over the given
// token contract and chain.
func eip712Digest(tokenName, tokenVersion string, chainID *big.Int, tokenAddr common.Address, auth Authorization) (common.Hash, [32]byte, error) {
	from := common.HexToAddress(auth.From)
	to := common.HexToAddress(auth.To)
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return common.Hash{}, [32]byte{}, fmt.Errorf("invalid value %q", auth.Value)
	}
	validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
	if !ok {
		return common.Hash{}, [32]byte{}, fmt.Errorf("invalid validAfter %q", auth.ValidAfter)
	}
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return common.Hash{}, [32]byte{}, fmt.Errorf("invalid validBefore %q", auth.ValidBefore)
	}

	nonce, err := decodeNonce(auth.Nonce)
	if err != nil {
		return common.Hash{}, [32]byte{}, err
	}

	ds := domainSeparator(tokenName, tokenVersion, chainID, tokenAddr)
	ah := authHash(from, to, value, validAfter, validBefore, nonce)

	digest := crypto.Keccak256Hash(append([]byte{0x19, 0x01}, append(ds.Bytes(), ah.Bytes()...)...))
	return digest, nonce, nil
}

func decodeNonce(s string) ([32]byte, error) {
	var nonce [32]byte
	hexStr := strings.TrimPrefix(s, "0x")
	if len(hexStr) > 64 {
		return nonce, fmt.Errorf("nonce too long: %q", s)
	}
	b, err := decodeHex(hexStr)
	if err != nil {
		return nonce, fmt.Errorf("invalid nonce %q: %w", s, err)
	}
	copy(nonce[32-len(b):], b)
	return nonce, nil
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		s = "0" + s
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		var hi, lo byte
		var err error
		if hi, err = hexNibble(s[i*2]); err != nil {
			return nil, err
		}
		if lo, err = hexNibble(s[i*2+1]); err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex digit %q", c)
	}
}

// packTransferWithAuth manually ABI-encodes the EIP-3009
// transferWithAuthorization call, avoiding a runtime abi.JSON parse.
func packTransferWithAuth(from, to common.Address, value, validAfter, validBefore *big.Int, nonce [32]byte, v uint8, r, s [32]byte) []byte {
	data := make([]byte, 4+9*32)
	copy(data[:4], transferWithAuthSelector)
	off := 4
	copy(data[off+12:off+32], from.Bytes())
	off += 32
	copy(data[off+12:off+32], to.Bytes())
	off += 32
	copy(data[off:off+32], pad32(value))
	off += 32
	copy(data[off:off+32], pad32(validAfter))
	off += 32
	copy(data[off:off+32], pad32(validBefore))
	off += 32
	copy(data[off:off+32], nonce[:])
	off += 32
	data[off+31] = v
	off += 32
	copy(data[off:off+32], r[:])
	off += 32
	copy(data[off:off+32], s[:])
	return data
}

// packIsValidSignature ABI-encodes a call to ERC-1271's
// isValidSignature(bytes32 hash, bytes signature).
func packIsValidSignature(digest common.Hash, signature []byte) []byte {
	// head: selector, hash (32), offset-to-bytes (32), tail: len(sig) (32) + sig padded to 32
	sigWords := (len(signature) + 31) / 32
	data := make([]byte, 4+32+32+32+sigWords*32)
	copy(data[:4], isValidSignatureSelector)
	off := 4
	copy(data[off:off+32], digest.Bytes())
	off += 32
	copy(data[off:off+32], pad32(big.NewInt(64)))
	off += 32
	copy(data[off:off+32], pad32(big.NewInt(int64(len(signature)))))
	off += 32
	copy(data[off:off+len(signature)], signature)
	return data
}
