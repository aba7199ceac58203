// Copyright 2025 Certen Protocol

package optical

import (
	"crypto/sha256"
	"encoding/hex"
)

func sha256Sum(b []byte) []byte {
	sum := sha256.Sum256(b)
	return sum[:]
}

func hexEncode(b []byte) string {
	return hex.EncodeToString(b)
}
