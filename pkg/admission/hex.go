// Copyright 2025 Certen Protocol

package admission

import "encoding/hex"

func hexEncode(b []byte) string { return "0x" + hex.EncodeToString(b) }
