// Copyright 2025 Certen Protocol
//
// Deep-hash construction: the signature covers a hash of the header fields
// concatenated with the payload, chunked so large payloads can be hashed
// incrementally without buffering the whole item.

package wire

import (
	"crypto/sha256"
	"encoding/binary"
)

// DeepHash folds the header's signed fields and a precomputed payload hash
// into the value that was actually signed.
func DeepHash(h *ItemHeader, payloadHash []byte) []byte {
	hasher := sha256.New()
	hasher.Write(u16(h.SignatureType))
	hasher.Write(h.OwnerPublicKey)
	if h.Target != nil {
		hasher.Write([]byte{1})
		hasher.Write(h.Target)
	} else {
		hasher.Write([]byte{0})
	}
	if h.Anchor != nil {
		hasher.Write([]byte{1})
		hasher.Write(h.Anchor)
	} else {
		hasher.Write([]byte{0})
	}
	for _, t := range h.Tags {
		hasher.Write([]byte(t.Name))
		hasher.Write([]byte(t.Value))
	}
	hasher.Write(payloadHash)
	return hasher.Sum(nil)
}

// VerifySignature verifies an item's signature against the deep-hash of its
// header and payload, dispatching through the signature-type registry.
func VerifySignature(h *ItemHeader, payloadHash []byte) (bool, error) {
	scheme, ok := Registry[h.SignatureType]
	if !ok {
		return false, ErrUnknownSignatureType
	}
	dh := DeepHash(h, payloadHash)
	return scheme.Verify(h.OwnerPublicKey, h.Signature, dh), nil
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}
