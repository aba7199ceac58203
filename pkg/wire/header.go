// Copyright 2025 Certen Protocol
//
// Streaming decoder/encoder for the bundled-transaction item wire format.
// Per-item layout: 2-byte signature-type, signature, owner public key,
// 1+32-byte target (presence flag + 32 bytes), 1+32-byte anchor, 16-byte
// tag-count + tag-count-bytes, tags, payload.

package wire

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

// ItemHeader holds every field decoded before the payload is consumed.
type ItemHeader struct {
	SignatureType    uint16
	Signature        []byte
	OwnerPublicKey   []byte
	Target           []byte // 32 bytes, nil if absent
	Anchor           []byte // 32 bytes, nil if absent
	Tags             []Tag
	PayloadDataStart int64 // absolute offset of payload within the item
	RawHeaderBytes   []byte
}

// Tag is an ordered (name, value) pair carried in an item header.
type Tag struct {
	Name  string
	Value string
}

// Errors returned by the codec (see SPEC_FULL.md §4.1).
var (
	ErrInvalidHeader      = fmt.Errorf("wire: invalid header")
	ErrUnknownSignatureType = fmt.Errorf("wire: unknown signature type")
	ErrPayloadTooLarge    = fmt.Errorf("wire: payload too large")
	ErrSignatureInvalid   = fmt.Errorf("wire: signature invalid")
)

// DecodeHeader reads one item's header from r, returning the header fields
// and the stream positioned at the first payload byte. It blocks only until
// all header bytes (whose length depends on the signature type) have
// arrived — never on payload bytes.
func DecodeHeader(r io.Reader) (*ItemHeader, error) {
	var raw []byte
	readAppend := func(n int) ([]byte, error) {
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidHeader, err)
		}
		raw = append(raw, buf...)
		return buf, nil
	}

	sigTypeBytes, err := readAppend(2)
	if err != nil {
		return nil, err
	}
	sigType := uint16(sigTypeBytes[0])<<8 | uint16(sigTypeBytes[1])

	scheme, ok := Registry[sigType]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSignatureType, sigType)
	}

	signature, err := readAppend(scheme.SignatureLength)
	if err != nil {
		return nil, err
	}
	pubkey, err := readAppend(scheme.PublicKeyLength)
	if err != nil {
		return nil, err
	}

	targetFlag, err := readAppend(1)
	if err != nil {
		return nil, err
	}
	var target []byte
	if targetFlag[0] == 1 {
		target, err = readAppend(32)
		if err != nil {
			return nil, err
		}
	}

	anchorFlag, err := readAppend(1)
	if err != nil {
		return nil, err
	}
	var anchor []byte
	if anchorFlag[0] == 1 {
		anchor, err = readAppend(32)
		if err != nil {
			return nil, err
		}
	}

	tagCountBytes, err := readAppend(8)
	if err != nil {
		return nil, err
	}
	tagBytesLenBytes, err := readAppend(8)
	if err != nil {
		return nil, err
	}
	tagCount := beUint64(tagCountBytes)
	tagBytesLen := beUint64(tagBytesLenBytes)

	var tags []Tag
	if tagBytesLen > 0 {
		tagBlob, err := readAppend(int(tagBytesLen))
		if err != nil {
			return nil, err
		}
		tags, err = decodeTags(tagBlob, int(tagCount))
		if err != nil {
			return nil, err
		}
	}

	return &ItemHeader{
		SignatureType:    sigType,
		Signature:        signature,
		OwnerPublicKey:   pubkey,
		Target:           target,
		Anchor:           anchor,
		Tags:             tags,
		PayloadDataStart: int64(len(raw)),
		RawHeaderBytes:   raw,
	}, nil
}

// ComputeItemId returns the base64url id of an item: the hash of its
// signature bytes.
func ComputeItemId(h *ItemHeader) string {
	sum := sha256.Sum256(h.Signature)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// OwnerAddress derives the chain-native wallet address from an item's owner
// public key: the base64url hash of the key, independent of signature
// scheme, matching the chain's wallet-address convention.
func OwnerAddress(h *ItemHeader) string {
	sum := sha256.Sum256(h.OwnerPublicKey)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// decodeTags is a placeholder for the name-value tag block codec; each tag
// is length-prefixed name then length-prefixed value, matching the header's
// own length-prefix convention.
func decodeTags(blob []byte, count int) ([]Tag, error) {
	tags := make([]Tag, 0, count)
	off := 0
	for i := 0; i < count; i++ {
		if off+4 > len(blob) {
			return nil, fmt.Errorf("%w: truncated tag name length", ErrInvalidHeader)
		}
		nameLen := int(beUint32(blob[off : off+4]))
		off += 4
		if off+nameLen > len(blob) {
			return nil, fmt.Errorf("%w: truncated tag name", ErrInvalidHeader)
		}
		name := string(blob[off : off+nameLen])
		off += nameLen

		if off+4 > len(blob) {
			return nil, fmt.Errorf("%w: truncated tag value length", ErrInvalidHeader)
		}
		valLen := int(beUint32(blob[off : off+4]))
		off += 4
		if off+valLen > len(blob) {
			return nil, fmt.Errorf("%w: truncated tag value", ErrInvalidHeader)
		}
		value := string(blob[off : off+valLen])
		off += valLen

		tags = append(tags, Tag{Name: name, Value: value})
	}
	return tags, nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
