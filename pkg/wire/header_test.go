// Copyright 2025 Certen Protocol
//
// Wire Codec Tests

package wire

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"testing"
)

func buildItem(t *testing.T, sigType uint16, pubkey, sig []byte, tags []Tag, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(u16(sigType))
	buf.Write(sig)
	buf.Write(pubkey)
	buf.Write([]byte{0}) // no target
	buf.Write([]byte{0}) // no anchor

	var tagBlob bytes.Buffer
	for _, tag := range tags {
		nameLen := make([]byte, 4)
		binary.BigEndian.PutUint32(nameLen, uint32(len(tag.Name)))
		tagBlob.Write(nameLen)
		tagBlob.Write([]byte(tag.Name))

		valLen := make([]byte, 4)
		binary.BigEndian.PutUint32(valLen, uint32(len(tag.Value)))
		tagBlob.Write(valLen)
		tagBlob.Write([]byte(tag.Value))
	}

	tagCount := make([]byte, 8)
	binary.BigEndian.PutUint64(tagCount, uint64(len(tags)))
	buf.Write(tagCount)

	tagBytesLen := make([]byte, 8)
	binary.BigEndian.PutUint64(tagBytesLen, uint64(tagBlob.Len()))
	buf.Write(tagBytesLen)
	buf.Write(tagBlob.Bytes())

	buf.Write(payload)
	return buf.Bytes()
}

func TestDecodeHeader_Ed25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	payload := []byte("hello bundler")
	payloadHash := sha256.Sum256(payload)

	h := &ItemHeader{
		SignatureType:  4,
		OwnerPublicKey: pub,
		Tags:           []Tag{{Name: "Content-Type", Value: "text/plain"}},
	}
	dh := DeepHash(h, payloadHash[:])
	sig := ed25519.Sign(priv, dh)

	raw := buildItem(t, 4, pub, sig, h.Tags, payload)

	decoded, err := DecodeHeader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}

	if decoded.SignatureType != 4 {
		t.Errorf("signature type mismatch: got %d", decoded.SignatureType)
	}
	if len(decoded.Tags) != 1 || decoded.Tags[0].Name != "Content-Type" {
		t.Fatalf("tags mismatch: %+v", decoded.Tags)
	}

	ok, err := VerifySignature(decoded, payloadHash[:])
	if err != nil {
		t.Fatalf("VerifySignature: %v", err)
	}
	if !ok {
		t.Error("expected valid signature")
	}
}

func TestDecodeHeader_UnknownSignatureType(t *testing.T) {
	raw := append(u16(9999), make([]byte, 10)...)
	_, err := DecodeHeader(bytes.NewReader(raw))
	if err == nil {
		t.Fatal("expected error for unknown signature type")
	}
}

func TestComputeItemId_Deterministic(t *testing.T) {
	h := &ItemHeader{Signature: []byte("some-signature-bytes")}
	id1 := ComputeItemId(h)
	id2 := ComputeItemId(h)
	if id1 != id2 {
		t.Errorf("ComputeItemId not deterministic: %s vs %s", id1, id2)
	}
}

func TestEncodeBundle_ParseBundleIndex(t *testing.T) {
	items := []BundleItem{
		{ID: "item-a", Body: []byte("AAAA")},
		{ID: "item-b", Body: []byte("BBBBBBBB")},
	}

	encoded, err := EncodeBundle(items)
	if err != nil {
		t.Fatalf("EncodeBundle: %v", err)
	}

	entries, err := ParseBundleIndex(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("ParseBundleIndex: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID != "item-a" || entries[0].RawContentLen != 4 {
		t.Errorf("entry 0 mismatch: %+v", entries[0])
	}
	if entries[1].ID != "item-b" || entries[1].RawContentLen != 8 {
		t.Errorf("entry 1 mismatch: %+v", entries[1])
	}
	if entries[1].StartOffset != entries[0].StartOffset+entries[0].RawContentLen {
		t.Errorf("offsets not contiguous: %+v", entries)
	}
}
