// Copyright 2025 Certen Protocol
//
// Bundle assembly: concatenates a count-prefixed (id, length) index followed
// by the item bodies, per the bundle wire format.

package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// BundleItem pairs a raw item body (header + payload) with its id, so the
// index can be emitted ahead of the bodies without re-decoding them.
type BundleItem struct {
	ID   string
	Body []byte
}

// EncodeBundle concatenates a count-prefixed index of (id, length) pairs and
// then the item bodies themselves, returning the full bundle stream.
func EncodeBundle(items []BundleItem) ([]byte, error) {
	var buf bytes.Buffer

	count := make([]byte, 8)
	binary.BigEndian.PutUint64(count, uint64(len(items)))
	buf.Write(count)

	for _, it := range items {
		idBytes := []byte(it.ID)
		idLen := make([]byte, 4)
		binary.BigEndian.PutUint32(idLen, uint32(len(idBytes)))
		buf.Write(idLen)
		buf.Write(idBytes)

		bodyLen := make([]byte, 8)
		binary.BigEndian.PutUint64(bodyLen, uint64(len(it.Body)))
		buf.Write(bodyLen)
	}

	for _, it := range items {
		buf.Write(it.Body)
	}

	return buf.Bytes(), nil
}

// IndexEntry is one parsed row of a bundle's index.
type IndexEntry struct {
	ID            string
	StartOffset   int64
	RawContentLen int64
}

// ParseBundleIndex reads the index block of an already-assembled bundle
// stream without touching the item bodies, used by put-offsets to
// materialize ItemOffset rows.
func ParseBundleIndex(r io.Reader) ([]IndexEntry, error) {
	var countBytes [8]byte
	if _, err := io.ReadFull(r, countBytes[:]); err != nil {
		return nil, fmt.Errorf("%w: reading item count: %v", ErrInvalidHeader, err)
	}
	count := binary.BigEndian.Uint64(countBytes[:])
	indexBytesConsumed := int64(8)

	type row struct {
		id      string
		bodyLen int64
	}
	rows := make([]row, 0, count)

	for i := uint64(0); i < count; i++ {
		var idLenBytes [4]byte
		if _, err := io.ReadFull(r, idLenBytes[:]); err != nil {
			return nil, fmt.Errorf("%w: reading id length: %v", ErrInvalidHeader, err)
		}
		idLen := binary.BigEndian.Uint32(idLenBytes[:])
		indexBytesConsumed += 4

		idBytes := make([]byte, idLen)
		if _, err := io.ReadFull(r, idBytes); err != nil {
			return nil, fmt.Errorf("%w: reading id: %v", ErrInvalidHeader, err)
		}
		indexBytesConsumed += int64(idLen)

		var bodyLenBytes [8]byte
		if _, err := io.ReadFull(r, bodyLenBytes[:]); err != nil {
			return nil, fmt.Errorf("%w: reading body length: %v", ErrInvalidHeader, err)
		}
		indexBytesConsumed += 8
		bodyLen := binary.BigEndian.Uint64(bodyLenBytes[:])

		rows = append(rows, row{id: string(idBytes), bodyLen: int64(bodyLen)})
	}

	entries := make([]IndexEntry, 0, count)
	cursor := indexBytesConsumed
	for _, r := range rows {
		entries = append(entries, IndexEntry{
			ID:            r.id,
			StartOffset:   cursor,
			RawContentLen: r.bodyLen,
		})
		cursor += r.bodyLen
	}

	return entries, nil
}

// ParseNestedBundleHeaders decodes each item header inside a nested-bundle
// payload, only used for items whose tags declare themselves as a bundle.
func ParseNestedBundleHeaders(payload io.Reader) ([]*ItemHeader, error) {
	var headers []*ItemHeader
	for {
		h, err := DecodeHeader(payload)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		headers = append(headers, h)
	}
	return headers, nil
}
