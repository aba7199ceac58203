// Copyright 2025 Certen Protocol
//
// Streaming tee into up to three sinks: filesystem backup, object store,
// and an in-process hot cache, so a single upload pass both persists the
// item durably and leaves it available for immediate re-reads (signature
// verification, offset computation) without a round trip to GCS.

package admission

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/certen/bundler/pkg/objectstore"
)

// HotCache is a small in-process store of the item bytes of uploads in
// progress, evicted explicitly by Quarantine on failure and by the upload
// handler once the item has been admitted.
type HotCache struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewHotCache constructs an empty hot cache.
func NewHotCache() *HotCache { return &HotCache{data: make(map[string][]byte)} }

// Put stores raw item bytes under id.
func (h *HotCache) Put(id string, b []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data[id] = b
}

// Get returns the cached bytes for id, if present.
func (h *HotCache) Get(id string) ([]byte, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	b, ok := h.data[id]
	return b, ok
}

// Evict removes id from the cache.
func (h *HotCache) Evict(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.data, id)
}

// SinkSet bundles the durable + ephemeral sinks an upload is teed into.
type SinkSet struct {
	DataDir  string // empty disables the filesystem backup sink
	Store    *objectstore.Client
	HotCache *HotCache
}

// HasDurableSink reports whether at least one durable sink (filesystem or
// object store) is attached, per the spec's "reject 503 if none" rule.
func (s *SinkSet) HasDurableSink() bool {
	return s.DataDir != "" || (s.Store != nil && s.Store.IsEnabled())
}

// StreamToSinks reads r fully, writing simultaneously to the filesystem
// backup and an in-memory buffer, then puts the buffered bytes into the
// hot cache and the object store, and returns the full byte count read along with the buffered bytes
// (also mirrored into the hot cache) so the caller can re-read the item for
// header decode and signature verification without touching disk/GCS again.
func (s *SinkSet) StreamToSinks(ctx context.Context, itemID string, r io.Reader, contentType string, payloadDataStart int64) (int64, []byte, error) {
	var buf bytes.Buffer
	writers := []io.Writer{&buf}

	var fsFile *os.File
	if s.DataDir != "" {
		if err := os.MkdirAll(s.DataDir, 0o755); err != nil {
			return 0, nil, fmt.Errorf("create data dir: %w", err)
		}
		f, err := os.Create(filepath.Join(s.DataDir, itemID))
		if err != nil {
			return 0, nil, fmt.Errorf("create backup file for %s: %w", itemID, err)
		}
		fsFile = f
		writers = append(writers, f)
	}

	mw := io.MultiWriter(writers...)
	n, err := io.Copy(mw, r)
	if fsFile != nil {
		_ = fsFile.Close()
	}
	if err != nil {
		return n, nil, fmt.Errorf("stream item %s to sinks: %w", itemID, err)
	}

	raw := buf.Bytes()
	s.HotCache.Put(itemID, raw)

	if s.Store != nil && s.Store.IsEnabled() {
		key := objectstore.RawKey(itemID)
		if err := s.Store.Put(ctx, key, bytes.NewReader(raw), contentType, payloadDataStart); err != nil {
			return n, nil, fmt.Errorf("object-store put for %s: %w", itemID, err)
		}
	}

	return n, raw, nil
}

// Quarantine removes an item's bytes from every sink after a post-stream
// verification failure, without advertising the item as admitted.
func (s *SinkSet) Quarantine(ctx context.Context, itemID string) {
	s.HotCache.Evict(itemID)
	if s.DataDir != "" {
		_ = os.Remove(filepath.Join(s.DataDir, itemID))
	}
	if s.Store != nil && s.Store.IsEnabled() {
		_ = s.Store.Delete(ctx, objectstore.RawKey(itemID))
	}
}
