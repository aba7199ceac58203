// Copyright 2025 Certen Protocol

package admission

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestSinkSet_HasDurableSink(t *testing.T) {
	s := &SinkSet{HotCache: NewHotCache()}
	if s.HasDurableSink() {
		t.Fatal("expected no durable sink with empty DataDir and nil Store")
	}
	s.DataDir = t.TempDir()
	if !s.HasDurableSink() {
		t.Fatal("expected DataDir alone to count as a durable sink")
	}
}

func TestSinkSet_StreamToSinks_WritesFileAndHotCache(t *testing.T) {
	dir := t.TempDir()
	s := &SinkSet{DataDir: dir, HotCache: NewHotCache()}

	payload := []byte("hello item bytes")
	n, raw, err := s.StreamToSinks(context.Background(), "item-1", bytes.NewReader(payload), "text/plain", 0)
	if err != nil {
		t.Fatalf("StreamToSinks: %v", err)
	}
	if n != int64(len(payload)) {
		t.Fatalf("expected %d bytes read, got %d", len(payload), n)
	}
	if !bytes.Equal(raw, payload) {
		t.Fatalf("expected returned buffer to match payload")
	}

	onDisk, err := os.ReadFile(filepath.Join(dir, "item-1"))
	if err != nil {
		t.Fatalf("expected backup file to exist: %v", err)
	}
	if !bytes.Equal(onDisk, payload) {
		t.Fatal("backup file contents mismatch")
	}

	cached, ok := s.HotCache.Get("item-1")
	if !ok || !bytes.Equal(cached, payload) {
		t.Fatal("expected hot cache to hold the same bytes")
	}
}

func TestSinkSet_Quarantine_RemovesFromEverySink(t *testing.T) {
	dir := t.TempDir()
	s := &SinkSet{DataDir: dir, HotCache: NewHotCache()}

	if _, _, err := s.StreamToSinks(context.Background(), "item-2", bytes.NewReader([]byte("x")), "text/plain", 0); err != nil {
		t.Fatalf("StreamToSinks: %v", err)
	}

	s.Quarantine(context.Background(), "item-2")

	if _, ok := s.HotCache.Get("item-2"); ok {
		t.Fatal("expected hot cache entry to be evicted")
	}
	if _, err := os.Stat(filepath.Join(dir, "item-2")); !os.IsNotExist(err) {
		t.Fatal("expected backup file to be removed")
	}
}

func TestHotCache_EvictRemovesEntry(t *testing.T) {
	h := NewHotCache()
	h.Put("a", []byte("1"))
	h.Evict("a")
	if _, ok := h.Get("a"); ok {
		t.Fatal("expected entry to be gone after Evict")
	}
}
