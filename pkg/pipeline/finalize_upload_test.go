// Copyright 2025 Certen Protocol

package pipeline

import (
	"sort"
	"testing"
)

func TestUploadPartsPrefix_NamespacesByUploadID(t *testing.T) {
	got := uploadPartsPrefix("upload-abc")
	want := "upload-parts/upload-abc/"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestUploadPartsPrefix_ZeroPaddedKeysSortInOrder(t *testing.T) {
	prefix := uploadPartsPrefix("u1")
	keys := []string{prefix + "0009", prefix + "0001", prefix + "0010", prefix + "0002"}
	sort.Strings(keys)
	want := []string{prefix + "0001", prefix + "0002", prefix + "0009", prefix + "0010"}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, keys)
		}
	}
}
