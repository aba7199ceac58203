// Copyright 2025 Certen Protocol

package packer

import (
	"testing"
	"time"

	"github.com/certen/bundler/pkg/database"
)

func mkItem(id string, byteCount int64, uploadedAt time.Time) database.Item {
	return database.Item{ID: id, ByteCount: byteCount, UploadedAt: uploadedAt}
}

func TestBinPack_SplitsOnByteBudget(t *testing.T) {
	now := time.Now()
	items := []database.Item{
		mkItem("a", 600, now.Add(-3*time.Minute)),
		mkItem("b", 600, now.Add(-2*time.Minute)),
		mkItem("c", 600, now.Add(-1*time.Minute)),
	}
	// budget 1000: each item is 600 bytes, so no two items fit in one
	// batch together — a flushes alone, then b flushes alone, leaving c
	// held back as an underweight, non-overdue trailing batch.
	batches := binPack(items, 1000, 100, now.Add(-24*time.Hour))

	if len(batches) != 2 {
		t.Fatalf("expected a and b to each flush as their own full batch, got %d batches", len(batches))
	}
	if len(batches[0]) != 1 || batches[0][0].ID != "a" {
		t.Fatalf("expected first batch to contain only item a")
	}
	if len(batches[1]) != 1 || batches[1][0].ID != "b" {
		t.Fatalf("expected second batch to contain only item b")
	}
}

func TestBinPack_SplitsOnItemCountBudget(t *testing.T) {
	now := time.Now()
	items := []database.Item{
		mkItem("a", 10, now.Add(-3*time.Minute)),
		mkItem("b", 10, now.Add(-2*time.Minute)),
		mkItem("c", 10, now.Add(-1*time.Minute)),
	}
	// Non-overdue cutoff far in the past: the trailing batch is held back
	// unless full. maxItems=2 forces a flush after the 2nd item.
	batches := binPack(items, 1<<30, 2, now.Add(-24*time.Hour))

	if len(batches) != 1 {
		t.Fatalf("expected exactly one full 2-item batch, got %d", len(batches))
	}
	if len(batches[0]) != 2 {
		t.Fatalf("expected the flushed batch to contain 2 items, got %d", len(batches[0]))
	}
}

func TestBinPack_HoldsBackUnderweightNonOverdueTrailingBatch(t *testing.T) {
	now := time.Now()
	items := []database.Item{
		mkItem("a", 10, now.Add(-1*time.Minute)),
	}
	batches := binPack(items, 1<<30, 1000, now.Add(-24*time.Hour))
	if len(batches) != 0 {
		t.Fatalf("expected the lone underweight, non-overdue item to be held back, got %d batches", len(batches))
	}
}

func TestBinPack_FlushesOverdueTrailingBatchEvenWhenUnderweight(t *testing.T) {
	now := time.Now()
	items := []database.Item{
		mkItem("a", 10, now.Add(-1*time.Hour)),
	}
	// overdueThreshold of 10 minutes means an item uploaded an hour ago is overdue.
	batches := binPack(items, 1<<30, 1000, now.Add(-10*time.Minute))
	if len(batches) != 1 {
		t.Fatalf("expected the overdue item to flush as its own batch, got %d batches", len(batches))
	}
}

func TestBinPack_OversizedSingleItemFormsItsOwnBatch(t *testing.T) {
	now := time.Now()
	items := []database.Item{
		mkItem("a", 5000, now.Add(-1*time.Hour)),
		mkItem("b", 10, now.Add(-1*time.Hour)),
	}
	batches := binPack(items, 1000, 1000, now.Add(-10*time.Minute))
	if len(batches) != 2 {
		t.Fatalf("expected the oversized item and the following item to form separate batches, got %d", len(batches))
	}
	if len(batches[0]) != 1 || batches[0][0].ID != "a" {
		t.Fatalf("expected first batch to contain only the oversized item")
	}
}

func TestBinPack_PreservesInputOrderWithinABatch(t *testing.T) {
	now := time.Now()
	items := []database.Item{
		mkItem("a", 10, now.Add(-1*time.Hour)),
		mkItem("b", 10, now.Add(-1*time.Hour)),
		mkItem("c", 10, now.Add(-1*time.Hour)),
	}
	batches := binPack(items, 1<<30, 1000, now.Add(-10*time.Minute))
	if len(batches) != 1 {
		t.Fatalf("expected a single overdue batch, got %d", len(batches))
	}
	got := []string{batches[0][0].ID, batches[0][1].ID, batches[0][2].ID}
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}
