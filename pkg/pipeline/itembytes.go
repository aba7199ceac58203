// Copyright 2025 Certen Protocol
//
// Durable item-byte retrieval: the pipeline never reaches into admission's
// in-process hot cache (its entries last only as long as the admission
// request, see pkg/admission/sink.go) — workers run in a separate process lifetime and
// must always recover item bytes from filesystem or object-store backups.

package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/certen/bundler/pkg/objectstore"
)

// readItemBytes recovers an admitted item's full raw bytes (header +
// payload), preferring the local filesystem backup and falling back to
// object storage.
func (p *Pipeline) readItemBytes(ctx context.Context, itemID string) ([]byte, error) {
	if p.dataDir != "" {
		raw, err := os.ReadFile(filepath.Join(p.dataDir, itemID))
		if err == nil {
			return raw, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read filesystem backup for %s: %w", itemID, err)
		}
	}

	if p.store != nil && p.store.IsEnabled() {
		rc, err := p.store.Get(ctx, objectstore.RawKey(itemID))
		if err != nil {
			return nil, fmt.Errorf("read object-store backup for %s: %w", itemID, err)
		}
		defer rc.Close()
		raw, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("drain object-store backup for %s: %w", itemID, err)
		}
		return raw, nil
	}

	return nil, fmt.Errorf("no durable backup found for item %s", itemID)
}
