// Copyright 2025 Certen Protocol
//
// cleanup-fs: the daily cron-driven sweep that removes local-disk and
// object-store backups of items once they no longer need to be recoverable
// off-chain — filesystem backups are dropped first (cheaper storage churn,
// shorter retention) and object-store backups retained longer as a second
// safety net. On-chain bytes are never touched; they are the system of
// record once an item reaches permanent.

package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/certen/bundler/pkg/database"
	"github.com/certen/bundler/pkg/objectstore"
	"github.com/certen/bundler/pkg/queue"
)

const cleanupCursorName = "cleanup-fs"

func (p *Pipeline) handleCleanupFS(ctx context.Context, job *queue.Job) error {
	var cursor *database.ItemCursor
	var loaded database.ItemCursor
	if err := p.cursors.GetCleanupCursor(ctx, cleanupCursorName, &loaded); err == nil {
		cursor = &loaded
	} else if err != database.ErrCursorNotFound {
		return err
	}

	fsCutoff := time.Now().AddDate(0, 0, -p.fsCleanupDays)
	objectCutoff := time.Now().AddDate(0, 0, -p.minioCleanupDays)
	olderThan := fsCutoff
	if objectCutoff.Before(olderThan) {
		olderThan = objectCutoff
	}

	items, err := p.items.ListItemsForCleanup(ctx, olderThan, cursor, p.cleanupBatchSize)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	for _, item := range items {
		deleteFS, deleteObject := cleanupDecision(item, fsCutoff, objectCutoff)
		if deleteFS && p.dataDir != "" {
			path := filepath.Join(p.dataDir, item.ID)
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				p.logger.Printf("cleanup-fs: remove %s: %v", path, err)
			}
		}
		if deleteObject && p.store != nil && p.store.IsEnabled() {
			if err := p.store.Delete(ctx, objectstore.RawKey(item.ID)); err != nil {
				p.logger.Printf("cleanup-fs: delete object-store backup for %s: %v", item.ID, err)
			}
		}
	}

	last := items[len(items)-1]
	nextCursor := database.ItemCursor{UploadedAt: last.UploadedAt, ItemID: last.ID}
	if err := p.cursors.PutCleanupCursor(ctx, cleanupCursorName, nextCursor); err != nil {
		return err
	}

	// A full batch means there's likely more work; re-enqueue immediately
	// rather than waiting for tomorrow's cron tick, so a large backlog
	// drains within one day instead of one batch per day.
	if len(items) == p.cleanupBatchSize {
		if _, err := p.broker.Enqueue(ctx, queue.LabelCleanupFS, struct{}{}); err != nil {
			p.logger.Printf("cleanup-fs: re-enqueue for next batch: %v", err)
		}
	}
	return nil
}

// cleanupDecision is the pure predicate behind handleCleanupFS's per-item
// delete choices: only terminal-state items (their backups are no longer
// needed for a retry) past each tier's own retention cutoff are swept.
func cleanupDecision(item database.Item, fsCutoff, objectCutoff time.Time) (deleteFS, deleteObject bool) {
	if item.Status != "permanent" && item.Status != "failed" {
		return false, false
	}
	return item.UploadedAt.Before(fsCutoff), item.UploadedAt.Before(objectCutoff)
}

