// Copyright 2025 Certen Protocol
//
// put-offsets: re-parses a posted bundle's index and materializes one
// ItemOffset row per contained item, giving retrieval its chain-relative
// byte ranges.

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/certen/bundler/pkg/database"
	"github.com/certen/bundler/pkg/queue"
	"github.com/certen/bundler/pkg/wire"
)

func (p *Pipeline) handlePutOffsets(ctx context.Context, job *queue.Job) error {
	var payload putOffsetsPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal put-offsets payload: %w", err)
	}

	f, err := os.Open(p.spoolPath(payload.PlanID))
	if err != nil {
		return fmt.Errorf("open spooled bundle for plan %s: %w", payload.PlanID, err)
	}
	defer f.Close()

	entries, err := wire.ParseBundleIndex(f)
	if err != nil {
		return fmt.Errorf("parse bundle index for plan %s: %w", payload.PlanID, err)
	}

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	items, err := p.items.GetItemsByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("load items for bundle %s offsets: %w", payload.BundleTxID, err)
	}
	byID := make(map[string]database.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	rows := make([]database.OffsetRow, 0, len(entries))
	for _, e := range entries {
		it, ok := byID[e.ID]
		if !ok {
			return fmt.Errorf("bundle %s index references unknown item %s", payload.BundleTxID, e.ID)
		}
		rows = append(rows, database.OffsetRow{
			ItemID:             e.ID,
			RootBundleID:       payload.BundleTxID,
			StartOffsetInRoot:  e.StartOffset,
			RawContentLength:   e.RawContentLen,
			PayloadDataStart:   it.PayloadDataStart,
			PayloadContentType: it.PayloadContentType,
		})
	}

	if err := p.offsets.WriteOffsets(ctx, rows); err != nil {
		return fmt.Errorf("write offsets for bundle %s: %w", payload.BundleTxID, err)
	}

	for _, it := range items {
		if tagValue(it.Tags, unbundleTagName) != "" {
			if _, err := p.broker.Enqueue(ctx, queue.LabelUnbundleNested, unbundleNestedPayload{ItemID: it.ID}); err != nil {
				p.logger.Printf("enqueue unbundle-nested for item %s: %v", it.ID, err)
			}
		}
	}

	// The bundle stream's bytes now live permanently on-chain; the local
	// spool copy has served its purpose and cleanup-fs would otherwise
	// sweep it up later anyway.
	if err := os.Remove(p.spoolPath(payload.PlanID)); err != nil && !os.IsNotExist(err) {
		p.logger.Printf("remove spooled bundle for plan %s: %v", payload.PlanID, err)
	}
	return nil
}

// unbundleTagName marks an item as a nested bundle to be exploded, mirroring
// the constant admission's upload handler uses to decide whether to enqueue
// unbundle-nested directly on admission.
const unbundleTagName = "Bundle-Format"

func tagValue(tags []database.ItemTag, name string) string {
	for _, t := range tags {
		if t.Name == name {
			return t.Value
		}
	}
	return ""
}
