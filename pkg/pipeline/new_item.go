// Copyright 2025 Certen Protocol
//
// new-item: fires once per admitted item, after C7 has committed the row
// and before C8 ever looks at it. It does no state transition of its own —
// packing decisions are made independently by the bundle packer's listing
// of unbundled items — this job exists purely so every admission leaves an
// audit trail entry keyed by itemId, matching the ambient-logging
// requirement that holds even for operations with no dedicated dashboard.

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/certen/bundler/pkg/queue"
)

type newItemPayload struct {
	ItemID string `json:"itemId"`
}

func (p *Pipeline) handleNewItem(ctx context.Context, job *queue.Job) error {
	var payload newItemPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal new-item payload: %w", err)
	}

	items, err := p.items.GetItemsByIDs(ctx, []string{payload.ItemID})
	if err != nil {
		return fmt.Errorf("load item %s: %w", payload.ItemID, err)
	}
	if len(items) == 0 {
		// Replication lag: the row may not be visible yet on a reader
		// replica. Retry via the broker's normal backoff.
		return fmt.Errorf("item %s not yet visible", payload.ItemID)
	}

	item := items[0]
	p.logger.Printf("item admitted: id=%s owner=%s bytes=%d deadlineHeight=%d",
		item.ID, item.OwnerAddress, item.ByteCount, item.DeadlineHeight)
	return nil
}
