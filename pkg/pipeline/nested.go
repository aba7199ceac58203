// Copyright 2025 Certen Protocol
//
// unbundle-nested: explodes an item tagged as a nested bundle into its
// contained items' own offset rows, chained off the parent's already
// -published chain-relative position.

package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/certen/bundler/pkg/database"
	"github.com/certen/bundler/pkg/queue"
	"github.com/certen/bundler/pkg/wire"
)

type unbundleNestedPayload struct {
	ItemID string `json:"itemId"`
}

func (p *Pipeline) handleUnbundleNested(ctx context.Context, job *queue.Job) error {
	var payload unbundleNestedPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal unbundle-nested payload: %w", err)
	}

	parentOffset, err := p.offsets.GetOffset(ctx, payload.ItemID)
	if err != nil {
		return fmt.Errorf("load parent offset for item %s: %w", payload.ItemID, err)
	}

	raw, err := p.readItemBytes(ctx, payload.ItemID)
	if err != nil {
		return fmt.Errorf("read bytes for nested-bundle item %s: %w", payload.ItemID, err)
	}
	if int64(len(raw)) < parentOffset.PayloadDataStart {
		return fmt.Errorf("item %s bytes shorter than its own payload start", payload.ItemID)
	}
	payloadBytes := raw[parentOffset.PayloadDataStart:]

	headers, err := wire.ParseNestedBundleHeaders(bytes.NewReader(payloadBytes))
	if err != nil {
		return fmt.Errorf("parse nested headers in item %s: %w", payload.ItemID, err)
	}

	rows := make([]database.OffsetRow, 0, len(headers))
	var cursor int64
	for _, h := range headers {
		childID := wire.ComputeItemId(h)
		startInParentPayload := cursor
		rawLen := int64(len(h.RawHeaderBytes))

		rows = append(rows, database.OffsetRow{
			ItemID:                     childID,
			RootBundleID:               parentOffset.RootBundleID,
			StartOffsetInRoot:          parentOffset.StartOffsetInRoot + parentOffset.PayloadDataStart + startInParentPayload,
			RawContentLength:           rawLen,
			PayloadDataStart:           h.PayloadDataStart,
			PayloadContentType:         tagValue(toItemTags(h.Tags), "Content-Type"),
			ParentItemID:               strPtr(payload.ItemID),
			StartOffsetInParentPayload: int64Ptr(startInParentPayload),
		})
		cursor += rawLen
	}

	if err := p.offsets.WriteOffsets(ctx, rows); err != nil {
		return fmt.Errorf("write nested offsets for item %s: %w", payload.ItemID, err)
	}
	return nil
}

func strPtr(s string) *string { return &s }
func int64Ptr(v int64) *int64 { return &v }

// toItemTags adapts wire.Tag to database.ItemTag so tagValue (shared with
// offsets.go) can be reused for a nested header's tags.
func toItemTags(tags []wire.Tag) []database.ItemTag {
	out := make([]database.ItemTag, len(tags))
	for i, t := range tags {
		out[i] = database.ItemTag{Name: t.Name, Value: t.Value}
	}
	return out
}
