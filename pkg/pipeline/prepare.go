// Copyright 2025 Certen Protocol
//
// prepare-bundle: loads a plan's member items in packer order, concatenates
// their raw bytes into the bundle wire format, spools the result to local
// disk, and finalizes each item's payment against its now-known actual byte
// count.

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/certen/bundler/pkg/database"
	"github.com/certen/bundler/pkg/queue"
	"github.com/certen/bundler/pkg/wire"
)

type prepareBundlePayload struct {
	PlanID string `json:"planId"`
}

type postBundlePayload struct {
	PlanID string `json:"planId"`
}

// spoolPath is the local-disk staging file for a plan's prepared-but-not-
// yet-posted bundle bytes, underneath the pipeline's configured data
// directory.
func (p *Pipeline) spoolPath(planID string) string {
	return filepath.Join(p.dataDir, "bundles", planID+".bundle")
}

func (p *Pipeline) handlePrepareBundle(ctx context.Context, job *queue.Job) error {
	var payload prepareBundlePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal prepare-bundle payload: %w", err)
	}

	plan, err := p.plans.GetBundlePlan(ctx, payload.PlanID)
	if err != nil {
		return fmt.Errorf("load plan %s: %w", payload.PlanID, err)
	}

	items, err := p.items.GetItemsByIDs(ctx, plan.ItemIDs)
	if err != nil {
		return fmt.Errorf("load items for plan %s: %w", payload.PlanID, err)
	}

	// Fraud reconciliation runs before encoding so a fraud-penalty verdict
	// can actually exclude the item from the bundle it would otherwise ride
	// along in, rather than merely annotating a payment row after the bytes
	// are already spooled.
	items = p.finalizeItemPayments(ctx, payload.PlanID, items)
	if len(items) == 0 {
		p.logger.Printf("plan %s: every member item was quarantined for fraud, failing plan", payload.PlanID)
		if failErr := p.plans.MarkFailed(ctx, payload.PlanID, "all member items quarantined for fraud", p.items, p.maxBundleAttempts); failErr != nil {
			return fmt.Errorf("mark plan %s failed: %w", payload.PlanID, failErr)
		}
		return nil
	}

	bundleItems := make([]wire.BundleItem, 0, len(items))
	for _, item := range items {
		raw, err := p.readItemBytes(ctx, item.ID)
		if err != nil {
			// An item whose backup bytes have vanished can never be
			// prepared again; fail the plan outright rather than retrying
			// the whole batch, which would burn through every other
			// member item's retry budget too.
			p.logger.Printf("plan %s: item %s has no recoverable bytes, failing plan: %v", payload.PlanID, item.ID, err)
			if failErr := p.plans.MarkFailed(ctx, payload.PlanID, "item bytes unrecoverable: "+err.Error(), p.items, p.maxBundleAttempts); failErr != nil {
				return fmt.Errorf("mark plan %s failed: %w", payload.PlanID, failErr)
			}
			return nil
		}
		bundleItems = append(bundleItems, wire.BundleItem{ID: item.ID, Body: raw})
	}

	bundleBytes, err := wire.EncodeBundle(bundleItems)
	if err != nil {
		return fmt.Errorf("encode bundle for plan %s: %w", payload.PlanID, err)
	}

	if err := os.MkdirAll(filepath.Dir(p.spoolPath(payload.PlanID)), 0o755); err != nil {
		return fmt.Errorf("create bundle spool dir: %w", err)
	}
	if err := os.WriteFile(p.spoolPath(payload.PlanID), bundleBytes, 0o644); err != nil {
		return fmt.Errorf("spool bundle for plan %s: %w", payload.PlanID, err)
	}

	if err := p.plans.MarkPrepared(ctx, payload.PlanID, int64(len(bundleBytes))); err != nil {
		return fmt.Errorf("mark plan %s prepared: %w", payload.PlanID, err)
	}

	if _, err := p.broker.Enqueue(ctx, queue.LabelPostBundle, postBundlePayload{PlanID: payload.PlanID}); err != nil {
		return fmt.Errorf("enqueue post-bundle for plan %s: %w", payload.PlanID, err)
	}
	return nil
}

// finalizeItemPayments runs fraud-band reconciliation for every item on its
// first transition to prepared and returns the subset that survives: a
// fraud-penalty verdict (actual byte count understated beyond tolerance)
// marks the item failed and excludes it from the returned slice, so it
// never reaches wire.EncodeBundle. The penalty itself is recorded purely
// on the payment row (status=fraud_penalty, no refund); rejecting the item
// is what the spec calls a MUST, the payment-row annotation is incidental.
func (p *Pipeline) finalizeItemPayments(ctx context.Context, planID string, items []database.Item) []database.Item {
	surviving := make([]database.Item, 0, len(items))
	for _, item := range items {
		result, err := p.payments.FinalizeItem(ctx, item.ID, item.ByteCount)
		if err != nil {
			p.logger.Printf("finalize payment for item %s: %v", item.ID, err)
			surviving = append(surviving, item)
			continue
		}
		if result != nil && result.Quarantine {
			p.logger.Printf("item %s incurred a fraud penalty (declared byte count understated), rejecting from plan %s", item.ID, planID)
			if failErr := p.items.MarkItemFailed(ctx, item.ID, "fraud penalty: declared byte count understated"); failErr != nil {
				p.logger.Printf("mark item %s failed after fraud penalty: %v", item.ID, failErr)
			}
			continue
		}
		surviving = append(surviving, item)
	}
	return surviving
}
