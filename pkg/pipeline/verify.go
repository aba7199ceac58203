// Copyright 2025 Certen Protocol
//
// verify-bundle: polls the chain gateway for a posted bundle's confirmation
// depth. The broker's own retry/backoff tops out around 13 minutes of
// cumulative delay across its max-attempts budget, far short of the spec's
// 6-hour not-found timeout, so this handler self-manages that timeout off
// a wall-clock `postedAt` carried in the job payload instead of relying on
// the broker's attempt-count-based drop.

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/certen/bundler/pkg/queue"
)

type verifyBundlePayload struct {
	PlanID     string `json:"planId"`
	BundleTxID string `json:"bundleTxId"`
	PostedAt   string `json:"postedAt"` // RFC3339
}

type putOffsetsPayload struct {
	PlanID     string `json:"planId"`
	BundleTxID string `json:"bundleTxId"`
}

func (p *Pipeline) handleVerifyBundle(ctx context.Context, job *queue.Job) error {
	var payload verifyBundlePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal verify-bundle payload: %w", err)
	}

	postedAt, err := time.Parse(time.RFC3339, payload.PostedAt)
	if err != nil {
		postedAt = time.Now() // malformed payload shouldn't wedge the handler forever
	}

	confirmations, height, found, err := p.chain.TxStatusAtHeight(ctx, payload.BundleTxID)
	if err != nil {
		return fmt.Errorf("poll tx status for %s: %w", payload.BundleTxID, err)
	}

	switch verifyOutcome(found, confirmations, int64(p.confirmationDepth), time.Since(postedAt), p.verifyTimeout) {
	case outcomeConfirmed:
		if err := p.plans.MarkPermanent(ctx, payload.BundleTxID, height, p.items); err != nil {
			return fmt.Errorf("mark bundle %s permanent: %w", payload.BundleTxID, err)
		}
		if _, err := p.broker.Enqueue(ctx, queue.LabelPutOffsets, putOffsetsPayload{
			PlanID:     payload.PlanID,
			BundleTxID: payload.BundleTxID,
		}); err != nil {
			return fmt.Errorf("enqueue put-offsets for bundle %s: %w", payload.BundleTxID, err)
		}
		return nil

	case outcomeTimedOut:
		p.logger.Printf("bundle %s (plan %s) not confirmed after %s, reverting plan", payload.BundleTxID, payload.PlanID, p.verifyTimeout)
		if err := p.plans.MarkFailed(ctx, payload.PlanID, "verify-bundle timed out waiting for confirmation", p.items, p.maxBundleAttempts); err != nil {
			return fmt.Errorf("mark plan %s failed after verify timeout: %w", payload.PlanID, err)
		}
		// The handler itself gave up; returning nil here (rather than an
		// error) keeps the broker's separate attempt-exhaustion logging
		// from firing for a job we already resolved.
		return nil

	case outcomeNotYetVisible:
		return fmt.Errorf("bundle %s not yet visible on chain", payload.BundleTxID)

	default: // outcomePending
		return fmt.Errorf("bundle %s has %d/%d confirmations", payload.BundleTxID, confirmations, p.confirmationDepth)
	}
}

type verifyOutcomeKind int

const (
	outcomePending verifyOutcomeKind = iota
	outcomeConfirmed
	outcomeTimedOut
	outcomeNotYetVisible
)

// verifyOutcome is the pure decision behind handleVerifyBundle: confirmed
// takes priority over a timeout that happens to have also elapsed on the
// same poll, and a not-yet-visible bundle still within its timeout window
// is distinguished from one that has confirmations but not enough depth
// yet, purely for clearer error messages.
func verifyOutcome(found bool, confirmations, confirmationDepth int64, elapsed, verifyTimeout time.Duration) verifyOutcomeKind {
	if found && confirmations >= confirmationDepth {
		return outcomeConfirmed
	}
	if elapsed > verifyTimeout {
		return outcomeTimedOut
	}
	if !found {
		return outcomeNotYetVisible
	}
	return outcomePending
}
