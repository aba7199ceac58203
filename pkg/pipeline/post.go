// Copyright 2025 Certen Protocol
//
// post-bundle: wraps a spooled bundle's bytes in a service-wallet-signed
// envelope and submits it to the chain gateway, then schedules the
// verify-bundle poll.

package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/certen/bundler/pkg/queue"
)

// bundleEnvelope is the metadata the service wallet signs over before a
// bundle is submitted, so the chain can attribute authorship the same way
// it would verify any other signed item (see wire.VerifySignature).
type bundleEnvelope struct {
	PlanID      string `json:"planId"`
	ByteCount   int64  `json:"byteCount"`
	ItemCount   int    `json:"itemCount"`
	PayloadHash string `json:"payloadHash"` // hex sha256 of the bundle bytes
	SignerAddr  string `json:"signerAddress"`
	Signature   string `json:"signature"`
}

func (p *Pipeline) handlePostBundle(ctx context.Context, job *queue.Job) error {
	var payload postBundlePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal post-bundle payload: %w", err)
	}

	plan, err := p.plans.GetBundlePlan(ctx, payload.PlanID)
	if err != nil {
		return fmt.Errorf("load plan %s: %w", payload.PlanID, err)
	}
	if plan.ByteCountPrepared == nil {
		return fmt.Errorf("plan %s has not been prepared yet", payload.PlanID)
	}

	bundleBytes, err := os.ReadFile(p.spoolPath(payload.PlanID))
	if err != nil {
		return fmt.Errorf("read spooled bundle for plan %s: %w", payload.PlanID, err)
	}

	digest := sha256.Sum256(bundleBytes)
	sig, err := p.wallet.Sign(digest[:])
	if err != nil {
		return fmt.Errorf("sign bundle for plan %s: %w", payload.PlanID, err)
	}

	env := bundleEnvelope{
		PlanID:      payload.PlanID,
		ByteCount:   *plan.ByteCountPrepared,
		ItemCount:   plan.ItemCount,
		PayloadHash: fmt.Sprintf("%x", digest),
		SignerAddr:  p.wallet.Address(),
		Signature:   fmt.Sprintf("%x", sig),
	}
	envJSON, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode bundle envelope for plan %s: %w", payload.PlanID, err)
	}

	var tx bytes.Buffer
	lenBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(lenBuf, uint64(len(envJSON)))
	tx.Write(lenBuf)
	tx.Write(envJSON)
	tx.Write(bundleBytes)

	bundleTxID, err := p.chain.SubmitBundle(ctx, tx.Bytes())
	if err != nil {
		return fmt.Errorf("submit bundle for plan %s: %w", payload.PlanID, err)
	}

	if err := p.plans.MarkPosted(ctx, payload.PlanID, bundleTxID, int64(len(bundleBytes)), plan.ItemCount); err != nil {
		return fmt.Errorf("mark plan %s posted: %w", payload.PlanID, err)
	}

	vp := verifyBundlePayload{
		PlanID:     payload.PlanID,
		BundleTxID: bundleTxID,
		PostedAt:   time.Now().Format(time.RFC3339),
	}
	if _, err := p.broker.Enqueue(ctx, queue.LabelVerifyBundle, vp); err != nil {
		return fmt.Errorf("enqueue verify-bundle for plan %s: %w", payload.PlanID, err)
	}
	return nil
}
