// Copyright 2025 Certen Protocol
//
// POST /v1/tx: the admission handler. Streams an item onto the durable
// sinks, derives its identity, gates it behind an x402 payment unless it
// qualifies for the free tier, verifies its signature once the full body
// has landed, and hands it off to the queue for bundling.

package admission

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/certen/bundler/pkg/apierr"
	"github.com/certen/bundler/pkg/database"
	"github.com/certen/bundler/pkg/payment"
	"github.com/certen/bundler/pkg/queue"
	"github.com/certen/bundler/pkg/wire"
)

const defaultNetwork = "base"

// unbundleTagName marks an item as a nested bundle to be exploded by the
// pipeline's unbundle-nested worker rather than posted as a leaf.
const unbundleTagName = "Bundle-Format"

// handleUpload implements the twelve-step admission algorithm behind
// POST /v1/tx.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Step 1: reject oversized bodies up front via Content-Length, before
	// committing any sink resources.
	if r.ContentLength > 0 && r.ContentLength > s.policy.MaxSingleItemBytes {
		writeError(w, apierr.New(apierr.KindInvalidRequest, fmt.Sprintf("item exceeds max size of %d bytes", s.policy.MaxSingleItemBytes)))
		return
	}
	if !s.sinks.HasDurableSink() {
		writeError(w, apierr.New(apierr.KindUnavailable, "no durable sink attached"))
		return
	}

	network := r.URL.Query().Get("network")
	if network == "" {
		network = defaultNetwork
	}

	// Step 2: decode the header first so we have an item id to claim
	// at-most-once admission on before streaming the (possibly large)
	// payload.
	body := io.LimitReader(r.Body, s.policy.MaxSingleItemBytes+1)
	header, err := wire.DecodeHeader(body)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindInvalidRequest, "malformed item header", err))
		return
	}
	itemID := wire.ComputeItemId(header)
	ownerAddress := wire.OwnerAddress(header)

	// Step 3: at-most-once admission. A second concurrent upload of the
	// same item is rejected while the first is still in flight.
	if !s.inflight.Claim(itemID) {
		writeError(w, apierr.New(apierr.KindConflict, fmt.Sprintf("item %s is already being admitted", itemID)))
		return
	}
	admitted := false
	defer func() {
		if !admitted {
			s.inflight.Release(itemID)
		}
	}()

	// Step 4: block-listed owners are rejected outright, before any byte
	// is streamed to a sink.
	if s.policy.IsBlockListed(ownerAddress) {
		writeError(w, apierr.New(apierr.KindForbidden, "owner is block-listed"))
		return
	}

	contentType := tagValue(header.Tags, "Content-Type")

	// Step 5: stream the whole item (the header bytes DecodeHeader already
	// consumed, then the remaining payload) into every durable + ephemeral
	// sink.
	itemStream := io.MultiReader(bytes.NewReader(header.RawHeaderBytes), body)
	n, raw, err := s.sinks.StreamToSinks(ctx, itemID, itemStream, contentType, header.PayloadDataStart)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindInternal, "failed to persist item", err))
		return
	}
	byteCount := n

	if s.policy.IsSpammerPattern(byteCount, len(header.Tags)) {
		s.sinks.Quarantine(ctx, itemID)
		writeError(w, apierr.New(apierr.KindForbidden, "item matches a known spam pattern"))
		return
	}
	if byteCount > s.policy.MaxSingleItemBytes {
		s.sinks.Quarantine(ctx, itemID)
		writeError(w, apierr.New(apierr.KindInvalidRequest, fmt.Sprintf("item exceeds max size of %d bytes", s.policy.MaxSingleItemBytes)))
		return
	}

	// Step 6: payment gate. Free-tier and allow-listed owners skip x402
	// entirely; everyone else must present a valid X-PAYMENT header or
	// receive a 402 quote for this exact upload.
	var paymentID string
	var settled *payment.SettlementResult
	if !s.policy.IsFreeUpload(byteCount) && !s.policy.IsAllowListed(ownerAddress) {
		uploadPath := r.URL.Path
		req, err := s.payments.Quote(ctx, network, byteCount, uploadPath)
		if err != nil {
			s.sinks.Quarantine(ctx, itemID)
			writeError(w, err)
			return
		}

		envHeader := r.Header.Get("X-PAYMENT")
		if envHeader == "" {
			s.sinks.Quarantine(ctx, itemID)
			writeJSON(w, http.StatusPaymentRequired, payment.QuoteEnvelope(req))
			return
		}

		settlement, err := s.payments.VerifyAndSettle(ctx, envHeader, req)
		if err != nil {
			s.sinks.Quarantine(ctx, itemID)
			writeError(w, err)
			return
		}
		settled = settlement

		env, decodeErr := payment.DecodeEnvelope(envHeader)
		if decodeErr != nil {
			s.sinks.Quarantine(ctx, itemID)
			writeError(w, decodeErr)
			return
		}

		paymentID, err = s.payments.RecordPayment(ctx, req, settlement, env.Payload.Authorization, byteCount)
		if err != nil {
			s.sinks.Quarantine(ctx, itemID)
			writeError(w, apierr.Wrap(apierr.KindInternal, "failed to record payment", err))
			return
		}
	}

	// Step 7: now that the full payload has landed, verify the signature
	// over the deep hash of header + payload. A tampered or malformed
	// signature quarantines the bytes and releases the claim.
	payloadHash := sha256.Sum256(raw[header.PayloadDataStart:])
	ok, err := wire.VerifySignature(header, payloadHash[:])
	if err != nil || !ok {
		s.sinks.Quarantine(ctx, itemID)
		writeError(w, apierr.New(apierr.KindInvalidRequest, "item signature verification failed"))
		return
	}

	// Step 8: determine the item's deadline height from the current chain
	// height plus the configured confirmation budget.
	height, err := s.chainGateway.CurrentHeight(ctx)
	if err != nil {
		s.sinks.Quarantine(ctx, itemID)
		writeError(w, apierr.Wrap(apierr.KindUnavailable, "chain gateway unreachable", err))
		return
	}
	deadlineHeight := height + s.deadlineIncrement

	// Step 9: build and sign the receipt the client takes as proof of
	// admission.
	chainUnits, err := s.oracle.ChainUnitPriceForBytes(ctx, byteCount)
	if err != nil {
		s.sinks.Quarantine(ctx, itemID)
		writeError(w, apierr.Wrap(apierr.KindInternal, "failed to price item", err))
		return
	}
	unsigned := newUnsignedReceipt(itemID, float64(chainUnits), deadlineHeight, s.dataCaches)
	receipt, err := Sign(s.wallet, unsigned)
	if err != nil {
		s.sinks.Quarantine(ctx, itemID)
		writeError(w, apierr.Wrap(apierr.KindInternal, "failed to sign receipt", err))
		return
	}

	// Step 10: persist the item record and enqueue it for bundling. The
	// item is considered admitted from this point; any failure past this
	// line is an internal-retry concern, not a client-facing rejection.
	tags := make([]database.ItemTag, 0, len(header.Tags))
	for _, t := range header.Tags {
		tags = append(tags, database.ItemTag{Name: t.Name, Value: t.Value})
	}
	if err := s.items.InsertNewItem(ctx, &database.NewItem{
		ID:                 itemID,
		OwnerAddress:       ownerAddress,
		SignatureType:      header.SignatureType,
		ByteCount:          byteCount,
		PayloadContentType: contentType,
		PayloadDataStart:   header.PayloadDataStart,
		DeadlineHeight:      deadlineHeight,
		AssessedPrice:      float64(chainUnits),
		Tags:               tags,
		Signature:          header.Signature,
	}); err != nil {
		s.sinks.Quarantine(ctx, itemID)
		writeError(w, apierr.Wrap(apierr.KindInternal, "failed to record item", err))
		return
	}
	admitted = true
	// The item is durably persisted; its hot-cache copy is no longer needed.
	s.sinks.HotCache.Evict(itemID)

	if _, err := s.broker.Enqueue(ctx, queue.LabelNewItem, map[string]string{"itemId": itemID}); err != nil {
		s.logger.Printf("enqueue new-item for %s failed: %v", itemID, err)
	}

	// Side-channel enqueues: nested bundles are exploded separately, and
	// unless the owner skips it, every item also crosses the optical
	// bridge for fast pre-finality visibility.
	if tagValue(header.Tags, unbundleTagName) != "" {
		if _, err := s.broker.Enqueue(ctx, queue.LabelUnbundleNested, map[string]string{"itemId": itemID}); err != nil {
			s.logger.Printf("enqueue unbundle-nested for %s failed: %v", itemID, err)
		}
	}
	if s.policy.OpticalBridgeEnabled && !s.policy.SkipsOpticalBridge(ownerAddress) {
		if _, err := s.broker.Enqueue(ctx, queue.LabelOpticalPost, map[string]string{"itemId": itemID}); err != nil {
			s.logger.Printf("enqueue optical-post for %s failed: %v", itemID, err)
		}
	}

	if paymentID != "" {
		if err := s.payments.LinkPayment(ctx, paymentID, itemID); err != nil {
			s.logger.Printf("link payment %s to item %s failed: %v", paymentID, itemID, err)
		}
	}

	// The replication delay before the item is visible to a subsequent
	// status read is small and bounded; wait it out here so the response
	// the client receives is immediately consistent with a status lookup.
	time.Sleep(replicationDelay)

	w.Header().Set("X-Payment-Response", mustEncodeResponseHeader(paymentID, network, settled))
	writeJSON(w, http.StatusOK, receipt)
}

// replicationDelay approximates the lag between an insert committing and it
// being visible to read replicas the status endpoint may hit.
const replicationDelay = 20 * time.Millisecond

func mustEncodeResponseHeader(paymentID, network string, settlement *payment.SettlementResult) string {
	if paymentID == "" {
		return ""
	}
	h, err := payment.EncodeResponseHeader(payment.ResponseHeader{
		PaymentID: paymentID,
		TxHash:    settlement.TxHash,
		Network:   network,
		Mode:      settlement.Mode,
	})
	if err != nil {
		return ""
	}
	return h
}

func tagValue(tags []wire.Tag, name string) string {
	for _, t := range tags {
		if t.Name == name {
			return t.Value
		}
	}
	return ""
}

