// Copyright 2025 Certen Protocol
//
// Optical Bridge: best-effort, out-of-band forwarding of item headers to
// downstream indexers. Forwarding failures never fail an upload; they are
// isolated behind per-sink circuit breakers so a slow or dead indexer can't
// back up the queue worker pool assigned to optical-post.

package optical

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/certen/bundler/pkg/database"
	"github.com/certen/bundler/pkg/queue"
	"github.com/certen/bundler/pkg/wallet"
)

// Config wires a Bridge's dependencies and sink topology.
type Config struct {
	Items  *database.ItemRepository
	Wallet *wallet.Wallet

	PrimarySinkURL   string
	OptionalSinkURLs []string
	CanarySinkURL    string
	CanarySampleRate float64 // fraction of items, in [0,1], forwarded to the canary sink

	// LocalMode widens the per-call timeout from 3s to 7.7s, matching the
	// slower round-trips of a locally-run indexer stack.
	LocalMode bool

	Logger *log.Logger
}

// Bridge forwards re-signed item headers to one primary indexer, N optional
// indexers, and a sampled canary indexer, each behind its own breaker.
type Bridge struct {
	items  *database.ItemRepository
	wallet *wallet.Wallet

	primary  *sink
	optional []*sink
	canary   *sink

	canarySampleRate float64
	logger           *log.Logger
}

// New builds a Bridge. A Config with no PrimarySinkURL is valid — it means
// the deployment runs with the optical bridge wired but no sinks configured
// yet, in which case optical-post jobs succeed as a no-op.
func New(cfg Config) *Bridge {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[Optical] ", log.LstdFlags)
	}

	callTimeout := 3 * time.Second
	if cfg.LocalMode {
		callTimeout = 7700 * time.Millisecond
	}

	b := &Bridge{
		items:            cfg.Items,
		wallet:           cfg.Wallet,
		canarySampleRate: cfg.CanarySampleRate,
		logger:           logger,
	}

	if cfg.PrimarySinkURL != "" {
		b.primary = newSink("primary", cfg.PrimarySinkURL, callTimeout, logger)
	}
	for i, url := range cfg.OptionalSinkURLs {
		b.optional = append(b.optional, newSink(fmt.Sprintf("optional-%d", i), url, callTimeout, logger))
	}
	if cfg.CanarySinkURL != "" {
		b.canary = newSink("canary", cfg.CanarySinkURL, callTimeout, logger)
	}

	return b
}

// Register wires the optical-post handler into broker.
func (b *Bridge) Register(broker *queue.Broker) {
	broker.Register(queue.LabelOpticalPost, b.handleOpticalPost)
}

type opticalPostPayload struct {
	ItemID string `json:"itemId"`
}

// opticalHeader is the re-signed summary forwarded to indexers: just enough
// for a downstream indexer to surface the item without holding the payload.
type opticalHeader struct {
	ItemID             string            `json:"itemId"`
	OwnerAddress       string            `json:"ownerAddress"`
	ByteCount          int64             `json:"byteCount"`
	PayloadContentType string            `json:"payloadContentType"`
	Tags               []database.ItemTag `json:"tags"`
	DeadlineHeight     int64             `json:"deadlineHeight"`
	SignerAddr         string            `json:"signerAddress"`
	Signature          string            `json:"signature"`
}

func (b *Bridge) handleOpticalPost(ctx context.Context, job *queue.Job) error {
	var payload opticalPostPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal optical-post payload: %w", err)
	}

	items, err := b.items.GetItemsByIDs(ctx, []string{payload.ItemID})
	if err != nil {
		return fmt.Errorf("load item %s: %w", payload.ItemID, err)
	}
	if len(items) == 0 {
		b.logger.Printf("item %s no longer exists, dropping optical-post", payload.ItemID)
		return nil
	}
	item := items[0]

	body, err := b.signedHeader(item)
	if err != nil {
		return fmt.Errorf("sign optical header for %s: %w", payload.ItemID, err)
	}

	if b.primary != nil {
		if err := b.primary.forward(ctx, body); err != nil {
			return fmt.Errorf("primary indexer rejected item %s: %w", payload.ItemID, err)
		}
	}

	for _, s := range b.optional {
		if err := s.forward(ctx, body); err != nil {
			b.logger.Printf("optional sink %s failed for item %s: %v", s.name, payload.ItemID, err)
		}
	}

	if b.canary != nil && shouldSampleCanary(payload.ItemID, b.canarySampleRate) {
		if err := b.canary.forward(ctx, body); err != nil {
			b.logger.Printf("canary sink failed for item %s: %v", payload.ItemID, err)
		}
	}

	return nil
}

func (b *Bridge) signedHeader(item database.Item) ([]byte, error) {
	h := opticalHeader{
		ItemID:             item.ID,
		OwnerAddress:       item.OwnerAddress,
		ByteCount:          item.ByteCount,
		PayloadContentType: item.PayloadContentType,
		Tags:               item.Tags,
		DeadlineHeight:     item.DeadlineHeight,
	}

	unsigned, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("marshal unsigned header: %w", err)
	}
	digest := sha256Sum(unsigned)

	sig, err := b.wallet.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("sign header digest: %w", err)
	}
	h.SignerAddr = b.wallet.Address()
	h.Signature = hexEncode(sig)

	return json.Marshal(h)
}

// httpStatusOK reports whether resp represents a successful forward,
// shared by every sink so a 4xx from an indexer counts as a breaker failure
// just like a network error would.
func httpStatusOK(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
