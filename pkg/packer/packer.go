// Copyright 2025 Certen Protocol
//
// Bundle Packer: a plan-bundle worker that greedily bins unbundled items
// into size/count-bounded bundle plans, per feature class, grounded on the
// teacher's pkg/batch/collector.go batching-window trigger logic
// generalized to per-class partitioning.

package packer

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/certen/bundler/pkg/database"
	"github.com/certen/bundler/pkg/queue"
)

// Config configures a Packer pass.
type Config struct {
	Items              *database.ItemRepository
	Plans              *database.PlanRepository
	Broker             *queue.Broker
	MaxBundleByteCount int64
	MaxItemsPerBundle  int
	OverdueThreshold   time.Duration
	FeatureClasses     []string // premium feature classes besides the default (nil) class
	ListBatchSize      int
	Logger             *log.Logger
}

// Packer accumulates admitted items into bundle plans within the
// configured size/count budgets.
type Packer struct {
	items              *database.ItemRepository
	plans              *database.PlanRepository
	broker             *queue.Broker
	maxBundleByteCount int64
	maxItemsPerBundle  int
	overdueThreshold   time.Duration
	featureClasses     []string
	listBatchSize      int
	logger             *log.Logger
}

// New constructs a Packer.
func New(cfg Config) *Packer {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[Packer] ", log.LstdFlags)
	}
	listBatch := cfg.ListBatchSize
	if listBatch == 0 {
		listBatch = cfg.MaxItemsPerBundle * 4
	}
	return &Packer{
		items:              cfg.Items,
		plans:              cfg.Plans,
		broker:             cfg.Broker,
		maxBundleByteCount: cfg.MaxBundleByteCount,
		maxItemsPerBundle:  cfg.MaxItemsPerBundle,
		overdueThreshold:   cfg.OverdueThreshold,
		featureClasses:     cfg.FeatureClasses,
		listBatchSize:      listBatch,
		logger:             logger,
	}
}

// RunOnce packs every feature class (including the default, unclassified
// class) exactly once and returns the number of plans created.
func (p *Packer) RunOnce(ctx context.Context) (int, error) {
	total := 0

	n, err := p.planClass(ctx, nil)
	if err != nil {
		return total, fmt.Errorf("plan default feature class: %w", err)
	}
	total += n

	for _, class := range p.featureClasses {
		class := class
		n, err := p.planClass(ctx, &class)
		if err != nil {
			return total, fmt.Errorf("plan feature class %s: %w", class, err)
		}
		total += n
	}

	return total, nil
}

// planClass lists every unbundled item in a single feature class, in
// insertion order (oldest uploadedAt first, lexicographic itemId as the
// tie-break — both already enforced by ListUnbundledItems' ORDER BY), and
// greedily bins them into plans.
func (p *Packer) planClass(ctx context.Context, featureClass *string) (int, error) {
	items, err := p.items.ListUnbundledItems(ctx, featureClass, p.listBatchSize, nil)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	overdueCutoff := time.Now().Add(-p.overdueThreshold)
	batches := binPack(items, p.maxBundleByteCount, p.maxItemsPerBundle, overdueCutoff)

	created := 0
	for _, batch := range batches {
		ids := make([]string, len(batch))
		var size int64
		for i, it := range batch {
			ids[i] = it.ID
			size += it.ByteCount
		}
		overdue := batch[0].UploadedAt.Before(overdueCutoff)

		plan, err := p.plans.CreateBundlePlan(ctx, &database.NewPlan{
			ItemIDs:            ids,
			TotalByteCount:     size,
			PremiumFeatureType: featureClass,
			OverdueFlag:        overdue,
		})
		if err != nil {
			return created, fmt.Errorf("create bundle plan: %w", err)
		}
		if _, err := p.broker.Enqueue(ctx, queue.LabelPrepareBundle, map[string]string{"planId": plan.PlanID}); err != nil {
			p.logger.Printf("enqueue prepare-bundle for plan %s failed: %v", plan.PlanID, err)
		}
		created++
	}

	return created, nil
}

// binPack greedily accumulates items (already ordered oldest-uploadedAt
// first, lexicographic itemId as the tie-break) into size/count-bounded
// batches. A trailing batch that is neither full nor overdue is held back
// — left out of the returned slice — so a later pass can pack it more
// tightly alongside newly admitted items.
func binPack(items []database.Item, maxBytes int64, maxItems int, overdueCutoff time.Time) [][]database.Item {
	var batches [][]database.Item
	var batch []database.Item
	var size int64

	flush := func() {
		if len(batch) > 0 {
			batches = append(batches, batch)
			batch = nil
			size = 0
		}
	}

	for _, item := range items {
		if len(batch) > 0 && (size+item.ByteCount > maxBytes || len(batch) >= maxItems) {
			flush()
		}
		batch = append(batch, item)
		size += item.ByteCount
	}

	if len(batch) > 0 {
		full := len(batch) >= maxItems || size >= maxBytes
		overdue := batch[0].UploadedAt.Before(overdueCutoff)
		if full || overdue {
			flush()
		}
	}

	return batches
}
