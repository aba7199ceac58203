// Copyright 2025 Certen Protocol
//
// Pipeline: the queue-job handlers that carry a bundle plan from prepared
// bytes through chain posting, confirmation, and offset publication, plus
// the supporting nested-bundle, multi-part-upload, and filesystem-cleanup
// workers. Grounded on the teacher's pkg/batch/processor.go and
// confirmation_tracker.go coordinator-struct style, adapted from a
// ticker-driven poller onto the broker's job-queue model.

package pipeline

import (
	"log"
	"os"
	"time"

	"github.com/certen/bundler/pkg/chain"
	"github.com/certen/bundler/pkg/database"
	"github.com/certen/bundler/pkg/objectstore"
	"github.com/certen/bundler/pkg/payment"
	"github.com/certen/bundler/pkg/queue"
	"github.com/certen/bundler/pkg/wallet"
)

// Config wires every dependency a pipeline worker needs.
type Config struct {
	Items    *database.ItemRepository
	Plans    *database.PlanRepository
	Offsets  *database.OffsetRepository
	Cursors  *database.CursorRepository
	Payments *payment.Engine

	Broker *queue.Broker
	Store  *objectstore.Client
	Chain  *chain.Gateway
	Wallet *wallet.Wallet

	DataDir string

	ConfirmationDepth       int
	VerifyTimeout           time.Duration
	MaxBundleAttempts       int
	PostBundleDelay         time.Duration
	DeadlineHeightIncrement int64

	FilesystemCleanupDays int
	MinioCleanupDays      int
	CleanupBatchSize      int

	Logger *log.Logger
}

// Pipeline binds Config to the handlers that act on it.
type Pipeline struct {
	items    *database.ItemRepository
	plans    *database.PlanRepository
	offsets  *database.OffsetRepository
	cursors  *database.CursorRepository
	payments *payment.Engine

	broker *queue.Broker
	store  *objectstore.Client
	chain  *chain.Gateway
	wallet *wallet.Wallet

	dataDir string

	confirmationDepth       int
	verifyTimeout           time.Duration
	maxBundleAttempts       int
	postBundleDelay         time.Duration
	deadlineHeightIncrement int64

	fsCleanupDays    int
	minioCleanupDays int
	cleanupBatchSize int

	logger *log.Logger
}

// New constructs a Pipeline, filling in the same style of defaults the
// teacher's coordinator constructors use.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[Pipeline] ", log.LstdFlags)
	}
	maxAttempts := cfg.MaxBundleAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	confirmationDepth := cfg.ConfirmationDepth
	if confirmationDepth == 0 {
		confirmationDepth = 18
	}
	verifyTimeout := cfg.VerifyTimeout
	if verifyTimeout == 0 {
		verifyTimeout = 6 * time.Hour
	}
	postBundleDelay := cfg.PostBundleDelay
	if postBundleDelay == 0 {
		postBundleDelay = 30 * time.Second
	}
	batchSize := cfg.CleanupBatchSize
	if batchSize == 0 {
		batchSize = 500
	}

	return &Pipeline{
		items:    cfg.Items,
		plans:    cfg.Plans,
		offsets:  cfg.Offsets,
		cursors:  cfg.Cursors,
		payments: cfg.Payments,

		broker: cfg.Broker,
		store:  cfg.Store,
		chain:  cfg.Chain,
		wallet: cfg.Wallet,

		dataDir: cfg.DataDir,

		confirmationDepth:       confirmationDepth,
		verifyTimeout:           verifyTimeout,
		maxBundleAttempts:       maxAttempts,
		postBundleDelay:         postBundleDelay,
		deadlineHeightIncrement: cfg.DeadlineHeightIncrement,

		fsCleanupDays:    cfg.FilesystemCleanupDays,
		minioCleanupDays: cfg.MinioCleanupDays,
		cleanupBatchSize: batchSize,

		logger: logger,
	}
}

// Register binds every pipeline handler to its queue label. Must be called
// before broker.Start.
func (p *Pipeline) Register(broker *queue.Broker) {
	broker.Register(queue.LabelNewItem, p.handleNewItem)
	broker.Register(queue.LabelPrepareBundle, p.handlePrepareBundle)
	broker.Register(queue.LabelPostBundle, p.handlePostBundle)
	broker.Register(queue.LabelVerifyBundle, p.handleVerifyBundle)
	broker.Register(queue.LabelPutOffsets, p.handlePutOffsets)
	broker.Register(queue.LabelUnbundleNested, p.handleUnbundleNested)
	broker.Register(queue.LabelFinalizeUpload, p.handleFinalizeUpload)
	broker.Register(queue.LabelCleanupFS, p.handleCleanupFS)
}
