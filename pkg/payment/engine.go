// Copyright 2025 Certen Protocol
//
// Payment Engine: quote generation, local + remote x402 verification,
// ordered-facilitator settlement, and fraud-band finalization once an
// item's actual byte count is known.

package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"os"
	"sync"

	"github.com/certen/bundler/pkg/apierr"
	"github.com/certen/bundler/pkg/config"
	"github.com/certen/bundler/pkg/database"
	"github.com/certen/bundler/pkg/pricing"
)

// Engine ties together network configuration, the pricing oracle, local
// signature verification, and facilitator settlement.
type Engine struct {
	networks    map[string]config.NetworkConfig
	oracle      *pricing.Oracle
	facilitator *FacilitatorClient
	repo        *database.PaymentRepository
	logger      *log.Logger

	publicBaseURL   string
	feePct          float64
	fraudTolerance  float64
	maxTimeoutSecs  int

	mu sync.RWMutex
}

// Config configures a new payment Engine.
type Config struct {
	Networks        []config.NetworkConfig
	Oracle          *pricing.Oracle
	Payments        *database.PaymentRepository
	PublicBaseURL   string
	FeePct          float64
	FraudTolerance  float64
	MaxTimeoutSecs  int
	Logger          *log.Logger
}

// NewEngine constructs a payment Engine over the enabled network list.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[Payment] ", log.LstdFlags)
	}
	maxTimeout := cfg.MaxTimeoutSecs
	if maxTimeout == 0 {
		maxTimeout = 3600
	}

	byName := make(map[string]config.NetworkConfig, len(cfg.Networks))
	for _, n := range cfg.Networks {
		if n.Enabled {
			byName[n.Name] = n
		}
	}

	return &Engine{
		networks:       byName,
		oracle:         cfg.Oracle,
		facilitator:    NewFacilitatorClient(),
		repo:           cfg.Payments,
		logger:         logger,
		publicBaseURL:  cfg.PublicBaseURL,
		feePct:         cfg.FeePct,
		fraudTolerance: cfg.FraudTolerance,
		maxTimeoutSecs: maxTimeout,
	}
}

// network resolves a named, enabled network or returns NetworkDisabled.
func (e *Engine) network(name string) (config.NetworkConfig, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n, ok := e.networks[name]
	if !ok {
		return config.NetworkConfig{}, apierr.New(apierr.KindNetworkDisabled, fmt.Sprintf("network %q is not enabled", name))
	}
	return n, nil
}

// Networks returns the names of every enabled network the engine will
// quote and settle on.
func (e *Engine) Networks() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.networks))
	for name := range e.networks {
		names = append(names, name)
	}
	return names
}

// Quote builds the PaymentRequirements for an upload of byteCount bytes on
// the given network.
func (e *Engine) Quote(ctx context.Context, networkName string, byteCount int64, uploadPath string) (*Requirements, error) {
	net, err := e.network(networkName)
	if err != nil {
		return nil, err
	}

	chainUnits, err := e.oracle.ChainUnitPriceForBytes(ctx, byteCount)
	if err != nil {
		return nil, fmt.Errorf("price chain units for %d bytes: %w", byteCount, err)
	}
	atomicStable, err := e.oracle.StableForChainUnits(ctx, chainUnits)
	if err != nil {
		return nil, fmt.Errorf("convert chain units to stable atomic units: %w", err)
	}

	return &Requirements{
		Scheme:            "exact",
		Network:           net.Name,
		MaxAmountRequired: big.NewInt(0).SetUint64(atomicStable).String(),
		Resource:          e.publicBaseURL + uploadPath,
		PayTo:             net.PayTo,
		Asset:             net.TokenAddress,
		MaxTimeoutSeconds: e.maxTimeoutSecs,
		Extra: RequirementsExtra{
			Name:    net.TokenName,
			Version: net.TokenVersion,
		},
	}, nil
}

// QuoteEnvelope wraps a single Requirements in the 402 response body shape.
func QuoteEnvelope(req *Requirements) *Quote {
	return &Quote{X402Version: 1, Accepts: []Requirements{*req}}
}

// VerifyAndSettle decodes the client's X-PAYMENT header, verifies the
// authorization locally (and optionally against facilitators), then settles
// it through the first facilitator that accepts it.
func (e *Engine) VerifyAndSettle(ctx context.Context, envelopeB64 string, req *Requirements) (*SettlementResult, error) {
	env, err := DecodeEnvelope(envelopeB64)
	if err != nil {
		return nil, err
	}

	net, err := e.network(req.Network)
	if err != nil {
		return nil, err
	}

	if err := Verify(ctx, net, req, env); err != nil {
		return nil, err
	}

	// Optional remote corroboration: forward to each facilitator's
	// /verify endpoint. Local verification already passed, so a
	// facilitator-side rejection here is logged but not fatal — the
	// facilitators remain authoritative for settlement regardless.
	if len(net.Facilitators) > 0 {
		if err := e.facilitator.VerifyRemote(ctx, net.Facilitators, env, req); err != nil {
			e.logger.Printf("remote verify corroboration failed (continuing to settle): %v", err)
		}
	}

	if len(net.Facilitators) == 0 {
		return nil, apierr.New(apierr.KindFacilitatorAllFailed, fmt.Sprintf("no facilitators configured for network %s", net.Name))
	}

	result, err := e.facilitator.Settle(ctx, net.Facilitators, env, req)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindFacilitatorAllFailed, "settlement failed on every facilitator", err)
	}
	return result, nil
}

// RecordPayment inserts the settled payment as pending_validation, ready to
// be linked to the admitted item.
func (e *Engine) RecordPayment(ctx context.Context, req *Requirements, result *SettlementResult, auth Authorization, declaredByteCount int64) (string, error) {
	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return "", fmt.Errorf("invalid authorization value %q", auth.Value)
	}
	stableAmount := new(big.Float).SetInt(value)
	stableAmount.Quo(stableAmount, big.NewFloat(1_000_000))
	f, _ := stableAmount.Float64()

	chainUnits, err := e.oracle.ChainUnitPriceForBytes(ctx, declaredByteCount)
	if err != nil {
		return "", fmt.Errorf("recompute chain unit amount for payment record: %w", err)
	}

	txHash := result.TxHash
	return e.repo.InsertPayment(ctx, &database.NewPayment{
		TxHash:            &txHash,
		Network:           req.Network,
		TokenAddress:      req.Asset,
		PayerAddress:      auth.From,
		RecipientAddress:  req.PayTo,
		StableAmount:      f,
		ChainUnitAmount:   float64(chainUnits),
		Mode:              result.Mode,
		DeclaredByteCount: declaredByteCount,
	})
}

// LinkPayment associates a settled payment with the item id it funds.
func (e *Engine) LinkPayment(ctx context.Context, paymentID, itemID string) error {
	return e.repo.LinkPaymentToItem(ctx, paymentID, itemID)
}

// fraud reconciliation statuses persisted on the payment row.
const (
	statusConfirmed    = "confirmed"
	statusRefunded     = "refunded"
	statusFraudPenalty = "fraud_penalty"
)

// FinalizeResult reports the reconciliation outcome for a finalized payment.
type FinalizeResult struct {
	Status       string
	RefundAmount *float64
	Quarantine   bool
}

// reconcileFraudBand computes the fraud-tolerance-band outcome for a
// declared-vs-actual byte count pair. Pure function so the band math is
// testable without a database.
func reconcileFraudBand(declared, actual int64, tolerancePct float64, chainUnitAmount float64) FinalizeResult {
	lowerBound := float64(declared) * (1 - tolerancePct/100)
	upperBound := float64(declared) * (1 + tolerancePct/100)
	actualF := float64(actual)

	switch {
	case actualF >= lowerBound && actualF <= upperBound:
		return FinalizeResult{Status: statusConfirmed}
	case actualF < lowerBound:
		// chainUnitAmount * (1 - actual/declared), with the shortfall kept
		// as an integer difference so an exact fraction stays exact.
		refund := chainUnitAmount * float64(declared-actual) / float64(declared)
		return FinalizeResult{Status: statusRefunded, RefundAmount: &refund}
	default: // actual > upperBound
		return FinalizeResult{Status: statusFraudPenalty, Quarantine: true}
	}
}

// Finalize runs the fraud-band reconciliation once an item's actual byte
// count is known (on its first transition to prepared), comparing it
// against the declared byte count the payment was quoted on.
func (e *Engine) Finalize(ctx context.Context, paymentID string, actualByteCount int64) (*FinalizeResult, error) {
	p, err := e.repo.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	tolerance := e.fraudTolerance
	if tolerance == 0 {
		tolerance = 5.0
	}
	result := reconcileFraudBand(p.DeclaredByteCount, actualByteCount, tolerance, p.ChainUnitAmount)

	if err := e.repo.FinalizePayment(ctx, paymentID, actualByteCount, result.Status, result.RefundAmount); err != nil {
		return nil, err
	}
	return &result, nil
}

// FinalizeItem is Finalize keyed by item id rather than payment id, for
// callers (the pipeline's prepare-bundle worker) that only know the item.
// Items with no linked payment (free-tier, allow-listed) are a no-op —
// nil, nil is returned rather than an error.
func (e *Engine) FinalizeItem(ctx context.Context, itemID string, actualByteCount int64) (*FinalizeResult, error) {
	p, err := e.repo.FindByItemID(ctx, itemID)
	if errors.Is(err, database.ErrPaymentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e.Finalize(ctx, p.PaymentID, actualByteCount)
}
