// Copyright 2025 Certen Protocol
//
// Payment Repository - x402 payment record lifecycle

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PaymentRepository handles x402 payment persistence.
type PaymentRepository struct {
	client *Client
}

// NewPaymentRepository creates a new payment repository.
func NewPaymentRepository(client *Client) *PaymentRepository {
	return &PaymentRepository{client: client}
}

// NewPayment is the input to InsertPayment.
type NewPayment struct {
	TxHash            *string
	Network           string
	TokenAddress      string
	PayerAddress      string
	RecipientAddress  string
	StableAmount      float64
	ChainUnitAmount   float64
	Mode              string
	DeclaredByteCount int64
}

// Payment is a full row projection.
type Payment struct {
	PaymentID         string
	TxHash            *string
	Network           string
	TokenAddress      string
	PayerAddress      string
	RecipientAddress  string
	StableAmount      float64
	ChainUnitAmount   float64
	Mode              string
	DeclaredByteCount int64
	ActualByteCount   *int64
	Status            string
	LinkedItemID      *string
	RefundAmount      *float64
	CreatedAt         time.Time
	FinalizedAt       *time.Time
}

// InsertPayment records a validated x402 payment in pending_validation
// state, before it is known which item (if any) it will fund.
func (r *PaymentRepository) InsertPayment(ctx context.Context, p *NewPayment) (string, error) {
	paymentID := uuid.New().String()
	query := `
		INSERT INTO x402_payments (
			payment_id, tx_hash, network, token_address, payer_address, recipient_address,
			stable_amount, chain_unit_amount, mode, declared_byte_count, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'pending_validation')`
	_, err := r.client.ExecContext(ctx, query,
		paymentID, p.TxHash, p.Network, p.TokenAddress, p.PayerAddress, p.RecipientAddress,
		p.StableAmount, p.ChainUnitAmount, p.Mode, p.DeclaredByteCount,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("payment for tx %v on %s already recorded", p.TxHash, p.Network)
		}
		return "", fmt.Errorf("insert payment: %w", err)
	}
	return paymentID, nil
}

// GetPayment fetches a payment by id.
func (r *PaymentRepository) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	query := `
		SELECT payment_id, tx_hash, network, token_address, payer_address, recipient_address,
			stable_amount, chain_unit_amount, mode, declared_byte_count, actual_byte_count,
			status, linked_item_id, refund_amount, created_at, finalized_at
		FROM x402_payments WHERE payment_id = $1`
	p := &Payment{}
	err := r.client.QueryRowContext(ctx, query, paymentID).Scan(
		&p.PaymentID, &p.TxHash, &p.Network, &p.TokenAddress, &p.PayerAddress, &p.RecipientAddress,
		&p.StableAmount, &p.ChainUnitAmount, &p.Mode, &p.DeclaredByteCount, &p.ActualByteCount,
		&p.Status, &p.LinkedItemID, &p.RefundAmount, &p.CreatedAt, &p.FinalizedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get payment %s: %w", paymentID, err)
	}
	return p, nil
}

// LinkPaymentToItem associates a settled payment with the admitted item it
// funds. The unique partial index on linked_item_id enforces that an item
// is funded by at most one payment.
func (r *PaymentRepository) LinkPaymentToItem(ctx context.Context, paymentID, itemID string) error {
	query := `UPDATE x402_payments SET linked_item_id = $2 WHERE payment_id = $1 AND linked_item_id IS NULL`
	res, err := r.client.ExecContext(ctx, query, paymentID, itemID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: item %s", ErrPaymentAlreadyLinked, itemID)
		}
		return fmt.Errorf("link payment %s to item %s: %w", paymentID, itemID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: payment %s", ErrPaymentAlreadyLinked, paymentID)
	}
	return nil
}

// FinalizePayment closes out a payment once the item's actual byte count
// is known, recording the fraud-band status and any refund owed.
func (r *PaymentRepository) FinalizePayment(ctx context.Context, paymentID string, actualByteCount int64, status string, refundAmount *float64) error {
	query := `
		UPDATE x402_payments
		SET actual_byte_count = $2, status = $3, refund_amount = $4, finalized_at = now()
		WHERE payment_id = $1`
	res, err := r.client.ExecContext(ctx, query, paymentID, actualByteCount, status, refundAmount)
	if err != nil {
		return fmt.Errorf("finalize payment %s: %w", paymentID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// FindByItemID looks up the payment linked to an admitted item, if any.
// Free-tier and allow-listed items have no linked payment.
func (r *PaymentRepository) FindByItemID(ctx context.Context, itemID string) (*Payment, error) {
	query := `
		SELECT payment_id, tx_hash, network, token_address, payer_address, recipient_address,
			stable_amount, chain_unit_amount, mode, declared_byte_count, actual_byte_count,
			status, linked_item_id, refund_amount, created_at, finalized_at
		FROM x402_payments WHERE linked_item_id = $1`
	p := &Payment{}
	err := r.client.QueryRowContext(ctx, query, itemID).Scan(
		&p.PaymentID, &p.TxHash, &p.Network, &p.TokenAddress, &p.PayerAddress, &p.RecipientAddress,
		&p.StableAmount, &p.ChainUnitAmount, &p.Mode, &p.DeclaredByteCount, &p.ActualByteCount,
		&p.Status, &p.LinkedItemID, &p.RefundAmount, &p.CreatedAt, &p.FinalizedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find payment by item %s: %w", itemID, err)
	}
	return p, nil
}

// FindByTxHash looks up a payment by its on-chain transaction hash,
// used to detect and reject facilitator-level replays.
func (r *PaymentRepository) FindByTxHash(ctx context.Context, txHash, network string) (*Payment, error) {
	query := `
		SELECT payment_id, tx_hash, network, token_address, payer_address, recipient_address,
			stable_amount, chain_unit_amount, mode, declared_byte_count, actual_byte_count,
			status, linked_item_id, refund_amount, created_at, finalized_at
		FROM x402_payments WHERE tx_hash = $1 AND network = $2`
	p := &Payment{}
	err := r.client.QueryRowContext(ctx, query, txHash, network).Scan(
		&p.PaymentID, &p.TxHash, &p.Network, &p.TokenAddress, &p.PayerAddress, &p.RecipientAddress,
		&p.StableAmount, &p.ChainUnitAmount, &p.Mode, &p.DeclaredByteCount, &p.ActualByteCount,
		&p.Status, &p.LinkedItemID, &p.RefundAmount, &p.CreatedAt, &p.FinalizedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find payment by tx %s/%s: %w", network, txHash, err)
	}
	return p, nil
}
