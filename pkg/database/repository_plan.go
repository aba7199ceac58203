// Copyright 2025 Certen Protocol
//
// Bundle Plan Repository - packer output and pipeline lifecycle tracking

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PlanRepository handles bundle plan persistence and lifecycle transitions.
type PlanRepository struct {
	client *Client
}

// NewPlanRepository creates a new bundle plan repository.
func NewPlanRepository(client *Client) *PlanRepository {
	return &PlanRepository{client: client}
}

// NewPlan is the input to CreateBundlePlan.
type NewPlan struct {
	ItemIDs            []string
	TotalByteCount      int64
	PremiumFeatureType *string
	OverdueFlag        bool
}

// BundlePlan is a full row projection.
type BundlePlan struct {
	PlanID             string
	ItemIDs            []string
	TotalByteCount     int64
	ItemCount          int
	PlannedAt          time.Time
	PremiumFeatureType *string
	OverdueFlag        bool
	Status             string
	ByteCountPrepared  *int64
	FailedReason       *string
}

// CreateBundlePlan persists a packer decision and atomically marks every
// referenced item as `planned`, pointing back at the new plan id. Invariant
// B (every item belongs to at most one active plan) is enforced by the
// WHERE status='new' clause in the batch update: a concurrent planner
// racing for the same item simply updates zero rows for it.
func (r *PlanRepository) CreateBundlePlan(ctx context.Context, p *NewPlan) (*BundlePlan, error) {
	planID := uuid.New().String()
	idsJSON, err := json.Marshal(p.ItemIDs)
	if err != nil {
		return nil, fmt.Errorf("marshal item ids: %w", err)
	}

	tx, err := r.client.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var plannedAt time.Time
	insertQuery := `
		INSERT INTO bundle_plan (plan_id, item_ids, total_byte_count, item_count, premium_feature_type, overdue_flag, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'planned')
		RETURNING planned_at`
	if err := tx.Tx().QueryRowContext(ctx, insertQuery,
		planID, idsJSON, p.TotalByteCount, len(p.ItemIDs), p.PremiumFeatureType, p.OverdueFlag,
	).Scan(&plannedAt); err != nil {
		return nil, fmt.Errorf("insert bundle plan: %w", err)
	}

	updateQuery := `UPDATE new_data_item SET status = 'planned', bundle_plan_id = $1 WHERE id = ANY($2) AND status = 'new'`
	res, err := tx.Tx().ExecContext(ctx, updateQuery, planID, pq.Array(p.ItemIDs))
	if err != nil {
		return nil, fmt.Errorf("mark items planned: %w", err)
	}
	if n, _ := res.RowsAffected(); int(n) != len(p.ItemIDs) {
		return nil, fmt.Errorf("%w: plan %s raced with a concurrent planner", ErrAlreadyPlanned, planID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit bundle plan: %w", err)
	}

	return &BundlePlan{
		PlanID:             planID,
		ItemIDs:            p.ItemIDs,
		TotalByteCount:     p.TotalByteCount,
		ItemCount:          len(p.ItemIDs),
		PlannedAt:          plannedAt,
		PremiumFeatureType: p.PremiumFeatureType,
		OverdueFlag:        p.OverdueFlag,
		Status:             "planned",
	}, nil
}

// GetBundlePlan fetches a plan by id.
func (r *PlanRepository) GetBundlePlan(ctx context.Context, planID string) (*BundlePlan, error) {
	query := `
		SELECT plan_id, item_ids, total_byte_count, item_count, planned_at,
			premium_feature_type, overdue_flag, status, byte_count_prepared, failed_reason
		FROM bundle_plan WHERE plan_id = $1`
	var p BundlePlan
	var idsJSON []byte
	err := r.client.QueryRowContext(ctx, query, planID).Scan(
		&p.PlanID, &idsJSON, &p.TotalByteCount, &p.ItemCount, &p.PlannedAt,
		&p.PremiumFeatureType, &p.OverdueFlag, &p.Status, &p.ByteCountPrepared, &p.FailedReason,
	)
	if err == sql.ErrNoRows {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bundle plan %s: %w", planID, err)
	}
	if err := json.Unmarshal(idsJSON, &p.ItemIDs); err != nil {
		return nil, fmt.Errorf("unmarshal item ids: %w", err)
	}
	return &p, nil
}

// MarkPrepared records the packed bundle's realized byte count once the
// bundle packer has actually encoded it (accounting for header overhead
// the planner's estimate didn't capture).
func (r *PlanRepository) MarkPrepared(ctx context.Context, planID string, byteCountPrepared int64) error {
	query := `UPDATE bundle_plan SET status = 'prepared', byte_count_prepared = $2 WHERE plan_id = $1`
	res, err := r.client.ExecContext(ctx, query, planID, byteCountPrepared)
	if err != nil {
		return fmt.Errorf("mark plan %s prepared: %w", planID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPlanNotFound
	}
	return nil
}

// MarkPosted transitions a plan to `posted` and records the chain
// transaction id the bundle was submitted under, creating the
// posted_bundle row in the same transaction.
func (r *PlanRepository) MarkPosted(ctx context.Context, planID, bundleTxID string, byteCount int64, itemCount int) error {
	tx, err := r.client.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Tx().ExecContext(ctx, `UPDATE bundle_plan SET status = 'posted' WHERE plan_id = $1`, planID); err != nil {
		return fmt.Errorf("mark plan %s posted: %w", planID, err)
	}

	insert := `INSERT INTO posted_bundle (bundle_tx_id, plan_id, byte_count, item_count) VALUES ($1, $2, $3, $4)`
	if _, err := tx.Tx().ExecContext(ctx, insert, bundleTxID, planID, byteCount, itemCount); err != nil {
		return fmt.Errorf("insert posted bundle %s: %w", bundleTxID, err)
	}

	if _, err := tx.Tx().ExecContext(ctx, `UPDATE new_data_item SET posted_bundle_tx_id = $2, status = 'posted' WHERE bundle_plan_id = $1 AND status != 'failed'`, planID, bundleTxID); err != nil {
		return fmt.Errorf("mark items posted for plan %s: %w", planID, err)
	}

	return tx.Commit()
}

// MarkPermanent transitions a posted bundle and its plan to `permanent`
// once the chain gateway reports the configured confirmation depth, and
// cascades the transition to every contained item.
func (r *PlanRepository) MarkPermanent(ctx context.Context, bundleTxID string, confirmedHeight int64, itemRepo *ItemRepository) error {
	tx, err := r.client.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var planID string
	err = tx.Tx().QueryRowContext(ctx, `UPDATE posted_bundle SET confirmed_height = $2 WHERE bundle_tx_id = $1 RETURNING plan_id`, bundleTxID, confirmedHeight).Scan(&planID)
	if err == sql.ErrNoRows {
		return ErrBundleNotFound
	}
	if err != nil {
		return fmt.Errorf("update posted bundle %s: %w", bundleTxID, err)
	}

	if _, err := tx.Tx().ExecContext(ctx, `UPDATE bundle_plan SET status = 'permanent' WHERE plan_id = $1`, planID); err != nil {
		return fmt.Errorf("mark plan %s permanent: %w", planID, err)
	}
	if _, err := tx.Tx().ExecContext(ctx, `UPDATE new_data_item SET status = 'permanent', confirmed_height = $2 WHERE posted_bundle_tx_id = $1`, bundleTxID, confirmedHeight); err != nil {
		return fmt.Errorf("mark items permanent for bundle %s: %w", bundleTxID, err)
	}

	return tx.Commit()
}

// MarkFailed transitions a plan to `failed`, releasing every member item
// back to `new` (with its failedBundles counter bumped) so the next
// packer pass can re-plan it — unless an item has exhausted its retry
// budget, in which case ItemRepository.IncrementFailedBundles routes it
// to `failed` instead.
func (r *PlanRepository) MarkFailed(ctx context.Context, planID, reason string, itemRepo *ItemRepository, maxAttempts int) error {
	plan, err := r.GetBundlePlan(ctx, planID)
	if err != nil {
		return err
	}

	query := `UPDATE bundle_plan SET status = 'failed', failed_reason = $2 WHERE plan_id = $1`
	if _, err := r.client.ExecContext(ctx, query, planID, reason); err != nil {
		return fmt.Errorf("mark plan %s failed: %w", planID, err)
	}

	for _, id := range plan.ItemIDs {
		if err := itemRepo.IncrementFailedBundles(ctx, id, maxAttempts, reason); err != nil {
			return fmt.Errorf("releasing item %s from failed plan %s: %w", id, planID, err)
		}
	}
	return nil
}
