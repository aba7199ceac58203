// Copyright 2025 Certen Protocol
//
// Item Repository - CRUD and lifecycle transitions for data items

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// ItemRepository handles data item lifecycle operations.
type ItemRepository struct {
	client *Client
}

// NewItemRepository creates a new item repository.
func NewItemRepository(client *Client) *ItemRepository {
	return &ItemRepository{client: client}
}

// NewItem is the input to InsertNewItem.
type NewItem struct {
	ID                 string
	OwnerAddress       string
	SignatureType      uint16
	ByteCount          int64
	PayloadContentType string
	PayloadDataStart   int64
	DeadlineHeight     int64
	AssessedPrice      float64
	PremiumFeatureType *string
	Tags               []ItemTag
	Signature          []byte
}

// ItemTag mirrors wire.Tag without importing pkg/wire from pkg/database.
type ItemTag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ItemStatus is the result of GetItemStatus.
type ItemStatus struct {
	ID            string
	Status        string
	BundlePlanID  *string
	FailedReason  *string
	AssessedPrice float64
}

// Item is a full row projection used by packer/pipeline workers.
type Item struct {
	ID                 string
	OwnerAddress       string
	SignatureType      uint16
	ByteCount          int64
	PayloadContentType string
	PayloadDataStart   int64
	UploadedAt         time.Time
	DeadlineHeight     int64
	AssessedPrice      float64
	FailedBundles      int
	PremiumFeatureType *string
	Tags               []ItemTag
	Signature          []byte
	Status             string
}

// InsertNewItem inserts a row with state=new; the UNIQUE key on id rejects
// duplicates (enforces at-most-once admission, invariant A).
func (r *ItemRepository) InsertNewItem(ctx context.Context, item *NewItem) error {
	tagsJSON, err := json.Marshal(item.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	query := `
		INSERT INTO new_data_item (
			id, owner_address, signature_type, byte_count, payload_content_type,
			payload_data_start, deadline_height, assessed_price, premium_feature_type,
			tags, signature, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'new')`

	_, err = r.client.ExecContext(ctx, query,
		item.ID, item.OwnerAddress, int(item.SignatureType), item.ByteCount, item.PayloadContentType,
		item.PayloadDataStart, item.DeadlineHeight, item.AssessedPrice, item.PremiumFeatureType,
		tagsJSON, item.Signature,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: item %s already admitted", ErrDuplicateItem, item.ID)
		}
		return fmt.Errorf("insert item %s: %w", item.ID, err)
	}
	return nil
}

// GetItemStatus returns the current lifecycle state of an item.
func (r *ItemRepository) GetItemStatus(ctx context.Context, id string) (*ItemStatus, error) {
	query := `SELECT id, status, bundle_plan_id, failed_reason, assessed_price FROM new_data_item WHERE id = $1`
	s := &ItemStatus{}
	err := r.client.QueryRowContext(ctx, query, id).Scan(&s.ID, &s.Status, &s.BundlePlanID, &s.FailedReason, &s.AssessedPrice)
	if err == sql.ErrNoRows {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item status %s: %w", id, err)
	}
	return s, nil
}

// ListUnbundledItems lists items in state=new for a feature class in
// insertion order, optionally bounded to items overdue before a cutoff.
func (r *ItemRepository) ListUnbundledItems(ctx context.Context, featureClass *string, limit int, overdueBefore *time.Time) ([]Item, error) {
	var rows *sql.Rows
	var err error

	switch {
	case featureClass == nil && overdueBefore == nil:
		rows, err = r.client.QueryContext(ctx, selectUnbundledBase+` AND premium_feature_type IS NULL ORDER BY uploaded_at ASC, id ASC LIMIT $1`, limit)
	case featureClass == nil && overdueBefore != nil:
		rows, err = r.client.QueryContext(ctx, selectUnbundledBase+` AND premium_feature_type IS NULL AND uploaded_at < $1 ORDER BY uploaded_at ASC, id ASC LIMIT $2`, *overdueBefore, limit)
	case featureClass != nil && overdueBefore == nil:
		rows, err = r.client.QueryContext(ctx, selectUnbundledBase+` AND premium_feature_type = $1 ORDER BY uploaded_at ASC, id ASC LIMIT $2`, *featureClass, limit)
	default:
		rows, err = r.client.QueryContext(ctx, selectUnbundledBase+` AND premium_feature_type = $1 AND uploaded_at < $2 ORDER BY uploaded_at ASC, id ASC LIMIT $3`, *featureClass, *overdueBefore, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list unbundled items: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

const selectUnbundledBase = `
	SELECT id, owner_address, signature_type, byte_count, payload_content_type,
		payload_data_start, uploaded_at, deadline_height, assessed_price,
		failed_bundles, premium_feature_type, tags, signature, status
	FROM new_data_item
	WHERE status = 'new'`

func scanItem(rows *sql.Rows) (Item, error) {
	var it Item
	var sigType int
	var tagsJSON []byte
	if err := rows.Scan(
		&it.ID, &it.OwnerAddress, &sigType, &it.ByteCount, &it.PayloadContentType,
		&it.PayloadDataStart, &it.UploadedAt, &it.DeadlineHeight, &it.AssessedPrice,
		&it.FailedBundles, &it.PremiumFeatureType, &tagsJSON, &it.Signature, &it.Status,
	); err != nil {
		return Item{}, fmt.Errorf("scan item: %w", err)
	}
	it.SignatureType = uint16(sigType)
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &it.Tags); err != nil {
			return Item{}, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	return it, nil
}

// GetItemsByIDs fetches a set of items by id, in the order given by ids —
// used by the prepare-bundle worker to re-load a plan's member items in
// the order the packer chose.
func (r *ItemRepository) GetItemsByIDs(ctx context.Context, ids []string) ([]Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `
		SELECT id, owner_address, signature_type, byte_count, payload_content_type,
			payload_data_start, uploaded_at, deadline_height, assessed_price,
			failed_bundles, premium_feature_type, tags, signature, status
		FROM new_data_item
		WHERE id = ANY($1)`
	rows, err := r.client.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("get items by id: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]Item, len(ids))
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		byID[it.ID] = it
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(ids))
	for _, id := range ids {
		it, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
		}
		items = append(items, it)
	}
	return items, nil
}

// ItemCursor resumes a ListItemsForCleanup walk across restarts.
type ItemCursor struct {
	UploadedAt time.Time `json:"uploadedAt"`
	ItemID     string    `json:"itemId"`
}

// ListItemsForCleanup walks every item (regardless of lifecycle status)
// uploaded before the cutoff, ordered oldest-first with the item id as a
// tie-break, resuming after the given cursor. Used by the cleanup-fs
// cron job to sweep local-disk and object-store backups of items whose
// bytes are no longer needed off-chain.
func (r *ItemRepository) ListItemsForCleanup(ctx context.Context, olderThan time.Time, after *ItemCursor, limit int) ([]Item, error) {
	base := `
		SELECT id, owner_address, signature_type, byte_count, payload_content_type,
			payload_data_start, uploaded_at, deadline_height, assessed_price,
			failed_bundles, premium_feature_type, tags, signature, status
		FROM new_data_item
		WHERE uploaded_at < $1`

	var rows *sql.Rows
	var err error
	if after == nil {
		rows, err = r.client.QueryContext(ctx, base+` ORDER BY uploaded_at ASC, id ASC LIMIT $2`, olderThan, limit)
	} else {
		rows, err = r.client.QueryContext(ctx,
			base+` AND (uploaded_at, id) > ($2, $3) ORDER BY uploaded_at ASC, id ASC LIMIT $4`,
			olderThan, after.UploadedAt, after.ItemID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list items for cleanup: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// IncrementFailedBundles bumps an item's failedBundles counter, returning
// to state `new` for re-planning unless it has exceeded the retry budget
// (max 3 attempts), in which case it transitions to `failed`.
func (r *ItemRepository) IncrementFailedBundles(ctx context.Context, id string, maxAttempts int, reason string) error {
	query := `
		UPDATE new_data_item
		SET failed_bundles = failed_bundles + 1,
		    bundle_plan_id = NULL,
		    status = CASE WHEN failed_bundles + 1 >= $2 THEN 'failed' ELSE 'new' END,
		    failed_reason = CASE WHEN failed_bundles + 1 >= $2 THEN $3 ELSE failed_reason END
		WHERE id = $1`
	res, err := r.client.ExecContext(ctx, query, id, maxAttempts, reason)
	if err != nil {
		return fmt.Errorf("increment failed_bundles for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrItemNotFound
	}
	return nil
}

// MarkItemsPermanent transitions every item belonging to bundleTxId to
// `permanent`, recording the confirmed height.
func (r *ItemRepository) MarkItemsPermanent(ctx context.Context, bundleTxID string, height int64) error {
	query := `
		UPDATE new_data_item
		SET status = 'permanent', confirmed_height = $2, posted_bundle_tx_id = $1
		WHERE posted_bundle_tx_id = $1`
	_, err := r.client.ExecContext(ctx, query, bundleTxID, height)
	if err != nil {
		return fmt.Errorf("mark items permanent for bundle %s: %w", bundleTxID, err)
	}
	return nil
}

// MarkItemFailed transitions a single item straight to `failed` — the
// `new→failed` regression permitted from any state, used by fraud penalty.
func (r *ItemRepository) MarkItemFailed(ctx context.Context, id, reason string) error {
	query := `UPDATE new_data_item SET status = 'failed', failed_reason = $2 WHERE id = $1`
	_, err := r.client.ExecContext(ctx, query, id, reason)
	if err != nil {
		return fmt.Errorf("mark item %s failed: %w", id, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	// lib/pq reports unique_violation as SQLSTATE 23505; string-match keeps
	// this repository free of a direct *pq.Error type assertion so the same
	// check works if the driver is swapped.
	return err != nil && containsAny(err.Error(), "23505", "duplicate key value")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}
