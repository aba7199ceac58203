// Copyright 2025 Certen Protocol
//
// Offset Repository - chain-relative byte offsets for bundled and nested items

package database

import (
	"context"
	"database/sql"
	"fmt"
)

// OffsetRepository handles item offset bookkeeping, written by put-offsets
// and unbundle-nested workers once a bundle's own root offset is known.
type OffsetRepository struct {
	client *Client
}

// NewOffsetRepository creates a new offset repository.
func NewOffsetRepository(client *Client) *OffsetRepository {
	return &OffsetRepository{client: client}
}

// OffsetRow is one row written by WriteOffsets.
type OffsetRow struct {
	ItemID                     string
	RootBundleID               string
	StartOffsetInRoot          int64
	RawContentLength           int64
	PayloadDataStart           int64
	PayloadContentType         string
	ParentItemID               *string
	StartOffsetInParentPayload *int64
}

// WriteOffsets upserts a batch of offset rows in a single transaction,
// called once per posted bundle with one row per contained item.
func (r *OffsetRepository) WriteOffsets(ctx context.Context, rows []OffsetRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.client.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO data_item_offsets (
			item_id, root_bundle_id, start_offset_in_root, raw_content_length,
			payload_data_start, payload_content_type, parent_item_id, start_offset_in_parent_payload
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (item_id) DO UPDATE SET
			root_bundle_id = EXCLUDED.root_bundle_id,
			start_offset_in_root = EXCLUDED.start_offset_in_root,
			raw_content_length = EXCLUDED.raw_content_length,
			payload_data_start = EXCLUDED.payload_data_start,
			payload_content_type = EXCLUDED.payload_content_type,
			parent_item_id = EXCLUDED.parent_item_id,
			start_offset_in_parent_payload = EXCLUDED.start_offset_in_parent_payload`

	stmt, err := tx.Tx().PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare write offsets: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx,
			row.ItemID, row.RootBundleID, row.StartOffsetInRoot, row.RawContentLength,
			row.PayloadDataStart, row.PayloadContentType, row.ParentItemID, row.StartOffsetInParentPayload,
		); err != nil {
			return fmt.Errorf("write offset for item %s: %w", row.ItemID, err)
		}
	}

	return tx.Commit()
}

// GetOffset fetches the offset row for a single item, used by the
// retrieval-offset API and by unbundle-nested to resolve a parent's
// chain-relative position before computing a child's own offset.
func (r *OffsetRepository) GetOffset(ctx context.Context, itemID string) (*OffsetRow, error) {
	query := `
		SELECT item_id, root_bundle_id, start_offset_in_root, raw_content_length,
			payload_data_start, payload_content_type, parent_item_id, start_offset_in_parent_payload
		FROM data_item_offsets WHERE item_id = $1`
	row := &OffsetRow{}
	err := r.client.QueryRowContext(ctx, query, itemID).Scan(
		&row.ItemID, &row.RootBundleID, &row.StartOffsetInRoot, &row.RawContentLength,
		&row.PayloadDataStart, &row.PayloadContentType, &row.ParentItemID, &row.StartOffsetInParentPayload,
	)
	if err == sql.ErrNoRows {
		return nil, ErrOffsetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get offset for item %s: %w", itemID, err)
	}
	return row, nil
}
