// Copyright 2025 Certen Protocol
//
// Cursor Repository - named cleanup cursors for the filesystem GC worker

package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// CursorRepository persists named progress cursors, used by the cleanup-fs
// cron job to resume a directory sweep across restarts without rescanning
// from the beginning each time.
type CursorRepository struct {
	client *Client
}

// NewCursorRepository creates a new cursor repository.
func NewCursorRepository(client *Client) *CursorRepository {
	return &CursorRepository{client: client}
}

// GetCleanupCursor loads a named cursor's opaque JSON payload into dest.
func (r *CursorRepository) GetCleanupCursor(ctx context.Context, name string, dest interface{}) error {
	var raw []byte
	query := `SELECT cursor FROM config WHERE name = $1`
	err := r.client.QueryRowContext(ctx, query, name).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrCursorNotFound
	}
	if err != nil {
		return fmt.Errorf("get cleanup cursor %s: %w", name, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal cleanup cursor %s: %w", name, err)
	}
	return nil
}

// PutCleanupCursor upserts a named cursor's opaque JSON payload.
func (r *CursorRepository) PutCleanupCursor(ctx context.Context, name string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cleanup cursor %s: %w", name, err)
	}
	query := `
		INSERT INTO config (name, cursor, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET cursor = EXCLUDED.cursor, updated_at = now()`
	if _, err := r.client.ExecContext(ctx, query, name, raw); err != nil {
		return fmt.Errorf("put cleanup cursor %s: %w", name, err)
	}
	return nil
}
