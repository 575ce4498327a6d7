package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/order-robot/internal/vault"
)

// AssetStore keeps vault blobs in the assets table
type AssetStore struct {
	db *DB
}

// Assets returns the asset store backed by this database
func (db *DB) Assets() *AssetStore {
	return &AssetStore{db: db}
}

// GetBytes returns the asset stored under name, or vault.ErrNotFound
func (s *AssetStore) GetBytes(ctx context.Context, name string) ([]byte, error) {
	var value []byte
	err := s.db.pool.QueryRow(ctx, `SELECT value FROM assets WHERE name = $1`, name).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, vault.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get asset %s: %w", name, err)
	}
	return value, nil
}

// SetBytes stores value under name, replacing any previous value
func (s *AssetStore) SetBytes(ctx context.Context, name string, value []byte) error {
	_, err := s.db.pool.Exec(ctx,
		`INSERT INTO assets (name, value) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET value = $2, updated_at = NOW()`,
		name, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set asset %s: %w", name, err)
	}
	return nil
}
