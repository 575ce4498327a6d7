// Package db provides PostgreSQL persistence for robot runs, receipt records and assets.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/order-robot/internal/types"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Ping verifies the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// EnsureSchema creates the tables used by the robot if they do not exist
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS robot_runs (
	id UUID PRIMARY KEY,
	orders_url TEXT NOT NULL,
	status TEXT NOT NULL,
	rows_total INT NOT NULL DEFAULT 0,
	receipts INT NOT NULL DEFAULT 0,
	timed_out INT NOT NULL DEFAULT 0,
	archive_path TEXT,
	error TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS robot_receipts (
	run_id UUID NOT NULL REFERENCES robot_runs(id) ON DELETE CASCADE,
	order_id TEXT NOT NULL,
	row_number INT NOT NULL,
	pdf_path TEXT NOT NULL,
	screenshot_path TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (run_id, order_id)
);

CREATE TABLE IF NOT EXISTS assets (
	name TEXT PRIMARY KEY,
	value BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// CreateRun creates a new run record with the given ID
func (db *DB) CreateRun(ctx context.Context, runID uuid.UUID, ordersURL string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO robot_runs (id, orders_url, status) VALUES ($1, $2, $3)`,
		runID, ordersURL, RunStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// CompleteRun marks a run as finished and stores its summary
func (db *DB) CompleteRun(ctx context.Context, runID uuid.UUID, summary RunSummary) error {
	var errText *string
	if summary.Error != "" {
		errText = &summary.Error
	}
	var archivePath *string
	if summary.ArchivePath != "" {
		archivePath = &summary.ArchivePath
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE robot_runs
		 SET status = $1, rows_total = $2, receipts = $3, timed_out = $4,
		     archive_path = $5, error = $6, completed_at = NOW()
		 WHERE id = $7`,
		summary.Status, summary.Rows, summary.Receipts, summary.TimedOut, archivePath, errText, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

// SaveReceipt records the artifact produced for one order
func (db *DB) SaveReceipt(ctx context.Context, runID uuid.UUID, artifact types.ReceiptArtifact) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO robot_receipts (run_id, order_id, row_number, pdf_path, screenshot_path, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		runID, artifact.OrderID, artifact.Row, artifact.PDFPath, artifact.ScreenshotPath, artifact.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save receipt %s: %w", artifact.OrderID, err)
	}
	return nil
}

// GetRun retrieves a run by ID. It returns nil when the run does not exist.
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	var run Run
	var archivePath, errText *string
	err := db.pool.QueryRow(ctx,
		`SELECT id, orders_url, status, rows_total, receipts, timed_out, archive_path, error, created_at, completed_at
		 FROM robot_runs WHERE id = $1`,
		runID,
	).Scan(&run.ID, &run.OrdersURL, &run.Status, &run.Rows, &run.Receipts, &run.TimedOut,
		&archivePath, &errText, &run.CreatedAt, &run.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if archivePath != nil {
		run.ArchivePath = *archivePath
	}
	if errText != nil {
		run.Error = *errText
	}
	return &run, nil
}

// ListReceipts returns the receipts recorded for a run in row order
func (db *DB) ListReceipts(ctx context.Context, runID uuid.UUID) ([]types.ReceiptArtifact, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT order_id, row_number, pdf_path, screenshot_path, created_at
		 FROM robot_receipts WHERE run_id = $1 ORDER BY row_number ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	defer rows.Close()

	var receipts []types.ReceiptArtifact
	for rows.Next() {
		var a types.ReceiptArtifact
		if err := rows.Scan(&a.OrderID, &a.Row, &a.PDFPath, &a.ScreenshotPath, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		receipts = append(receipts, a)
	}
	return receipts, rows.Err()
}
