package db

import (
	"time"

	"github.com/google/uuid"
)

// Run status values
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run represents a robot run record
type Run struct {
	ID          uuid.UUID  `json:"id"`
	OrdersURL   string     `json:"orders_url"`
	Status      string     `json:"status"`
	Rows        int        `json:"rows"`
	Receipts    int        `json:"receipts"`
	TimedOut    int        `json:"timed_out"`
	ArchivePath string     `json:"archive_path,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// RunSummary is written when a run finishes
type RunSummary struct {
	Status      string
	Rows        int
	Receipts    int
	TimedOut    int
	ArchivePath string
	Error       string
}
