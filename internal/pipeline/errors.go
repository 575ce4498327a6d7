package pipeline

import "fmt"

// DuplicateOrderError reports a second receipt for an order id already seen in the run.
type DuplicateOrderError struct {
	OrderID string
	Row     int
}

func (e *DuplicateOrderError) Error() string {
	return fmt.Sprintf("duplicate order id %s on row %d", e.OrderID, e.Row)
}

// RowError wraps a failure that aborted the run while processing a row.
type RowError struct {
	Row   int
	Stage string
	Cause error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %s failed: %v", e.Row, e.Stage, e.Cause)
}

func (e *RowError) Unwrap() error {
	return e.Cause
}

// FileNameCollisionError reports two distinct order ids that would be saved
// under the same receipt file name.
type FileNameCollisionError struct {
	OrderID  string
	Existing string
	Stem     string
	Row      int
}

func (e *FileNameCollisionError) Error() string {
	return fmt.Sprintf("order id %s on row %d collides with %s: both are saved as %s.pdf",
		e.OrderID, e.Row, e.Existing, e.Stem)
}
