package orders

import (
	"iter"

	"github.com/jonathan/order-robot/internal/types"
)

// Table is the ordered, read-only set of orders for a run.
// It can be iterated any number of times.
type Table struct {
	rows []types.OrderRow
}

// NewTable builds a table from rows. The slice is copied.
func NewTable(rows []types.OrderRow) *Table {
	return &Table{rows: append([]types.OrderRow(nil), rows...)}
}

// Len returns the number of orders.
func (t *Table) Len() int {
	return len(t.rows)
}

// Row returns the i-th order (0-based).
func (t *Table) Row(i int) types.OrderRow {
	return t.rows[i]
}

// Rows returns a copy of all orders.
func (t *Table) Rows() []types.OrderRow {
	return append([]types.OrderRow(nil), t.rows...)
}

// All yields the orders in source order.
func (t *Table) All() iter.Seq2[int, types.OrderRow] {
	return func(yield func(int, types.OrderRow) bool) {
		for i, row := range t.rows {
			if !yield(i, row) {
				return
			}
		}
	}
}
