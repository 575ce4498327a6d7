// Package orders downloads and parses the orders CSV.
package orders

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jonathan/order-robot/internal/types"
)

// Parse reads an orders CSV with a header row naming exactly the columns
// Head, Body, Legs and Address (in any order).
func Parse(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ParseError{Message: "missing header row"}
		}
		return nil, &ParseError{Line: 1, Message: "unreadable header", Cause: err}
	}

	columns, err := mapHeader(header)
	if err != nil {
		return nil, err
	}

	var rows []types.OrderRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line := 0
			var csvErr *csv.ParseError
			if errors.As(err, &csvErr) {
				line = csvErr.Line
			}
			return nil, &ParseError{Line: line, Message: "malformed row", Cause: err}
		}
		line, _ := reader.FieldPos(0)

		row := types.OrderRow{
			Number:  len(rows) + 1,
			Head:    strings.TrimSpace(record[columns[types.ColumnHead]]),
			Body:    strings.TrimSpace(record[columns[types.ColumnBody]]),
			Legs:    strings.TrimSpace(record[columns[types.ColumnLegs]]),
			Address: strings.TrimSpace(record[columns[types.ColumnAddress]]),
		}
		if err := row.Validate(); err != nil {
			return nil, &ParseError{Line: line, Message: "invalid order", Cause: err}
		}
		rows = append(rows, row)
	}

	return &Table{rows: rows}, nil
}

// ReadFile parses a local orders file.
func ReadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &FetchError{Source: path, Message: "failed to open orders file", Cause: err}
	}
	defer func() { _ = f.Close() }()

	return Parse(f)
}

// mapHeader returns the column index of every expected field.
func mapHeader(header []string) (map[string]int, error) {
	if len(header) != len(types.OrderColumns) {
		return nil, &ParseError{
			Line:    1,
			Message: fmt.Sprintf("expected %d columns %v, got %d %v", len(types.OrderColumns), types.OrderColumns, len(header), header),
		}
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		// Spreadsheet exports sometimes prefix the first cell with a BOM.
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		columns[name] = i
	}

	for _, want := range types.OrderColumns {
		if _, ok := columns[want]; !ok {
			return nil, &ParseError{Line: 1, Message: fmt.Sprintf("missing column %q in header %v", want, header)}
		}
	}
	return columns, nil
}
