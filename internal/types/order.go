// Package types provides type definitions for structured data used throughout the order robot.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// CSV column names of the orders file.
const (
	ColumnHead    = "Head"
	ColumnBody    = "Body"
	ColumnLegs    = "Legs"
	ColumnAddress = "Address"
)

// OrderColumns lists the header fields an orders file must carry.
var OrderColumns = []string{ColumnHead, ColumnBody, ColumnLegs, ColumnAddress}

// OrderRow is one robot order read from the orders CSV.
type OrderRow struct {
	Number  int    `json:"number"` // 1-based position in the source file
	Head    string `json:"head" validate:"required,numeric"`
	Body    string `json:"body" validate:"required,numeric"`
	Legs    string `json:"legs" validate:"required"`
	Address string `json:"address" validate:"required"`
}

// Validate validates the OrderRow using the validator.
func (r *OrderRow) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

func (r OrderRow) String() string {
	return fmt.Sprintf("order #%d (head=%s body=%s legs=%s)", r.Number, r.Head, r.Body, r.Legs)
}
