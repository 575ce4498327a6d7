// Package receipts turns a confirmed order view into a single PDF receipt with
// the robot preview embedded.
package receipts

import "fmt"

// RenderError represents a failure converting the receipt markup to PDF.
type RenderError struct {
	OrderID string
	Message string
	Cause   error
}

func (e *RenderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("render error for %s: %s: %v", e.OrderID, e.Message, e.Cause)
	}
	return fmt.Sprintf("render error for %s: %s", e.OrderID, e.Message)
}

func (e *RenderError) Unwrap() error {
	return e.Cause
}

// CaptureError represents a failure taking the preview screenshot.
type CaptureError struct {
	OrderID string
	Message string
	Cause   error
}

func (e *CaptureError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("capture error for %s: %s: %v", e.OrderID, e.Message, e.Cause)
	}
	return fmt.Sprintf("capture error for %s: %s", e.OrderID, e.Message)
}

func (e *CaptureError) Unwrap() error {
	return e.Cause
}

// MergeError represents a failure embedding the screenshot into the PDF.
type MergeError struct {
	OrderID string
	Message string
	Cause   error
}

func (e *MergeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("merge error for %s: %s: %v", e.OrderID, e.Message, e.Cause)
	}
	return fmt.Sprintf("merge error for %s: %s", e.OrderID, e.Message)
}

func (e *MergeError) Unwrap() error {
	return e.Cause
}
