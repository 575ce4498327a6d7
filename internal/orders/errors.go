package orders

import "fmt"

// FetchError reports that the orders file could not be downloaded or read.
type FetchError struct {
	Source  string
	Message string
	Cause   error
}

func (e *FetchError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("orders fetch error (%s): %s: %v", e.Source, e.Message, e.Cause)
	}
	return fmt.Sprintf("orders fetch error (%s): %s", e.Source, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// ParseError reports a malformed header or row in the orders file.
type ParseError struct {
	Line    int // 1-based line in the CSV, 0 when not tied to a line
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	prefix := "orders parse error"
	if e.Line > 0 {
		prefix = fmt.Sprintf("orders parse error at line %d", e.Line)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}
