// Package vault encrypts small JSON records and keeps them in a key-value asset store.
package vault

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by a Store when no asset exists under the requested name.
var ErrNotFound = errors.New("asset not found")

// PassphraseError represents a passphrase the selected key mode cannot use.
type PassphraseError struct {
	Mode    KeyMode
	Length  int
	Message string
}

func (e *PassphraseError) Error() string {
	return fmt.Sprintf("invalid passphrase for %s mode (%d bytes): %s", e.Mode, e.Length, e.Message)
}

// AuthenticationError represents a blob that failed to decrypt: wrong passphrase,
// tampered ciphertext, or a truncated or unknown envelope.
type AuthenticationError struct {
	Message string
	Cause   error
}

func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("authentication failed: %s", e.Message)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Cause
}

// StoreError represents a failure reading or writing the asset store.
type StoreError struct {
	Name    string
	Message string
	Cause   error
}

func (e *StoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("asset store error for %s: %s: %v", e.Name, e.Message, e.Cause)
	}
	return fmt.Sprintf("asset store error for %s: %s", e.Name, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}
