package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// ErrRunInProgress indicates a run was requested while another is active
type ErrRunInProgress struct {
	RunID uuid.UUID
}

func (e *ErrRunInProgress) Error() string {
	return fmt.Sprintf("run already in progress: %s", e.RunID)
}

// ErrRunNotFound indicates the run id is unknown to memory and the ledger
type ErrRunNotFound struct {
	RunID uuid.UUID
}

func (e *ErrRunNotFound) Error() string {
	return fmt.Sprintf("run not found: %s", e.RunID)
}

// ErrInvalidCredentials indicates invalid login credentials
type ErrInvalidCredentials struct{}

func (e *ErrInvalidCredentials) Error() string {
	return "invalid username or password"
}

// ErrArchiveUnavailable indicates a run has no archive to download yet
type ErrArchiveUnavailable struct {
	RunID uuid.UUID
}

func (e *ErrArchiveUnavailable) Error() string {
	return fmt.Sprintf("archive not available for run: %s", e.RunID)
}

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		inProgress  *ErrRunInProgress
		notFound    *ErrRunNotFound
		credentials *ErrInvalidCredentials
		noArchive   *ErrArchiveUnavailable
		validation  *ErrValidation
	)
	switch {
	case errors.As(err, &inProgress):
		return http.StatusConflict
	case errors.As(err, &credentials):
		return http.StatusUnauthorized
	case errors.As(err, &notFound), errors.As(err, &noArchive):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
