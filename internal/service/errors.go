// Package service provides application-level services for managing tasks and quotas.
package service

import "errors"

// Common service errors - sentinel errors used across service implementations.
// These errors represent common conditions that callers may want to check for with errors.Is().
//
// Error handling principles:
// 1. Service methods return sentinel errors for expected error conditions
// 2. Unexpected errors are wrapped in service-specific error types
// 3. Callers use errors.Is/errors.As to check for specific error conditions
// 4. The API layer maps service errors to appropriate HTTP status codes
var (
	// ErrTaskNotFound indicates the task does not exist, or is not visible
	// to the requesting user. API layer should map this to HTTP 404.
	ErrTaskNotFound = errors.New("task not found")

	// ErrCannotCancel indicates the task has already reached a terminal
	// state and cannot be cancelled. API layer should map this to HTTP 409.
	ErrCannotCancel = errors.New("task cannot be cancelled")

	// ErrQuotaNotFound indicates no quota row exists for the requested
	// (user, quota type) pair. API layer should map this to HTTP 404.
	ErrQuotaNotFound = errors.New("quota not found")

	// ErrInsufficientQuota indicates the remaining budget cannot cover the
	// requested amount. API layer should map this to HTTP 429.
	ErrInsufficientQuota = errors.New("insufficient quota")
)
