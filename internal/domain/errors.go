package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Base error types (sentinel errors).
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidGeometry = errors.New("invalid geometry")
	ErrUnsupported     = errors.New("unsupported operation")
	ErrConflict        = errors.New("conflict")
	ErrInternal        = errors.New("internal error")
)

// Specific errors.
var (
	ErrOrderNotFound     = fmt.Errorf("order: %w", ErrNotFound)
	ErrContainerNotFound = fmt.Errorf("container: %w", ErrNotFound)
	ErrLayerNotFound     = fmt.Errorf("layer: %w", ErrNotFound)
	ErrLayerAmbiguous    = fmt.Errorf("layer: ambiguous match: %w", ErrConflict)
	ErrSchemaConflict    = fmt.Errorf("destination table exists: %w", ErrConflict)
	ErrNotPublishable    = fmt.Errorf("order type not publishable: %w", ErrUnsupported)
)

// LayerResolutionError reports a failed or ambiguous layer lookup, carrying
// the names actually present in the container.
type LayerResolutionError struct {
	Requested string   // Layer name the caller asked for
	Available []string // Layer names found in the container
	Ambiguous bool     // True when multiple case-insensitive matches exist
}

// Error implements the error interface.
func (e *LayerResolutionError) Error() string {
	if e.Ambiguous {
		return fmt.Sprintf("layer %q matches multiple layers (available: %s)",
			e.Requested, strings.Join(e.Available, ", "))
	}
	return fmt.Sprintf("layer %q not found (available: %s)",
		e.Requested, strings.Join(e.Available, ", "))
}

// Unwrap returns the underlying error type.
func (e *LayerResolutionError) Unwrap() error {
	if e.Ambiguous {
		return ErrLayerAmbiguous
	}
	return ErrLayerNotFound
}

// GeometryError represents malformed or truncated binary geometry input.
type GeometryError struct {
	Offset  int    // Byte offset where decoding failed
	Message string // Human-readable message
}

// Error implements the error interface.
func (e *GeometryError) Error() string {
	return fmt.Sprintf("invalid geometry at byte %d: %s", e.Offset, e.Message)
}

// Unwrap returns the underlying error type.
func (e *GeometryError) Unwrap() error {
	return ErrInvalidGeometry
}

// StorageError represents a destination-side failure in the spatial store.
type StorageError struct {
	Operation string // Operation that failed (create table, insert, index, etc.)
	Table     string // Destination table, if known
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Table, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error.
type ConfigError struct {
	Field   string // Configuration field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidInput
}
