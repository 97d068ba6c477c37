package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorType represents different categories of analysis errors. The zero
// value means no category has been recorded.
type ErrorType int

const (
	ErrMissingPackage ErrorType = iota + 1
	ErrResolutionConflict
	ErrUpstreamEnvironment
	ErrBuildrootLookup
	ErrExpansionDepth
	ErrInvalidConfig
	ErrCatalogLoad
)

// String returns the string representation of ErrorType
func (e ErrorType) String() string {
	switch e {
	case ErrMissingPackage:
		return "MissingPackage"
	case ErrResolutionConflict:
		return "ResolutionConflict"
	case ErrUpstreamEnvironment:
		return "UpstreamEnvironmentFailure"
	case ErrBuildrootLookup:
		return "BuildrootLookupFailure"
	case ErrExpansionDepth:
		return "ExpansionDepthExceeded"
	case ErrInvalidConfig:
		return "InvalidConfig"
	case ErrCatalogLoad:
		return "CatalogLoad"
	default:
		return "Unknown"
	}
}

// MarshalJSON renders the category by name, keeping artifacts readable.
func (e ErrorType) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

// UnmarshalJSON reads the name form back.
func (e *ErrorType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for candidate := ErrMissingPackage; candidate <= ErrCatalogLoad; candidate++ {
		if candidate.String() == name {
			*e = candidate
			return nil
		}
	}
	*e = 0
	return nil
}

// AnalysisError represents an error during package-set analysis. Entity names
// the owning environment, workload, view, or source package when known.
type AnalysisError struct {
	Type   ErrorType
	Entity string
	Err    error
}

// Error implements the error interface
func (e *AnalysisError) Error() string {
	if e.Entity != "" {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Entity, e.Err)
	}
	return fmt.Sprintf("[%s] %v", e.Type, e.Err)
}

// Unwrap returns the wrapped error
func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// TypeOf extracts the category of a wrapped AnalysisError, falling back when
// the error carries no category.
func TypeOf(err error, fallback ErrorType) ErrorType {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae.Type
	}
	return fallback
}

// EntityErrors is the structured error/warning record attached to a resolved
// entity. Failures are captured here instead of being thrown past entity
// boundaries, so one failed branch never poisons its siblings.
type EntityErrors struct {
	Type            ErrorType `json:"type,omitempty"`
	MissingPackages []string  `json:"non_existing_pkgs,omitempty"`
	Message         string    `json:"message,omitempty"`
}

// Empty reports whether nothing has been recorded.
func (e *EntityErrors) Empty() bool {
	return len(e.MissingPackages) == 0 && e.Message == ""
}
