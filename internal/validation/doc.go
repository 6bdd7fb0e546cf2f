// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

// Package validation provides struct validation using go-playground/validator v10.
//
// This package wraps the go-playground/validator library to provide a thread-safe
// singleton validator instance with human-readable error messages. It validates
// external inputs before they influence an analysis run, most notably the
// mobile-app reference summary consumed by internal/correlation.
//
// # Overview
//
// The package provides:
//   - Thread-safe singleton validator (initialized once, cached struct info)
//   - Error translation to messages naming the field and the violated bound
//   - Built-in validator support (gte, lte, oneof, required, etc.)
//   - Future v11 compatibility with WithRequiredStructEnabled
//
// # Quick Start
//
//	type Reference struct {
//	    AHI         *float64 `validate:"omitempty,gte=0,lte=150"`
//	    AvgPressure *float64 `validate:"omitempty,gt=0,lte=40"`
//	}
//
//	if verr := validation.ValidateStruct(&ref); verr != nil {
//	    // verr.Error() lists every failing field, e.g.
//	    // "AHI must be less than or equal to 150"
//	}
//
// Pointer fields paired with omitempty express optional values: a nil pointer is
// skipped entirely, a present value is checked against the remaining tags.
//
// # Error Types
//
// ValidationError represents a single field validation failure and exposes the
// field name, the failing tag, its parameter, and the offending value.
// InputValidationError aggregates all failures for one input and implements
// error with a combined "; "-joined message.
//
// # Thread Safety
//
// The singleton validator is initialized once and safe for concurrent use:
//
//	validate := validation.GetValidator()   // Thread-safe
//	err := validation.ValidateStruct(&ref)  // Thread-safe
//
// # See Also
//
//   - internal/correlation: Reference summary validation before comparison
//   - github.com/go-playground/validator/v10: Underlying library
package validation
