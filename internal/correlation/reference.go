// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

package correlation

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/tomtom215/barograph/internal/validation"
)

// Reference is an externally supplied therapy summary, typically copied
// out of the vendor's mobile app, carried under that tool's field names.
// Every value is optional: a nil pointer means the summary did not report
// the metric, while a present value is bounds-checked against plausible
// device limits before any comparison.
type Reference struct {
	AHI              *float64 `json:"ahi" validate:"omitempty,gte=0,lte=150"`
	AvgPressure      *float64 `json:"avg_pressure" validate:"omitempty,gt=0,lte=40"`
	P95Pressure      *float64 `json:"p95_pressure" validate:"omitempty,gt=0,lte=40"`
	MinPressure      *float64 `json:"min_pressure" validate:"omitempty,gt=0,lte=40"`
	MaxPressure      *float64 `json:"max_pressure" validate:"omitempty,gt=0,lte=40"`
	AvgLeak          *float64 `json:"avg_leak" validate:"omitempty,gte=0,lte=120"`
	UsageDaysPercent *float64 `json:"usage_days_percent" validate:"omitempty,gte=0,lte=100"`
	Usage4hPercent   *float64 `json:"usage_4h_percent" validate:"omitempty,gte=0,lte=100"`
}

// ReferenceMismatch reports a reference summary that could not be used:
// an unreadable file, malformed JSON, or values outside plausible device
// limits. Callers skip the correlation step and continue; the main
// analysis never depends on the reference.
type ReferenceMismatch struct {
	Path string
	Err  error
}

func (e *ReferenceMismatch) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("reference summary rejected: %v", e.Err)
	}
	return fmt.Sprintf("reference summary %s rejected: %v", e.Path, e.Err)
}

func (e *ReferenceMismatch) Unwrap() error { return e.Err }

// ParseReference decodes and validates a reference summary held in memory.
// A summary with no recognized fields parses fine; it simply yields a
// low-confidence correlation later.
func ParseReference(data []byte) (Reference, error) {
	var ref Reference
	if err := json.Unmarshal(data, &ref); err != nil {
		return Reference{}, &ReferenceMismatch{Err: err}
	}
	if verr := validation.ValidateStruct(&ref); verr != nil {
		return Reference{}, &ReferenceMismatch{Err: verr}
	}
	return ref, nil
}

// LoadReference reads a reference summary from disk. Failures of any kind
// surface as *ReferenceMismatch naming the file.
func LoadReference(path string) (Reference, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Reference{}, &ReferenceMismatch{Path: path, Err: err}
	}

	ref, err := ParseReference(data)
	if err != nil {
		var mismatch *ReferenceMismatch
		if errors.As(err, &mismatch) {
			mismatch.Path = path
		}
		return Reference{}, err
	}
	return ref, nil
}
