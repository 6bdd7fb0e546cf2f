// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

// Package export serializes the full analysis result to a JSON
// artifact. Field order is struct-driven, so identical results produce
// byte-identical exports.
package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/tomtom215/barograph/internal/analyzer"
	"github.com/tomtom215/barograph/internal/logging"
)

// Marshal renders the result as indented JSON with a trailing newline.
func Marshal(result *analyzer.Result) ([]byte, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return append(data, '\n'), nil
}

// Write serializes the result to path. Data goes to a temp file in the
// target directory first and is renamed into place, so a crash never
// leaves a truncated export behind.
func Write(result *analyzer.Result, path string) error {
	data, err := Marshal(result)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".barograph-export-*")
	if err != nil {
		return fmt.Errorf("creating temp export: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing export: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("setting export permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("placing export: %w", err)
	}

	logging.Info().Str("path", path).Int("bytes", len(data)).Msg("JSON export written")
	return nil
}
