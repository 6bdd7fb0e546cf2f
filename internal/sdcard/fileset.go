// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

/*
fileset.go - SD Card File Set Discovery

This file locates and loads the file set a RESmart-family device writes to
its SD card. A card holds one file set per device ID:

  - <ID>.000 .. <ID>.NNN  numbered pressure segment files (decoded downstream)
  - <ID>.log              session log with start timestamps and durations
  - <ID>.evt              device-reported event annotations
  - <ID>.idx, .USR, .ENG  index and settings files (fingerprinted, not parsed)

Every recognized file lands in the manifest with its size and a BLAKE2b-256
fingerprint so the data-quality report can prove exactly which bytes a run
saw. The whole set is read into memory up front; cards top out at a few
hundred megabytes and the analysis is a single batch pass.
*/
package sdcard

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"

	"github.com/tomtom215/barograph/internal/logging"
)

// ErrNoSegments means discovery found no numbered segment files for the
// device ID, so there is nothing to analyze.
var ErrNoSegments = errors.New("no segment files found")

// File is one manifest entry.
type File struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	Fingerprint string `json:"fingerprint"`
}

// SegmentFile is a numbered pressure segment awaiting decode.
type SegmentFile struct {
	Number int
	Name   string
	Data   []byte
}

// FileSet is everything discovery loaded for one device.
type FileSet struct {
	DeviceID string
	Dir      string

	// Segments are sorted by numeric suffix. The suffix is unique by
	// construction (filenames are unique within a directory).
	Segments []SegmentFile

	// LogData and EvtData are nil when the card lacks the file; the
	// timeline assembler and event cross-check degrade accordingly.
	LogData []byte
	EvtData []byte

	// Manifest lists every recognized device file, sorted by name.
	Manifest []File
}

// Discover loads the device file set from dir.
//
// When deviceID is empty the ID is inferred from the card contents; a
// card carrying file sets for more than one device must be disambiguated
// via configuration. Discovery fails only when no segment files exist;
// a missing .log or .evt degrades the downstream stages instead.
func Discover(dir, deviceID string) (*FileSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading data directory: %w", err)
	}

	if deviceID == "" {
		deviceID, err = inferDeviceID(entries)
		if err != nil {
			return nil, err
		}
		logging.Debug().Str("device_id", deviceID).Msg("Device ID inferred from card contents")
	}

	fs := &FileSet{DeviceID: deviceID, Dir: dir}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		base, ext, ok := splitDeviceFile(name)
		if !ok || !strings.EqualFold(base, deviceID) {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}

		sum := blake2b.Sum256(data)
		fs.Manifest = append(fs.Manifest, File{
			Name:        name,
			Size:        int64(len(data)),
			Fingerprint: hex.EncodeToString(sum[:]),
		})

		switch {
		case isSegmentExt(ext):
			number, _ := strconv.Atoi(ext)
			fs.Segments = append(fs.Segments, SegmentFile{
				Number: number,
				Name:   name,
				Data:   data,
			})
		case strings.EqualFold(ext, "log"):
			fs.LogData = data
		case strings.EqualFold(ext, "evt"):
			fs.EvtData = data
		}
		// idx/USR/ENG stay manifest-only.
	}

	if len(fs.Segments) == 0 {
		return nil, fmt.Errorf("device %s in %s: %w", deviceID, dir, ErrNoSegments)
	}

	sort.Slice(fs.Segments, func(i, j int) bool {
		return fs.Segments[i].Number < fs.Segments[j].Number
	})
	sort.Slice(fs.Manifest, func(i, j int) bool {
		return fs.Manifest[i].Name < fs.Manifest[j].Name
	})

	logging.Info().
		Str("device_id", deviceID).
		Int("segments", len(fs.Segments)).
		Bool("has_log", fs.LogData != nil).
		Bool("has_evt", fs.EvtData != nil).
		Int("manifest_files", len(fs.Manifest)).
		Msg("SD card file set discovered")

	return fs, nil
}

// TotalBytes sums the sizes of every manifest file.
func (fs *FileSet) TotalBytes() int64 {
	var total int64
	for _, f := range fs.Manifest {
		total += f.Size
	}
	return total
}

// inferDeviceID derives the device ID from the card contents. The .log
// basename wins when present; otherwise the first segment file's basename
// is used. Multiple distinct IDs on one card cannot be auto-resolved.
func inferDeviceID(entries []os.DirEntry) (string, error) {
	ids := map[string]bool{}
	fallback := map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		base, ext, ok := splitDeviceFile(entry.Name())
		if !ok {
			continue
		}
		switch {
		case strings.EqualFold(ext, "log"):
			ids[base] = true
		case isSegmentExt(ext):
			fallback[base] = true
		}
	}

	if len(ids) == 0 {
		ids = fallback
	}

	switch len(ids) {
	case 0:
		return "", errors.New("no device file set found; is this a RESmart SD card?")
	case 1:
		for id := range ids {
			return id, nil
		}
	}

	names := make([]string, 0, len(ids))
	for id := range ids {
		names = append(names, id)
	}
	sort.Strings(names)
	return "", fmt.Errorf("multiple device file sets found (%s); set DEVICE_ID to choose one",
		strings.Join(names, ", "))
}

// splitDeviceFile splits a card filename into basename and extension
// (without the dot), accepting only extensions a RESmart device writes.
func splitDeviceFile(name string) (base, ext string, ok bool) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 || i == len(name)-1 {
		return "", "", false
	}
	base, ext = name[:i], name[i+1:]

	if isSegmentExt(ext) {
		return base, ext, true
	}
	switch strings.ToLower(ext) {
	case "log", "evt", "idx", "usr", "eng":
		return base, ext, true
	}
	return "", "", false
}

// isSegmentExt reports whether ext is a three-digit segment suffix
// (000-999), the exact format the firmware writes.
func isSegmentExt(ext string) bool {
	if len(ext) != 3 {
		return false
	}
	for _, r := range ext {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
