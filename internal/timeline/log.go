// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

package timeline

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"
)

// LogRecord is one session entry from the device .log file: when the
// blower started and how long it ran.
type LogRecord struct {
	Start    time.Time
	Duration time.Duration
}

// logRecordSize is the on-card record width: a uint32le Unix start
// timestamp followed by a uint32le duration in seconds.
const logRecordSize = 8

// maxSessionDuration bounds a single log record. Anything longer is a
// garbage read; RESmart firmware closes a session at least daily.
const maxSessionDuration = 24 * time.Hour

// Session log timestamps before the platform existed or absurdly far in
// the future mean the record is padding or corruption, not a session.
var (
	logEpochMin = time.Date(2005, 1, 1, 0, 0, 0, 0, time.UTC)
	logEpochMax = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
)

// ErrLogUnusable means the .log file contained bytes but not a single
// plausible session record. Callers fall back to gap-inferred timing.
var ErrLogUnusable = errors.New("session log contains no usable records")

// ParseLog decodes the binary session log into records sorted by start
// time.
//
// The parser is tolerant by design: a trailing fragment shorter than one
// record is ignored, and individual records with implausible timestamps
// or durations are skipped. An empty input yields no records and no
// error. Only a log where every record is garbage returns ErrLogUnusable,
// which the assembler treats as "no log at all".
func ParseLog(raw []byte) ([]LogRecord, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if len(raw) < logRecordSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than one record", ErrLogUnusable, len(raw))
	}

	complete := len(raw) / logRecordSize
	records := make([]LogRecord, 0, complete)

	for i := 0; i < complete; i++ {
		off := i * logRecordSize
		startUnix := binary.LittleEndian.Uint32(raw[off : off+4])
		durationSec := binary.LittleEndian.Uint32(raw[off+4 : off+8])

		start := time.Unix(int64(startUnix), 0).UTC()
		duration := time.Duration(durationSec) * time.Second

		if start.Before(logEpochMin) || start.After(logEpochMax) {
			continue
		}
		if duration <= 0 || duration > maxSessionDuration {
			continue
		}

		records = append(records, LogRecord{Start: start, Duration: duration})
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %d records, all implausible", ErrLogUnusable, complete)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Start.Before(records[j].Start)
	})

	return records, nil
}
