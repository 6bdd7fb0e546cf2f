// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

package events

import (
	"sort"
	"sync"

	"github.com/tomtom215/barograph/internal/logging"
	"github.com/tomtom215/barograph/internal/timeline"
)

// Engine runs registered detectors over assembled sessions.
type Engine struct {
	detectors map[Kind]Detector
	mu        sync.RWMutex
}

// NewEngine creates an empty detection engine.
func NewEngine() *Engine {
	return &Engine{
		detectors: make(map[Kind]Detector),
	}
}

// NewDefaultEngine creates an engine with the apnea and hypopnea
// detectors registered at their default configuration.
func NewDefaultEngine() *Engine {
	e := NewEngine()
	e.Register(NewApneaDetector())
	e.Register(NewHypopneaDetector())
	return e
}

// Register adds a detector, replacing any detector of the same kind.
func (e *Engine) Register(d Detector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.detectors[d.Kind()] = d

	logging.Debug().
		Str("detector", string(d.Kind())).
		Msg("registered event detector")
}

// Detector returns the registered detector of the given kind.
func (e *Engine) Detector(kind Kind) (Detector, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.detectors[kind]
	return d, ok
}

// enabledDetectors snapshots the detectors currently switched on.
func (e *Engine) enabledDetectors() []Detector {
	e.mu.RLock()
	defer e.mu.RUnlock()

	enabled := make([]Detector, 0, len(e.detectors))
	for _, d := range e.detectors {
		if d.Enabled() {
			enabled = append(enabled, d)
		}
	}
	return enabled
}

// DetectAll scans every session with every enabled detector and returns
// the combined events ordered by session and start time.
//
// A span flagged by both detectors is one physiological event, not two;
// the apnea call wins and the overlapping hypopnea is dropped so AHI
// never double-counts.
func (e *Engine) DetectAll(sessions []timeline.Session) []Event {
	detectors := e.enabledDetectors()
	if len(detectors) == 0 || len(sessions) == 0 {
		return nil
	}

	var all []Event
	for i := range sessions {
		session := &sessions[i]

		var apneas, rest []Event
		for _, d := range detectors {
			found := d.Scan(session)
			if d.Kind() == KindApnea {
				apneas = append(apneas, found...)
			} else {
				rest = append(rest, found...)
			}
		}

		all = append(all, apneas...)
		for _, ev := range rest {
			if ev.Kind == KindHypopnea && overlapsAny(ev, apneas) {
				continue
			}
			all = append(all, ev)
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].SessionID != all[j].SessionID {
			return all[i].SessionID < all[j].SessionID
		}
		if !all[i].Start.Equal(all[j].Start) {
			return all[i].Start.Before(all[j].Start)
		}
		return all[i].Kind < all[j].Kind
	})

	logging.Debug().
		Int("sessions", len(sessions)).
		Int("detectors", len(detectors)).
		Int("events", len(all)).
		Msg("event detection complete")

	return all
}

// CountByKind tallies events per kind.
func CountByKind(evs []Event) map[Kind]int {
	counts := make(map[Kind]int, 2)
	for _, ev := range evs {
		counts[ev.Kind]++
	}
	return counts
}

func overlapsAny(ev Event, against []Event) bool {
	for _, other := range against {
		if ev.Start.Before(other.End()) && other.Start.Before(ev.End()) {
			return true
		}
	}
	return false
}
