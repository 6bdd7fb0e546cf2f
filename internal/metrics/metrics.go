// Barograph - CPAP SD Card Analytics and Clinical Assessment
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/barograph

package metrics

import (
	"math"
	"time"

	"github.com/tomtom215/barograph/internal/events"
	"github.com/tomtom215/barograph/internal/logging"
	"github.com/tomtom215/barograph/internal/timeline"
)

const (
	// DefaultMonthDays fixes a month at 30 days so windows are
	// reproducible regardless of when the analysis runs.
	DefaultMonthDays = 30

	// DefaultMinimalUsageHours is the floor under which a session is too
	// short for meaningful AHI aggregation.
	DefaultMinimalUsageHours = 0.5

	// complianceHours is the nightly usage bar for the 4-hour metric.
	complianceHours = 4.0
)

// Stability labels derived from the coefficient of variation of nightly
// mean pressures.
const (
	StabilityHighlyStable = "highly_stable"
	StabilityStable       = "stable"
	StabilityVariable     = "variable"
	StabilityUnknown      = "insufficient_data"
)

// Window selects the trailing span metrics aggregate over.
type Window struct {
	// Months is the trailing window length; 0 means all history.
	Months int `json:"months"`

	// MonthDays is the fixed day count of one month.
	MonthDays int `json:"month_days"`

	// MinimalUsageHours excludes shorter sessions from AHI aggregation.
	MinimalUsageHours float64 `json:"minimal_usage_hours"`
}

// NewWindow returns a window of the given trailing months with default
// day basis and usage floor.
func NewWindow(months int) Window {
	return Window{
		Months:            months,
		MonthDays:         DefaultMonthDays,
		MinimalUsageHours: DefaultMinimalUsageHours,
	}
}

func (w Window) withDefaults() Window {
	if w.MonthDays <= 0 {
		w.MonthDays = DefaultMonthDays
	}
	if w.MinimalUsageHours <= 0 {
		w.MinimalUsageHours = DefaultMinimalUsageHours
	}
	return w
}

// AllHistory reports whether the window spans the entire recording.
func (w Window) AllHistory() bool {
	return w.Months <= 0
}

// Length is the window's duration; 0 for all history.
func (w Window) Length() time.Duration {
	if w.AllHistory() {
		return 0
	}
	return time.Duration(w.Months*w.MonthDays) * 24 * time.Hour
}

// SessionMetrics carries the derived values of one session.
type SessionMetrics struct {
	SessionID      int       `json:"session_id"`
	Start          time.Time `json:"start"`
	UsageHours     float64   `json:"usage_hours"`
	MeanPressure   float64   `json:"mean_pressure"`
	P95Pressure    float64   `json:"p95_pressure"`
	PressureStdDev float64   `json:"pressure_stddev"`
	ActiveSamples  int       `json:"active_samples"`
	EventCount     int       `json:"event_count"`

	// AHI is events per usage hour. Zero-usage sessions mark it
	// undefined instead of emitting a division artifact.
	AHI        float64 `json:"ahi"`
	AHIDefined bool    `json:"ahi_defined"`

	// Qualifying marks sessions long enough for AHI aggregation.
	Qualifying bool `json:"qualifying"`
}

// Trend compares the selected window against the immediately preceding
// window of equal length. HasBaseline=false means there was no prior
// window to compare against; the deltas are then meaningless, not zero.
type Trend struct {
	HasBaseline           bool    `json:"has_baseline"`
	UsageDaysPercentDelta float64 `json:"usage_days_percent_delta"`
	Usage4hPercentDelta   float64 `json:"usage_4h_percent_delta"`
	MeanPressureDelta     float64 `json:"mean_pressure_delta"`
	AHIDelta              float64 `json:"ahi_delta"`
	AHIDeltaDefined       bool    `json:"ahi_delta_defined"`
}

// Aggregate rolls sessions and events up over one window.
type Aggregate struct {
	Window             Window  `json:"window"`
	SessionCount       int     `json:"session_count"`
	QualifyingSessions int     `json:"qualifying_sessions"`
	WindowDays         int     `json:"window_days"`
	TotalUsageHours    float64 `json:"total_usage_hours"`

	// UsageDaysPercent relates sessions with any usage to the calendar
	// days in the window; Usage4hPercent requires four hours.
	UsageDaysPercent float64 `json:"usage_days_percent"`
	Usage4hPercent   float64 `json:"usage_4h_percent"`

	// Pressure statistics pool every active sample in the window, so
	// longer sessions weigh in proportionally.
	MeanPressure float64 `json:"mean_pressure"`
	P95Pressure  float64 `json:"p95_pressure"`
	MinPressure  float64 `json:"min_pressure"`
	MaxPressure  float64 `json:"max_pressure"`

	// PressureStability is 1 - CV of nightly mean pressures, clamped to
	// [0,1]. Higher is steadier therapy.
	PressureStability float64 `json:"pressure_stability"`

	EventCount int `json:"event_count"`

	// AHI divides qualifying events by qualifying hours, never averaging
	// per-session AHI values, so short sessions cannot skew it.
	AHI        float64 `json:"ahi"`
	AHIDefined bool    `json:"ahi_defined"`

	Trend Trend `json:"trend"`

	// PressureSlope is the least-squares drift of nightly mean pressure
	// in cmH2O per day.
	PressureSlope float64 `json:"pressure_slope_cmh2o_per_day"`
	SlopeDefined  bool    `json:"slope_defined"`

	// CV is the coefficient of variation behind PressureStability and
	// StabilityLabel.
	CV             float64 `json:"coefficient_of_variation"`
	StabilityLabel string  `json:"stability_label"`
}

// Compute derives per-session and aggregate metrics for the sessions
// falling inside the window. A zero now anchors the window at the end of
// the recording, which keeps reruns on the same card reproducible.
func Compute(sessions []timeline.Session, evs []events.Event, window Window, now time.Time) (Aggregate, []SessionMetrics) {
	window = window.withDefaults()
	if now.IsZero() {
		now = latestEnd(sessions)
	}

	counts := eventCounts(evs)
	cur := selectSessions(sessions, windowStart(window, now), time.Time{})

	per := make([]SessionMetrics, 0, len(cur))
	var pooled []float64
	for i := range cur {
		sm, active := sessionMetrics(&cur[i], counts[cur[i].ID], window.MinimalUsageHours)
		per = append(per, sm)
		pooled = append(pooled, active...)
	}

	agg := aggregateFrom(per, pooled, window, windowDays(window, cur))
	agg.Trend = trendAgainstPrevious(sessions, counts, window, now)

	logging.Debug().
		Int("window_months", window.Months).
		Int("sessions", agg.SessionCount).
		Int("events", agg.EventCount).
		Float64("usage_days_percent", agg.UsageDaysPercent).
		Bool("ahi_defined", agg.AHIDefined).
		Msg("metrics computed")

	return agg, per
}

// sessionMetrics derives one session's values and returns its active
// (non-missing, blower-on) pressure samples for pooling.
func sessionMetrics(s *timeline.Session, eventCount int, minUsage float64) (SessionMetrics, []float64) {
	active := activePressures(s)

	sm := SessionMetrics{
		SessionID:      s.ID,
		Start:          s.Start,
		UsageHours:     s.UsageHours(),
		MeanPressure:   mean(active),
		P95Pressure:    percentile(active, 95),
		PressureStdDev: sampleStdDev(active),
		ActiveSamples:  len(active),
		EventCount:     eventCount,
	}
	if sm.UsageHours > 0 {
		sm.AHI = float64(eventCount) / sm.UsageHours
		sm.AHIDefined = true
	}
	sm.Qualifying = sm.UsageHours >= minUsage
	return sm, active
}

// aggregateFrom rolls already-derived session metrics up. Pressure
// statistics come from the pooled samples, stability and trend material
// from the nightly means.
func aggregateFrom(per []SessionMetrics, pooled []float64, window Window, days int) Aggregate {
	agg := Aggregate{
		Window:       window,
		SessionCount: len(per),
		WindowDays:   days,
	}

	var usageSessions, usage4h int
	var qualHours float64
	var qualEvents int
	var meansX, meansY []float64
	var firstStart time.Time

	for _, sm := range per {
		agg.TotalUsageHours += sm.UsageHours
		agg.EventCount += sm.EventCount
		if sm.UsageHours > 0 {
			usageSessions++
		}
		if sm.UsageHours >= complianceHours {
			usage4h++
		}
		if sm.Qualifying {
			agg.QualifyingSessions++
			qualHours += sm.UsageHours
			qualEvents += sm.EventCount
		}
		if sm.ActiveSamples > 0 {
			if firstStart.IsZero() {
				firstStart = sm.Start
			}
			meansX = append(meansX, sm.Start.Sub(firstStart).Hours()/24)
			meansY = append(meansY, sm.MeanPressure)
		}
	}

	if days > 0 {
		agg.UsageDaysPercent = float64(usageSessions) / float64(days) * 100
		agg.Usage4hPercent = float64(usage4h) / float64(days) * 100
	}

	if len(pooled) > 0 {
		agg.MeanPressure = mean(pooled)
		agg.P95Pressure = percentile(pooled, 95)
		agg.MinPressure, agg.MaxPressure = bounds(pooled)
	}

	if qualHours > 0 {
		agg.AHI = float64(qualEvents) / qualHours
		agg.AHIDefined = true
	}

	switch {
	case len(meansY) < 2:
		agg.StabilityLabel = StabilityUnknown
		if len(meansY) == 1 {
			agg.PressureStability = 1
		}
	default:
		m := mean(meansY)
		if m > 0 {
			agg.CV = sampleStdDev(meansY) / m
		}
		agg.PressureStability = clamp01(1 - agg.CV)
		switch {
		case agg.CV < 0.10:
			agg.StabilityLabel = StabilityHighlyStable
		case agg.CV < 0.20:
			agg.StabilityLabel = StabilityStable
		default:
			agg.StabilityLabel = StabilityVariable
		}
	}

	agg.PressureSlope, agg.SlopeDefined = leastSquaresSlope(meansX, meansY)
	return agg
}

// trendAgainstPrevious compares the current window with the preceding
// window of equal length. All-history windows have no predecessor.
func trendAgainstPrevious(sessions []timeline.Session, counts map[int]int, window Window, now time.Time) Trend {
	if window.AllHistory() {
		return Trend{}
	}

	curStart := windowStart(window, now)
	prevStart := curStart.Add(-window.Length())
	prev := selectSessions(sessions, prevStart, curStart)
	if len(prev) == 0 {
		return Trend{}
	}

	days := window.Months * window.MonthDays
	build := func(subset []timeline.Session) Aggregate {
		per := make([]SessionMetrics, 0, len(subset))
		var pooled []float64
		for i := range subset {
			sm, active := sessionMetrics(&subset[i], counts[subset[i].ID], window.MinimalUsageHours)
			per = append(per, sm)
			pooled = append(pooled, active...)
		}
		return aggregateFrom(per, pooled, window, days)
	}

	curAgg := build(selectSessions(sessions, curStart, time.Time{}))
	prevAgg := build(prev)

	t := Trend{
		HasBaseline:           true,
		UsageDaysPercentDelta: curAgg.UsageDaysPercent - prevAgg.UsageDaysPercent,
		Usage4hPercentDelta:   curAgg.Usage4hPercent - prevAgg.Usage4hPercent,
		MeanPressureDelta:     curAgg.MeanPressure - prevAgg.MeanPressure,
	}
	if curAgg.AHIDefined && prevAgg.AHIDefined {
		t.AHIDelta = curAgg.AHI - prevAgg.AHI
		t.AHIDeltaDefined = true
	}
	return t
}

// selectSessions filters sessions by start time: from inclusive, until
// exclusive. Zero bounds are open.
func selectSessions(sessions []timeline.Session, from, until time.Time) []timeline.Session {
	var out []timeline.Session
	for _, s := range sessions {
		if !from.IsZero() && s.Start.Before(from) {
			continue
		}
		if !until.IsZero() && !s.Start.Before(until) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// windowStart is the inclusive lower bound of the window; zero for all
// history.
func windowStart(window Window, now time.Time) time.Time {
	if window.AllHistory() {
		return time.Time{}
	}
	return now.Add(-window.Length())
}

// windowDays is the calendar-day denominator for usage percentages. A
// fixed window uses its nominal span; all history spans first session
// start to last session end, rounded up.
func windowDays(window Window, cur []timeline.Session) int {
	if !window.AllHistory() {
		return window.Months * window.MonthDays
	}
	if len(cur) == 0 {
		return 0
	}
	span := cur[len(cur)-1].End.Sub(cur[0].Start)
	days := int(math.Ceil(span.Hours() / 24))
	if days < 1 {
		days = 1
	}
	return days
}

func latestEnd(sessions []timeline.Session) time.Time {
	var latest time.Time
	for _, s := range sessions {
		if s.End.After(latest) {
			latest = s.End
		}
	}
	return latest
}

func eventCounts(evs []events.Event) map[int]int {
	counts := make(map[int]int, len(evs))
	for _, ev := range evs {
		counts[ev.SessionID]++
	}
	return counts
}

func activePressures(s *timeline.Session) []float64 {
	out := make([]float64, 0, len(s.Points))
	for _, p := range s.Points {
		if p.Missing || p.Pressure <= 0 {
			continue
		}
		out = append(out, p.Pressure)
	}
	return out
}

func bounds(values []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
