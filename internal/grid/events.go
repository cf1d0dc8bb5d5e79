package grid

import (
	"context"
	"sort"
	"time"

	"alphaforge/internal/calendar"
)

// EventGrid carries irregular decision timestamps supplied by a collaborator
// instead of being derived from a calendar.
type EventGrid struct {
	Name       string
	Timestamps []time.Time
}

// Normalize returns the event grid's timestamps as a sorted, unique, UTC
// sequence, optionally clipped to [startUTC, endUTC]. Zero bounds are ignored.
func Normalize(g EventGrid, startUTC, endUTC time.Time) []time.Time {
	ts := make([]time.Time, 0, len(g.Timestamps))
	for _, t := range g.Timestamps {
		u := t.UTC()
		if !startUTC.IsZero() && u.Before(startUTC.UTC()) {
			continue
		}
		if !endUTC.IsZero() && u.After(endUTC.UTC()) {
			continue
		}
		ts = append(ts, u)
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
	return dedupe(ts)
}

func dedupe(ts []time.Time) []time.Time {
	if len(ts) < 2 {
		return ts
	}
	out := ts[:1]
	for _, t := range ts[1:] {
		if !t.Equal(out[len(out)-1]) {
			out = append(out, t)
		}
	}
	return out
}

// EventSource produces decision timestamps in UTC for a time range.
type EventSource interface {
	Name() string
	Events(ctx context.Context, startUTC, endUTC time.Time, entities []string) ([]time.Time, error)
}

// SessionCloseEvents emits UTC session-close timestamps, optionally delayed.
type SessionCloseEvents struct {
	Calendar *calendar.TradingCalendar
	Delay    time.Duration
}

func (s SessionCloseEvents) Name() string { return "session_close" }

func (s SessionCloseEvents) Events(_ context.Context, startUTC, endUTC time.Time, _ []string) ([]time.Time, error) {
	base, err := Build(s.Calendar, startUTC, endUTC, "sessions")
	if err != nil {
		return nil, err
	}
	return shift(base, s.Delay), nil
}

// FixedIntervalEvents emits intraday timestamps at a fixed frequency during
// sessions, optionally delayed.
type FixedIntervalEvents struct {
	Calendar *calendar.TradingCalendar
	Freq     string // e.g. "5min"
	Delay    time.Duration
}

func (f FixedIntervalEvents) Name() string { return "fixed_interval" }

func (f FixedIntervalEvents) Events(_ context.Context, startUTC, endUTC time.Time, _ []string) ([]time.Time, error) {
	base, err := Build(f.Calendar, startUTC, endUTC, f.Freq)
	if err != nil {
		return nil, err
	}
	return shift(base, f.Delay), nil
}

func shift(ts []time.Time, delay time.Duration) []time.Time {
	if delay == 0 {
		return ts
	}
	out := make([]time.Time, len(ts))
	for i, t := range ts {
		out[i] = t.Add(delay).UTC()
	}
	return out
}
