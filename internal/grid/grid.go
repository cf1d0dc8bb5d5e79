// Package grid builds canonical evaluation grids: ordered, duplicate-free
// sequences of UTC timestamps derived from a trading calendar or supplied by
// an external event source.
package grid

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"alphaforge/internal/calendar"
)

// Build constructs the evaluation grid for [startUTC, endUTC] from a spec token.
//
// Supported forms:
//   - "B", "sessions", "daily": one point per session, at the close instant
//   - "{n}min": intraday points at the given frequency during trading hours
//
// Anything else is an input error.
func Build(cal *calendar.TradingCalendar, startUTC, endUTC time.Time, spec string) ([]time.Time, error) {
	s := startUTC.UTC()
	e := endUTC.UTC()

	switch strings.ToLower(spec) {
	case "b", "sessions", "daily":
		sessions := cal.Sessions(s, e)
		closes := make([]time.Time, 0, len(sessions))
		for _, label := range sessions {
			closes = append(closes, cal.SessionCloseUTC(label))
		}
		sort.Slice(closes, func(i, j int) bool { return closes[i].Before(closes[j]) })
		return closes, nil
	}

	if step, ok := parseIntradayFreq(spec); ok {
		return cal.TradingMinutesUTC(s, e, step)
	}

	return nil, fmt.Errorf("unsupported grid spec: %q", spec)
}

// parseIntradayFreq interprets tokens like "5min" or "15min".
func parseIntradayFreq(spec string) (time.Duration, bool) {
	s := strings.ToLower(strings.TrimSpace(spec))
	if !strings.HasSuffix(s, "min") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(s, "min"))
	if err != nil || n <= 0 {
		return 0, false
	}
	return time.Duration(n) * time.Minute, true
}

// Validate checks the grid invariant: tz-aware UTC, strictly increasing,
// no duplicates. An empty grid is valid.
func Validate(idx []time.Time) error {
	for i, t := range idx {
		if t.Location() != time.UTC {
			return fmt.Errorf("grid point %d (%s) is not UTC", i, t)
		}
		if i > 0 && !idx[i-1].Before(t) {
			return fmt.Errorf("grid not strictly increasing at %d: %s then %s", i, idx[i-1], t)
		}
	}
	return nil
}
