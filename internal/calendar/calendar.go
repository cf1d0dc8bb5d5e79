// Package calendar implements a minimal business-day trading calendar.
//
// A calendar is identified by a market name and a *local* timezone (e.g.
// America/New_York for XNYS). Session labels are tz-aware UTC instants at
// midnight; open/close helpers map a label to concrete UTC instants by
// working in local wall-clock time first, which keeps the UTC hour correct
// across daylight-saving transitions.
package calendar

import (
	"fmt"
	"sort"
	"time"
)

const (
	defaultOpenOffset  = 9*time.Hour + 30*time.Minute // 09:30 local
	defaultCloseOffset = 16 * time.Hour               // 16:00 local
)

// TradingCalendar derives sessions and open/close instants for one market.
// The mapping is pure given (date, timezone); the struct carries no state
// beyond its configuration.
type TradingCalendar struct {
	Name string
	Loc  *time.Location

	// Local wall-clock offsets from midnight. OpenOffset must precede CloseOffset.
	OpenOffset  time.Duration
	CloseOffset time.Duration
}

// New constructs a calendar for the given market name and IANA timezone.
func New(name, tz string) (*TradingCalendar, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", tz, err)
	}
	return &TradingCalendar{
		Name:        name,
		Loc:         loc,
		OpenOffset:  defaultOpenOffset,
		CloseOffset: defaultCloseOffset,
	}, nil
}

// MustNew is New for static calendar definitions; it panics on a bad timezone.
func MustNew(name, tz string) *TradingCalendar {
	cal, err := New(name, tz)
	if err != nil {
		panic(err)
	}
	return cal
}

func (c *TradingCalendar) validate() error {
	if c.Loc == nil {
		return fmt.Errorf("calendar %s: timezone not set", c.Name)
	}
	if c.OpenOffset >= c.CloseOffset {
		return fmt.Errorf("calendar %s: open offset %s not before close offset %s", c.Name, c.OpenOffset, c.CloseOffset)
	}
	return nil
}

func isBusinessDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

func utcMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Sessions returns the business-day session labels intersecting [start, end]
// as tz-aware UTC midnights, ascending.
func (c *TradingCalendar) Sessions(start, end time.Time) []time.Time {
	var out []time.Time
	for d := utcMidnight(start); !d.After(utcMidnight(end)); d = d.AddDate(0, 0, 1) {
		if isBusinessDay(d) {
			out = append(out, d)
		}
	}
	return out
}

// NextSession returns the next business day after ts, preserving clock time.
func (c *TradingCalendar) NextSession(ts time.Time) time.Time {
	t := ts.UTC().AddDate(0, 0, 1)
	for !isBusinessDay(t) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// PrevSession returns the previous business day before ts, preserving clock time.
func (c *TradingCalendar) PrevSession(ts time.Time) time.Time {
	t := ts.UTC().AddDate(0, 0, -1)
	for !isBusinessDay(t) {
		t = t.AddDate(0, 0, -1)
	}
	return t
}

// localSessionMidnight converts a session label to the calendar's local
// timezone and truncates to that local date's midnight.
func (c *TradingCalendar) localSessionMidnight(label time.Time) time.Time {
	lt := label.In(c.Loc)
	y, m, d := lt.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, c.Loc)
}

// SessionOpenUTC returns the session open instant in UTC for a session label.
// The label is normalized to the local timezone's midnight before the open
// offset is applied, so the UTC hour shifts with daylight-saving time.
func (c *TradingCalendar) SessionOpenUTC(label time.Time) time.Time {
	return c.localSessionMidnight(label).Add(c.OpenOffset).UTC()
}

// SessionCloseUTC returns the session close instant in UTC for a session label.
func (c *TradingCalendar) SessionCloseUTC(label time.Time) time.Time {
	return c.localSessionMidnight(label).Add(c.CloseOffset).UTC()
}

// TradingMinutesUTC generates intraday timestamps at the given step for every
// session intersecting [startUTC, endUTC]. Each session's range is generated
// in local time (right-open at the open, inclusive at the close) and converted
// to UTC independently, preserving the session's DST offset. The result is
// sorted, unique and clipped to [startUTC, endUTC].
func (c *TradingCalendar) TradingMinutesUTC(startUTC, endUTC time.Time, step time.Duration) ([]time.Time, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if step <= 0 {
		return nil, fmt.Errorf("trading minutes step must be positive, got %s", step)
	}
	s := startUTC.UTC()
	e := endUTC.UTC()

	var out []time.Time
	for _, sess := range c.Sessions(s, e) {
		open := c.SessionOpenUTC(sess)
		close := c.SessionCloseUTC(sess)
		for t := open.Add(step); !t.After(close); t = t.Add(step) {
			if t.Before(s) || t.After(e) {
				continue
			}
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return dedupeSorted(out), nil
}

func dedupeSorted(ts []time.Time) []time.Time {
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
