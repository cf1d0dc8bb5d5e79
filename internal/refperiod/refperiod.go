// Package refperiod implements fiscal reference-period addressing: an
// annual/quarterly/monthly period with a canonical string key and a derived
// observation end date. Parsing and derivation round-trip exactly.
package refperiod

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Freq is the reference-period frequency.
type Freq string

const (
	Annual    Freq = "A"
	Quarterly Freq = "Q"
	Monthly   Freq = "M"
)

// RefPeriod addresses one fiscal period.
type RefPeriod struct {
	Freq   Freq
	Year   int
	Period int // 1 for annual, 1-4 for quarterly, 1-12 for monthly
}

var (
	reQuarter  = regexp.MustCompile(`^(\d{4})[Qq]([1-4])$`)
	reDate     = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})$`)
	reYearMon  = regexp.MustCompile(`^(\d{4})[-/](\d{2})$`)
	reYearOnly = regexp.MustCompile(`^(\d{4})$`)
)

// Parse reads a reference period from its string form: YYYY, YYYYQq, YYYY-MM,
// YYYY/MM, or a month-end date YYYY-MM-DD.
func Parse(s string) (RefPeriod, error) {
	text := strings.TrimSpace(s)
	if text == "" {
		return RefPeriod{}, fmt.Errorf("reference period string is required")
	}

	if m := reQuarter.FindStringSubmatch(text); m != nil {
		return RefPeriod{Freq: Quarterly, Year: atoi(m[1]), Period: atoi(m[2])}, nil
	}
	if m := reDate.FindStringSubmatch(text); m != nil {
		ts, err := time.Parse("2006-01-02", text)
		if err != nil {
			return RefPeriod{}, fmt.Errorf("invalid reference period date: %s", text)
		}
		if ts.Day() != lastDayOfMonth(ts.Year(), ts.Month()) {
			return RefPeriod{}, fmt.Errorf("date reference periods must be month-end (YYYY-MM-DD): %s", text)
		}
		return RefPeriod{Freq: Monthly, Year: ts.Year(), Period: int(ts.Month())}, nil
	}
	if m := reYearMon.FindStringSubmatch(text); m != nil {
		month := atoi(m[2])
		if month < 1 || month > 12 {
			return RefPeriod{}, fmt.Errorf("invalid reference period month: %s", text)
		}
		return RefPeriod{Freq: Monthly, Year: atoi(m[1]), Period: month}, nil
	}
	if m := reYearOnly.FindStringSubmatch(text); m != nil {
		return RefPeriod{Freq: Annual, Year: atoi(m[1]), Period: 1}, nil
	}

	return RefPeriod{}, fmt.Errorf("invalid reference period format %q: expected YYYY, YYYYQq, YYYY-MM, YYYY/MM, or YYYY-MM-DD", s)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Key returns the canonical string key, e.g. "2024Q4" or "2025-01".
func (r RefPeriod) Key() (string, error) {
	switch r.Freq {
	case Annual:
		return fmt.Sprintf("%04d", r.Year), nil
	case Quarterly:
		return fmt.Sprintf("%04dQ%d", r.Year, r.Period), nil
	case Monthly:
		return fmt.Sprintf("%04d-%02d", r.Year, r.Period), nil
	}
	return "", fmt.Errorf("unsupported reference frequency: %q", r.Freq)
}

// EndObsDate returns the fiscal period's last calendar day as a UTC midnight.
func (r RefPeriod) EndObsDate() (time.Time, error) {
	switch r.Freq {
	case Annual:
		return time.Date(r.Year, 12, 31, 0, 0, 0, 0, time.UTC), nil
	case Quarterly:
		month := time.Month(r.Period * 3)
		return time.Date(r.Year, month, lastDayOfMonth(r.Year, month), 0, 0, 0, 0, time.UTC), nil
	case Monthly:
		month := time.Month(r.Period)
		return time.Date(r.Year, month, lastDayOfMonth(r.Year, month), 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, fmt.Errorf("unsupported reference frequency: %q", r.Freq)
}

// FromObsDateEnd recovers the reference period whose end date is ts at the
// given frequency. The round-trip must match exactly; a date that is not the
// period's last calendar day fails.
func FromObsDateEnd(ts time.Time, freq Freq) (RefPeriod, error) {
	u := ts.UTC()
	obs := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)

	var period int
	switch freq {
	case Annual:
		period = 1
	case Quarterly:
		period = (int(obs.Month())-1)/3 + 1
	case Monthly:
		period = int(obs.Month())
	default:
		return RefPeriod{}, fmt.Errorf("unsupported reference frequency: %q", freq)
	}

	candidate := RefPeriod{Freq: freq, Year: obs.Year(), Period: period}
	end, err := candidate.EndObsDate()
	if err != nil {
		return RefPeriod{}, err
	}
	if !end.Equal(obs) {
		return RefPeriod{}, fmt.Errorf("%s is not the end of a %s reference period", obs.Format("2006-01-02"), freq)
	}
	return candidate, nil
}

// MakeRefEntityID composes a panel entity id from a series key and period.
func MakeRefEntityID(seriesKey string, ref RefPeriod) (string, error) {
	if seriesKey == "" {
		return "", fmt.Errorf("series key is required")
	}
	key, err := ref.Key()
	if err != nil {
		return "", err
	}
	return seriesKey + "|" + key, nil
}

// ParseRefEntityID splits a composite entity id back into its series key and
// reference period.
func ParseRefEntityID(entityID string) (string, RefPeriod, error) {
	if entityID == "" {
		return "", RefPeriod{}, fmt.Errorf("entity id is required")
	}
	parts := strings.SplitN(entityID, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", RefPeriod{}, fmt.Errorf("invalid ref entity id: %s", entityID)
	}
	ref, err := Parse(parts[1])
	if err != nil {
		return "", RefPeriod{}, err
	}
	return parts[0], ref, nil
}
