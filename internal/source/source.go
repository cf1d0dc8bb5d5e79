// Package source declares the external data-source collaborator contracts.
// Concrete connectors (network fetch, file readers) live outside this core.
package source

import (
	"context"
	"time"

	"alphaforge/internal/panel"
)

// TableSchema describes one table exposed by a data source.
type TableSchema struct {
	Name             string
	RequiredColumns  []string
	CanonicalColumns []string
	EntityColumn     string
	TimeColumn       string

	// NativeFreq is the series' native release frequency: "B","D","W","M","Q".
	NativeFreq string
	// TimeSemantics: "point", "interval_end" or "interval_avg".
	TimeSemantics string
	// ExpectedCadenceDays overrides the cadence implied by NativeFreq.
	// Zero means unset.
	ExpectedCadenceDays int
}

var freqCadenceDays = map[string]int{
	"B": 1,
	"D": 1,
	"W": 7,
	"M": 30,
	"Q": 90,
}

// CadenceDays resolves the expected days between observations: the explicit
// override when set, otherwise a fixed mapping from the native frequency.
// ok is false when neither is available.
func (s TableSchema) CadenceDays() (days int, ok bool) {
	if s.ExpectedCadenceDays > 0 {
		return s.ExpectedCadenceDays, true
	}
	days, ok = freqCadenceDays[s.NativeFreq]
	return days, ok
}

// Query selects rows from a source table.
type Query struct {
	Table    string
	Start    time.Time
	End      time.Time
	Entities []string
	AsOf     time.Time // point-in-time cutoff; zero means latest
}

// DataSource provides schemas and raw rows. Implementations are external
// collaborators; the core only consumes this interface.
type DataSource interface {
	Schemas() map[string]TableSchema
	Fetch(ctx context.Context, q Query) (*panel.Panel, error)
}
