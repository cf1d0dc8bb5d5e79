// Package align reindexes sparse per-entity panels onto a canonical grid and
// classifies every cell's missingness as structural or abnormal, driven by the
// series' expected release cadence.
package align

import (
	"fmt"
	"math"
	"time"

	"alphaforge/internal/grid"
	"alphaforge/internal/panel"
	"alphaforge/internal/source"
)

// AvailabilityState classifies one aligned cell.
type AvailabilityState string

const (
	Available        AvailabilityState = "available"
	NoUpdateExpected AvailabilityState = "no_update_expected" // structural: low-freq series between releases
	NotYetReleased   AvailabilityState = "not_yet_released"   // reserved for vintage-aware sources, never emitted here
	TemporaryOutage  AvailabilityState = "temporary_outage"   // abnormal: expected release missing
	Discontinued     AvailabilityState = "discontinued"       // abnormal
	MissingUnknown   AvailabilityState = "missing_unknown"    // abnormal: daily series should always have a value
)

// Method selects the value-fill strategy.
type Method string

const (
	MethodNone     Method = "none"
	MethodFFill    Method = "ffill"
	MethodStepHold Method = "step_hold"
	MethodInterp   Method = "interp"
)

// Spec configures an alignment call.
type Spec struct {
	Method Method
	// MaxFillGap bounds forward fill to this many consecutive grid steps.
	// Zero means unbounded.
	MaxFillGap int
	// RespectAsOf is carried for contract parity with the dataset layer; the
	// point-in-time cutoff itself is enforced upstream of alignment.
	RespectAsOf bool
}

// AlignedPanel holds the three parallel outputs of an alignment: post-fill
// values, genuine-observation flags and availability states, all sharing one
// (timestamp, entity) index.
type AlignedPanel struct {
	Index        []panel.Key
	Fields       []string
	Value        [][]float64 // row-major, len(Index) x len(Fields)
	Observed     []bool
	Availability []AvailabilityState
}

// Audit flags any cell carrying a value while marked NOT_YET_RELEASED. The
// state is never emitted by Align today; the check guards forward
// compatibility with vintage-aware sources.
func (a *AlignedPanel) Audit() error {
	for i, st := range a.Availability {
		if st != NotYetReleased {
			continue
		}
		for f, v := range a.Value[i] {
			if !math.IsNaN(v) {
				return fmt.Errorf("cell (%s, %s) field %s has value %v while marked not_yet_released",
					a.Index[i].TS, a.Index[i].Entity, a.Fields[f], v)
			}
		}
	}
	return nil
}

func utcDay(t time.Time) int64 {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Unix()
}

// Align reindexes p onto gridIdx. Observation timestamps are normalized to
// the UTC calendar date for grid comparison; the output index carries the full
// grid timestamps. Each entity is processed independently and the result is
// sorted by (timestamp, entity).
func Align(p *panel.Panel, schema source.TableSchema, gridIdx []time.Time, spec Spec) (*AlignedPanel, error) {
	if err := grid.Validate(gridIdx); err != nil {
		return nil, fmt.Errorf("align: %w", err)
	}
	switch spec.Method {
	case MethodNone, MethodFFill, MethodStepHold, MethodInterp:
	default:
		return nil, fmt.Errorf("align: unknown fill method %q", spec.Method)
	}

	fields := p.Fields()
	entities := p.Entities()
	cadence, hasCadence := schema.CadenceDays()

	out := &AlignedPanel{Fields: fields}
	n := len(gridIdx)

	type entityResult struct {
		values       [][]float64
		observed     []bool
		availability []AvailabilityState
	}
	results := make(map[string]entityResult, len(entities))

	for _, ent := range entities {
		// Last row per UTC day wins when an entity has several intraday
		// timestamps on one calendar date.
		rowByDay := make(map[int64]int)
		obsDay := make(map[int64]bool)
		for _, i := range p.EntityRows(ent) {
			d := utcDay(p.Keys()[i].TS)
			rowByDay[d] = i
			if !p.IsMissing(i) {
				obsDay[d] = true
			}
		}

		res := entityResult{
			values:       make([][]float64, n),
			observed:     make([]bool, n),
			availability: make([]AvailabilityState, n),
		}
		allNaN := make([]bool, n)
		for t := 0; t < n; t++ {
			d := utcDay(gridIdx[t])
			row := make([]float64, len(fields))
			if i, ok := rowByDay[d]; ok {
				copy(row, p.Row(i))
			} else {
				for f := range row {
					row[f] = math.NaN()
				}
			}
			res.values[t] = row
			res.observed[t] = obsDay[d]
			allNaN[t] = rowAllNaN(row)
			res.availability[t] = Available
		}

		// Structural missingness: a low-frequency series is not expected to
		// print on every grid point.
		if hasCadence && cadence > 1 {
			for t := 0; t < n; t++ {
				if !res.observed[t] {
					res.availability[t] = NoUpdateExpected
				}
			}
		}
		// Abnormal missingness.
		if !hasCadence || cadence <= 1 {
			for t := 0; t < n; t++ {
				if allNaN[t] {
					res.availability[t] = MissingUnknown
				}
			}
		} else {
			for t := 0; t < n; t++ {
				if res.observed[t] && allNaN[t] {
					res.availability[t] = TemporaryOutage
				}
			}
		}

		applyFill(res.values, len(fields), spec)
		results[ent] = res
	}

	// Recombine, sorted by (timestamp, entity): entities are already sorted.
	for t := 0; t < n; t++ {
		for _, ent := range entities {
			res := results[ent]
			out.Index = append(out.Index, panel.Key{TS: gridIdx[t], Entity: ent})
			out.Value = append(out.Value, res.values[t])
			out.Observed = append(out.Observed, res.observed[t])
			out.Availability = append(out.Availability, res.availability[t])
		}
	}
	return out, nil
}

func rowAllNaN(row []float64) bool {
	for _, v := range row {
		if !math.IsNaN(v) {
			return false
		}
	}
	return true
}

func applyFill(values [][]float64, nfields int, spec Spec) {
	switch spec.Method {
	case MethodNone:
	case MethodFFill, MethodStepHold:
		for f := 0; f < nfields; f++ {
			ffillColumn(values, f, spec.MaxFillGap)
		}
	case MethodInterp:
		for f := 0; f < nfields; f++ {
			interpColumn(values, f)
		}
	}
}

// ffillColumn forward-fills field f, propagating at most limit consecutive
// grid steps when limit > 0.
func ffillColumn(values [][]float64, f, limit int) {
	last := math.NaN()
	run := 0
	for t := range values {
		v := values[t][f]
		if !math.IsNaN(v) {
			last = v
			run = 0
			continue
		}
		run++
		if !math.IsNaN(last) && (limit == 0 || run <= limit) {
			values[t][f] = last
		}
	}
}

// interpColumn fills interior gaps of field f linearly and edge gaps with the
// nearest observed value (bidirectional interpolation).
func interpColumn(values [][]float64, f int) {
	n := len(values)
	var obs []int
	for t := 0; t < n; t++ {
		if !math.IsNaN(values[t][f]) {
			obs = append(obs, t)
		}
	}
	if len(obs) == 0 {
		return
	}
	first, last := obs[0], obs[len(obs)-1]
	for t := 0; t < first; t++ {
		values[t][f] = values[first][f]
	}
	for t := last + 1; t < n; t++ {
		values[t][f] = values[last][f]
	}
	for k := 0; k+1 < len(obs); k++ {
		lo, hi := obs[k], obs[k+1]
		vlo, vhi := values[lo][f], values[hi][f]
		for t := lo + 1; t < hi; t++ {
			frac := float64(t-lo) / float64(hi-lo)
			values[t][f] = vlo + frac*(vhi-vlo)
		}
	}
}
