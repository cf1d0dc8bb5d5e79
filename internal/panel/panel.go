// Package panel provides the canonical long-format table keyed by the
// composite (timestamp UTC, entity) key. Keys are unique and kept sorted by
// (timestamp, entity) at every mutation boundary.
package panel

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Key is the composite row key of a panel.
type Key struct {
	TS     time.Time
	Entity string
}

// Less orders keys by (timestamp, entity).
func (k Key) Less(other Key) bool {
	if !k.TS.Equal(other.TS) {
		return k.TS.Before(other.TS)
	}
	return k.Entity < other.Entity
}

// Record is one input row for panel construction.
type Record struct {
	TS     time.Time
	Entity string
	Values []float64 // one per field, NaN marks a missing cell
}

// Panel is a sorted, unique-keyed table of numeric fields.
type Panel struct {
	fields []string
	keys   []Key
	values [][]float64
}

// New returns an empty panel with the given field names.
func New(fields []string) *Panel {
	return &Panel{fields: append([]string(nil), fields...)}
}

// FromRecords builds a panel from long-format records. All timestamps are
// normalized to UTC; the result is sorted and key uniqueness enforced.
func FromRecords(fields []string, records []Record) (*Panel, error) {
	p := New(fields)
	for _, r := range records {
		if err := p.Append(r.TS, r.Entity, r.Values); err != nil {
			return nil, err
		}
	}
	if err := p.EnsureSorted(); err != nil {
		return nil, err
	}
	return p, nil
}

// Append adds one row. Callers must EnsureSorted before reading the panel.
func (p *Panel) Append(ts time.Time, entity string, values []float64) error {
	if len(values) != len(p.fields) {
		return fmt.Errorf("row for %s/%s has %d values, want %d", entity, ts, len(values), len(p.fields))
	}
	p.keys = append(p.keys, Key{TS: ts.UTC(), Entity: entity})
	p.values = append(p.values, append([]float64(nil), values...))
	return nil
}

// EnsureSorted restores the (timestamp, entity) sort order and verifies key
// uniqueness. It must be called after any mutating operation.
func (p *Panel) EnsureSorted() error {
	idx := make([]int, len(p.keys))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return p.keys[idx[a]].Less(p.keys[idx[b]]) })

	keys := make([]Key, len(p.keys))
	values := make([][]float64, len(p.values))
	for i, j := range idx {
		keys[i] = p.keys[j]
		values[i] = p.values[j]
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1].TS.Equal(keys[i].TS) && keys[i-1].Entity == keys[i].Entity {
			return fmt.Errorf("duplicate panel key (%s, %s)", keys[i].TS, keys[i].Entity)
		}
	}
	p.keys = keys
	p.values = values
	return nil
}

// Len returns the number of rows.
func (p *Panel) Len() int { return len(p.keys) }

// Fields returns the field names.
func (p *Panel) Fields() []string { return append([]string(nil), p.fields...) }

// Keys returns the row keys in order.
func (p *Panel) Keys() []Key { return append([]Key(nil), p.keys...) }

// Row returns the values of row i. The returned slice is shared; callers must
// not mutate it.
func (p *Panel) Row(i int) []float64 { return p.values[i] }

// Entities returns the distinct entity ids, sorted.
func (p *Panel) Entities() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, k := range p.keys {
		if _, ok := seen[k.Entity]; !ok {
			seen[k.Entity] = struct{}{}
			out = append(out, k.Entity)
		}
	}
	sort.Strings(out)
	return out
}

// Slice returns a copy restricted to [start, end] and, when entities is
// non-nil, to the given entity set. Zero bounds are ignored.
func (p *Panel) Slice(start, end time.Time, entities []string) *Panel {
	var keep map[string]struct{}
	if entities != nil {
		keep = make(map[string]struct{}, len(entities))
		for _, e := range entities {
			keep[e] = struct{}{}
		}
	}
	out := New(p.fields)
	for i, k := range p.keys {
		if !start.IsZero() && k.TS.Before(start.UTC()) {
			continue
		}
		if !end.IsZero() && k.TS.After(end.UTC()) {
			continue
		}
		if keep != nil {
			if _, ok := keep[k.Entity]; !ok {
				continue
			}
		}
		out.keys = append(out.keys, k)
		out.values = append(out.values, append([]float64(nil), p.values[i]...))
	}
	return out
}

// EntityRows returns the row indices belonging to one entity, in order.
func (p *Panel) EntityRows(entity string) []int {
	var out []int
	for i, k := range p.keys {
		if k.Entity == entity {
			out = append(out, i)
		}
	}
	return out
}

// IsMissing reports whether every field of row i is NaN.
func (p *Panel) IsMissing(i int) bool {
	for _, v := range p.values[i] {
		if !math.IsNaN(v) {
			return false
		}
	}
	return true
}
