package feature

import (
	"fmt"
	"sort"

	"alphaforge/internal/panel"
)

// CatalogEntry describes one feature column of a materialized frame.
type CatalogEntry struct {
	Name   string `json:"name"`
	Kind   string `json:"kind,omitempty"`   // e.g. "feature", "target"
	Source string `json:"source,omitempty"` // upstream table or template
}

// Frame is one materialized result: a keyed value table, a catalog describing
// its columns, and a metadata document stamped by the materializer.
type Frame struct {
	Values  *panel.Panel
	Catalog []CatalogEntry
	Meta    map[string]any
}

// MetaString reads a string metadata value, empty when absent.
func (f *Frame) MetaString(key string) string {
	if f.Meta == nil {
		return ""
	}
	s, _ := f.Meta[key].(string)
	return s
}

// setMeta writes a metadata value, allocating the map on first use.
func (f *Frame) setMeta(key string, value any) {
	if f.Meta == nil {
		f.Meta = make(map[string]any)
	}
	f.Meta[key] = value
}

// Validate enforces the structural contract of a frame: a value table with a
// sorted unique composite key and a catalog naming exactly the table's
// columns.
func (f *Frame) Validate() error {
	if f.Values == nil {
		return fmt.Errorf("frame: values table is required")
	}
	if err := f.Values.EnsureSorted(); err != nil {
		return fmt.Errorf("frame values: %w", err)
	}
	fields := f.Values.Fields()
	if len(f.Catalog) != len(fields) {
		return fmt.Errorf("frame: catalog has %d entries for %d value columns", len(f.Catalog), len(fields))
	}
	named := make([]string, len(f.Catalog))
	for i, entry := range f.Catalog {
		if entry.Name == "" {
			return fmt.Errorf("frame: catalog entry %d has no name", i)
		}
		named[i] = entry.Name
	}
	wantSorted := append([]string(nil), fields...)
	haveSorted := append([]string(nil), named...)
	sort.Strings(wantSorted)
	sort.Strings(haveSorted)
	for i := range wantSorted {
		if wantSorted[i] != haveSorted[i] {
			return fmt.Errorf("frame: catalog names %v do not match value columns %v", named, fields)
		}
	}
	return nil
}
