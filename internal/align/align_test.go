package align

import (
	"math"
	"testing"
	"time"

	"alphaforge/internal/panel"
	"alphaforge/internal/source"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func dailyGrid(days ...int) []time.Time {
	out := make([]time.Time, 0, len(days))
	for _, d := range days {
		out = append(out, day(d))
	}
	return out
}

func mustPanel(t *testing.T, fields []string, records []panel.Record) *panel.Panel {
	t.Helper()
	p, err := panel.FromRecords(fields, records)
	if err != nil {
		t.Fatalf("panel: %v", err)
	}
	return p
}

func cellAt(t *testing.T, a *AlignedPanel, ts time.Time, entity string) int {
	t.Helper()
	for i, k := range a.Index {
		if k.TS.Equal(ts) && k.Entity == entity {
			return i
		}
	}
	t.Fatalf("cell (%s, %s) not in aligned index", ts, entity)
	return -1
}

func TestMonthlyCadenceStructuralMissingness(t *testing.T) {
	p := mustPanel(t, []string{"v"}, []panel.Record{
		{TS: day(1), Entity: "AAA", Values: []float64{1.5}},
	})
	schema := source.TableSchema{Name: "macro", NativeFreq: "M"}
	a, err := Align(p, schema, dailyGrid(1, 2, 3, 4), Spec{Method: MethodFFill})
	if err != nil {
		t.Fatalf("align: %v", err)
	}
	if st := a.Availability[cellAt(t, a, day(1), "AAA")]; st != Available {
		t.Fatalf("observation day availability = %s, want %s", st, Available)
	}
	for _, d := range []int{2, 3, 4} {
		if st := a.Availability[cellAt(t, a, day(d), "AAA")]; st != NoUpdateExpected {
			t.Fatalf("day %d availability = %s, want %s", d, st, NoUpdateExpected)
		}
	}
	// Forward fill holds the monthly value across the gap.
	if v := a.Value[cellAt(t, a, day(4), "AAA")][0]; v != 1.5 {
		t.Fatalf("ffilled value = %v, want 1.5", v)
	}
}

func TestDailyMissingIsUnknown(t *testing.T) {
	p := mustPanel(t, []string{"v"}, []panel.Record{
		{TS: day(1), Entity: "AAA", Values: []float64{1}},
		{TS: day(3), Entity: "AAA", Values: []float64{3}},
	})
	schema := source.TableSchema{Name: "prices", NativeFreq: "B"}
	a, err := Align(p, schema, dailyGrid(1, 2, 3), Spec{Method: MethodNone})
	if err != nil {
		t.Fatalf("align: %v", err)
	}
	if st := a.Availability[cellAt(t, a, day(2), "AAA")]; st != MissingUnknown {
		t.Fatalf("missing daily cell availability = %s, want %s", st, MissingUnknown)
	}
	if v := a.Value[cellAt(t, a, day(2), "AAA")][0]; !math.IsNaN(v) {
		t.Fatalf("method none should leave gap as NaN, got %v", v)
	}
}

func TestLowFreqOutageOnObservationDay(t *testing.T) {
	// A monthly series that printed a row with a null value on its release day.
	p := mustPanel(t, []string{"v"}, []panel.Record{
		{TS: day(1), Entity: "AAA", Values: []float64{1}},
		{TS: day(3), Entity: "AAA", Values: []float64{math.NaN()}},
	})
	schema := source.TableSchema{Name: "macro", ExpectedCadenceDays: 30}
	a, err := Align(p, schema, dailyGrid(1, 2, 3), Spec{Method: MethodNone})
	if err != nil {
		t.Fatalf("align: %v", err)
	}
	// Day 3 had a row but no value: the release day itself is NOT an observed
	// day (no non-null field), so it classifies as structural, matching the
	// observed-flag definition. Day 2 with no row at all is structural too.
	if st := a.Availability[cellAt(t, a, day(2), "AAA")]; st != NoUpdateExpected {
		t.Fatalf("gap day availability = %s, want %s", st, NoUpdateExpected)
	}
	if obs := a.Observed[cellAt(t, a, day(1), "AAA")]; !obs {
		t.Fatal("day 1 should be an observed cell")
	}
	if obs := a.Observed[cellAt(t, a, day(3), "AAA")]; obs {
		t.Fatal("all-null row should not count as observed")
	}
}

func TestLowFreqNullOnExpectedDayIsOutage(t *testing.T) {
	// The release day carries a genuine observation earlier in the day, but the
	// latest row for the day is all-null: an expected release went missing.
	p := mustPanel(t, []string{"v"}, []panel.Record{
		{TS: time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC), Entity: "AAA", Values: []float64{5}},
		{TS: time.Date(2024, 1, 3, 18, 0, 0, 0, time.UTC), Entity: "AAA", Values: []float64{math.NaN()}},
	})
	schema := source.TableSchema{Name: "macro", ExpectedCadenceDays: 30}
	a, err := Align(p, schema, dailyGrid(3), Spec{Method: MethodNone})
	if err != nil {
		t.Fatalf("align: %v", err)
	}
	i := cellAt(t, a, day(3), "AAA")
	if !a.Observed[i] {
		t.Fatal("day 3 carried a genuine observation")
	}
	if st := a.Availability[i]; st != TemporaryOutage {
		t.Fatalf("availability = %s, want %s", st, TemporaryOutage)
	}
}

func TestFFillBoundedByMaxGap(t *testing.T) {
	p := mustPanel(t, []string{"v"}, []panel.Record{
		{TS: day(1), Entity: "AAA", Values: []float64{10}},
	})
	schema := source.TableSchema{Name: "prices", NativeFreq: "D"}
	a, err := Align(p, schema, dailyGrid(1, 2, 3, 4), Spec{Method: MethodFFill, MaxFillGap: 2})
	if err != nil {
		t.Fatalf("align: %v", err)
	}
	if v := a.Value[cellAt(t, a, day(3), "AAA")][0]; v != 10 {
		t.Fatalf("day 3 should be filled, got %v", v)
	}
	if v := a.Value[cellAt(t, a, day(4), "AAA")][0]; !math.IsNaN(v) {
		t.Fatalf("day 4 beyond max fill gap should stay NaN, got %v", v)
	}
}

func TestInterpBidirectional(t *testing.T) {
	p := mustPanel(t, []string{"v"}, []panel.Record{
		{TS: day(2), Entity: "AAA", Values: []float64{1}},
		{TS: day(4), Entity: "AAA", Values: []float64{3}},
	})
	schema := source.TableSchema{Name: "prices", NativeFreq: "D"}
	a, err := Align(p, schema, dailyGrid(1, 2, 3, 4, 5), Spec{Method: MethodInterp})
	if err != nil {
		t.Fatalf("align: %v", err)
	}
	want := map[int]float64{1: 1, 2: 1, 3: 2, 4: 3, 5: 3}
	for d, w := range want {
		if v := a.Value[cellAt(t, a, day(d), "AAA")][0]; v != w {
			t.Fatalf("day %d interp value = %v, want %v", d, v, w)
		}
	}
}

func TestValuePanelCarriesFullGridTimestamps(t *testing.T) {
	// Observations land at 14:30 UTC; comparison is by calendar day, but the
	// aligned index must carry the grid's close timestamps.
	closeTS := time.Date(2024, 1, 2, 21, 0, 0, 0, time.UTC)
	p := mustPanel(t, []string{"v"}, []panel.Record{
		{TS: time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC), Entity: "AAA", Values: []float64{7}},
	})
	schema := source.TableSchema{Name: "prices", NativeFreq: "B"}
	a, err := Align(p, schema, []time.Time{closeTS}, Spec{Method: MethodNone})
	if err != nil {
		t.Fatalf("align: %v", err)
	}
	i := cellAt(t, a, closeTS, "AAA")
	if v := a.Value[i][0]; v != 7 {
		t.Fatalf("day-matched value = %v, want 7", v)
	}
	if !a.Observed[i] {
		t.Fatal("cell should be observed")
	}
}

func TestMultiEntityIndexSorted(t *testing.T) {
	p := mustPanel(t, []string{"v"}, []panel.Record{
		{TS: day(1), Entity: "BBB", Values: []float64{2}},
		{TS: day(1), Entity: "AAA", Values: []float64{1}},
	})
	schema := source.TableSchema{Name: "prices", NativeFreq: "D"}
	a, err := Align(p, schema, dailyGrid(1, 2), Spec{Method: MethodFFill})
	if err != nil {
		t.Fatalf("align: %v", err)
	}
	if len(a.Index) != 4 {
		t.Fatalf("index length = %d, want 4", len(a.Index))
	}
	for i := 1; i < len(a.Index); i++ {
		if !a.Index[i-1].Less(a.Index[i]) {
			t.Fatalf("aligned index unsorted at %d: %+v then %+v", i, a.Index[i-1], a.Index[i])
		}
	}
	if len(a.Value) != len(a.Index) || len(a.Observed) != len(a.Index) || len(a.Availability) != len(a.Index) {
		t.Fatal("parallel outputs must share the index length")
	}
}

func TestUnknownMethodRejected(t *testing.T) {
	p := mustPanel(t, []string{"v"}, nil)
	if _, err := Align(p, source.TableSchema{NativeFreq: "D"}, dailyGrid(1), Spec{Method: "cubic"}); err == nil {
		t.Fatal("expected unknown method error")
	}
}

func TestNonUTCGridRejected(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load tz: %v", err)
	}
	p := mustPanel(t, []string{"v"}, nil)
	bad := []time.Time{time.Date(2024, 1, 2, 16, 0, 0, 0, loc)}
	if _, err := Align(p, source.TableSchema{NativeFreq: "D"}, bad, Spec{Method: MethodNone}); err == nil {
		t.Fatal("expected non-UTC grid error")
	}
}

func TestAuditFlagsNotYetReleasedValue(t *testing.T) {
	a := &AlignedPanel{
		Index:        []panel.Key{{TS: day(1), Entity: "AAA"}},
		Fields:       []string{"v"},
		Value:        [][]float64{{1.0}},
		Observed:     []bool{true},
		Availability: []AvailabilityState{NotYetReleased},
	}
	if err := a.Audit(); err == nil {
		t.Fatal("expected audit violation")
	}
	a.Value[0][0] = math.NaN()
	if err := a.Audit(); err != nil {
		t.Fatalf("audit of NaN cell: %v", err)
	}
}
