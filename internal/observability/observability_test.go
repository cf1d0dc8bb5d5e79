package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestExpvarRecorderAggregates(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	ctx := context.Background()

	rec.Observe(ctx, "pit_upsert", true, 20*time.Millisecond)
	rec.Observe(ctx, "pit_upsert", true, 30*time.Millisecond)
	rec.Observe(ctx, "pit_upsert", false, 5*time.Millisecond)
	rec.IncCache("hit")
	rec.IncCache("hit")
	rec.IncCache("miss")

	snap := rec.Snapshot()
	if got := snap.Results["pit_upsert"]["success"]; got != 2 {
		t.Fatalf("success count = %d, want 2", got)
	}
	if got := snap.Results["pit_upsert"]["error"]; got != 1 {
		t.Fatalf("error count = %d, want 1", got)
	}
	if got := snap.DurationsMS["pit_upsert"]; got != 55 {
		t.Fatalf("duration total = %v ms, want 55", got)
	}
	if snap.Cache["hit"] != 2 || snap.Cache["miss"] != 1 {
		t.Fatalf("cache counters = %v", snap.Cache)
	}
}

func TestExpvarSnapshotIsCopy(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	rec.IncCache("hit")
	snap := rec.Snapshot()
	snap.Cache["hit"] = 99
	if rec.Snapshot().Cache["hit"] != 1 {
		t.Fatal("snapshot shares internal state")
	}
}

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	ctx := context.Background()
	rec.Observe(ctx, "materialize", true, 10*time.Millisecond)
	rec.Observe(ctx, "materialize", false, 10*time.Millisecond)
	rec.IncCache("hit")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, fam := range families {
		byName[fam.GetName()] = fam
	}
	results := byName["alphaforge_operation_results_total"]
	if results == nil {
		t.Fatal("results counter not registered")
	}
	statuses := map[string]float64{}
	for _, m := range results.GetMetric() {
		var status string
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "status" {
				status = lp.GetValue()
			}
		}
		statuses[status] = m.GetCounter().GetValue()
	}
	if statuses["success"] != 1 || statuses["error"] != 1 {
		t.Fatalf("statuses = %v", statuses)
	}
	if byName["alphaforge_operation_duration_seconds"] == nil {
		t.Fatal("duration histogram not registered")
	}
	if byName["alphaforge_cache_lookups_total"] == nil {
		t.Fatal("cache counter not registered")
	}
}

func TestZerologLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZerologLogger(&buf, "debug")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("frame persisted", "realization", "returns:2:abc", "rows", 42)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line not JSON: %v (%q)", err, buf.String())
	}
	if entry["message"] != "frame persisted" {
		t.Fatalf("message = %v", entry["message"])
	}
	if entry["realization"] != "returns:2:abc" {
		t.Fatalf("field lost: %v", entry)
	}
	if entry["level"] != "info" {
		t.Fatalf("level = %v", entry["level"])
	}
}

func TestZerologLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewZerologLogger(&buf, "warn")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Debug("noise")
	logger.Info("still noise")
	logger.Warn("kept")
	if strings.Contains(buf.String(), "noise") {
		t.Fatalf("filtered levels emitted: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("warn suppressed: %q", buf.String())
	}
}

func TestZerologBadLevel(t *testing.T) {
	if _, err := NewZerologLogger(&bytes.Buffer{}, "loud"); err == nil {
		t.Fatal("invalid level accepted")
	}
}
