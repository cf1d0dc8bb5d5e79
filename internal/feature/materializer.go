package feature

import (
	"context"
	"fmt"
	"sync"
	"time"

	"alphaforge/internal/observability"
)

// PersistMode controls whether a computed frame is written to the backing
// store.
type PersistMode string

const (
	PersistNever    PersistMode = "never"
	PersistSelected PersistMode = "selected" // caller opts in per materialization
	PersistAlways   PersistMode = "always"
)

// LeakageAction controls how a point-in-time leakage finding is handled.
type LeakageAction string

const (
	// LeakageWarn logs the finding and annotates frame metadata; the frame is
	// still returned. Callers relying on hard PIT guarantees must re-clip
	// downstream.
	LeakageWarn LeakageAction = "warn"
	// LeakageError fails the materialization.
	LeakageError LeakageAction = "error"
)

// Policy configures one materialization.
type Policy struct {
	CacheEphemeral bool // keep the result in an in-process cache tier
	Persist        PersistMode
	PersistThis    bool // opt-in flag consulted when Persist is "selected"
	Leakage        LeakageAction
}

// DefaultPolicy persists always and warns on leakage.
func DefaultPolicy() Policy {
	return Policy{CacheEphemeral: true, Persist: PersistAlways, Leakage: LeakageWarn}
}

// StateArtifact describes a persisted fit-state payload.
type StateArtifact struct {
	ID   string
	Size int64
	ETag string
}

// FrameStore is the persistence collaborator: frames by realization id,
// fit-state payloads by state id.
type FrameStore interface {
	GetFrame(ctx context.Context, id string) (*Frame, bool, error)
	PutFrame(ctx context.Context, id string, f *Frame) error
	GetState(ctx context.Context, stateID string) ([]byte, bool, error)
	PutState(ctx context.Context, stateID string, payload []byte, meta map[string]string) (StateArtifact, error)
}

// Materializer implements check-then-compute-then-persist over a FrameStore.
// Within one process a fingerprint is built at most once when callers go
// through the same Materializer and the store retains the frame; there is no
// cross-process lock, and two same-process callers racing on an unfilled
// fingerprint may both compute with the last persisted write winning.
type Materializer struct {
	store   FrameStore
	lineage *LineageGraph
	logger  observability.Logger
	metrics observability.MetricsRecorder

	mu        sync.Mutex
	ephemeral map[string]*Frame
}

// MaterializerOption customizes a Materializer.
type MaterializerOption func(*Materializer)

// WithLineage attaches a lineage graph recording realizations and produced
// state artifacts.
func WithLineage(g *LineageGraph) MaterializerOption {
	return func(m *Materializer) { m.lineage = g }
}

// WithLogger injects a structured logger.
func WithLogger(l observability.Logger) MaterializerOption {
	return func(m *Materializer) { m.logger = l }
}

// WithMetrics injects a metrics recorder.
func WithMetrics(rec observability.MetricsRecorder) MaterializerOption {
	return func(m *Materializer) { m.metrics = rec }
}

// NewMaterializer returns a materializer over the given store.
func NewMaterializer(store FrameStore, opts ...MaterializerOption) *Materializer {
	m := &Materializer{
		store:     store,
		logger:    observability.NopLogger{},
		metrics:   observability.NopMetrics{},
		ephemeral: make(map[string]*Frame),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Materialize resolves a realization to a frame: cache lookup by fingerprint
// first, otherwise fit + transform + stamp + validate + persist. A cached
// frame is returned unconditionally; the fingerprint encodes every input that
// could affect the result. Transform errors propagate; fit errors demote the
// computation to stateless and are logged.
func (m *Materializer) Materialize(ctx context.Context, env Env, tmpl Template, r Realization, policy Policy) (_ *Frame, err error) {
	start := time.Now()
	defer func() { m.metrics.Observe(ctx, "materialize", err == nil, time.Since(start)) }()

	if tmpl == nil {
		return nil, fmt.Errorf("materialize: template is required")
	}
	if r.Template == "" {
		r.Template = tmpl.Name()
	}
	if r.Version == "" {
		r.Version = tmpl.Version()
	}
	if r.Template != tmpl.Name() || r.Version != tmpl.Version() {
		return nil, fmt.Errorf("materialize: realization %s:%s does not match template %s:%s",
			r.Template, r.Version, tmpl.Name(), tmpl.Version())
	}
	if err = r.Validate(); err != nil {
		return nil, err
	}
	if policy.Leakage == "" {
		policy.Leakage = LeakageWarn
	}
	id := r.ID()

	if m.lineage != nil {
		m.lineage.Add(id, "realization", map[string]string{
			"template": r.Template,
			"version":  r.Version,
		})
	}

	if policy.CacheEphemeral {
		m.mu.Lock()
		cached, ok := m.ephemeral[id]
		m.mu.Unlock()
		if ok {
			m.metrics.IncCache("hit_ephemeral")
			return cached, nil
		}
	}

	if m.store != nil {
		cached, ok, gerr := m.store.GetFrame(ctx, id)
		if gerr != nil {
			return nil, fmt.Errorf("cache lookup %s: %w", id, gerr)
		}
		if ok {
			m.metrics.IncCache("hit")
			m.remember(policy, id, cached)
			return cached, nil
		}
	}
	m.metrics.IncCache("miss")

	state, err := m.runFit(ctx, env, tmpl, r, id)
	if err != nil {
		return nil, err
	}

	frame, err := tmpl.Transform(ctx, env, r, state)
	if err != nil {
		return nil, fmt.Errorf("transform %s: %w", id, err)
	}
	if frame == nil {
		return nil, fmt.Errorf("transform %s returned no frame", id)
	}

	m.stamp(frame, r, id)
	if err = m.checkLeakage(frame, r, policy); err != nil {
		return nil, err
	}
	if err = frame.Validate(); err != nil {
		return nil, fmt.Errorf("frame %s: %w", id, err)
	}

	if m.store != nil && m.shouldPersist(policy) {
		if perr := m.store.PutFrame(ctx, id, frame); perr != nil {
			return nil, fmt.Errorf("persist frame %s: %w", id, perr)
		}
	}
	m.remember(policy, id, frame)
	return frame, nil
}

func (m *Materializer) runFit(ctx context.Context, env Env, tmpl Template, r Realization, id string) (*FitState, error) {
	outcome := tmpl.Fit(ctx, env, r)
	if ferr := outcome.Err(); ferr != nil {
		m.logger.Warn("fit stage failed, continuing stateless",
			"realization", id, "template", r.Template, "error", ferr)
		m.metrics.Observe(ctx, "fit", false, 0)
		return nil, nil
	}
	state := outcome.State()
	if state == nil {
		return nil, nil
	}
	if state.ID == "" {
		state.ID = id + ":state"
	}
	if m.store != nil {
		artifact, err := m.store.PutState(ctx, state.ID, state.Payload, map[string]string{
			"realization_id": id,
			"template":       r.Template,
		})
		if err != nil {
			return nil, fmt.Errorf("persist state %s: %w", state.ID, err)
		}
		if m.lineage != nil {
			m.lineage.Add(artifact.ID, "state", map[string]string{"realization_id": id})
			m.lineage.Link(id, artifact.ID, "produced")
		}
	}
	return state, nil
}

// stamp writes the realization's identity into the frame metadata.
func (m *Materializer) stamp(frame *Frame, r Realization, id string) {
	frame.setMeta("realization_id", id)
	frame.setMeta("template", r.Template)
	frame.setMeta("version", r.Version)
	if len(r.Params) > 0 {
		frame.setMeta("params", r.Params)
	}
	frame.setMeta("slice", map[string]any{
		"start":    r.Slice.Start.UTC().Format(time.RFC3339Nano),
		"end":      r.Slice.End.UTC().Format(time.RFC3339Nano),
		"asof":     r.Slice.AsOf.UTC().Format(time.RFC3339Nano),
		"entities": r.Slice.Entities,
		"grid":     r.Slice.Grid,
	})
}

// checkLeakage scans the frame's index for timestamps beyond the declared
// as-of cutoff.
func (m *Materializer) checkLeakage(frame *Frame, r Realization, policy Policy) error {
	if frame.Values == nil {
		return nil
	}
	cutoff := r.Slice.AsOf
	leaked := 0
	for _, key := range frame.Values.Keys() {
		if key.TS.After(cutoff) {
			leaked++
		}
	}
	if leaked == 0 {
		return nil
	}
	if policy.Leakage == LeakageError {
		return fmt.Errorf("leakage: %d rows after asof cutoff %s", leaked, cutoff.UTC().Format(time.RFC3339))
	}
	m.logger.Warn("rows beyond asof cutoff",
		"realization", frame.MetaString("realization_id"),
		"rows", leaked, "cutoff", cutoff.UTC().Format(time.RFC3339))
	frame.setMeta("leakage_rows", leaked)
	return nil
}

func (m *Materializer) shouldPersist(policy Policy) bool {
	switch policy.Persist {
	case PersistAlways:
		return true
	case PersistSelected:
		return policy.PersistThis
	default:
		return false
	}
}

func (m *Materializer) remember(policy Policy, id string, frame *Frame) {
	if !policy.CacheEphemeral {
		return
	}
	m.mu.Lock()
	m.ephemeral[id] = frame
	m.mu.Unlock()
}
