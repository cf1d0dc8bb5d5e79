package feature

import (
	"context"

	"alphaforge/internal/source"
)

// Env carries the collaborators a template computes against: named data
// sources keyed by table name. Templates must only read data consistent with
// the realization's as-of cutoff; sources enforcing PIT semantics receive the
// cutoff through Query.AsOf.
type Env struct {
	Sources map[string]source.DataSource
}

// FitState is an optional fitted artifact produced before transform: scaler
// parameters, fitted coefficients, vocabulary — anything the transform stage
// needs that was estimated from the realization's slice. The payload is
// opaque to the engine.
type FitState struct {
	ID      string
	Payload []byte
}

// FitOutcome is the explicit tri-state result of a template's fit stage.
// A failed fit is observable rather than silently downgrading the
// computation.
type FitOutcome struct {
	state  *FitState
	err    error
	fitted bool
}

// NoStateRequired reports that the template has no fit stage for this
// realization.
func NoStateRequired() FitOutcome { return FitOutcome{} }

// WithState reports a successful fit producing state.
func WithState(s FitState) FitOutcome { return FitOutcome{state: &s, fitted: true} }

// FitFailed reports a fit stage that errored.
func FitFailed(err error) FitOutcome { return FitOutcome{err: err} }

// State returns the fitted state, nil when none was produced.
func (o FitOutcome) State() *FitState { return o.state }

// Err returns the fit failure, nil otherwise.
func (o FitOutcome) Err() error { return o.err }

// Template is a feature computation. Requires names the input tables;
// Fit optionally estimates state over the realization's slice; Transform
// produces the frame.
type Template interface {
	Name() string
	Version() string
	Requires() []string
	Fit(ctx context.Context, env Env, r Realization) FitOutcome
	Transform(ctx context.Context, env Env, r Realization, state *FitState) (*Frame, error)
}

// StatelessTemplate provides a no-op Fit for templates without a fit stage.
// Embed it and implement the rest.
type StatelessTemplate struct{}

// Fit reports that no state is required.
func (StatelessTemplate) Fit(context.Context, Env, Realization) FitOutcome {
	return NoStateRequired()
}
