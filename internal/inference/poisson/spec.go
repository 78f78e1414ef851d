// Package poisson implements the hierarchical Poisson demand model and its
// Laplace-approximate Bayesian fit.
//
// The generative model, per spatial unit i of N:
//
//	log λ_i = α + β·x_i + u_i
//	y_i ~ Poisson(λ_i)
//	u_i ~ Normal(0, σ²), independent across units
//
// with x_i the observed infrastructure covariate.  The positive scale σ is
// optimized in the unconstrained space ζ = log σ; the exp-transform Jacobian
// is folded into the log-posterior so densities are correct in ζ.
//
// The package is purely computational: no I/O, no shared state, and every
// exported operation is deterministic given its inputs.
package poisson

import (
	"math"

	"github.com/urbanpulse/demandmap/pkg/errors"
	"github.com/urbanpulse/demandmap/pkg/types/demand"
)

// Canonical parameter-vector layout, shared by LogPosterior and Fitter.
// θ = (α, β, ζ, u_1 .. u_N) with ζ = log σ.
const (
	idxIntercept = 0
	idxInfraCoef = 1
	idxLogScale  = 2

	// numFixed counts the shared parameters preceding the random-effect block.
	numFixed = 3
)

// Layout describes the packing of the full parameter vector for a dataset of
// N units.
type Layout struct {
	N int
}

// Dim returns the total parameter dimension 3+N.
func (l Layout) Dim() int { return numFixed + l.N }

// EffectIndex returns the position of unit i's random effect in θ.
func (l Layout) EffectIndex(i int) int { return numFixed + i }

// Spec declares the model structure and its weak regularizing priors.
// Pure data; Validate is its only behavior.
type Spec struct {
	// PriorScale is the standard deviation of the Normal(0, PriorScale²)
	// priors on α and β.  Zero or negative disables fixed-effect
	// regularization.  The default is broad enough to be inert at the scale
	// of log-demand coefficients.
	PriorScale float64

	// ScalePriorShape and ScalePriorRate parameterize the weak
	// InverseGamma(shape, rate) prior on σ².  Together with the marginal
	// curvature correction in LogPosterior it keeps the mode interior and
	// bounded as σ → 0.  Defaults are weak enough that σ̂ is data-driven
	// whenever the effects carry any signal.
	ScalePriorShape float64
	ScalePriorRate  float64
}

// DefaultSpec returns the model specification with default priors.
func DefaultSpec() Spec {
	return Spec{
		PriorScale:      10.0,
		ScalePriorShape: 1.0,
		ScalePriorRate:  0.01,
	}
}

// Layout returns the parameter layout for a dataset of N units.
func (s Spec) Layout(n int) Layout { return Layout{N: n} }

// Validate checks the observations against the model's structural
// requirements.  It fails with an ErrCodeInvalidData error naming the
// offending unit if N < 2, any observed count is negative, any
// infrastructure covariate is non-finite, or a unit ID repeats.
// Non-integral counts cannot be represented in demand.Observation; dataset
// adapters reject them at parse time.
func (s Spec) Validate(ds *demand.Dataset) error {
	if ds == nil || ds.Len() < 2 {
		n := 0
		if ds != nil {
			n = ds.Len()
		}
		return errors.InvalidData("model is degenerate with fewer than 2 units").
			WithDetailf("got %d", n)
	}

	seen := make(map[string]struct{}, ds.Len())
	for i, o := range ds.Observations {
		if o.UnitID == "" {
			return errors.InvalidData("observation has empty unit ID").
				WithDetailf("row %d", i)
		}
		if _, dup := seen[o.UnitID]; dup {
			return errors.InvalidData("duplicate unit ID").
				WithDetailf("unit_id=%s", o.UnitID)
		}
		seen[o.UnitID] = struct{}{}

		if o.ObservedCount < 0 {
			return errors.InvalidData("observed count must be non-negative").
				WithDetailf("unit_id=%s count=%d", o.UnitID, o.ObservedCount)
		}
		if math.IsNaN(o.Infrastructure) || math.IsInf(o.Infrastructure, 0) {
			return errors.InvalidData("infrastructure covariate must be finite").
				WithDetailf("unit_id=%s", o.UnitID)
		}
	}
	return nil
}
