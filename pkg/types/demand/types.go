// Package demand defines the public data contracts of demandmap: the
// observation table consumed by the inference engine and the fit/residual
// structures it produces.  These types carry no behavior beyond small
// lookup and bookkeeping helpers; all numerical work happens in
// internal/inference.
package demand

import (
	"time"
)

// Observation is one row of the input dataset: a single spatial unit
// ("neighborhood") with its covariate and measured demand count.
// Coordinates are carried for downstream display only and never enter the
// fit.
type Observation struct {
	// UnitID uniquely identifies the neighborhood.  Order of observations is
	// irrelevant; IDs are translated to positional indices at the inference
	// boundary.
	UnitID string `json:"unit_id"`

	// Infrastructure is the observed covariate (e.g., station density).
	// Must be finite.
	Infrastructure float64 `json:"infrastructure"`

	// ObservedCount is the measured demand, a non-negative integer.
	ObservedCount int `json:"observed_count"`

	// X, Y are display coordinates, unused by inference.
	X float64 `json:"x_coord"`
	Y float64 `json:"y_coord"`
}

// Dataset is an ordered collection of observations.  The order fixes the
// positional index of each unit's random effect inside the parameter vector;
// any order is valid as long as it is held constant for one fit.
type Dataset struct {
	Observations []Observation `json:"observations"`
}

// Len returns the number of units N.
func (d *Dataset) Len() int {
	return len(d.Observations)
}

// UnitIDs returns the unit identifiers in dataset order.
func (d *Dataset) UnitIDs() []string {
	ids := make([]string, len(d.Observations))
	for i, o := range d.Observations {
		ids[i] = o.UnitID
	}
	return ids
}

// UnitEffect is the estimated random effect of one unit together with its
// Laplace standard error.
type UnitEffect struct {
	UnitID   string  `json:"unit_id"`
	Estimate float64 `json:"estimate"`
	StdErr   float64 `json:"std_err"`
}

// FitResult is the durable, immutable output of one fitting run.  It exposes
// the joint posterior mode, the Laplace covariance, and convergence
// bookkeeping.  Residuals are derived from it deterministically and can be
// recomputed at any time without re-fitting.
type FitResult struct {
	RunID    string    `json:"run_id"`
	FittedAt time.Time `json:"fitted_at"`

	// Fixed effects at the mode, with standard errors from the Laplace
	// covariance diagonal.  Standard errors are zero when Covariance is
	// unavailable, which happens only on non-converged fits.
	Intercept          float64 `json:"intercept"`
	InterceptSE        float64 `json:"intercept_se"`
	InfraCoefficient   float64 `json:"infra_coefficient"`
	InfraCoefficientSE float64 `json:"infra_coefficient_se"`

	// EffectScale is σ, the random-effect standard deviation, back-transformed
	// from the unconstrained log-space mode.  LogEffectScaleSE is the standard
	// error of log σ (the parameter actually optimized).
	EffectScale      float64 `json:"effect_scale"`
	LogEffectScaleSE float64 `json:"log_effect_scale_se"`

	// RandomEffects holds û_i per unit, in dataset order.
	RandomEffects []UnitEffect `json:"random_effects"`

	// Covariance is the full Laplace covariance (−H)⁻¹ at the mode, in the
	// canonical parameter order: intercept, infra coefficient, log effect
	// scale, then one random effect per unit in dataset order.
	Covariance [][]float64 `json:"covariance,omitempty"`

	// Converged reports whether the gradient-norm criterion was met within
	// the iteration budget.  A false value is not an error; callers decide
	// whether to treat the result as usable.
	Converged    bool    `json:"converged"`
	Iterations   int     `json:"iterations"`
	GradientNorm float64 `json:"gradient_norm"`
}

// EffectByUnit returns the random-effect estimate for the given unit ID and
// whether the unit is present in the result.
func (r *FitResult) EffectByUnit(unitID string) (UnitEffect, bool) {
	for _, e := range r.RandomEffects {
		if e.UnitID == unitID {
			return e, true
		}
	}
	return UnitEffect{}, false
}

// ServiceLevel classifies a unit by its standardized residual.
type ServiceLevel string

const (
	// ServiceUnderserved marks units whose observed demand falls short of the
	// model-implied expectation beyond the threshold (standardized residual
	// below −threshold): infrastructure likely outstrips realized demand, or
	// supply is missing where the model predicts it.
	ServiceUnderserved ServiceLevel = "underserved"

	// ServiceBalanced marks units within the threshold band.
	ServiceBalanced ServiceLevel = "balanced"

	// ServiceOverserved marks units with standardized residual above the
	// threshold.
	ServiceOverserved ServiceLevel = "overserved"
)

// ResidualRecord is the per-unit diagnostic derived from a FitResult and the
// original observation.
type ResidualRecord struct {
	UnitID        string  `json:"unit_id"`
	ObservedCount int     `json:"observed_count"`

	// ExpectedCount is λ̂ = exp(α̂ + β̂·x + û).
	ExpectedCount float64 `json:"expected_count"`

	// Residual is observed − expected.
	Residual float64 `json:"residual"`

	// StandardizedResidual is Residual/√ExpectedCount, the Pearson residual
	// under the Poisson dispersion assumption.
	StandardizedResidual float64 `json:"standardized_residual"`

	Classification ServiceLevel `json:"classification"`

	// X, Y mirror the observation's display coordinates so residual tables
	// can be rendered without re-joining the input.
	X float64 `json:"x_coord"`
	Y float64 `json:"y_coord"`
}
