package poisson

import (
	"math"

	"github.com/urbanpulse/demandmap/pkg/errors"
	"github.com/urbanpulse/demandmap/pkg/types/demand"
)

// Residual engine defaults; overridable through ResidualOptions and the
// residuals.* config section.
const (
	// DefaultResidualThreshold is the standardized-residual band beyond which
	// a unit is classified under-/over-served.
	DefaultResidualThreshold = 2.0

	// DefaultMinExpected is the floor below which a model-implied expectation
	// is considered degenerate for standardization purposes.
	DefaultMinExpected = 1e-8
)

// ResidualOptions control residual computation and classification.
type ResidualOptions struct {
	// Threshold is the classification band: standardized residual below
	// −Threshold is underserved, above +Threshold overserved.
	Threshold float64

	// MinExpected guards the division by √λ̂.  An expectation below it fails
	// with ErrCodeDegenerateExpectation rather than being clamped; clamping
	// would silently distort the diagnostic this system exists to produce.
	MinExpected float64
}

// DefaultResidualOptions returns the standard residual settings.
func DefaultResidualOptions() ResidualOptions {
	return ResidualOptions{
		Threshold:   DefaultResidualThreshold,
		MinExpected: DefaultMinExpected,
	}
}

// ComputeResiduals derives the per-unit diagnostic table from a fit and the
// original observations: λ̂_i = exp(α̂ + β̂·x_i + û_i), residual = y_i − λ̂_i,
// standardized residual = residual/√λ̂_i (the Pearson residual for a Poisson
// likelihood).  It is a pure function of its inputs and can be recomputed at
// any time without re-fitting.
//
// Observations are joined to random effects by unit ID, so observation order
// need not match the order used during fitting.  A unit absent from the fit
// fails with ErrCodeInvalidData.
func ComputeResiduals(fit *demand.FitResult, ds *demand.Dataset, opts ResidualOptions) ([]demand.ResidualRecord, error) {
	if fit == nil {
		return nil, errors.InvalidData("fit result is nil")
	}
	if ds == nil || ds.Len() == 0 {
		return nil, errors.InvalidData("dataset is empty")
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultResidualThreshold
	}
	if opts.MinExpected <= 0 {
		opts.MinExpected = DefaultMinExpected
	}

	effects := make(map[string]float64, len(fit.RandomEffects))
	for _, e := range fit.RandomEffects {
		effects[e.UnitID] = e.Estimate
	}

	records := make([]demand.ResidualRecord, 0, ds.Len())
	for _, o := range ds.Observations {
		u, ok := effects[o.UnitID]
		if !ok {
			return nil, errors.InvalidData("fit result does not cover unit").
				WithDetailf("unit_id=%s", o.UnitID)
		}

		eta := fit.Intercept + fit.InfraCoefficient*o.Infrastructure + u
		if eta > maxLogRate {
			return nil, errors.NumericalOverflow("expected count overflows float64").
				WithDetailf("unit_id=%s eta=%.4g", o.UnitID, eta)
		}
		expected := math.Exp(eta)
		if expected < opts.MinExpected {
			return nil, errors.DegenerateExpectation("expected count is effectively zero").
				WithDetailf("unit_id=%s expected=%.4g", o.UnitID, expected)
		}

		residual := float64(o.ObservedCount) - expected
		std := residual / math.Sqrt(expected)

		records = append(records, demand.ResidualRecord{
			UnitID:               o.UnitID,
			ObservedCount:        o.ObservedCount,
			ExpectedCount:        expected,
			Residual:             residual,
			StandardizedResidual: std,
			Classification:       classify(std, opts.Threshold),
			X:                    o.X,
			Y:                    o.Y,
		})
	}
	return records, nil
}

// classify maps a standardized residual to a service-level label.
func classify(std, threshold float64) demand.ServiceLevel {
	switch {
	case std < -threshold:
		return demand.ServiceUnderserved
	case std > threshold:
		return demand.ServiceOverserved
	default:
		return demand.ServiceBalanced
	}
}
