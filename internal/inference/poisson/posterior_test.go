package poisson

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	apperrors "github.com/urbanpulse/demandmap/pkg/errors"
	"github.com/urbanpulse/demandmap/pkg/types/demand"
)

// fdTolerance scales the acceptance band for finite-difference comparisons so
// that large and small derivative entries are judged relatively.
func fdTolerance(analytic float64) float64 {
	return 1e-4 * math.Max(1, math.Abs(analytic))
}

func testPosterior(t *testing.T) *LogPosterior {
	t.Helper()
	ds := &demand.Dataset{Observations: []demand.Observation{
		{UnitID: "N-0000", Infrastructure: 0.12, ObservedCount: 2},
		{UnitID: "N-0001", Infrastructure: 0.45, ObservedCount: 9},
		{UnitID: "N-0002", Infrastructure: 0.31, ObservedCount: 4},
		{UnitID: "N-0003", Infrastructure: 0.78, ObservedCount: 15},
		{UnitID: "N-0004", Infrastructure: 0.60, ObservedCount: 0},
	}}
	p, err := NewLogPosterior(DefaultSpec(), ds)
	require.NoError(t, err)
	return p
}

// testPoints returns parameter vectors away from any special structure so the
// derivative checks exercise every term of the density.
func testPoints(p *LogPosterior) [][]float64 {
	dim := p.Dim()
	flat := make([]float64, dim)

	skewed := make([]float64, dim)
	skewed[idxIntercept] = 0.8
	skewed[idxInfraCoef] = 1.3
	skewed[idxLogScale] = -0.4
	for i := 0; i < p.layout.N; i++ {
		skewed[p.layout.EffectIndex(i)] = 0.3 * math.Sin(float64(i+1))
	}

	negative := make([]float64, dim)
	negative[idxIntercept] = -0.5
	negative[idxInfraCoef] = -2.1
	negative[idxLogScale] = 0.6
	for i := 0; i < p.layout.N; i++ {
		negative[p.layout.EffectIndex(i)] = -0.2 * float64(i+1) / float64(p.layout.N)
	}

	return [][]float64{flat, skewed, negative}
}

func TestGradientMatchesFiniteDifferences(t *testing.T) {
	p := testPosterior(t)
	const h = 1e-5

	for pi, theta := range testPoints(p) {
		grad := make([]float64, p.Dim())
		require.NoError(t, p.Gradient(theta, grad))

		for j := 0; j < p.Dim(); j++ {
			plus := append([]float64(nil), theta...)
			minus := append([]float64(nil), theta...)
			plus[j] += h
			minus[j] -= h

			fp, err := p.LogDensity(plus)
			require.NoError(t, err)
			fm, err := p.LogDensity(minus)
			require.NoError(t, err)

			fd := (fp - fm) / (2 * h)
			assert.InDelta(t, fd, grad[j], fdTolerance(grad[j]),
				"point %d, coordinate %d", pi, j)
		}
	}
}

func TestHessianMatchesFiniteDifferences(t *testing.T) {
	p := testPosterior(t)
	dim := p.Dim()
	const h = 1e-5

	for pi, theta := range testPoints(p) {
		hess := mat.NewSymDense(dim, nil)
		require.NoError(t, p.Hessian(theta, hess))

		gp := make([]float64, dim)
		gm := make([]float64, dim)
		for j := 0; j < dim; j++ {
			plus := append([]float64(nil), theta...)
			minus := append([]float64(nil), theta...)
			plus[j] += h
			minus[j] -= h

			require.NoError(t, p.Gradient(plus, gp))
			require.NoError(t, p.Gradient(minus, gm))

			for k := 0; k < dim; k++ {
				fd := (gp[k] - gm[k]) / (2 * h)
				assert.InDelta(t, fd, hess.At(j, k), fdTolerance(hess.At(j, k)),
					"point %d, entry (%d,%d)", pi, j, k)
			}
		}
	}
}

func TestLogDensityOverflow(t *testing.T) {
	p := testPosterior(t)
	theta := make([]float64, p.Dim())
	theta[idxIntercept] = 800

	_, err := p.LogDensity(theta)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNumericalOverflow))

	grad := make([]float64, p.Dim())
	err = p.Gradient(theta, grad)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNumericalOverflow))

	hess := mat.NewSymDense(p.Dim(), nil)
	err = p.Hessian(theta, hess)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNumericalOverflow))
}

func TestLogDensityDimensionMismatch(t *testing.T) {
	p := testPosterior(t)

	_, err := p.LogDensity(make([]float64, p.Dim()-1))
	assert.Error(t, err)

	err = p.Gradient(make([]float64, p.Dim()), make([]float64, 1))
	assert.Error(t, err)

	err = p.Hessian(make([]float64, p.Dim()), mat.NewSymDense(2, nil))
	assert.Error(t, err)
}

func TestLogDensityFinite(t *testing.T) {
	p := testPosterior(t)
	for _, theta := range testPoints(p) {
		ld, err := p.LogDensity(theta)
		require.NoError(t, err)
		assert.False(t, math.IsNaN(ld))
		assert.False(t, math.IsInf(ld, 0))
	}
}
