package poisson

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/urbanpulse/demandmap/pkg/errors"
	"github.com/urbanpulse/demandmap/pkg/types/demand"
)

// Default fitter settings; overridable through Options and the fit.* config
// section.
const (
	DefaultMaxIter   = 100
	DefaultTolerance = 1e-6

	// maxStepHalvings bounds the backtracking line search per Newton step.
	maxStepHalvings = 40

	// maxRidgeScale bounds the diagonal inflation applied when the negated
	// Hessian is not positive-definite away from the mode.
	maxRidgeScale = 1e8
)

// Options control a single fitting run.
type Options struct {
	// MaxIter is the iteration budget.  Reaching it without meeting the
	// gradient criterion yields Converged=false, not an error.
	MaxIter int

	// Tolerance is the convergence threshold on the infinity norm of the
	// gradient at the current iterate.
	Tolerance float64

	// InitialGuess optionally overrides the deterministic data-derived
	// starting point.  Must have length 3+N when set.
	InitialGuess []float64
}

// DefaultOptions returns the standard fitter settings.
func DefaultOptions() Options {
	return Options{MaxIter: DefaultMaxIter, Tolerance: DefaultTolerance}
}

// Fitter maximizes the corrected log-posterior of the hierarchical Poisson
// model by damped Newton ascent and approximates the posterior as
// Normal(θ*, (−H(θ*))⁻¹).  The objective carries the marginal curvature
// correction (see LogPosterior), so the effect-scale estimate tracks the
// Laplace-marginal density rather than the joint ordinate, which would
// collapse σ̂ toward zero.  A Fitter is stateless; Fit calls on one value are
// independent and may run concurrently.
type Fitter struct {
	spec Spec
}

// NewFitter creates a Fitter for the given model specification.
func NewFitter(spec Spec) *Fitter {
	return &Fitter{spec: spec}
}

// initialGuess builds the deterministic data-derived starting point:
// α₀ = log(ȳ) (zero when the mean count is zero), β₀ = 0, ζ₀ = 0, u₀ = 0.
// Determinism here is what makes two fits of the same data bit-identical.
func (f *Fitter) initialGuess(p *LogPosterior) []float64 {
	theta := make([]float64, p.Dim())
	mean := floats.Sum(p.y) / float64(len(p.y))
	if mean > 0 {
		theta[idxIntercept] = math.Log(mean)
	}
	return theta
}

// Fit validates the dataset, runs the Newton iteration, and returns the
// Laplace summary.  Non-convergence within MaxIter is reported through
// FitResult.Converged, never as an error; the caller decides whether a
// non-converged mode is usable.
//
// Fit fails with ErrCodeInvalidData on malformed input and with
// ErrCodeSingularHessian when the negated Hessian at a converged mode is not
// positive-definite (the Laplace covariance is undefined there).
func (f *Fitter) Fit(ds *demand.Dataset, opts Options) (*demand.FitResult, error) {
	p, err := NewLogPosterior(f.spec, ds)
	if err != nil {
		return nil, err
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = DefaultMaxIter
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}

	dim := p.Dim()
	theta := f.initialGuess(p)
	if opts.InitialGuess != nil {
		if len(opts.InitialGuess) != dim {
			return nil, errors.InvalidData("initial guess has wrong dimension").
				WithDetailf("want %d, got %d", dim, len(opts.InitialGuess))
		}
		theta = append([]float64(nil), opts.InitialGuess...)
	}

	cur, err := p.LogDensity(theta)
	if err != nil {
		return nil, err
	}

	grad := make([]float64, dim)
	hess := mat.NewSymDense(dim, nil)
	negH := mat.NewSymDense(dim, nil)
	step := mat.NewVecDense(dim, nil)
	cand := make([]float64, dim)

	var (
		iter      int
		gradNorm  = math.Inf(1)
		converged bool
	)

	for iter = 0; iter < opts.MaxIter; iter++ {
		if err := p.Gradient(theta, grad); err != nil {
			return nil, err
		}
		gradNorm = floats.Norm(grad, math.Inf(1))
		if gradNorm < opts.Tolerance {
			converged = true
			break
		}

		if err := p.Hessian(theta, hess); err != nil {
			return nil, err
		}
		negate(negH, hess)

		chol, err := factorizeWithRidge(negH)
		if err != nil {
			return nil, err
		}

		// Newton ascent direction: (−H)⁻¹ g.
		if err := chol.SolveVecTo(step, mat.NewVecDense(dim, grad)); err != nil {
			return nil, errors.SingularHessian("failed to solve Newton system").WithCause(err)
		}

		improved := false
		t := 1.0
		for h := 0; h < maxStepHalvings; h++ {
			for j := 0; j < dim; j++ {
				cand[j] = theta[j] + t*step.AtVec(j)
			}
			next, derr := p.LogDensity(cand)
			// An overflowing candidate is a rejected step, not a failure.
			if derr == nil && next > cur {
				copy(theta, cand)
				cur = next
				improved = true
				break
			}
			t /= 2
		}
		if !improved {
			// The line search is exhausted; the iterate is as good as this
			// direction gets.  Let the gradient criterion decide below.
			break
		}
	}

	if !converged {
		if err := p.Gradient(theta, grad); err != nil {
			return nil, err
		}
		gradNorm = floats.Norm(grad, math.Inf(1))
		converged = gradNorm < opts.Tolerance
	}

	if err := p.Hessian(theta, hess); err != nil {
		return nil, err
	}
	negate(negH, hess)

	var chol mat.Cholesky
	pd := chol.Factorize(negH)
	if !pd && converged {
		return nil, errors.SingularHessian(
			"negated Hessian at the mode is not positive-definite; effect scale is likely unidentified").
			WithDetailf("n=%d iterations=%d", p.layout.N, iter)
	}

	var cov *mat.SymDense
	if pd {
		cov = mat.NewSymDense(dim, nil)
		if err := chol.InverseTo(cov); err != nil {
			return nil, errors.SingularHessian("failed to invert negated Hessian").WithCause(err)
		}
	}

	return f.assemble(p, theta, cov, converged, iter, gradNorm), nil
}

// assemble maps the internal parameter vector and covariance onto the public
// FitResult contract, translating positional indices back to unit IDs.
func (f *Fitter) assemble(p *LogPosterior, theta []float64, cov *mat.SymDense, converged bool, iter int, gradNorm float64) *demand.FitResult {
	dim := p.Dim()
	res := &demand.FitResult{
		FittedAt:         time.Now().UTC(),
		Intercept:        theta[idxIntercept],
		InfraCoefficient: theta[idxInfraCoef],
		EffectScale:      math.Exp(theta[idxLogScale]),
		Converged:        converged,
		Iterations:       iter,
		GradientNorm:     gradNorm,
	}

	// Without a covariance (non-converged fit at an indefinite Hessian) the
	// standard errors are reported as zero; NaN would make the result
	// unencodable as JSON.
	se := func(i int) float64 {
		if cov == nil {
			return 0
		}
		return math.Sqrt(cov.At(i, i))
	}
	res.InterceptSE = se(idxIntercept)
	res.InfraCoefficientSE = se(idxInfraCoef)
	res.LogEffectScaleSE = se(idxLogScale)

	ids := p.UnitIDs()
	res.RandomEffects = make([]demand.UnitEffect, p.layout.N)
	for i := 0; i < p.layout.N; i++ {
		res.RandomEffects[i] = demand.UnitEffect{
			UnitID:   ids[i],
			Estimate: theta[p.layout.EffectIndex(i)],
			StdErr:   se(p.layout.EffectIndex(i)),
		}
	}

	if cov != nil {
		res.Covariance = make([][]float64, dim)
		for i := 0; i < dim; i++ {
			res.Covariance[i] = make([]float64, dim)
			for j := 0; j < dim; j++ {
				res.Covariance[i][j] = cov.At(i, j)
			}
		}
	}
	return res
}

// negate writes dst = −src for symmetric matrices of equal dimension.
func negate(dst, src *mat.SymDense) {
	n, _ := src.Dims()
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			dst.SetSym(i, j, -src.At(i, j))
		}
	}
}

// factorizeWithRidge Cholesky-factorizes m, inflating the diagonal
// progressively when m is indefinite away from the mode.  The ridge keeps
// intermediate Newton steps descent-safe without touching the final
// definiteness check, which always runs on the unmodified matrix.
func factorizeWithRidge(m *mat.SymDense) (*mat.Cholesky, error) {
	var chol mat.Cholesky
	if chol.Factorize(m) {
		return &chol, nil
	}

	n, _ := m.Dims()
	// Scale the ridge to the largest diagonal magnitude present.
	scale := 0.0
	for i := 0; i < n; i++ {
		if a := math.Abs(m.At(i, i)); a > scale {
			scale = a
		}
	}
	if scale == 0 {
		scale = 1
	}

	ridged := mat.NewSymDense(n, nil)
	for tau := 1e-8; tau <= maxRidgeScale; tau *= 10 {
		ridged.CopySym(m)
		for i := 0; i < n; i++ {
			ridged.SetSym(i, i, m.At(i, i)+tau*scale)
		}
		if chol.Factorize(ridged) {
			return &chol, nil
		}
	}
	return nil, errors.SingularHessian("negated Hessian cannot be made positive-definite by ridging")
}
