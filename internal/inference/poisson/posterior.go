package poisson

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/urbanpulse/demandmap/pkg/errors"
	"github.com/urbanpulse/demandmap/pkg/types/demand"
)

// maxLogRate bounds the linear predictor η = log λ.  exp(709.8) overflows
// float64; anything near it means the optimizer has left the sane region.
const maxLogRate = 700.0

// LogPosterior evaluates the unnormalized log-posterior density of the
// hierarchical Poisson model and its analytic first and second derivatives
// with respect to the full parameter vector θ = (α, β, ζ, u_1..u_N).
//
// Terms (constants independent of θ are dropped):
//
//	Σ_i [ y_i·η_i − exp(η_i) − log(y_i!) ]          Poisson likelihood
//	− Σ_i u_i²/(2σ²) − N·ζ                          random-effect prior, σ = e^ζ
//	− ½ Σ_i log(λ_i + e^{−2ζ})                      marginal curvature correction
//	− (α² + β²)/(2·PriorScale²)                     weak fixed-effect priors
//	− 2·a·ζ − b·e^{−2ζ}                             InverseGamma(a,b) on σ²,
//	                                                exp-transform Jacobian folded in
//
// The curvature correction is −½ log det of the conditional random-effect
// precision, diagonal with entries λ_i + σ⁻².  It turns the objective into the
// Laplace approximation of the marginal density in (α, β, ζ): without it the
// joint density grows as σ → 0 with u → 0 faster than the data can counter,
// and the scale estimate collapses to the prior floor instead of tracking the
// dispersion of the effects.  The stationarity condition in ζ is then the
// moment identity σ̂² = (Σ_i(û_i² + 1/(λ̂_i + σ̂⁻²)) + 2b)/(N + 2a).
//
// Overflow policy: if any η_i exceeds maxLogRate the evaluation fails with an
// ErrCodeNumericalOverflow error naming the unit, rather than returning −∞.
// The fitter treats such a step as rejected and shrinks it.
//
// LogPosterior is purely functional: evaluations have no side effects and a
// single value is safe for concurrent use.
type LogPosterior struct {
	spec   Spec
	layout Layout

	// Column-wise data in dataset order; unit IDs kept only for diagnostics.
	x   []float64
	y   []float64
	ids []string

	// Σ log(y_i!) precomputed once; enters the density, not the derivatives.
	logYFact float64
}

// NewLogPosterior binds a validated dataset to the model specification.
func NewLogPosterior(spec Spec, ds *demand.Dataset) (*LogPosterior, error) {
	if err := spec.Validate(ds); err != nil {
		return nil, err
	}
	n := ds.Len()
	p := &LogPosterior{
		spec:   spec,
		layout: spec.Layout(n),
		x:      make([]float64, n),
		y:      make([]float64, n),
		ids:    make([]string, n),
	}
	for i, o := range ds.Observations {
		p.x[i] = o.Infrastructure
		p.y[i] = float64(o.ObservedCount)
		p.ids[i] = o.UnitID
		lg, _ := math.Lgamma(p.y[i] + 1)
		p.logYFact += lg
	}
	return p, nil
}

// Dim returns the dimension of θ.
func (p *LogPosterior) Dim() int { return p.layout.Dim() }

// Layout returns the canonical parameter layout.
func (p *LogPosterior) Layout() Layout { return p.layout }

// UnitIDs returns the unit identifiers in positional order.
func (p *LogPosterior) UnitIDs() []string { return p.ids }

// rate returns λ_i = exp(η_i) for unit i, or an overflow error.
func (p *LogPosterior) rate(alpha, beta float64, theta []float64, i int) (float64, error) {
	eta := alpha + beta*p.x[i] + theta[p.layout.EffectIndex(i)]
	if eta > maxLogRate {
		return 0, errors.NumericalOverflow("expected rate overflows float64").
			WithDetailf("unit_id=%s eta=%.4g", p.ids[i], eta)
	}
	return math.Exp(eta), nil
}

// LogDensity returns the unnormalized log-posterior at θ.
func (p *LogPosterior) LogDensity(theta []float64) (float64, error) {
	if len(theta) != p.Dim() {
		return 0, errors.Internal("parameter vector has wrong dimension").
			WithDetailf("want %d, got %d", p.Dim(), len(theta))
	}
	alpha := theta[idxIntercept]
	beta := theta[idxInfraCoef]
	zeta := theta[idxLogScale]
	invVar := math.Exp(-2 * zeta)

	n := float64(p.layout.N)
	ld := -p.logYFact - n*zeta

	for i := range p.x {
		lam, err := p.rate(alpha, beta, theta, i)
		if err != nil {
			return 0, err
		}
		eta := alpha + beta*p.x[i] + theta[p.layout.EffectIndex(i)]
		u := theta[p.layout.EffectIndex(i)]
		ld += p.y[i]*eta - lam - 0.5*u*u*invVar - 0.5*math.Log(lam+invVar)
	}

	if p.spec.PriorScale > 0 {
		inv := 1 / (p.spec.PriorScale * p.spec.PriorScale)
		ld -= 0.5 * (alpha*alpha + beta*beta) * inv
	}
	ld -= 2*p.spec.ScalePriorShape*zeta + p.spec.ScalePriorRate*invVar

	return ld, nil
}

// Gradient writes the analytic gradient of LogDensity at θ into grad, which
// must have length Dim().
func (p *LogPosterior) Gradient(theta, grad []float64) error {
	if len(theta) != p.Dim() || len(grad) != p.Dim() {
		return errors.Internal("parameter or gradient vector has wrong dimension")
	}
	alpha := theta[idxIntercept]
	beta := theta[idxInfraCoef]
	zeta := theta[idxLogScale]
	invVar := math.Exp(-2 * zeta)

	var gAlpha, gBeta, sumU2, sumShare float64
	for i := range p.x {
		lam, err := p.rate(alpha, beta, theta, i)
		if err != nil {
			return err
		}
		u := theta[p.layout.EffectIndex(i)]
		r := p.y[i] - lam

		// w and the precision share s/(λ+s) split the conditional curvature
		// between the data and the effect prior; they drive the correction
		// term's derivatives.
		w := lam / (lam + invVar)
		gAlpha += r - 0.5*w
		gBeta += (r - 0.5*w) * p.x[i]
		sumU2 += u * u
		sumShare += invVar / (lam + invVar)
		grad[p.layout.EffectIndex(i)] = r - u*invVar - 0.5*w
	}

	if p.spec.PriorScale > 0 {
		inv := 1 / (p.spec.PriorScale * p.spec.PriorScale)
		gAlpha -= alpha * inv
		gBeta -= beta * inv
	}

	grad[idxIntercept] = gAlpha
	grad[idxInfraCoef] = gBeta
	grad[idxLogScale] = (sumU2+2*p.spec.ScalePriorRate)*invVar -
		(float64(p.layout.N) + 2*p.spec.ScalePriorShape) + sumShare

	return nil
}

// Hessian writes the analytic Hessian of LogDensity at θ into h, which must
// be a (3+N)×(3+N) symmetric matrix.  The matrix has arrow structure — dense
// in the (α, β, ζ) block, diagonal across random effects with cross terms
// only through the shared parameters — but is materialized densely; at
// N in the hundreds the (3+N)² storage is negligible and correctness of the
// dense form is the contract.
func (p *LogPosterior) Hessian(theta []float64, h *mat.SymDense) error {
	d := p.Dim()
	if len(theta) != d {
		return errors.Internal("parameter vector has wrong dimension")
	}
	if r, _ := h.Dims(); r != d {
		return errors.Internal("hessian matrix has wrong dimension").
			WithDetailf("want %d, got %d", d, r)
	}
	alpha := theta[idxIntercept]
	beta := theta[idxInfraCoef]
	zeta := theta[idxLogScale]
	invVar := math.Exp(-2 * zeta)

	// Zero everything; the arrow pattern leaves most entries untouched below.
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			h.SetSym(i, j, 0)
		}
	}

	var sLam, sLamX, sLamX2, sumU2, sWR, sWRX, sWRX2 float64
	for i := range p.x {
		lam, err := p.rate(alpha, beta, theta, i)
		if err != nil {
			return err
		}
		ui := p.layout.EffectIndex(i)
		u := theta[ui]

		// wr = λs/(λ+s)², the product of the data and prior shares of the
		// conditional curvature; every second derivative of the correction
		// term reduces to it.
		d := lam + invVar
		wr := lam * invVar / (d * d)

		sLam += lam
		sLamX += lam * p.x[i]
		sLamX2 += lam * p.x[i] * p.x[i]
		sumU2 += u * u
		sWR += wr
		sWRX += wr * p.x[i]
		sWRX2 += wr * p.x[i] * p.x[i]

		h.SetSym(ui, ui, -lam-invVar-0.5*wr)
		h.SetSym(idxIntercept, ui, -lam-0.5*wr)
		h.SetSym(idxInfraCoef, ui, (-lam-0.5*wr)*p.x[i])
		h.SetSym(idxLogScale, ui, 2*u*invVar-wr)
	}

	var fixedPrior float64
	if p.spec.PriorScale > 0 {
		fixedPrior = 1 / (p.spec.PriorScale * p.spec.PriorScale)
	}
	h.SetSym(idxIntercept, idxIntercept, -sLam-fixedPrior-0.5*sWR)
	h.SetSym(idxIntercept, idxInfraCoef, -sLamX-0.5*sWRX)
	h.SetSym(idxInfraCoef, idxInfraCoef, -sLamX2-fixedPrior-0.5*sWRX2)
	h.SetSym(idxIntercept, idxLogScale, -sWR)
	h.SetSym(idxInfraCoef, idxLogScale, -sWRX)
	h.SetSym(idxLogScale, idxLogScale, -2*(sumU2+2*p.spec.ScalePriorRate)*invVar-2*sWR)

	return nil
}
