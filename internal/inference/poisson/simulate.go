package poisson

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/urbanpulse/demandmap/pkg/types/demand"
)

// SimConfig parameterizes synthetic dataset generation.  The defaults mirror
// the reference scenario used throughout the test suite: 200 neighborhoods on
// a 50×50 plane, Beta(2,5)-distributed infrastructure scores, and true
// parameters α=1.0, β=2.0, σ=0.5.
type SimConfig struct {
	N    int
	Seed uint64

	// True generative parameters.
	Intercept        float64
	InfraCoefficient float64
	EffectScale      float64

	// CoordMax is the upper bound of the uniform display coordinates.
	CoordMax float64

	// InfraAlpha, InfraBeta shape the Beta distribution of the
	// infrastructure score.
	InfraAlpha float64
	InfraBeta  float64
}

// DefaultSimConfig returns the reference simulation scenario.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		N:                200,
		Seed:             2025,
		Intercept:        1.0,
		InfraCoefficient: 2.0,
		EffectScale:      0.5,
		CoordMax:         50,
		InfraAlpha:       2,
		InfraBeta:        5,
	}
}

// Simulate draws a dataset from the generative model.  The output is fully
// determined by the config, including the seed: identical configs produce
// identical datasets.
func Simulate(cfg SimConfig) *demand.Dataset {
	if cfg.N <= 0 {
		cfg.N = DefaultSimConfig().N
	}
	if cfg.CoordMax <= 0 {
		cfg.CoordMax = DefaultSimConfig().CoordMax
	}
	if cfg.InfraAlpha <= 0 || cfg.InfraBeta <= 0 {
		cfg.InfraAlpha = DefaultSimConfig().InfraAlpha
		cfg.InfraBeta = DefaultSimConfig().InfraBeta
	}

	src := rand.NewSource(cfg.Seed)
	coord := distuv.Uniform{Min: 0, Max: cfg.CoordMax, Src: src}
	infra := distuv.Beta{Alpha: cfg.InfraAlpha, Beta: cfg.InfraBeta, Src: src}
	effect := distuv.Normal{Mu: 0, Sigma: cfg.EffectScale, Src: src}

	ds := &demand.Dataset{Observations: make([]demand.Observation, cfg.N)}
	for i := 0; i < cfg.N; i++ {
		x := infra.Rand()
		u := 0.0
		if cfg.EffectScale > 0 {
			u = effect.Rand()
		}
		lambda := math.Exp(cfg.Intercept + cfg.InfraCoefficient*x + u)

		count := distuv.Poisson{Lambda: lambda, Src: src}.Rand()

		ds.Observations[i] = demand.Observation{
			UnitID:         fmt.Sprintf("N-%04d", i),
			Infrastructure: x,
			ObservedCount:  int(count),
			X:              coord.Rand(),
			Y:              coord.Rand(),
		}
	}
	return ds
}
