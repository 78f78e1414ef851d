package poisson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulateDeterministic(t *testing.T) {
	cfg := DefaultSimConfig()
	a := Simulate(cfg)
	b := Simulate(cfg)
	assert.Equal(t, a, b)

	cfg.Seed = 7
	c := Simulate(cfg)
	assert.NotEqual(t, a, c)
}

func TestSimulateShape(t *testing.T) {
	cfg := DefaultSimConfig()
	ds := Simulate(cfg)
	require.Equal(t, cfg.N, ds.Len())

	seen := make(map[string]bool, cfg.N)
	for _, o := range ds.Observations {
		assert.False(t, seen[o.UnitID], "duplicate unit %s", o.UnitID)
		seen[o.UnitID] = true

		assert.GreaterOrEqual(t, o.ObservedCount, 0)
		assert.Greater(t, o.Infrastructure, 0.0)
		assert.Less(t, o.Infrastructure, 1.0)
		assert.GreaterOrEqual(t, o.X, 0.0)
		assert.LessOrEqual(t, o.X, cfg.CoordMax)
		assert.GreaterOrEqual(t, o.Y, 0.0)
		assert.LessOrEqual(t, o.Y, cfg.CoordMax)
	}

	// A simulated dataset must pass the same validation as ingested data.
	assert.NoError(t, DefaultSpec().Validate(ds))
}

func TestSimulateZeroEffectScale(t *testing.T) {
	cfg := DefaultSimConfig()
	cfg.N = 50
	cfg.EffectScale = 0
	ds := Simulate(cfg)
	require.Equal(t, 50, ds.Len())
	assert.NoError(t, DefaultSpec().Validate(ds))
}

func TestSimulateDefaultsApplied(t *testing.T) {
	ds := Simulate(SimConfig{Seed: 1, Intercept: 1, InfraCoefficient: 1, EffectScale: 0.3})
	assert.Equal(t, DefaultSimConfig().N, ds.Len())
}
