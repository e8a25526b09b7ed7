package impact

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"execution-kit/execerr"
)

func TestEstimateSquareRootLaw(t *testing.T) {
	est := Default()
	// q/adv = 0.01, sigma = 0.02 -> base = 0.02 * 0.1 * 1e4 = 20 bps
	got, err := est.Estimate(10_000, 1_000_000, 0.02, 0.1)
	require.NoError(t, err)

	assert.InDelta(t, 8.0, got.PermanentBps, 1e-9)
	// dayFraction = 0.01/0.1 = 0.1
	assert.InDelta(t, 0.1, got.DayFraction, 1e-12)
	assert.InDelta(t, 12.0/math.Sqrt(0.1), got.TemporaryBps, 1e-9)
	assert.InDelta(t, got.PermanentBps+got.TemporaryBps, got.TotalBps, 1e-12)
	assert.Equal(t, 8, got.RecommendedSlices) // ceil(0.1*78)
	assert.Less(t, got.Confidence.LowBps, got.TotalBps)
	assert.Greater(t, got.Confidence.HighBps, got.TotalBps)
}

func TestEstimateSlowerExecutionLowersTemporaryImpact(t *testing.T) {
	est := Default()
	fast, err := est.Estimate(50_000, 1_000_000, 0.02, 0.2)
	require.NoError(t, err)
	slow, err := est.Estimate(50_000, 1_000_000, 0.02, 0.05)
	require.NoError(t, err)

	assert.InDelta(t, fast.PermanentBps, slow.PermanentBps, 1e-12)
	assert.Greater(t, fast.TemporaryBps, slow.TemporaryBps)
	assert.Less(t, fast.RecommendedSlices, slow.RecommendedSlices)
}

func TestEstimateInvalidInputs(t *testing.T) {
	est := Default()
	cases := []struct {
		name                 string
		q, adv, vol, partRte float64
	}{
		{"zero adv", 100, 0, 0.02, 0.1},
		{"negative adv", 100, -1, 0.02, 0.1},
		{"negative vol", 100, 1000, -0.01, 0.1},
		{"nan vol", 100, 1000, math.NaN(), 0.1},
		{"negative qty", -1, 1000, 0.02, 0.1},
		{"zero participation", 100, 1000, 0.02, 0},
		{"participation > 1", 100, 1000, 0.02, 1.5},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := est.Estimate(tc.q, tc.adv, tc.vol, tc.partRte)
			require.Error(t, err)
			assert.True(t, errors.Is(err, execerr.ErrInvalidParameter))
		})
	}
}

func TestEstimateZeroVolatility(t *testing.T) {
	got, err := Default().Estimate(1000, 1_000_000, 0, 0.1)
	require.NoError(t, err)
	assert.Zero(t, got.TotalBps)
	assert.Zero(t, got.Confidence.LowBps)
	assert.Equal(t, 1, got.RecommendedSlices)
}

func TestInPrice(t *testing.T) {
	e := Estimate{PermanentBps: 10, TemporaryBps: 20, TotalBps: 30}
	p := e.InPrice(50)
	assert.InDelta(t, 0.05, p.Permanent, 1e-12)
	assert.InDelta(t, 0.10, p.Temporary, 1e-12)
	assert.InDelta(t, 0.15, p.Total, 1e-12)
}

func TestEstimatorValidate(t *testing.T) {
	assert.NoError(t, Default().Validate())
	bad := Default()
	bad.PermanentFraction = 1.2
	assert.ErrorIs(t, bad.Validate(), execerr.ErrInvalidParameter)
	bad = Default()
	bad.BucketsPerDay = 0
	assert.ErrorIs(t, bad.Validate(), execerr.ErrInvalidParameter)
}

func TestEstimateDeterministicAndMonotone(t *testing.T) {
	est := Default()
	rapid.Check(t, func(t *rapid.T) {
		adv := rapid.Float64Range(1e3, 1e8).Draw(t, "adv")
		vol := rapid.Float64Range(0, 0.2).Draw(t, "vol")
		part := rapid.Float64Range(0.01, 1).Draw(t, "part")
		q1 := rapid.Float64Range(0, adv).Draw(t, "q1")
		q2 := rapid.Float64Range(q1, 2*adv).Draw(t, "q2")

		a, err := est.Estimate(q1, adv, vol, part)
		if err != nil {
			t.Fatal(err)
		}
		again, _ := est.Estimate(q1, adv, vol, part)
		if a != again {
			t.Fatalf("non-deterministic estimate: %+v vs %+v", a, again)
		}
		b, err := est.Estimate(q2, adv, vol, part)
		if err != nil {
			t.Fatal(err)
		}
		if b.PermanentBps+1e-9 < a.PermanentBps {
			t.Fatalf("permanent impact decreased with size: %v -> %v", a.PermanentBps, b.PermanentBps)
		}
		if a.RecommendedSlices < 1 || a.RecommendedSlices > est.BucketsPerDay {
			t.Fatalf("recommended slices out of range: %d", a.RecommendedSlices)
		}
		if a.Confidence.LowBps > a.TotalBps || a.Confidence.HighBps < a.TotalBps {
			t.Fatalf("confidence does not bracket total: %+v", a)
		}
	})
}
