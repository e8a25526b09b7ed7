package algo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"execution-kit/execerr"
	"execution-kit/market"
)

func TestValidate(t *testing.T) {
	valid := []Spec{
		TWAP{Slices: 12},
		VWAP{Curve: market.VolumeCurve{Volumes: []float64{3, 1, 0, 2}}},
		POV{TargetRate: 0.1, MinRate: 0.05, MaxRate: 0.2},
		ArrivalPrice{Slices: 6, Urgency: 0.7},
		ImplementationShortfall{Slices: 10, RiskAversion: 1e-6, Volatility: 0.3, Eta: 0.01},
	}
	for _, s := range valid {
		assert.NoError(t, s.Validate(), s.Kind())
	}

	invalid := []Spec{
		TWAP{Slices: 0},
		VWAP{},
		VWAP{Curve: market.VolumeCurve{Volumes: []float64{0, 0}}},
		VWAP{Curve: market.VolumeCurve{Volumes: []float64{1, -2}}},
		POV{TargetRate: 0.1, MinRate: 0.3, MaxRate: 0.2},
		POV{TargetRate: 0.1, MinRate: 0.05, MaxRate: 1.2},
		POV{TargetRate: 0.1, MaxRate: 0.2, Interval: -time.Second},
		ArrivalPrice{Slices: 3, Urgency: 1.1},
		ImplementationShortfall{Slices: 3, RiskAversion: 1, Volatility: 0.2, Eta: 0},
		ImplementationShortfall{Slices: 0, RiskAversion: 1, Volatility: 0.2, Eta: 0.1},
	}
	for _, s := range invalid {
		assert.ErrorIs(t, s.Validate(), execerr.ErrInvalidParameter, "%#v", s)
	}
}

func TestPOVRate(t *testing.T) {
	assert.Equal(t, 0.1, POV{TargetRate: 0.1, MinRate: 0.05, MaxRate: 0.2}.Rate())
	assert.Equal(t, 0.2, POV{TargetRate: 0.4, MinRate: 0.05, MaxRate: 0.2}.Rate())
	assert.Equal(t, 0.05, POV{TargetRate: 0.01, MinRate: 0.05, MaxRate: 0.2}.Rate())
}

func TestWithSlices(t *testing.T) {
	assert.Equal(t, TWAP{Slices: 4}, WithSlices(TWAP{Slices: 12}, 4))
	assert.Equal(t, TWAP{Slices: 1}, WithSlices(TWAP{Slices: 12}, 0))
	pov := POV{TargetRate: 0.1, MaxRate: 0.2}
	assert.Equal(t, pov, WithSlices(pov, 3))
	assert.Equal(t, 4, SliceCount(VWAP{Curve: market.VolumeCurve{Volumes: []float64{1, 2, 3, 4}}}))
}

func TestEnvelopeRoundTrip(t *testing.T) {
	specs := []Spec{
		TWAP{Slices: 12},
		POV{TargetRate: 0.1, MinRate: 0.05, MaxRate: 0.2, Interval: time.Minute},
		ImplementationShortfall{Slices: 10, RiskAversion: 1e-6, Volatility: 0.3, Eta: 0.01},
	}
	for _, s := range specs {
		raw, err := Encode(s)
		require.NoError(t, err)
		back, err := Decode(raw)
		require.NoError(t, err)
		assert.Equal(t, s, back)
	}

	_, err := Decode([]byte(`{"kind":"ICEBERG","params":{}}`))
	assert.ErrorIs(t, err, execerr.ErrInvalidParameter)
	_, err = Decode([]byte(`{"kind":"TWAP","params":{"slices":0}}`))
	assert.ErrorIs(t, err, execerr.ErrInvalidParameter)
}

func TestYAMLSpec(t *testing.T) {
	doc := `
kind: POV
params:
  targetRate: 0.1
  minRate: 0.05
  maxRate: 0.2
  interval: 2m
`
	var y YAMLSpec
	require.NoError(t, yaml.Unmarshal([]byte(doc), &y))
	s, err := y.Spec()
	require.NoError(t, err)
	assert.Equal(t, POV{TargetRate: 0.1, MinRate: 0.05, MaxRate: 0.2, Interval: 2 * time.Minute}, s)
}
