package venue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-kit/execerr"
	"execution-kit/market"
	"execution-kit/order"
)

func testVenues(t *testing.T) []Venue {
	vs, err := BuildAll([]Config{
		{ID: "NYSE", Kind: KindExchange, FeeBps: 0.3, Latency: time.Millisecond},
		{ID: "DARK1", Kind: KindDarkPool, FeeBps: 0.1, Latency: 5 * time.Millisecond, MinSize: 1000, FillProbability: 0.4},
		{ID: "ATS1", Kind: KindATS, FeeBps: 0.2, Latency: 2 * time.Millisecond},
	})
	require.NoError(t, err)
	return vs
}

func TestBuildAll(t *testing.T) {
	vs := testVenues(t)
	require.Len(t, vs, 3)
	idx := Index(vs)
	assert.Equal(t, KindDarkPool, idx["DARK1"].Kind())
	assert.Equal(t, int64(1000), idx["DARK1"].MinSize())
	assert.Equal(t, 0.4, idx["DARK1"].FillProbability())
	assert.Equal(t, 1.0, idx["NYSE"].FillProbability())
	assert.Equal(t, 2*time.Millisecond, idx["ATS1"].Latency())

	_, err := BuildAll([]Config{{ID: "A", Kind: KindExchange}, {ID: "A", Kind: KindATS}})
	assert.ErrorIs(t, err, execerr.ErrInvalidParameter)
	_, err = BuildAll([]Config{{ID: "X", Kind: "OTC"}})
	assert.ErrorIs(t, err, execerr.ErrInvalidParameter)
	_, err = BuildAll([]Config{{ID: "X", Kind: KindDarkPool, FillProbability: 2}})
	assert.ErrorIs(t, err, execerr.ErrInvalidParameter)
}

func TestEffectiveLiquidity(t *testing.T) {
	idx := Index(testVenues(t))
	liq := Liquidity{
		"NYSE":  {Depth: 5000, FillProbability: 0.2},
		"DARK1": {Depth: 50_000},
		"ATS1":  {Depth: 800},
	}
	assert.Equal(t, 5000.0, liq.Effective(idx["NYSE"]), "lit venues ignore fill probability")
	assert.Equal(t, 20_000.0, liq.Effective(idx["DARK1"]), "falls back to venue default")
	liq["DARK1"] = market.VenueQuote{Depth: 50_000, FillProbability: 0.1}
	assert.Equal(t, 5000.0, liq.Effective(idx["DARK1"]))
	delete(liq, "ATS1")
	assert.Zero(t, liq.Effective(idx["ATS1"]))
}

func TestAllocationValidateAndNextVenue(t *testing.T) {
	idx := Index(testVenues(t))
	a := Allocation{
		SliceID:  "s1",
		Side:     order.SideBuy,
		Quantity: 3000,
		Legs: []Leg{
			{VenueID: "DARK1", Kind: KindDarkPool, Quantity: 1500},
			{VenueID: "NYSE", Kind: KindExchange, Quantity: 1500},
		},
		Ranking: []string{"DARK1", "NYSE", "ATS1"},
	}
	require.NoError(t, a.Validate(idx))

	short := a
	short.Legs = []Leg{{VenueID: "NYSE", Quantity: 2999}}
	assert.ErrorIs(t, short.Validate(idx), execerr.ErrInvalidParameter)

	belowMin := a
	belowMin.Legs = []Leg{{VenueID: "DARK1", Quantity: 500}, {VenueID: "NYSE", Quantity: 2500}}
	assert.ErrorIs(t, belowMin.Validate(idx), execerr.ErrInvalidParameter)

	next, ok := a.NextVenue("DARK1", nil)
	require.True(t, ok)
	assert.Equal(t, "NYSE", next)

	next, ok = a.NextVenue("DARK1", func(id string) bool { return id != "NYSE" })
	require.True(t, ok)
	assert.Equal(t, "ATS1", next)

	next, ok = a.NextVenue("ATS1", nil)
	require.True(t, ok)
	assert.Equal(t, "DARK1", next, "wraps to the top of the ranking")

	_, ok = a.NextVenue("ATS1", func(string) bool { return false })
	assert.False(t, ok)

	next, ok = a.NextVenue("GONE", nil)
	require.True(t, ok)
	assert.Equal(t, "DARK1", next)
}
