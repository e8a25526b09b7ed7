package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-kit/execerr"
	"execution-kit/market"
	"execution-kit/order"
	"execution-kit/schedule"
	"execution-kit/venue"
)

func lit(id string, fee float64, lat time.Duration) venue.Venue {
	return venue.Exchange{Profile: venue.Profile{VenueID: id, Fee: fee, Delay: lat}}
}

func dark(id string, fee float64, lat time.Duration, min int64, prob float64) venue.Venue {
	return venue.DarkPool{Profile: venue.Profile{VenueID: id, Fee: fee, Delay: lat}, Minimum: min, Probability: prob}
}

func ats(id string, fee float64, lat time.Duration) venue.Venue {
	return venue.ATS{Profile: venue.Profile{VenueID: id, Fee: fee, Delay: lat}}
}

var quote = market.Quote{Bid: 49.99, Ask: 50.01, BidSize: 1000, AskSize: 1000}

func newRouter(t *testing.T, w Weights) *Router {
	r, err := New(w, nil, nil)
	require.NoError(t, err)
	return r
}

func slice(qty int64) schedule.Slice {
	return schedule.Slice{ID: "s1", Quantity: qty}
}

func legMap(a *venue.Allocation) map[string]int64 {
	m := make(map[string]int64)
	for _, l := range a.Legs {
		m[l.VenueID] = l.Quantity
	}
	return m
}

func TestRouteGreedyByScore(t *testing.T) {
	venues := []venue.Venue{
		lit("NYSE", 0.3, time.Millisecond),
		ats("ATS1", 0.2, 2*time.Millisecond),
		dark("DARK1", 0.1, 5*time.Millisecond, 1000, 0.4),
	}
	liq := venue.Liquidity{
		"NYSE":  {Depth: 2000},
		"ATS1":  {Depth: 1000},
		"DARK1": {Depth: 10_000},
	}
	costs := venue.Costs{Quote: quote, ADV: 2_000_000, Volatility: 0.02, Participation: 0.1}

	a, err := newRouter(t, DefaultWeights()).Route(slice(5000), order.SideBuy, venues, liq, costs)
	require.NoError(t, err)
	require.NoError(t, a.Validate(venue.Index(venues)))

	assert.Equal(t, []string{"DARK1", "NYSE", "ATS1"}, a.Ranking)
	assert.Equal(t, map[string]int64{"DARK1": 4000, "NYSE": 1000}, legMap(a))
	assert.Equal(t, int64(5000), a.Total())

	for _, l := range a.Legs {
		assert.Positive(t, l.ExpectedCostBps)
		switch l.VenueID {
		case "DARK1":
			assert.InDelta(t, 50.0, l.ExpectedPrice, 1e-9, "dark pools execute at mid")
		case "NYSE":
			assert.InDelta(t, 50.01, l.ExpectedPrice, 1e-9, "lit venues cross the spread")
			assert.Greater(t, l.ExpectedCostBps, 2.0, "includes the half spread")
		}
	}
	assert.InDelta(t, (4000*50.0+1000*50.01)/5000, a.ExpectedPrice, 1e-9)
}

func TestRouteSkipsDarkPoolBelowMinSize(t *testing.T) {
	venues := []venue.Venue{
		lit("NYSE", 0.3, time.Millisecond),
		dark("DARK1", 0.1, 5*time.Millisecond, 1000, 0.4),
	}
	liq := venue.Liquidity{"NYSE": {Depth: 2000}, "DARK1": {Depth: 10_000}}
	a, err := newRouter(t, DefaultWeights()).Route(slice(500), order.SideBuy, venues, liq, venue.Costs{Quote: quote})
	require.NoError(t, err)
	assert.Equal(t, "DARK1", a.Ranking[0])
	assert.Equal(t, map[string]int64{"NYSE": 500}, legMap(a))
}

func TestRouteFillProbabilityDiscount(t *testing.T) {
	w := Weights{Price: 0.2, Liquidity: 0.7, Latency: 0.1}
	venues := []venue.Venue{
		lit("LIT", 0.3, time.Millisecond),
		dark("DARK", 0.1, time.Millisecond, 100, 1),
	}
	costs := venue.Costs{Quote: quote}

	thin := venue.Liquidity{"LIT": {Depth: 5000}, "DARK": {Depth: 100_000, FillProbability: 0.01}}
	a, err := newRouter(t, w).Route(slice(5000), order.SideBuy, venues, thin, costs)
	require.NoError(t, err)
	assert.Equal(t, []string{"LIT", "DARK"}, a.Ranking)
	assert.Equal(t, map[string]int64{"LIT": 5000}, legMap(a))

	likely := venue.Liquidity{"LIT": {Depth: 5000}, "DARK": {Depth: 100_000, FillProbability: 1}}
	a, err = newRouter(t, w).Route(slice(5000), order.SideBuy, venues, likely, costs)
	require.NoError(t, err)
	assert.Equal(t, []string{"DARK", "LIT"}, a.Ranking)
	assert.Equal(t, map[string]int64{"DARK": 5000}, legMap(a))
}

func TestRouteSpillsToBestLitVenue(t *testing.T) {
	venues := []venue.Venue{lit("NYSE", 0.3, time.Millisecond), ats("ATS1", 0.2, 2*time.Millisecond)}
	liq := venue.Liquidity{"NYSE": {Depth: 100}, "ATS1": {Depth: 100}}
	a, err := newRouter(t, DefaultWeights()).Route(slice(1000), order.SideSell, venues, liq, venue.Costs{Quote: quote})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), a.Total())
	assert.Equal(t, int64(900), legMap(a)[a.Ranking[0]], "leftover joins the best lit venue")
}

func TestRouteDarkOnly(t *testing.T) {
	venues := []venue.Venue{dark("DARK1", 0.1, time.Millisecond, 1000, 1)}
	liq := venue.Liquidity{"DARK1": {Depth: 4000}}
	r := newRouter(t, DefaultWeights())

	a, err := r.Route(slice(4100), order.SideBuy, venues, liq, venue.Costs{Quote: quote})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"DARK1": 4100}, legMap(a))

	_, err = r.Route(slice(500), order.SideBuy, venues, liq, venue.Costs{Quote: quote})
	assert.ErrorIs(t, err, execerr.ErrInvalidParameter)
}

func TestRouteInvalidInputs(t *testing.T) {
	r := newRouter(t, DefaultWeights())
	venues := []venue.Venue{lit("NYSE", 0.3, time.Millisecond)}
	_, err := r.Route(slice(0), order.SideBuy, venues, nil, venue.Costs{})
	assert.ErrorIs(t, err, execerr.ErrInvalidParameter)
	_, err = r.Route(slice(10), order.SideBuy, nil, nil, venue.Costs{})
	assert.ErrorIs(t, err, execerr.ErrInvalidParameter)
	_, err = r.Route(slice(10), "HOLD", venues, nil, venue.Costs{})
	assert.ErrorIs(t, err, execerr.ErrInvalidParameter)
}

func TestWeights(t *testing.T) {
	assert.NoError(t, DefaultWeights().Validate())
	assert.ErrorIs(t, Weights{Price: 0.5, Liquidity: 0.5, Latency: 0.5}.Validate(), execerr.ErrInvalidParameter)
	assert.ErrorIs(t, Weights{Price: 1.2, Liquidity: -0.2}.Validate(), execerr.ErrInvalidParameter)

	_, err := New(Weights{Price: 1, Liquidity: 1}, nil, nil)
	assert.Error(t, err)

	r := newRouter(t, DefaultWeights())
	require.NoError(t, r.SetWeights(Weights{Price: 1}))
	assert.Equal(t, Weights{Price: 1}, r.Weights())
	assert.Error(t, r.SetWeights(Weights{}))
	assert.Equal(t, Weights{Price: 1}, r.Weights(), "rejected update keeps current weights")
}
