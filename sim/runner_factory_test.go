package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-kit/algo"
	"execution-kit/config"
	"execution-kit/execerr"
	"execution-kit/market"
	"execution-kit/order"
	"execution-kit/venue"
)

const scenarioYAML = `
order:
  id: scn-1
  symbol: ACME
  side: SELL
  quantity: 900
  window: 30m
algorithm:
  kind: ARRIVAL_PRICE
  params:
    slices: 3
    urgency: 0.5
bars:
  - {time: 2024-01-02T14:40:00Z, bid: 49.98, ask: 50.02, volume: 5000}
  - {time: 2024-01-02T14:30:00Z, bid: 49.99, ask: 50.01, volume: 5000}
  - {time: 2024-01-02T14:50:00Z, bid: 49.97, ask: 50.01, volume: 5000}
`

func TestParseScenario(t *testing.T) {
	o, spec, bars, err := ParseScenario([]byte(scenarioYAML))
	require.NoError(t, err)

	assert.Equal(t, "scn-1", o.ID)
	assert.Equal(t, order.SideSell, o.Side)
	assert.Equal(t, int64(900), o.Quantity)
	assert.True(t, o.StartTime.Equal(time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)))
	assert.Equal(t, 30*time.Minute, o.Window())
	assert.Equal(t, algo.ArrivalPrice{Slices: 3, Urgency: 0.5}, spec)
	assert.Len(t, bars, 3)
}

func TestParseScenarioErrors(t *testing.T) {
	_, _, _, err := ParseScenario([]byte("order: {symbol: ACME, side: BUY, quantity: 10, window: 1m}\nalgorithm: {kind: NOPE}\n"))
	assert.ErrorIs(t, err, execerr.ErrInvalidParameter)

	_, _, _, err = ParseScenario([]byte("order: {symbol: ACME, side: BUY, quantity: 0, window: 1m}\nalgorithm: {kind: TWAP, params: {slices: 1}}\n"))
	assert.ErrorIs(t, err, execerr.ErrInvalidParameter)

	_, _, _, err = ParseScenario([]byte("order: [\n"))
	assert.Error(t, err)
}

func TestBuildRunnerFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Venues = []venue.Config{
		{ID: "XNYS", Kind: venue.KindExchange, FeeBps: 0.2},
		{ID: "DARK1", Kind: venue.KindDarkPool, MinSize: 10_000, FillProbability: 0.3},
	}
	cfg.Market.Symbols = map[string]config.SymbolConfig{
		"ACME": {ADV: 1_000_000, Volatility: 0.015, Venues: map[string]market.VenueQuote{"XNYS": {Depth: 1_000_000}}},
	}

	r, err := BuildRunner(cfg, nil)
	require.NoError(t, err)
	require.Len(t, r.Venues, 2)

	o, spec, bars, err := ParseScenario([]byte(scenarioYAML))
	require.NoError(t, err)

	res, err := r.Run(context.Background(), o, spec, bars)
	require.NoError(t, err)
	assert.Equal(t, order.StateCompleted, res.Status.State)
	assert.Equal(t, int64(900), res.Status.Filled)
	for _, f := range res.Fills {
		// 卖单按买一成交，暗池最小量 10000 不会分到
		assert.Equal(t, "XNYS", f.Venue)
	}
}

func TestBuildRunnerRejectsBadVenues(t *testing.T) {
	cfg := config.Default()
	cfg.Venues = []venue.Config{{ID: "X", Kind: "BOGUS"}}
	_, err := BuildRunner(cfg, nil)
	assert.ErrorIs(t, err, execerr.ErrInvalidParameter)
}
