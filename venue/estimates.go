package venue

import (
	"execution-kit/market"
)

// Liquidity 场所 ID -> 流动性估计（深度、成交概率、预期成交价）。
type Liquidity map[string]market.VenueQuote

// Costs 路由时的成本输入。VenueBps 为额外的场所成本（如接入费），可为负（返佣）。
type Costs struct {
	Quote         market.Quote       `json:"quote"`
	ADV           float64            `json:"adv"`
	Volatility    float64            `json:"volatility"`
	Participation float64            `json:"participation"`
	VenueBps      map[string]float64 `json:"venue_bps,omitempty"`
}

// FromSnapshot 从行情快照提取流动性与成本输入。
func FromSnapshot(snap market.Snapshot, participation float64) (Liquidity, Costs) {
	liq := make(Liquidity, len(snap.Venues))
	for id, q := range snap.Venues {
		liq[id] = q
	}
	return liq, Costs{
		Quote:         snap.Quote,
		ADV:           snap.ADV,
		Volatility:    snap.Volatility,
		Participation: participation,
	}
}

// Effective 有效流动性 = 深度 × 成交概率；实时概率缺失时使用场所默认值。
func (l Liquidity) Effective(v Venue) float64 {
	q, ok := l[v.ID()]
	if !ok {
		return 0
	}
	p := q.FillProbability
	if p <= 0 {
		p = v.FillProbability()
	}
	if !IsDark(v) {
		p = 1
	}
	return float64(q.Depth) * p
}
