// Package posttrade 执行后的滑点核算：相对到达价的实现损失，以及分场所的预测/实际成本对比。
package posttrade

import (
	"sort"
	"sync"

	"execution-kit/numerics"
	"execution-kit/order"
	"execution-kit/venue"
)

// VenueStats 单场所预测 vs 实际
type VenueStats struct {
	Venue        string  `json:"venue"`
	Routed       int64   `json:"routed"`
	Filled       int64   `json:"filled"`
	AvgPrice     float64 `json:"avg_price"`
	PredictedBps float64 `json:"predicted_bps"` // 按路由数量加权的预期成本
	RealizedBps  float64 `json:"realized_bps"`  // 成交均价相对到达价
}

// Stats 汇总
type Stats struct {
	Arrival     float64      `json:"arrival"`
	Filled      int64        `json:"filled"`
	AvgPrice    float64      `json:"avg_price"`
	SlippageBps float64      `json:"slippage_bps"`
	Fills       int          `json:"fills"`
	Venues      []VenueStats `json:"venues"`
	// RoutingFit 各场所路由量与成交量的相关系数，越接近 1 说明成交按分配落地
	RoutingFit float64 `json:"routing_fit"`
	// DriftBps 逐笔成交滑点的回归斜率（bps/笔），为正表示执行过程中价格持续不利
	DriftBps float64 `json:"drift_bps"`
}

type venueAcc struct {
	routed       int64
	predictedSum float64 // Σ qty·bps
	filled       int64
	notional     float64
}

// Analyzer 累计一笔母单的成交。正的滑点表示成本（买贵/卖便宜）。
type Analyzer struct {
	mu       sync.RWMutex
	side     order.Side
	arrival  float64
	filled   int64
	notional float64
	fills    int
	prices   []float64
	venues   map[string]*venueAcc
}

// NewAnalyzer arrival 为到达价（通常是激活时的中间价）。
func NewAnalyzer(side order.Side, arrival float64) *Analyzer {
	return &Analyzer{side: side, arrival: arrival, venues: make(map[string]*venueAcc)}
}

func (a *Analyzer) venue(id string) *venueAcc {
	acc, ok := a.venues[id]
	if !ok {
		acc = &venueAcc{}
		a.venues[id] = acc
	}
	return acc
}

// OnRouted 记录路由腿的预期成本
func (a *Analyzer) OnRouted(leg venue.Leg) {
	if leg.Quantity <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	acc := a.venue(leg.VenueID)
	acc.routed += leg.Quantity
	acc.predictedSum += float64(leg.Quantity) * leg.ExpectedCostBps
}

// OnFill 记录增量成交
func (a *Analyzer) OnFill(venueID string, qty int64, price float64) {
	if qty <= 0 || price <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.filled += qty
	a.notional += float64(qty) * price
	a.fills++
	a.prices = append(a.prices, price)
	acc := a.venue(venueID)
	acc.filled += qty
	acc.notional += float64(qty) * price
}

func (a *Analyzer) bps(avg float64) float64 {
	if a.arrival <= 0 || avg <= 0 {
		return 0
	}
	return a.side.Sign() * (avg - a.arrival) / a.arrival * 1e4
}

// SlippageBps 当前累计滑点；无成交时为 0。
func (a *Analyzer) SlippageBps() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.filled == 0 {
		return 0
	}
	return a.bps(a.notional / float64(a.filled))
}

// Arrival 到达价
func (a *Analyzer) Arrival() float64 { return a.arrival }

// Stats 快照，场所按 ID 排序。
func (a *Analyzer) Stats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Stats{Arrival: a.arrival, Filled: a.filled, Fills: a.fills}
	if a.filled > 0 {
		s.AvgPrice = a.notional / float64(a.filled)
		s.SlippageBps = a.bps(s.AvgPrice)
	}
	for id, acc := range a.venues {
		vs := VenueStats{Venue: id, Routed: acc.routed, Filled: acc.filled}
		if acc.routed > 0 {
			vs.PredictedBps = acc.predictedSum / float64(acc.routed)
		}
		if acc.filled > 0 {
			vs.AvgPrice = acc.notional / float64(acc.filled)
			vs.RealizedBps = a.bps(vs.AvgPrice)
		}
		s.Venues = append(s.Venues, vs)
	}
	sort.Slice(s.Venues, func(i, j int) bool { return s.Venues[i].Venue < s.Venues[j].Venue })

	routed := make([]float64, len(s.Venues))
	filled := make([]float64, len(s.Venues))
	for i, vs := range s.Venues {
		routed[i], filled[i] = float64(vs.Routed), float64(vs.Filled)
	}
	s.RoutingFit = numerics.Pearson(routed, filled)

	seq := make([]float64, len(a.prices))
	bps := make([]float64, len(a.prices))
	for i, p := range a.prices {
		seq[i], bps[i] = float64(i), a.bps(p)
	}
	s.DriftBps = numerics.Slope(seq, bps)
	return s
}
