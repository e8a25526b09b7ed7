package sim

import (
	"errors"
	"math"
	"sort"
	"time"

	"execution-kit/algo"
	"execution-kit/market"
	"execution-kit/numerics"
	"execution-kit/order"
	"execution-kit/schedule"
	"execution-kit/venue"
)

// Preview 只规划不执行：开始时刻的行情快照、初始计划、首片的路由结果。
type Preview struct {
	Snapshot   market.Snapshot    `json:"snapshot"`
	Schedule   *schedule.Schedule `json:"schedule"`
	Allocation *venue.Allocation  `json:"first_allocation,omitempty"`
	RouteError string             `json:"route_error,omitempty"`
}

// Preview 应用 StartTime 之前（含）的行情，生成初始计划并路由第一片。
// 首片无法路由时不返回错误，原因写在 RouteError。
func (r *Runner) Preview(o order.Order, spec algo.Spec, bars []Bar) (*Preview, error) {
	if r.Planner == nil || r.Router == nil || r.Market == nil {
		return nil, errors.New("runner not initialized")
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	sorted := append([]Bar(nil), bars...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	clock := o.StartTime
	r.Market.SetClock(func() time.Time { return clock })
	for _, b := range sorted {
		if b.Time.After(clock) {
			break
		}
		r.Market.OnQuote(o.Symbol, market.Quote{Bid: b.Bid, Ask: b.Ask, BidSize: b.BidSize, AskSize: b.AskSize, Time: b.Time})
		if b.Volume > 0 {
			r.Market.OnTrade(o.Symbol, market.Trade{Price: (b.Bid + b.Ask) / 2, Qty: b.Volume, Ts: b.Time})
		}
	}

	snap, err := r.Market.Snapshot(o.Symbol)
	if err != nil {
		return nil, err
	}
	sc, err := r.Planner.Plan(o, spec, snap)
	if err != nil {
		return nil, err
	}
	p := &Preview{Snapshot: snap, Schedule: sc}
	if len(sc.Slices) == 0 {
		return p, nil
	}

	liq, costs := venue.FromSnapshot(snap, r.participation(o, spec, snap))
	alloc, err := r.Router.Route(sc.Slices[0], o.Side, r.Venues, liq, costs)
	if err != nil {
		p.RouteError = err.Error()
		return p, nil
	}
	p.Allocation = alloc
	return p, nil
}

// participation 与监控器派发时相同：POV 取目标比例，其余按剩余量/窗口内 ADV。
func (r *Runner) participation(o order.Order, spec algo.Spec, snap market.Snapshot) float64 {
	if pov, ok := spec.(algo.POV); ok {
		return pov.Rate()
	}
	if snap.ADV <= 0 {
		return 0
	}
	days := float64(o.Window()) / float64(r.Planner.TradingDay)
	return numerics.Clamp(float64(o.Quantity)/(snap.ADV*math.Max(days, 1e-9)), 1e-9, 1)
}
