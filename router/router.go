// Package router 智能路由：把一个切片按评分分配到多个场所。
package router

import (
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"execution-kit/execerr"
	"execution-kit/impact"
	"execution-kit/order"
	"execution-kit/schedule"
	"execution-kit/venue"
)

// Weights 评分权重，三项之和必须为 1。
type Weights struct {
	Price     float64 `yaml:"price" json:"price"`
	Liquidity float64 `yaml:"liquidity" json:"liquidity"`
	Latency   float64 `yaml:"latency" json:"latency"`
}

// DefaultWeights 默认权重
func DefaultWeights() Weights {
	return Weights{Price: 0.5, Liquidity: 0.35, Latency: 0.15}
}

// Validate 检查权重非负且和为 1。
func (w Weights) Validate() error {
	for _, v := range []float64{w.Price, w.Liquidity, w.Latency} {
		if v < 0 || math.IsNaN(v) {
			return execerr.Invalid("router weight %v < 0", v)
		}
	}
	if sum := w.Price + w.Liquidity + w.Latency; math.Abs(sum-1) > 1e-9 {
		return execerr.Invalid("router weights sum to %v, want 1", sum)
	}
	return nil
}

// Router 场所路由器。权重可热更新，其余字段构造后只读。
type Router struct {
	mu                   sync.RWMutex
	weights              Weights
	impact               *impact.Estimator
	defaultParticipation float64
	logger               *zap.Logger
}

// New 创建路由器
func New(w Weights, est *impact.Estimator, logger *zap.Logger) (*Router, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if est == nil {
		est = impact.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{weights: w, impact: est, defaultParticipation: 0.1, logger: logger}, nil
}

// SetWeights 热更新权重
func (r *Router) SetWeights(w Weights) error {
	if err := w.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.weights = w
	r.mu.Unlock()
	r.logger.Info("router weights updated",
		zap.Float64("price", w.Price), zap.Float64("liquidity", w.Liquidity), zap.Float64("latency", w.Latency))
	return nil
}

// Weights 当前权重
func (r *Router) Weights() Weights {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.weights
}

type candidate struct {
	v         venue.Venue
	price     float64 // 含费用的预期成交价
	rawPrice  float64
	effective float64
	score     float64
}

// Route 分配切片数量：
//   - 评分 = 价格、流动性（有效流动性/切片数量，上限 1）、延迟三项归一化后的加权和
//   - 按评分降序贪心填充，每个场所不超过其有效流动性；暗池分配量低于最小量时跳过
//   - 剩余数量先并入最优亮池，无亮池时并入能满足最小量的最优暗池，否则无法路由
func (r *Router) Route(slice schedule.Slice, side order.Side, venues []venue.Venue, liq venue.Liquidity, costs venue.Costs) (*venue.Allocation, error) {
	qty := slice.Quantity
	if qty <= 0 {
		return nil, execerr.Invalid("slice %s: quantity %d", slice.ID, qty)
	}
	if !side.Valid() {
		return nil, execerr.Invalid("slice %s: side %q", slice.ID, side)
	}
	if len(venues) == 0 {
		return nil, execerr.Invalid("slice %s: no venues", slice.ID)
	}
	w := r.Weights()

	cands := r.score(w, side, qty, venues, liq, costs)
	ranking := make([]string, len(cands))
	for i, c := range cands {
		ranking[i] = c.v.ID()
	}

	takes := make(map[string]int64, len(cands))
	remaining := qty
	for _, c := range cands {
		if remaining == 0 {
			break
		}
		take := int64(math.Floor(c.effective))
		if take > remaining {
			take = remaining
		}
		if take <= 0 {
			continue
		}
		if venue.IsDark(c.v) && take < c.v.MinSize() {
			continue
		}
		takes[c.v.ID()] = take
		remaining -= take
	}

	if remaining > 0 {
		spilled := false
		for _, c := range cands {
			if !venue.IsDark(c.v) {
				takes[c.v.ID()] += remaining
				spilled = true
				break
			}
		}
		if !spilled {
			for _, c := range cands {
				if takes[c.v.ID()]+remaining >= c.v.MinSize() {
					takes[c.v.ID()] += remaining
					spilled = true
					break
				}
			}
		}
		if !spilled {
			return nil, execerr.Invalid("slice %s: %d unroutable, no lit venue and below every dark pool minimum", slice.ID, remaining)
		}
	}

	alloc := &venue.Allocation{
		SliceID:  slice.ID,
		Side:     side,
		Quantity: qty,
		Ranking:  ranking,
	}
	var notional, costNotional float64
	for _, c := range cands {
		q := takes[c.v.ID()]
		if q == 0 {
			continue
		}
		leg := venue.Leg{
			VenueID:         c.v.ID(),
			Kind:            c.v.Kind(),
			Quantity:        q,
			ExpectedPrice:   c.rawPrice,
			ExpectedCostBps: r.legCost(c.v, q, costs),
			Score:           c.score,
		}
		alloc.Legs = append(alloc.Legs, leg)
		notional += leg.ExpectedPrice * float64(q)
		costNotional += leg.ExpectedCostBps * float64(q)
	}
	alloc.ExpectedPrice = notional / float64(qty)
	alloc.ExpectedCostBps = costNotional / float64(qty)

	r.logger.Debug("slice routed",
		zap.String("slice_id", slice.ID),
		zap.Int64("quantity", qty),
		zap.Int("legs", len(alloc.Legs)),
		zap.Strings("ranking", ranking),
		zap.Float64("cost_bps", alloc.ExpectedCostBps),
	)
	return alloc, nil
}

func (r *Router) score(w Weights, side order.Side, qty int64, venues []venue.Venue, liq venue.Liquidity, costs venue.Costs) []candidate {
	cands := make([]candidate, 0, len(venues))
	minP, maxP := math.Inf(1), math.Inf(-1)
	minL, maxL := math.Inf(1), math.Inf(-1)
	for _, v := range venues {
		raw := expectedPrice(v, side, liq, costs)
		adj := raw * (1 + side.Sign()*(v.FeeBps()+costs.VenueBps[v.ID()])/1e4)
		c := candidate{v: v, price: adj, rawPrice: raw, effective: liq.Effective(v)}
		cands = append(cands, c)
		if adj > 0 {
			minP, maxP = math.Min(minP, adj), math.Max(maxP, adj)
		}
		lat := float64(v.Latency())
		minL, maxL = math.Min(minL, lat), math.Max(maxL, lat)
	}
	for i := range cands {
		c := &cands[i]
		priceScore := 0.0
		switch {
		case c.price <= 0:
			// 没有价格信息
		case maxP == minP:
			priceScore = 1
		case side == order.SideBuy:
			priceScore = (maxP - c.price) / (maxP - minP)
		default:
			priceScore = (c.price - minP) / (maxP - minP)
		}
		liqScore := math.Min(c.effective/float64(qty), 1)
		latScore := 1.0
		if maxL > minL {
			latScore = (maxL - float64(c.v.Latency())) / (maxL - minL)
		}
		c.score = w.Price*priceScore + w.Liquidity*liqScore + w.Latency*latScore
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}
		return cands[i].v.ID() < cands[j].v.ID()
	})
	return cands
}

// expectedPrice 场所报价优先；亮池取对手方最优价，暗池取中间价。
func expectedPrice(v venue.Venue, side order.Side, liq venue.Liquidity, costs venue.Costs) float64 {
	if q, ok := liq[v.ID()]; ok && q.Price > 0 {
		return q.Price
	}
	mid := costs.Quote.Mid()
	if venue.IsDark(v) {
		return mid
	}
	if side == order.SideBuy && costs.Quote.Ask > 0 {
		return costs.Quote.Ask
	}
	if side == order.SideSell && costs.Quote.Bid > 0 {
		return costs.Quote.Bid
	}
	return mid
}

// legCost 预期成本（bps）= 临时冲击 + 费用 + 场所附加成本 + 亮池穿越半价差。
func (r *Router) legCost(v venue.Venue, q int64, costs venue.Costs) float64 {
	bps := v.FeeBps() + costs.VenueBps[v.ID()]
	if !venue.IsDark(v) {
		bps += costs.Quote.HalfSpreadBps()
	}
	if costs.ADV > 0 {
		part := costs.Participation
		if !(part > 0) || part > 1 {
			part = r.defaultParticipation
		}
		bps += r.impact.TemporaryBps(float64(q), costs.ADV, costs.Volatility, part)
	}
	return bps
}
