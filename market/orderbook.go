package market

import (
	"sort"

	"execution-kit/execerr"
)

// DepthSide 指定深度方向。
type DepthSide int

const (
	DepthSideBid DepthSide = iota
	DepthSideAsk
)

// Level 单个价位。
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBook 只读深度快照；Bids 按价格降序，Asks 按价格升序。
type OrderBook struct {
	Bids []Level `json:"bids"`
	Asks []Level `json:"asks"`
}

// NewOrderBook 拷贝并排序价位，丢弃数量为 0 的档位。
func NewOrderBook(bids, asks []Level) OrderBook {
	ob := OrderBook{Bids: compact(bids), Asks: compact(asks)}
	sort.Slice(ob.Bids, func(i, j int) bool { return ob.Bids[i].Price > ob.Bids[j].Price })
	sort.Slice(ob.Asks, func(i, j int) bool { return ob.Asks[i].Price < ob.Asks[j].Price })
	return ob
}

func compact(levels []Level) []Level {
	out := make([]Level, 0, len(levels))
	for _, l := range levels {
		if l.Size != 0 {
			out = append(out, l)
		}
	}
	return out
}

// Best 返回最好买/卖价；若不存在则为 0。
func (ob OrderBook) Best() (bestBid float64, bestAsk float64) {
	if len(ob.Bids) > 0 {
		bestBid = ob.Bids[0].Price
	}
	if len(ob.Asks) > 0 {
		bestAsk = ob.Asks[0].Price
	}
	return bestBid, bestAsk
}

// Mid 返回中间价；若缺失任一侧返回 0。
func (ob OrderBook) Mid() float64 {
	bid, ask := ob.Best()
	if bid == 0 || ask == 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Validate 检查交叉与负数量。
func (ob OrderBook) Validate(symbol string) error {
	for _, l := range ob.Bids {
		if l.Size < 0 || l.Price < 0 {
			return execerr.Crossed(symbol, l.Price, 0)
		}
	}
	for _, l := range ob.Asks {
		if l.Size < 0 || l.Price < 0 {
			return execerr.Crossed(symbol, 0, l.Price)
		}
	}
	bid, ask := ob.Best()
	if bid > 0 && ask > 0 && bid >= ask {
		return execerr.Crossed(symbol, bid, ask)
	}
	return nil
}

// EstimateFillPrice 按深度吃单，返回覆盖 qty 所需的最差价格与累计数量。
// 深度不足时返回最后一档价格与全部累计量。
func (ob OrderBook) EstimateFillPrice(side DepthSide, qty float64) (price float64, cumulative float64) {
	levels := ob.Asks
	if side == DepthSideBid {
		levels = ob.Bids
	}
	for _, l := range levels {
		cumulative += l.Size
		price = l.Price
		if cumulative >= qty {
			break
		}
	}
	return price, cumulative
}

// VWAPFor 吃掉 qty 的成交均价；深度不足时按已有深度计算。
func (ob OrderBook) VWAPFor(side DepthSide, qty float64) float64 {
	levels := ob.Asks
	if side == DepthSideBid {
		levels = ob.Bids
	}
	remaining := qty
	notional, filled := 0.0, 0.0
	for _, l := range levels {
		if remaining <= 0 {
			break
		}
		take := l.Size
		if take > remaining {
			take = remaining
		}
		notional += take * l.Price
		filled += take
		remaining -= take
	}
	if filled == 0 {
		return 0
	}
	return notional / filled
}
