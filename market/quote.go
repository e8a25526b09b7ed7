package market

import (
	"time"

	"execution-kit/execerr"
)

// Quote 顶层报价（最优买卖价与数量）。
type Quote struct {
	Bid     float64   `json:"bid"`
	Ask     float64   `json:"ask"`
	BidSize float64   `json:"bid_size"`
	AskSize float64   `json:"ask_size"`
	Time    time.Time `json:"time"`
}

// Validate 检查 bid < ask 且数量非负；任一侧缺失（为 0）时不判交叉。
func (q Quote) Validate(symbol string) error {
	if q.BidSize < 0 || q.AskSize < 0 || q.Bid < 0 || q.Ask < 0 {
		return execerr.Crossed(symbol, q.Bid, q.Ask)
	}
	if q.Bid > 0 && q.Ask > 0 && q.Bid >= q.Ask {
		return execerr.Crossed(symbol, q.Bid, q.Ask)
	}
	return nil
}

// Mid 返回中间价；若缺失任一侧返回 0。
func (q Quote) Mid() float64 {
	if q.Bid <= 0 || q.Ask <= 0 {
		return 0
	}
	return (q.Bid + q.Ask) / 2
}

// Spread 返回买卖价差；缺失时为 0。
func (q Quote) Spread() float64 {
	if q.Bid <= 0 || q.Ask <= 0 {
		return 0
	}
	return q.Ask - q.Bid
}

// HalfSpreadBps 半价差（基点）。
func (q Quote) HalfSpreadBps() float64 {
	mid := q.Mid()
	if mid <= 0 {
		return 0
	}
	return q.Spread() / 2 / mid * 1e4
}
