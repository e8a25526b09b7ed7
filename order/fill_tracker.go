package order

import (
	"sync"
	"time"
)

// Fill 子单成交明细
type Fill struct {
	ChildID  string    `json:"child_id"`
	SliceID  string    `json:"slice_id"`
	Venue    string    `json:"venue"`
	Price    float64   `json:"price"`
	Quantity int64     `json:"quantity"`
	Time     time.Time `json:"time"`
}

// FillTracker 累计母单成交，提供成交均价与时间窗口内成交量（POV 实际参与率）。
type FillTracker struct {
	mu       sync.RWMutex
	fills    []Fill
	filled   int64
	notional float64
}

// NewFillTracker 创建成交跟踪器
func NewFillTracker() *FillTracker {
	return &FillTracker{fills: make([]Fill, 0, 16)}
}

// Record 记录成交；数量为 0 的回报忽略。
func (f *FillTracker) Record(fill Fill) {
	if fill.Quantity <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fills = append(f.fills, fill)
	f.filled += fill.Quantity
	f.notional += fill.Price * float64(fill.Quantity)
}

// Filled 累计成交数量
func (f *FillTracker) Filled() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.filled
}

// AvgPrice 成交均价；无成交时为 0。
func (f *FillTracker) AvgPrice() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.filled == 0 {
		return 0
	}
	return f.notional / float64(f.filled)
}

// FilledBetween 统计 [from, to) 内的成交量。
func (f *FillTracker) FilledBetween(from, to time.Time) int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var q int64
	for _, fl := range f.fills {
		if !fl.Time.Before(from) && fl.Time.Before(to) {
			q += fl.Quantity
		}
	}
	return q
}

// ByVenue 按场所汇总成交量。
func (f *FillTracker) ByVenue() map[string]int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]int64)
	for _, fl := range f.fills {
		out[fl.Venue] += fl.Quantity
	}
	return out
}

// Fills 成交明细副本
func (f *FillTracker) Fills() []Fill {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Fill, len(f.fills))
	copy(out, f.fills)
	return out
}
