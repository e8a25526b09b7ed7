package order

import (
	"math"
	"time"

	"execution-kit/execerr"
)

// Side 买卖方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Sign 买为 +1，卖为 -1。
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// State 母单生命周期。
type State string

const (
	StatePending   State = "PENDING"
	StateScheduled State = "SCHEDULED"
	StateExecuting State = "EXECUTING"
	StateCompleted State = "COMPLETED"
	StateCanceled  State = "CANCELED"
	StateExpired   State = "EXPIRED"
)

// SliceStatus 切片生命周期，只能前进。
type SliceStatus string

const (
	SlicePlanned         SliceStatus = "PLANNED"
	SliceRouted          SliceStatus = "ROUTED"
	SliceDispatched      SliceStatus = "DISPATCHED"
	SliceFilled          SliceStatus = "FILLED"
	SlicePartiallyFilled SliceStatus = "PARTIALLY_FILLED"
	SliceCanceled        SliceStatus = "CANCELED"
)

// Order 母单。接受后不可变；重规划使用 Residual 生成的副本。
type Order struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"side"`
	Quantity     int64     `json:"quantity"`
	LimitPrice   *float64  `json:"limit_price,omitempty"`
	ArrivalTime  time.Time `json:"arrival_time"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Urgency      float64   `json:"urgency"`
	RiskAversion float64   `json:"risk_aversion"`
}

// Validate 检查母单参数。
func (o Order) Validate() error {
	switch {
	case o.Symbol == "":
		return execerr.Invalid("order %s: symbol required", o.ID)
	case !o.Side.Valid():
		return execerr.Invalid("order %s: side %q", o.ID, o.Side)
	case o.Quantity <= 0:
		return execerr.Invalid("order %s: quantity must be > 0, got %d", o.ID, o.Quantity)
	case !o.EndTime.After(o.StartTime):
		return execerr.Invalid("order %s: non-positive window %s -> %s", o.ID,
			o.StartTime.Format(time.RFC3339), o.EndTime.Format(time.RFC3339))
	case o.Urgency < 0 || o.Urgency > 1 || math.IsNaN(o.Urgency):
		return execerr.Invalid("order %s: urgency %v outside [0,1]", o.ID, o.Urgency)
	case o.RiskAversion < 0 || math.IsNaN(o.RiskAversion):
		return execerr.Invalid("order %s: risk aversion %v < 0", o.ID, o.RiskAversion)
	}
	if o.LimitPrice != nil && !(*o.LimitPrice > 0) {
		return execerr.Invalid("order %s: limit price %v must be > 0", o.ID, *o.LimitPrice)
	}
	return nil
}

// Window 执行窗口长度。
func (o Order) Window() time.Duration { return o.EndTime.Sub(o.StartTime) }

// Residual 返回剩余数量与剩余窗口的副本，原单不变。
func (o Order) Residual(quantity int64, start time.Time) Order {
	r := o
	r.Quantity = quantity
	if start.After(r.StartTime) {
		r.StartTime = start
	}
	if o.LimitPrice != nil {
		lp := *o.LimitPrice
		r.LimitPrice = &lp
	}
	return r
}

// Breached 价格是否越过限价（买单高于限价、卖单低于限价）。
func (o Order) Breached(price float64) bool {
	if o.LimitPrice == nil || price <= 0 {
		return false
	}
	if o.Side == SideBuy {
		return price > *o.LimitPrice
	}
	return price < *o.LimitPrice
}

// Price 便于构造可选限价。
func Price(p float64) *float64 { return &p }
