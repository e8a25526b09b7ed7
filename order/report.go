package order

import (
	"time"

	"execution-kit/execerr"
)

// ChildStatus 子单状态；回报中的状态取其中非 NEW 的值。
type ChildStatus string

const (
	ChildNew             ChildStatus = "NEW"
	ChildPartiallyFilled ChildStatus = "PARTIALLY_FILLED"
	ChildFilled          ChildStatus = "FILLED"
	ChildCanceled        ChildStatus = "CANCELED"
	ChildRejected        ChildStatus = "REJECTED"
)

// ExecutionReport 场所异步回报。ExecutedQuantity 为本次增量。
type ExecutionReport struct {
	ChildID          string      `json:"child_id"`
	OrderID          string      `json:"order_id"`
	SliceID          string      `json:"slice_id"`
	Venue            string      `json:"venue"`
	ExecutedQuantity int64       `json:"executed_quantity"`
	Price            float64     `json:"price"`
	Timestamp        time.Time   `json:"timestamp"`
	Status           ChildStatus `json:"status"`
	Reason           string      `json:"reason,omitempty"`
}

// Validate 检查回报字段。
func (r ExecutionReport) Validate() error {
	switch r.Status {
	case ChildPartiallyFilled, ChildFilled, ChildCanceled, ChildRejected:
	default:
		return execerr.Invalid("report %s: status %q", r.ChildID, r.Status)
	}
	if r.ChildID == "" {
		return execerr.Invalid("report without child id")
	}
	if r.ExecutedQuantity < 0 {
		return execerr.Invalid("report %s: negative executed quantity %d", r.ChildID, r.ExecutedQuantity)
	}
	if r.ExecutedQuantity > 0 && !(r.Price > 0) {
		return execerr.Invalid("report %s: fill without price", r.ChildID)
	}
	return nil
}

// ChildOrder 发往单个场所的子单。
type ChildOrder struct {
	ID         string      `json:"id"`
	OrderID    string      `json:"order_id"`
	SliceID    string      `json:"slice_id"`
	Symbol     string      `json:"symbol"`
	Side       Side        `json:"side"`
	Venue      string      `json:"venue"`
	Quantity   int64       `json:"quantity"`
	LimitPrice *float64    `json:"limit_price,omitempty"`
	Attempt    int         `json:"attempt"`
	CreatedAt  time.Time   `json:"created_at"`
	Status     ChildStatus `json:"status"`
	Executed   int64       `json:"executed"`
	AvgPrice   float64     `json:"avg_price"`
	LastError  string      `json:"last_error,omitempty"`
}

// Open 子单是否仍可能产生成交。
func (c ChildOrder) Open() bool { return !c.Status.IsFinal() }

// Remaining 未成交数量。
func (c ChildOrder) Remaining() int64 { return c.Quantity - c.Executed }
