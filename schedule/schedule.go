// Package schedule 执行计划：构造后不可变，重规划时整体替换并追加到历史。
package schedule

import (
	"encoding/json"
	"math"
	"time"

	"execution-kit/algo"
	"execution-kit/execerr"
	"execution-kit/impact"
	"execution-kit/numerics"
	"execution-kit/order"
	"execution-kit/venue"
)

// ReplanReason 计划生成原因
type ReplanReason string

const (
	ReasonInitial            ReplanReason = "INITIAL"
	ReasonResidual           ReplanReason = "RESIDUAL"
	ReasonParticipationDrift ReplanReason = "PARTICIPATION_DRIFT"
	ReasonPriceLimit         ReplanReason = "PRICE_LIMIT"
	ReasonSlippage           ReplanReason = "SLIPPAGE"
	ReasonRejection          ReplanReason = "REJECTION"
)

// POVBounds 开放切片的参与率上下界；实际数量在派发时按观测成交量计算。
type POVBounds struct {
	Target float64 `json:"target"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Rate 目标参与率夹在 [Min, Max]。
func (b POVBounds) Rate() float64 { return numerics.Clamp(b.Target, b.Min, b.Max) }

// Range 观测成交量对应的数量区间 [Min·vol, Max·vol]。
func (b POVBounds) Range(observedVolume float64) (lo, hi int64) {
	if !(observedVolume > 0) {
		return 0, 0
	}
	return int64(math.Floor(b.Min * observedVolume)), int64(math.Floor(b.Max * observedVolume))
}

// Size 派发数量 = clamp(target)·vol，落在 Range 内，且不超过 available。
func (b POVBounds) Size(observedVolume float64, available int64) int64 {
	lo, hi := b.Range(observedVolume)
	if hi <= 0 || available <= 0 {
		return 0
	}
	q := int64(math.Floor(b.Rate() * observedVolume))
	if q < lo {
		q = lo
	}
	if q > hi {
		q = hi
	}
	if q > available {
		q = available
	}
	return q
}

// Slice 计划中的一个子单时间片。Open 切片（POV）的 Quantity 为名义分配，派发时重新计算。
type Slice struct {
	ID         string            `json:"id"`
	Seq        int               `json:"seq"`
	Time       time.Time         `json:"time"`
	Quantity   int64             `json:"quantity"`
	LimitPrice *float64          `json:"limit_price,omitempty"`
	Urgency    float64           `json:"urgency"`
	Open       bool              `json:"open,omitempty"`
	Bounds     *POVBounds        `json:"bounds,omitempty"`
	Status     order.SliceStatus `json:"status"`
	Allocation *venue.Allocation `json:"allocation,omitempty"`
}

// Schedule 不可变的执行计划。切片状态由监控器单独维护，读取时通过 WithStatus 得到带状态的副本。
type Schedule struct {
	ID                string              `json:"id"`
	OrderID           string              `json:"order_id"`
	Symbol            string              `json:"symbol"`
	Side              order.Side          `json:"side"`
	Algorithm         algo.Kind           `json:"algorithm"`
	Version           int                 `json:"version"`
	Quantity          int64               `json:"quantity"`
	Start             time.Time           `json:"start"`
	End               time.Time           `json:"end"`
	Slices            []Slice             `json:"slices"`
	Impact            *impact.Estimate    `json:"impact,omitempty"`
	ImpactPrice       *impact.PriceImpact `json:"impact_price,omitempty"` // 按规划时中间价换算的每股冲击
	EstimatedCostBps  float64             `json:"estimated_cost_bps"`
	EstimatedDuration time.Duration       `json:"estimated_duration"`
	Reason            ReplanReason        `json:"reason"`
	CreatedAt         time.Time           `json:"created_at"`
}

// Total 切片数量合计
func (s *Schedule) Total() int64 {
	var q int64
	for _, sl := range s.Slices {
		q += sl.Quantity
	}
	return q
}

// Validate 检查计划不变量：切片时间非递减、数量为正、合计等于计划数量。
func (s *Schedule) Validate() error {
	if len(s.Slices) == 0 {
		return execerr.Invalid("schedule %s has no slices", s.ID)
	}
	if total := s.Total(); total != s.Quantity {
		return execerr.Invalid("schedule %s slices sum %d != quantity %d", s.ID, total, s.Quantity)
	}
	ids := make(map[string]bool, len(s.Slices))
	for i, sl := range s.Slices {
		if sl.Quantity <= 0 {
			return execerr.Invalid("schedule %s slice %d quantity %d", s.ID, i, sl.Quantity)
		}
		if i > 0 && sl.Time.Before(s.Slices[i-1].Time) {
			return execerr.Invalid("schedule %s slice %d out of time order", s.ID, i)
		}
		if sl.Open && sl.Bounds == nil {
			return execerr.Invalid("schedule %s open slice %d without bounds", s.ID, i)
		}
		if ids[sl.ID] {
			return execerr.Invalid("schedule %s duplicate slice id %s", s.ID, sl.ID)
		}
		ids[sl.ID] = true
	}
	return nil
}

// Slice 按 ID 查找切片。
func (s *Schedule) Slice(id string) (Slice, bool) {
	for _, sl := range s.Slices {
		if sl.ID == id {
			return sl, true
		}
	}
	return Slice{}, false
}

// Quantities 各切片数量
func (s *Schedule) Quantities() []int64 {
	out := make([]int64, len(s.Slices))
	for i, sl := range s.Slices {
		out[i] = sl.Quantity
	}
	return out
}

// Clone 深拷贝
func (s *Schedule) Clone() *Schedule {
	if s == nil {
		return nil
	}
	out := *s
	out.Slices = make([]Slice, len(s.Slices))
	for i, sl := range s.Slices {
		out.Slices[i] = sl.clone()
	}
	if s.Impact != nil {
		est := *s.Impact
		out.Impact = &est
	}
	if s.ImpactPrice != nil {
		px := *s.ImpactPrice
		out.ImpactPrice = &px
	}
	return &out
}

func (sl Slice) clone() Slice {
	out := sl
	if sl.LimitPrice != nil {
		lp := *sl.LimitPrice
		out.LimitPrice = &lp
	}
	if sl.Bounds != nil {
		b := *sl.Bounds
		out.Bounds = &b
	}
	if sl.Allocation != nil {
		a := *sl.Allocation
		a.Legs = append([]venue.Leg(nil), sl.Allocation.Legs...)
		a.Ranking = append([]string(nil), sl.Allocation.Ranking...)
		out.Allocation = &a
	}
	return out
}

// Annotation 监控器维护的切片运行时信息
type Annotation struct {
	Status     order.SliceStatus
	Allocation *venue.Allocation
}

// WithStatus 返回附带运行时状态的副本，原计划不变。
func (s *Schedule) WithStatus(ann map[string]Annotation) *Schedule {
	out := s.Clone()
	for i := range out.Slices {
		a, ok := ann[out.Slices[i].ID]
		if !ok {
			continue
		}
		if a.Status != "" {
			out.Slices[i].Status = a.Status
		}
		if a.Allocation != nil {
			alloc := *a.Allocation
			alloc.Legs = append([]venue.Leg(nil), a.Allocation.Legs...)
			alloc.Ranking = append([]string(nil), a.Allocation.Ranking...)
			out.Slices[i].Allocation = &alloc
		}
	}
	return out
}

// Marshal 序列化为 JSON，时间使用 RFC3339Nano，数量为整数。
func Marshal(s *Schedule) ([]byte, error) { return json.Marshal(s) }

// Unmarshal 从 JSON 还原并校验。
func Unmarshal(data []byte) (*Schedule, error) {
	var s Schedule
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
