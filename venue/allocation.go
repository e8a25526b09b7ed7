package venue

import (
	"fmt"

	"execution-kit/execerr"
	"execution-kit/order"
)

// Leg 单个场所的分配
type Leg struct {
	VenueID         string  `json:"venue_id"`
	Kind            Kind    `json:"kind"`
	Quantity        int64   `json:"quantity"`
	ExpectedPrice   float64 `json:"expected_price"`
	ExpectedCostBps float64 `json:"expected_cost_bps"`
	Score           float64 `json:"score"`
}

// Allocation 切片的场所分配。Ranking 保留完整的评分顺序，用于拒单后的一次重试。
type Allocation struct {
	SliceID         string     `json:"slice_id"`
	Side            order.Side `json:"side"`
	Quantity        int64      `json:"quantity"`
	Legs            []Leg      `json:"legs"`
	Ranking         []string   `json:"ranking"`
	ExpectedPrice   float64    `json:"expected_price"`
	ExpectedCostBps float64    `json:"expected_cost_bps"`
}

// Total 各腿数量合计
func (a Allocation) Total() int64 {
	var q int64
	for _, l := range a.Legs {
		q += l.Quantity
	}
	return q
}

// Validate 检查分配完整性：各腿合计等于切片数量，数量为正，暗池腿不低于最小量。
func (a Allocation) Validate(venues map[string]Venue) error {
	if total := a.Total(); total != a.Quantity {
		return execerr.Invalid("allocation %s legs sum %d != slice quantity %d", a.SliceID, total, a.Quantity)
	}
	seen := make(map[string]bool, len(a.Legs))
	for _, l := range a.Legs {
		if l.Quantity <= 0 {
			return execerr.Invalid("allocation %s leg %s quantity %d", a.SliceID, l.VenueID, l.Quantity)
		}
		if seen[l.VenueID] {
			return execerr.Invalid("allocation %s duplicate leg %s", a.SliceID, l.VenueID)
		}
		seen[l.VenueID] = true
		v, ok := venues[l.VenueID]
		if !ok {
			return execerr.Invalid("allocation %s unknown venue %s", a.SliceID, l.VenueID)
		}
		if l.Quantity < v.MinSize() {
			return execerr.Invalid("allocation %s leg %s quantity %d below min size %d",
				a.SliceID, l.VenueID, l.Quantity, v.MinSize())
		}
	}
	return nil
}

// NextVenue 返回 Ranking 中排在 failed 之后、且 accept 接受的第一个场所；
// 后面没有可用场所时回到排名开头继续查找。
func (a Allocation) NextVenue(failed string, accept func(id string) bool) (string, bool) {
	start := 0
	for i, id := range a.Ranking {
		if id == failed {
			start = i + 1
			break
		}
	}
	candidates := append(append([]string(nil), a.Ranking[start:]...), a.Ranking[:start]...)
	for _, id := range candidates {
		if id != failed && (accept == nil || accept(id)) {
			return id, true
		}
	}
	return "", false
}

func (l Leg) String() string {
	return fmt.Sprintf("%s:%d@%.4f(%.2fbps)", l.VenueID, l.Quantity, l.ExpectedPrice, l.ExpectedCostBps)
}
