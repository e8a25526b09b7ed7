package market

import (
	"fmt"
	"time"

	"execution-kit/execerr"
)

// VenueQuote 单个场所的可用流动性估计。
type VenueQuote struct {
	Depth           int64   `json:"depth" yaml:"depth"`                      // 可见/估计可成交数量
	FillProbability float64 `json:"fill_probability" yaml:"fillProbability"` // 暗池成交概率；0 表示未知（按 1 处理）
	Price           float64 `json:"price" yaml:"price"`                      // 预期成交价；0 表示使用对侧最优价
}

// Snapshot 在 tick 开始时获取的只读行情快照。
type Snapshot struct {
	Symbol           string                `json:"symbol"`
	Time             time.Time             `json:"time"`
	Quote            Quote                 `json:"quote"`
	Book             OrderBook             `json:"book"`
	ADV              float64               `json:"adv"`
	Volatility       float64               `json:"volatility"` // 日波动率（相对值）
	CumulativeVolume float64               `json:"cumulative_volume"`
	Curve            VolumeCurve           `json:"curve"`
	Venues           map[string]VenueQuote `json:"venues,omitempty"`
}

// Source 行情提供方接口。实现需保证返回的快照不会被后续更新修改。
type Source interface {
	Snapshot(symbol string) (Snapshot, error)
}

// Validate 检查报价与深度一致性。
func (s Snapshot) Validate() error {
	if err := s.Quote.Validate(s.Symbol); err != nil {
		return err
	}
	if err := s.Book.Validate(s.Symbol); err != nil {
		return err
	}
	if s.ADV < 0 || s.Volatility < 0 || s.CumulativeVolume < 0 {
		return fmt.Errorf("%w: %s negative reference data", execerr.ErrCrossedBook, s.Symbol)
	}
	for id, v := range s.Venues {
		if v.Depth < 0 || v.FillProbability < 0 || v.FillProbability > 1 || v.Price < 0 {
			return fmt.Errorf("%w: %s venue %s liquidity %+v", execerr.ErrCrossedBook, s.Symbol, id, v)
		}
	}
	return nil
}

// Mid 优先使用报价，其次深度。
func (s Snapshot) Mid() float64 {
	if m := s.Quote.Mid(); m > 0 {
		return m
	}
	return s.Book.Mid()
}

// Clone 深拷贝可变字段。
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Book = OrderBook{
		Bids: append([]Level(nil), s.Book.Bids...),
		Asks: append([]Level(nil), s.Book.Asks...),
	}
	out.Curve.Volumes = append([]float64(nil), s.Curve.Volumes...)
	if s.Venues != nil {
		out.Venues = make(map[string]VenueQuote, len(s.Venues))
		for k, v := range s.Venues {
			out.Venues[k] = v
		}
	}
	return out
}

// Static 固定快照的 Source，便于测试与一次性规划。
type Static map[string]Snapshot

func (s Static) Snapshot(symbol string) (Snapshot, error) {
	snap, ok := s[symbol]
	if !ok {
		return Snapshot{}, fmt.Errorf("no market data for %s", symbol)
	}
	return snap.Clone(), nil
}
