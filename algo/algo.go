// Package algo 定义执行算法参数：五种算法组成的带标签联合体，每个计划只激活一种。
package algo

import (
	"math"
	"time"

	"execution-kit/execerr"
	"execution-kit/market"
	"execution-kit/numerics"
)

// Kind 算法标签
type Kind string

const (
	KindTWAP                    Kind = "TWAP"
	KindVWAP                    Kind = "VWAP"
	KindPOV                     Kind = "POV"
	KindArrivalPrice            Kind = "ARRIVAL_PRICE"
	KindImplementationShortfall Kind = "IMPLEMENTATION_SHORTFALL"
)

// Spec 算法参数。实现只限本包内的五种类型，规划器按类型穷举分派。
type Spec interface {
	Kind() Kind
	Validate() error
	isSpec()
}

// TWAP 等时间切片
type TWAP struct {
	Slices int `json:"slices" yaml:"slices"`
}

// VWAP 按历史成交量曲线分配
type VWAP struct {
	Curve market.VolumeCurve `json:"curve" yaml:"curve"`
}

// POV 按市场成交量比例参与；Interval 为开放切片间隔，0 使用规划器默认值。
type POV struct {
	TargetRate float64       `json:"target_rate" yaml:"targetRate"`
	MinRate    float64       `json:"min_rate" yaml:"minRate"`
	MaxRate    float64       `json:"max_rate" yaml:"maxRate"`
	Interval   time.Duration `json:"interval" yaml:"interval"`
}

// ArrivalPrice 前置执行：累计完成比例 F(t) = 1-(1-t/T)^(1+u*k)。Convexity 为 0 时用默认值。
type ArrivalPrice struct {
	Slices    int     `json:"slices" yaml:"slices"`
	Urgency   float64 `json:"urgency" yaml:"urgency"`
	Convexity float64 `json:"convexity" yaml:"convexity"`
}

// ImplementationShortfall Almgren-Chriss 最优轨迹。
// Volatility 为 0 时使用行情快照中的日波动率。
type ImplementationShortfall struct {
	Slices       int     `json:"slices" yaml:"slices"`
	RiskAversion float64 `json:"risk_aversion" yaml:"riskAversion"`
	Volatility   float64 `json:"volatility" yaml:"volatility"`
	Eta          float64 `json:"eta" yaml:"eta"`
}

func (TWAP) Kind() Kind                    { return KindTWAP }
func (VWAP) Kind() Kind                    { return KindVWAP }
func (POV) Kind() Kind                     { return KindPOV }
func (ArrivalPrice) Kind() Kind            { return KindArrivalPrice }
func (ImplementationShortfall) Kind() Kind { return KindImplementationShortfall }

func (TWAP) isSpec()                    {}
func (VWAP) isSpec()                    {}
func (POV) isSpec()                     {}
func (ArrivalPrice) isSpec()            {}
func (ImplementationShortfall) isSpec() {}

func (a TWAP) Validate() error {
	if a.Slices < 1 {
		return execerr.Invalid("twap slices must be >= 1, got %d", a.Slices)
	}
	return nil
}

func (a VWAP) Validate() error {
	if a.Curve.Empty() {
		return execerr.Invalid("vwap volume curve is empty")
	}
	if a.Curve.BucketWidth < 0 {
		return execerr.Invalid("vwap bucket width %s < 0", a.Curve.BucketWidth)
	}
	if _, err := numerics.Normalize(a.Curve.Volumes); err != nil {
		return execerr.Invalid("vwap volume curve: %v", err)
	}
	return nil
}

func (a POV) Validate() error {
	for _, r := range []float64{a.TargetRate, a.MinRate, a.MaxRate} {
		if math.IsNaN(r) || r < 0 || r > 1 {
			return execerr.Invalid("pov rates must be in [0,1], got target=%v min=%v max=%v", a.TargetRate, a.MinRate, a.MaxRate)
		}
	}
	if a.MinRate > a.MaxRate {
		return execerr.Invalid("pov bounds inverted: min %v > max %v", a.MinRate, a.MaxRate)
	}
	if a.MaxRate == 0 || a.TargetRate == 0 {
		return execerr.Invalid("pov target/max rate must be > 0")
	}
	if a.Interval < 0 {
		return execerr.Invalid("pov interval %s < 0", a.Interval)
	}
	return nil
}

// Rate 目标参与率夹在 [Min, Max] 内。
func (a POV) Rate() float64 { return numerics.Clamp(a.TargetRate, a.MinRate, a.MaxRate) }

func (a ArrivalPrice) Validate() error {
	if a.Slices < 1 {
		return execerr.Invalid("arrival price slices must be >= 1, got %d", a.Slices)
	}
	if math.IsNaN(a.Urgency) || a.Urgency < 0 || a.Urgency > 1 {
		return execerr.Invalid("arrival price urgency %v outside [0,1]", a.Urgency)
	}
	if math.IsNaN(a.Convexity) || a.Convexity < 0 {
		return execerr.Invalid("arrival price convexity %v < 0", a.Convexity)
	}
	return nil
}

func (a ImplementationShortfall) Validate() error {
	if a.Slices < 1 {
		return execerr.Invalid("implementation shortfall slices must be >= 1, got %d", a.Slices)
	}
	if math.IsNaN(a.RiskAversion) || a.RiskAversion < 0 {
		return execerr.Invalid("risk aversion %v < 0", a.RiskAversion)
	}
	if math.IsNaN(a.Volatility) || a.Volatility < 0 {
		return execerr.Invalid("volatility %v < 0", a.Volatility)
	}
	if !(a.Eta > 0) || math.IsInf(a.Eta, 0) {
		return execerr.Invalid("temporary impact coefficient eta must be > 0, got %v", a.Eta)
	}
	return nil
}

// SliceCount 规划器需要的离散切片数；POV 返回 0（由窗口与间隔决定）。
func SliceCount(s Spec) int {
	switch a := s.(type) {
	case TWAP:
		return a.Slices
	case ArrivalPrice:
		return a.Slices
	case ImplementationShortfall:
		return a.Slices
	case VWAP:
		return len(a.Curve.Volumes)
	default:
		return 0
	}
}

// WithSlices 返回切片数替换后的副本，重规划时按剩余窗口缩放切片数。
// VWAP 与 POV 原样返回。
func WithSlices(s Spec, n int) Spec {
	if n < 1 {
		n = 1
	}
	switch a := s.(type) {
	case TWAP:
		a.Slices = n
		return a
	case ArrivalPrice:
		a.Slices = n
		return a
	case ImplementationShortfall:
		a.Slices = n
		return a
	default:
		return s
	}
}
