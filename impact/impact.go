// Package impact 实现平方根冲击模型。纯函数，相同输入得到相同输出。
package impact

import (
	"math"

	"execution-kit/execerr"
	"execution-kit/numerics"
)

// Confidence 冲击估计的置信区间（基点）。
type Confidence struct {
	LowBps  float64 `json:"low_bps"`
	HighBps float64 `json:"high_bps"`
}

// Estimate 冲击估计结果，总是附着在请求它的计划或切片上。
type Estimate struct {
	PermanentBps      float64    `json:"permanent_bps"`
	TemporaryBps      float64    `json:"temporary_bps"`
	TotalBps          float64    `json:"total_bps"`
	Confidence        Confidence `json:"confidence"`
	RecommendedSlices int        `json:"recommended_slices"`
	DayFraction       float64    `json:"day_fraction"`
}

// PriceImpact 以价格单位表示的冲击。
type PriceImpact struct {
	Permanent float64 `json:"permanent"`
	Temporary float64 `json:"temporary"`
	Total     float64 `json:"total"`
}

// InPrice 按参考价把基点换算成价格单位。
func (e Estimate) InPrice(ref float64) PriceImpact {
	return PriceImpact{
		Permanent: e.PermanentBps * ref / 1e4,
		Temporary: e.TemporaryBps * ref / 1e4,
		Total:     e.TotalBps * ref / 1e4,
	}
}

// Estimator 参数：
//   - K 平方根系数
//   - PermanentFraction 永久冲击占比（0.3~0.5）
//   - ConfidenceZ / DispersionCV 置信区间宽度 = total * z * cv
//   - BucketsPerDay 一天的切片桶数，用于推荐切片数与最小执行时长
type Estimator struct {
	K                 float64 `yaml:"k" json:"k"`
	PermanentFraction float64 `yaml:"permanentFraction" json:"permanent_fraction"`
	ConfidenceZ       float64 `yaml:"confidenceZ" json:"confidence_z"`
	DispersionCV      float64 `yaml:"dispersionCV" json:"dispersion_cv"`
	BucketsPerDay     int     `yaml:"bucketsPerDay" json:"buckets_per_day"`
}

// Default 默认参数。
func Default() *Estimator {
	return &Estimator{
		K:                 1.0,
		PermanentFraction: 0.4,
		ConfidenceZ:       1.96,
		DispersionCV:      0.3,
		BucketsPerDay:     78,
	}
}

// Validate 检查参数范围。
func (e *Estimator) Validate() error {
	switch {
	case e.K <= 0 || math.IsNaN(e.K) || math.IsInf(e.K, 0):
		return execerr.Invalid("impact k must be positive, got %v", e.K)
	case e.PermanentFraction < 0 || e.PermanentFraction > 1:
		return execerr.Invalid("permanent fraction %v outside [0,1]", e.PermanentFraction)
	case e.ConfidenceZ < 0 || e.DispersionCV < 0:
		return execerr.Invalid("confidence z/cv must be non-negative")
	case e.BucketsPerDay < 1:
		return execerr.Invalid("buckets per day must be >= 1, got %d", e.BucketsPerDay)
	}
	return nil
}

// Estimate 计算冲击。adv<=0、volatility<0、quantity<0、participation 不在 (0,1] 返回 ErrInvalidParameter。
// 临时冲击与执行所占日内比例的平方根成反比：执行越慢，临时冲击越小。
func (e *Estimator) Estimate(quantity, adv, volatility, participation float64) (Estimate, error) {
	if err := e.Validate(); err != nil {
		return Estimate{}, err
	}
	if !(adv > 0) || math.IsInf(adv, 0) {
		return Estimate{}, execerr.Invalid("average daily volume must be > 0, got %v", adv)
	}
	if !(volatility >= 0) || math.IsInf(volatility, 0) {
		return Estimate{}, execerr.Invalid("volatility must be >= 0, got %v", volatility)
	}
	if !(quantity >= 0) || math.IsInf(quantity, 0) {
		return Estimate{}, execerr.Invalid("quantity must be >= 0, got %v", quantity)
	}
	if !(participation > 0) || participation > 1 {
		return Estimate{}, execerr.Invalid("participation must be in (0,1], got %v", participation)
	}

	buckets := float64(e.BucketsPerDay)
	ratio := quantity / adv
	base := e.K * volatility * math.Sqrt(ratio) * 1e4

	dayFraction := numerics.Clamp(ratio/participation, 1/buckets, 1)
	permanent := e.PermanentFraction * base
	temporary := (1 - e.PermanentFraction) * base / math.Sqrt(dayFraction)
	total := permanent + temporary

	width := total * e.ConfidenceZ * e.DispersionCV
	slices := int(math.Ceil(dayFraction*buckets - 1e-9))
	if slices < 1 {
		slices = 1
	}
	if slices > e.BucketsPerDay {
		slices = e.BucketsPerDay
	}

	return Estimate{
		PermanentBps: permanent,
		TemporaryBps: temporary,
		TotalBps:     total,
		Confidence: Confidence{
			LowBps:  math.Max(0, total-width),
			HighBps: total + width,
		},
		RecommendedSlices: slices,
		DayFraction:       dayFraction,
	}, nil
}

// TemporaryBps 只计算临时冲击，供路由按腿估算成本。
func (e *Estimator) TemporaryBps(quantity, adv, volatility, participation float64) float64 {
	est, err := e.Estimate(quantity, adv, volatility, participation)
	if err != nil {
		return 0
	}
	return est.TemporaryBps
}
