// Package planner 轨迹规划：把母单按算法拆成带时间戳的子单数量序列。
// 规划要么完整成功，要么返回错误，不产生部分计划。
package planner

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"execution-kit/algo"
	"execution-kit/execerr"
	"execution-kit/impact"
	"execution-kit/market"
	"execution-kit/numerics"
	"execution-kit/order"
	"execution-kit/schedule"
)

// Planner 规划参数
type Planner struct {
	Impact             *impact.Estimator
	TradingDay         time.Duration // 波动率与 ADV 对应的交易日长度
	Epsilon            float64       // κT 低于该值时使用线性轨迹
	DefaultConvexity   float64       // 到达价算法 k 的默认值
	DefaultPOVInterval time.Duration

	Logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

// New 默认参数：交易日 6.5 小时，ε=1e-9，k=2，POV 间隔 1 分钟。
func New(est *impact.Estimator, logger *zap.Logger) *Planner {
	if est == nil {
		est = impact.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		Impact:             est,
		TradingDay:         6*time.Hour + 30*time.Minute,
		Epsilon:            1e-9,
		DefaultConvexity:   2,
		DefaultPOVInterval: time.Minute,
		Logger:             logger,
		now:                time.Now,
		newID:              uuid.NewString,
	}
}

// Plan 生成初始计划（版本 1，原因 INITIAL）。
// 校验顺序：母单、算法参数、行情快照（交叉报价返回 ErrCrossedBook），然后生成切片。
func (p *Planner) Plan(o order.Order, spec algo.Spec, model market.Snapshot) (*schedule.Schedule, error) {
	return p.build(o, spec, model, 1, schedule.ReasonInitial)
}

// Replan 对剩余数量与剩余窗口重新规划。original 为原始母单，用于按剩余窗口缩放切片数；
// residual 为 Order.Residual 生成的副本。失败时不影响 prev。
func (p *Planner) Replan(prev *schedule.Schedule, original, residual order.Order, spec algo.Spec, model market.Snapshot, reason schedule.ReplanReason) (*schedule.Schedule, error) {
	version := 1
	if prev != nil {
		version = prev.Version + 1
	}
	return p.build(residual, ForResidual(spec, original, residual), model, version, reason)
}

// ForResidual 调整算法参数以适配剩余窗口：离散切片数按窗口占比缩放，
// 未锚定的 VWAP 曲线锚定在原始窗口上，使剩余窗口只取曲线尾部。
func ForResidual(spec algo.Spec, original, residual order.Order) algo.Spec {
	if v, ok := spec.(algo.VWAP); ok {
		v.Curve = v.Curve.Anchor(original.StartTime, original.EndTime)
		return v
	}
	n := algo.SliceCount(spec)
	if n == 0 {
		return spec
	}
	full := original.Window().Seconds()
	remaining := residual.EndTime.Sub(residual.StartTime).Seconds()
	return algo.WithSlices(spec, ReplanSlices(n, full, remaining))
}

func (p *Planner) build(o order.Order, spec algo.Spec, model market.Snapshot, version int, reason schedule.ReplanReason) (*schedule.Schedule, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if spec == nil {
		return nil, execerr.Invalid("order %s: algorithm spec required", o.ID)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}

	var (
		slices []schedule.Slice
		err    error
	)
	switch a := spec.(type) {
	case algo.TWAP:
		slices = p.twap(o, a)
	case algo.VWAP:
		slices, err = p.vwap(o, a)
	case algo.POV:
		slices = p.pov(o, a)
	case algo.ArrivalPrice:
		slices = p.arrival(o, a)
	case algo.ImplementationShortfall:
		slices = p.shortfall(o, a, model)
	default:
		return nil, execerr.Invalid("unsupported algorithm %T", spec)
	}
	if err != nil {
		return nil, err
	}

	id := p.newID()
	slices = finalize(id, o, slices)
	s := &schedule.Schedule{
		ID:                id,
		OrderID:           o.ID,
		Symbol:            o.Symbol,
		Side:              o.Side,
		Algorithm:         spec.Kind(),
		Version:           version,
		Quantity:          o.Quantity,
		Start:             o.StartTime,
		End:               o.EndTime,
		Slices:            slices,
		EstimatedDuration: o.Window(),
		Reason:            reason,
		CreatedAt:         p.now().UTC(),
	}
	p.attachCost(s, o, spec, model)
	if err := s.Validate(); err != nil {
		// 生成逻辑的内部错误，不返回部分计划
		return nil, fmt.Errorf("plan %s: %w", o.ID, err)
	}
	p.Logger.Debug("schedule planned",
		zap.String("order_id", o.ID),
		zap.String("algo", string(spec.Kind())),
		zap.Int("version", version),
		zap.String("reason", string(reason)),
		zap.Int("slices", len(s.Slices)),
		zap.Int64("quantity", s.Quantity),
		zap.Float64("cost_bps", s.EstimatedCostBps),
	)
	return s, nil
}

// boundaries 把窗口等分为 n 段，返回各段起点。
func boundaries(start, end time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	step := end.Sub(start) / time.Duration(n)
	for i := range out {
		out[i] = start.Add(step * time.Duration(i))
	}
	return out
}

func (p *Planner) twap(o order.Order, a algo.TWAP) []schedule.Slice {
	times := boundaries(o.StartTime, o.EndTime, a.Slices)
	return fixed(o, times, numerics.SplitEven(o.Quantity, a.Slices))
}

func (p *Planner) vwap(o order.Order, a algo.VWAP) ([]schedule.Slice, error) {
	buckets := a.Curve.Window(o.StartTime, o.EndTime)
	if len(buckets) == 0 {
		return nil, execerr.Invalid("vwap curve does not overlap window %s -> %s",
			o.StartTime.Format(time.RFC3339), o.EndTime.Format(time.RFC3339))
	}
	vols := make([]float64, len(buckets))
	times := make([]time.Time, len(buckets))
	for i, b := range buckets {
		vols[i] = b.Volume
		times[i] = b.Start
	}
	weights, err := numerics.Normalize(vols)
	if err != nil {
		return nil, fmt.Errorf("vwap curve within window: %w", err)
	}
	qty := numerics.AllocateCumulative(o.Quantity, numerics.Cumulative(weights))
	return fixed(o, times, qty), nil
}

func (p *Planner) pov(o order.Order, a algo.POV) []schedule.Slice {
	interval := a.Interval
	if interval <= 0 {
		interval = p.DefaultPOVInterval
	}
	n := int(math.Ceil(float64(o.Window()) / float64(interval)))
	if n < 1 {
		n = 1
	}
	nominal := numerics.SplitEven(o.Quantity, n)
	bounds := schedule.POVBounds{Target: a.TargetRate, Min: a.MinRate, Max: a.MaxRate}
	slices := make([]schedule.Slice, 0, n)
	for i := 0; i < n; i++ {
		b := bounds
		slices = append(slices, schedule.Slice{
			Time:     o.StartTime.Add(interval * time.Duration(i)),
			Quantity: nominal[i],
			Open:     true,
			Bounds:   &b,
		})
	}
	return slices
}

func (p *Planner) arrival(o order.Order, a algo.ArrivalPrice) []schedule.Slice {
	k := a.Convexity
	if k == 0 {
		k = p.DefaultConvexity
	}
	cum := ArrivalFractions(a.Slices, a.Urgency, k)
	times := boundaries(o.StartTime, o.EndTime, a.Slices)
	return fixed(o, times, numerics.AllocateCumulative(o.Quantity, cum))
}

// shortfall Almgren-Chriss。σ 为相对日波动率，快照带中间价时换算为价格波动率 σ·mid，
// 与 η（每单位交易速率的价格冲击）量纲一致；T 以交易日计。
// 算法参数未给 λ 时取母单的风险厌恶系数。
func (p *Planner) shortfall(o order.Order, a algo.ImplementationShortfall, model market.Snapshot) []schedule.Slice {
	sigma := a.Volatility
	if sigma == 0 {
		sigma = model.Volatility
	}
	if mid := model.Mid(); mid > 0 {
		sigma *= mid
	}
	lambda := a.RiskAversion
	if lambda == 0 {
		lambda = o.RiskAversion
	}
	kappa := Kappa(lambda, sigma, a.Eta)
	T := float64(o.Window()) / float64(p.TradingDay)
	times := boundaries(o.StartTime, o.EndTime, a.Slices)

	cum, ok := ShortfallFractions(kappa, T, a.Slices, p.Epsilon)
	if !ok {
		p.Logger.Debug("almgren-chriss degenerate, using linear trajectory",
			zap.String("order_id", o.ID), zap.Float64("kappa", kappa), zap.Float64("T", T))
		return fixed(o, times, numerics.SplitEven(o.Quantity, a.Slices))
	}
	return fixed(o, times, numerics.AllocateCumulative(o.Quantity, cum))
}

func fixed(o order.Order, times []time.Time, qty []int64) []schedule.Slice {
	out := make([]schedule.Slice, len(times))
	for i := range times {
		out[i] = schedule.Slice{Time: times[i], Quantity: qty[i]}
	}
	return out
}

// finalize 丢弃零数量切片，补齐 ID、序号、限价、状态与紧迫度权重。
// 紧迫度权重 = max(母单紧迫度, 切片时刻已消耗的窗口比例)。
func finalize(scheduleID string, o order.Order, slices []schedule.Slice) []schedule.Slice {
	out := make([]schedule.Slice, 0, len(slices))
	window := float64(o.Window())
	for _, sl := range slices {
		if sl.Quantity <= 0 {
			continue
		}
		sl.Seq = len(out)
		sl.ID = fmt.Sprintf("%s-%d", scheduleID, sl.Seq)
		sl.Status = order.SlicePlanned
		if o.LimitPrice != nil {
			lp := *o.LimitPrice
			sl.LimitPrice = &lp
		}
		elapsed := float64(sl.Time.Sub(o.StartTime)) / window
		sl.Urgency = math.Max(o.Urgency, numerics.Clamp(elapsed, 0, 1))
		out = append(out, sl)
	}
	return out
}

// attachCost 附加冲击估计与预估成本。ADV 缺失时不估计冲击，只计半价差。
func (p *Planner) attachCost(s *schedule.Schedule, o order.Order, spec algo.Spec, model market.Snapshot) {
	halfSpread := model.Quote.HalfSpreadBps()
	s.EstimatedCostBps = halfSpread
	if model.ADV <= 0 {
		return
	}
	q := float64(o.Quantity)
	days := float64(o.Window()) / float64(p.TradingDay)
	var participation float64
	if pov, ok := spec.(algo.POV); ok {
		participation = pov.Rate()
		// 按参与率完成所需时间，不超过窗口
		need := time.Duration(q / (participation * model.ADV) * float64(p.TradingDay))
		if need > 0 && need < s.EstimatedDuration {
			s.EstimatedDuration = need
		}
	} else {
		participation = numerics.Clamp(q/(model.ADV*math.Max(days, 1e-9)), 1e-9, 1)
	}
	est, err := p.Impact.Estimate(q, model.ADV, model.Volatility, participation)
	if err != nil {
		p.Logger.Warn("impact estimate failed", zap.String("order_id", o.ID), zap.Error(err))
		return
	}
	s.Impact = &est
	s.EstimatedCostBps = est.TotalBps + halfSpread
	if mid := model.Mid(); mid > 0 {
		px := est.InPrice(mid)
		s.ImpactPrice = &px
	}
}
