// Package monitor 单个母单的执行监控：按时钟派发到期切片、处理成交回报、偏离时重规划。
//
// Activate / Tick / OnExecutionReport 修改状态，由调用方（engine.Actor）串行调用；
// Status / Schedule / History 等读取方法可以在任意 goroutine 中调用。
// 撤单是协作式的：Cancel 只设置标记，在下一次 Tick 开始时以及每次派发前检查。
package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"execution-kit/algo"
	"execution-kit/execerr"
	"execution-kit/market"
	"execution-kit/numerics"
	"execution-kit/order"
	"execution-kit/planner"
	"execution-kit/posttrade"
	"execution-kit/risk"
	"execution-kit/router"
	"execution-kit/schedule"
	"execution-kit/venue"
)

var (
	ErrNotActive     = errors.New("monitor not active")
	ErrAlreadyActive = errors.New("monitor already activated")
)

// maxAttempts 同一子单数量最多尝试的场所数（首次 + 一次重试）。
const maxAttempts = 2

// Config 监控容差
type Config struct {
	ParticipationTolerance float64       `yaml:"participationTolerance"` // POV 实际参与率与目标的绝对偏差上限
	SlippageThresholdBps   float64       `yaml:"slippageThresholdBps"`   // 相对上次重规划的新增滑点；<=0 关闭
	HoldRecheck            time.Duration `yaml:"holdRecheck"`            // 限价越界或行情异常时的复查间隔
}

// DefaultConfig 默认容差：参与率 ±5%，滑点 50bps，复查 5 秒。
func DefaultConfig() Config {
	return Config{
		ParticipationTolerance: 0.05,
		SlippageThresholdBps:   50,
		HoldRecheck:            5 * time.Second,
	}
}

// Deps 监控器依赖
type Deps struct {
	Planner    *planner.Planner
	Router     *router.Router
	Market     market.Source
	Venues     []venue.Venue
	Compliance risk.Compliance
	Observer   Observer
	Logger     *zap.Logger
	NewID      func() string
}

// Status 母单状态快照
type Status struct {
	OrderID         string      `json:"order_id"`
	Symbol          string      `json:"symbol"`
	Side            order.Side  `json:"side"`
	Algorithm       algo.Kind   `json:"algorithm"`
	State           order.State `json:"state"`
	Quantity        int64       `json:"quantity"`
	Filled          int64       `json:"filled"`
	InFlight        int64       `json:"in_flight"`
	Residual        int64       `json:"residual"`
	AvgPrice        float64     `json:"avg_price"`
	ArrivalPrice    float64     `json:"arrival_price"`
	SlippageBps     float64     `json:"slippage_bps"`
	ScheduleVersion int         `json:"schedule_version"`
	Replans         int         `json:"replans"`
	Failures        int         `json:"failures"`
	Held            bool        `json:"held"`
	CancelRequested bool        `json:"cancel_requested"`
	Reason          string      `json:"reason,omitempty"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// TickResult 一次 Tick 的输出。NextWake 为零表示只需等待回报。
type TickResult struct {
	Commands []order.ChildOrder
	NextWake time.Time
	Done     bool
}

// Outcome 处理回报的结果。Commands 为拒单重试需要下发的子单。
type Outcome struct {
	Commands  []order.ChildOrder
	Failure   *execerr.ExecutionFailure
	Replanned bool
	State     order.State
}

type dueItem struct {
	at  time.Time
	seq int
	id  string
}

func dueLess(a, b dueItem) bool {
	if !a.at.Equal(b.at) {
		return a.at.Before(b.at)
	}
	return a.seq < b.seq
}

type sliceState struct {
	slice      schedule.Slice
	status     order.SliceStatus
	alloc      *venue.Allocation
	dispatched int64
	failed     bool // 有子单重试后仍被拒绝
}

// Monitor 单个母单的执行状态机。
type Monitor struct {
	ord      order.Order
	spec     algo.Spec
	cfg      Config
	deps     Deps
	venues   map[string]venue.Venue
	observer Observer
	logger   *zap.Logger
	newID    func() string

	cancel atomic.Bool
	sched  atomic.Pointer[schedule.Schedule]

	mu       sync.RWMutex
	state    order.State
	history  *schedule.History
	slices   map[string]*sliceState
	due      *btree.BTreeG[dueItem]
	children *order.ChildBook
	fills    *order.FillTracker
	analyzer *posttrade.Analyzer

	cleared  bool // 事前合规已通过，重试激活不再调用
	held     bool
	expiring bool
	slipMark float64

	volumeMark  float64 // 上次派发开放切片时的累计成交量
	driftVolume float64
	driftSince  time.Time
	driftArmed  bool

	replans  int
	failures int
	reason   string
	updated  time.Time
}

// New 创建监控器，母单处于 PENDING。
func New(o order.Order, spec algo.Spec, cfg Config, deps Deps) (*Monitor, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}
	if spec == nil {
		return nil, execerr.Invalid("order %s: algorithm spec required", o.ID)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if deps.Planner == nil || deps.Router == nil || deps.Market == nil {
		return nil, fmt.Errorf("monitor %s: planner, router and market source are required", o.ID)
	}
	if len(deps.Venues) == 0 {
		return nil, execerr.Invalid("order %s: no venues", o.ID)
	}
	if deps.Compliance == nil {
		deps.Compliance = risk.AllowAll
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	observer := deps.Observer
	if observer == nil {
		observer = NopObserver{}
	}
	if cfg.HoldRecheck <= 0 {
		cfg.HoldRecheck = DefaultConfig().HoldRecheck
	}
	return &Monitor{
		ord:      o,
		spec:     spec,
		cfg:      cfg,
		deps:     deps,
		venues:   venue.Index(deps.Venues),
		observer: observer,
		logger:   deps.Logger.With(zap.String("order_id", o.ID), zap.String("symbol", o.Symbol)),
		newID:    deps.NewID,
		state:    order.StatePending,
		history:  schedule.NewHistory(),
		slices:   make(map[string]*sliceState),
		due:      btree.NewG(8, dueLess),
		children: order.NewChildBook(),
		fills:    order.NewFillTracker(),
		analyzer: posttrade.NewAnalyzer(o.Side, 0),
	}, nil
}

// Order 母单
func (m *Monitor) Order() order.Order { return m.ord }

// Spec 算法参数
func (m *Monitor) Spec() algo.Spec { return m.spec }

// Cancel 请求撤单。只设置标记；未派发切片在下一次 Tick 作废，已派发子单等待自然结束。
func (m *Monitor) Cancel() {
	if m.cancel.CompareAndSwap(false, true) {
		m.logger.Info("cancel requested")
	}
}

// SetConfig 热更新容差
func (m *Monitor) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg.HoldRecheck <= 0 {
		cfg.HoldRecheck = m.cfg.HoldRecheck
	}
	m.cfg = cfg
}

// Activate 事前合规 + 初始规划。合规拒绝进入 CANCELED；行情或规划失败保持 PENDING 并返回错误。
func (m *Monitor) Activate(ctx context.Context, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != order.StatePending {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyActive, m.ord.ID, m.state)
	}
	m.updated = now
	if m.cancel.Load() {
		m.finish(order.StateCanceled, "canceled before activation")
		return nil
	}

	snap, err := m.deps.Market.Snapshot(m.ord.Symbol)
	if err != nil {
		return fmt.Errorf("activate %s: %w", m.ord.ID, err)
	}
	// 行情不可用时不占用合规额度，保持 PENDING 等待重试
	if err := snap.Validate(); err != nil {
		return err
	}
	if !m.cleared {
		dec, err := m.deps.Compliance.PreTrade(ctx, m.ord, snap)
		if err != nil {
			return fmt.Errorf("activate %s: compliance: %w", m.ord.ID, err)
		}
		if !dec.Pass {
			m.finish(order.StateCanceled, "compliance: "+dec.Reason)
			return fmt.Errorf("%w: %s %s", execerr.ErrComplianceRejected, m.ord.ID, dec.Reason)
		}
		m.cleared = true
	}

	s, err := m.deps.Planner.Plan(m.ord, m.spec, snap)
	if err != nil {
		m.logger.Warn("initial plan failed", zap.Error(err))
		return err
	}
	if err := m.transition(order.StateScheduled); err != nil {
		return err
	}
	m.analyzer = posttrade.NewAnalyzer(m.ord.Side, snap.Mid())
	m.volumeMark = snap.CumulativeVolume
	m.driftVolume = snap.CumulativeVolume
	m.driftSince = now
	m.install(s)
	m.logger.Info("order scheduled",
		zap.String("algo", string(s.Algorithm)),
		zap.Int("slices", len(s.Slices)),
		zap.Float64("arrival", snap.Mid()),
		zap.Float64("est_cost_bps", s.EstimatedCostBps),
	)
	return nil
}

// Tick 时钟驱动：撤单标记、到期检查、限价越界/恢复、POV 参与率偏离，然后派发所有到期切片。
func (m *Monitor) Tick(now time.Time) (TickResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updated = now

	if m.state.IsFinal() {
		return TickResult{Done: true}, nil
	}
	if m.state == order.StatePending {
		if m.cancel.Load() {
			m.finish(order.StateCanceled, "canceled before activation")
			return TickResult{Done: true}, nil
		}
		return TickResult{}, fmt.Errorf("%w: %s", ErrNotActive, m.ord.ID)
	}

	if m.state == order.StateScheduled && !now.Before(m.firstDue()) && now.Before(m.ord.EndTime) {
		if err := m.transition(order.StateExecuting); err != nil {
			return m.result(now), err
		}
	}
	if m.cancel.Load() {
		m.beginCancel()
		return m.result(now), nil
	}
	if !now.Before(m.ord.EndTime) {
		m.beginExpiry()
		return m.result(now), nil
	}

	snap, err := m.deps.Market.Snapshot(m.ord.Symbol)
	if err != nil {
		return m.result(now), fmt.Errorf("tick %s: %w", m.ord.ID, err)
	}
	if err := snap.Validate(); err != nil {
		m.logger.Warn("market snapshot rejected, dispatch skipped", zap.Error(err))
		return m.result(now), err
	}

	m.checkPriceLimit(now, snap)
	m.checkParticipation(now, snap)
	cmds := m.dispatchDue(now, snap)

	res := m.result(now)
	res.Commands = cmds
	return res, nil
}

// OnExecutionReport 应用一条回报。子单结束后结算切片；成交不足时对剩余数量重规划，
// 拒单换下一个场所重试一次，再次拒绝返回 ExecutionFailure 并按零成交处理。
func (m *Monitor) OnExecutionReport(r order.ExecutionReport) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == order.StatePending {
		return Outcome{State: m.state}, fmt.Errorf("%w: %s", ErrNotActive, m.ord.ID)
	}
	if r.OrderID != "" && r.OrderID != m.ord.ID {
		return Outcome{State: m.state}, execerr.Invalid("report %s for order %s delivered to %s", r.ChildID, r.OrderID, m.ord.ID)
	}
	if m.state.IsFinal() {
		return Outcome{State: m.state}, fmt.Errorf("report %s after order %s is %s", r.ChildID, m.ord.ID, m.state)
	}
	// 回报时间不早于监控器时钟，保证成交按时间窗口统计时不遗漏
	now := r.Timestamp
	if now.IsZero() || now.Before(m.updated) {
		now = m.updated
	}
	m.updated = now

	c, err := m.children.Apply(r)
	if err != nil {
		return Outcome{State: m.state}, err
	}

	var out Outcome
	if r.ExecutedQuantity > 0 {
		m.fills.Record(order.Fill{
			ChildID:  c.ID,
			SliceID:  c.SliceID,
			Venue:    c.Venue,
			Price:    r.Price,
			Quantity: r.ExecutedQuantity,
			Time:     now,
		})
		m.analyzer.OnFill(c.Venue, r.ExecutedQuantity, r.Price)
		m.observer.Filled(m.ord.ID, c.Venue, r.ExecutedQuantity, r.Price)
	}

	ss := m.slices[c.SliceID]
	if c.Status == order.ChildRejected {
		m.observer.ChildRejected(c)
		if retry, ok := m.retry(now, ss, c); ok {
			out.Commands = append(out.Commands, retry)
		} else if !m.winding() {
			out.Failure = m.failure(c, r.Reason)
			if ss != nil {
				ss.failed = true
			}
		}
	}

	shortfall := false
	if ss != nil && c.Status.IsFinal() && ss.status == order.SliceDispatched && m.children.OpenForSlice(c.SliceID) == 0 {
		shortfall = m.resolveSlice(ss)
	}

	switch {
	case m.fills.Filled() >= m.ord.Quantity:
		m.finish(order.StateCompleted, "filled")
	case m.winding() && len(m.children.Open()) == 0:
		m.finishWinding()
	case m.winding():
	case shortfall:
		reason := schedule.ReasonResidual
		if ss.failed {
			reason = schedule.ReasonRejection
		}
		out.Replanned = m.replanWithSnapshot(now, reason)
	case r.ExecutedQuantity > 0:
		out.Replanned = m.checkSlippage(now)
	}
	out.State = m.state
	return out, nil
}

// Status 当前状态快照
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status()
}

// Current 当前生效的计划（不带运行时状态），无锁读取。
func (m *Monitor) Current() *schedule.Schedule { return m.sched.Load() }

// Schedule 当前计划的副本，切片带运行时状态与场所分配。
func (m *Monitor) Schedule() *schedule.Schedule {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cur := m.sched.Load()
	if cur == nil {
		return nil
	}
	ann := make(map[string]schedule.Annotation, len(cur.Slices))
	for _, sl := range cur.Slices {
		if ss, ok := m.slices[sl.ID]; ok {
			ann[sl.ID] = schedule.Annotation{Status: ss.status, Allocation: ss.alloc}
		}
	}
	return cur.WithStatus(ann)
}

// History 计划历史（含重规划原因）
func (m *Monitor) History() []*schedule.Schedule { return m.history.Entries() }

// Fills 成交明细
func (m *Monitor) Fills() []order.Fill { return m.fills.Fills() }

// Children 某切片下的子单
func (m *Monitor) Children(sliceID string) []order.ChildOrder { return m.children.ForSlice(sliceID) }

// OpenChildren 未结束的子单
func (m *Monitor) OpenChildren() []order.ChildOrder { return m.children.Open() }

// FilledByVenue 各场所累计成交
func (m *Monitor) FilledByVenue() map[string]int64 { return m.fills.ByVenue() }

// Analysis 滑点统计
func (m *Monitor) Analysis() posttrade.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.analyzer.Stats()
}

func (m *Monitor) status() Status {
	filled := m.fills.Filled()
	st := Status{
		OrderID:         m.ord.ID,
		Symbol:          m.ord.Symbol,
		Side:            m.ord.Side,
		Algorithm:       m.spec.Kind(),
		State:           m.state,
		Quantity:        m.ord.Quantity,
		Filled:          filled,
		InFlight:        m.children.InFlight(),
		Residual:        m.ord.Quantity - filled,
		AvgPrice:        m.fills.AvgPrice(),
		ArrivalPrice:    m.analyzer.Arrival(),
		SlippageBps:     m.analyzer.SlippageBps(),
		Replans:         m.replans,
		Failures:        m.failures,
		Held:            m.held,
		CancelRequested: m.cancel.Load(),
		Reason:          m.reason,
		UpdatedAt:       m.updated,
	}
	if s := m.sched.Load(); s != nil {
		st.ScheduleVersion = s.Version
	}
	return st
}

func (m *Monitor) transition(to order.State) error {
	if err := order.OrderStates().ValidateTransition(m.state, to); err != nil {
		return fmt.Errorf("order %s: %w", m.ord.ID, err)
	}
	m.state = to
	return nil
}

func (m *Monitor) setSlice(ss *sliceState, to order.SliceStatus) {
	if err := order.SliceStates().ValidateTransition(ss.status, to); err != nil {
		m.logger.Error("slice transition", zap.String("slice_id", ss.slice.ID), zap.Error(err))
		return
	}
	ss.status = to
	if to.IsFinal() {
		m.observer.SliceResolved(m.ord.ID, ss.slice.ID, to)
	}
}

// install 安装新计划并重建到期队列。调用前旧计划的未派发切片必须已作废。
func (m *Monitor) install(s *schedule.Schedule) {
	m.sched.Store(s)
	if err := m.history.Append(s); err != nil {
		m.logger.Error("schedule history append", zap.Error(err))
	}
	m.due.Clear(false)
	for _, sl := range s.Slices {
		m.slices[sl.ID] = &sliceState{slice: sl, status: order.SlicePlanned}
		m.due.ReplaceOrInsert(dueItem{at: sl.Time, seq: sl.Seq, id: sl.ID})
	}
	m.slipMark = m.analyzer.SlippageBps()
	m.observer.ScheduleInstalled(s)
}

// voidPending 作废所有未派发切片。
func (m *Monitor) voidPending() {
	m.due.Ascend(func(it dueItem) bool {
		if ss, ok := m.slices[it.id]; ok && !ss.status.IsFinal() && ss.status != order.SliceDispatched {
			m.setSlice(ss, order.SliceCanceled)
		}
		return true
	})
	m.due.Clear(false)
}

func (m *Monitor) firstDue() time.Time {
	if it, ok := m.due.Min(); ok {
		return it.at
	}
	return m.ord.EndTime
}

// winding 撤单或到期后等待在途子单结束。
func (m *Monitor) winding() bool { return m.cancel.Load() || m.expiring }

func (m *Monitor) beginCancel() {
	m.voidPending()
	if len(m.children.Open()) == 0 {
		m.finishWinding()
	}
}

func (m *Monitor) beginExpiry() {
	m.voidPending()
	m.expiring = true
	if len(m.children.Open()) == 0 {
		m.finishWinding()
	}
}

// finishWinding 在途子单全部结束后定终态：成交完毕为 COMPLETED，否则按撤单或到期。
func (m *Monitor) finishWinding() {
	switch {
	case m.fills.Filled() >= m.ord.Quantity:
		m.finish(order.StateCompleted, "filled")
	case m.cancel.Load():
		m.finish(order.StateCanceled, "cancel requested")
	default:
		m.finish(order.StateExpired, "end time reached")
	}
}

func (m *Monitor) finish(to order.State, reason string) {
	if err := m.transition(to); err != nil {
		m.logger.Error("finalize order", zap.Error(err))
		return
	}
	m.voidPending()
	m.reason = reason
	st := m.status()
	m.logger.Info("order finished",
		zap.String("state", string(to)),
		zap.String("reason", reason),
		zap.Int64("filled", st.Filled),
		zap.Int64("residual", st.Residual),
		zap.Float64("slippage_bps", st.SlippageBps),
		zap.Int("replans", st.Replans),
	)
	m.observer.Terminal(st)
}

func (m *Monitor) result(now time.Time) TickResult {
	if m.state.IsFinal() {
		return TickResult{Done: true}
	}
	if m.winding() {
		return TickResult{}
	}
	next := m.ord.EndTime
	if it, ok := m.due.Min(); ok && it.at.Before(next) {
		next = it.at
	}
	if !next.After(now) {
		next = now.Add(m.cfg.HoldRecheck)
		if next.After(m.ord.EndTime) {
			next = m.ord.EndTime
		}
	}
	return TickResult{NextWake: next}
}

// marketPrice 成交方向上的可成交价：买看卖一，卖看买一，缺失时用中间价。
func (m *Monitor) marketPrice(snap market.Snapshot) float64 {
	px := snap.Quote.Ask
	if m.ord.Side == order.SideSell {
		px = snap.Quote.Bid
	}
	if px <= 0 {
		px = snap.Mid()
	}
	return px
}

// checkPriceLimit 越过限价时暂停派发并重规划；回到限价内恢复派发并再次重规划。
func (m *Monitor) checkPriceLimit(now time.Time, snap market.Snapshot) {
	if m.ord.LimitPrice == nil {
		return
	}
	px := m.marketPrice(snap)
	breached := m.ord.Breached(px)
	if breached == m.held {
		return
	}
	m.held = breached
	m.logger.Info("price limit state changed",
		zap.Bool("breached", breached),
		zap.Float64("price", px),
		zap.Float64("limit", *m.ord.LimitPrice),
	)
	if err := m.replan(now, snap, schedule.ReasonPriceLimit); err != nil {
		m.logger.Warn("price limit replan failed", zap.Error(err))
	}
}

// checkParticipation POV：在途子单都结束后比较实际参与率与目标。
func (m *Monitor) checkParticipation(now time.Time, snap market.Snapshot) {
	pov, ok := m.spec.(algo.POV)
	if !ok || !m.driftArmed || len(m.children.Open()) > 0 {
		return
	}
	vol := snap.CumulativeVolume - m.driftVolume
	if vol <= 0 {
		return
	}
	end := now.Add(time.Nanosecond)
	realized := float64(m.fills.FilledBetween(m.driftSince, end)) / vol
	if math.Abs(realized-pov.Rate()) <= m.cfg.ParticipationTolerance {
		return
	}
	m.logger.Info("participation drift",
		zap.Float64("realized", realized),
		zap.Float64("target", pov.Rate()),
		zap.Float64("tolerance", m.cfg.ParticipationTolerance),
	)
	if err := m.replan(now, snap, schedule.ReasonParticipationDrift); err != nil {
		m.logger.Warn("participation replan failed", zap.Error(err))
	}
	m.driftArmed = false
	m.driftVolume = snap.CumulativeVolume
	m.driftSince = end
}

func (m *Monitor) checkSlippage(now time.Time) bool {
	if m.cfg.SlippageThresholdBps <= 0 || m.state != order.StateExecuting {
		return false
	}
	slip := m.analyzer.SlippageBps()
	if slip-m.slipMark <= m.cfg.SlippageThresholdBps {
		return false
	}
	m.logger.Info("slippage threshold exceeded",
		zap.Float64("slippage_bps", slip),
		zap.Float64("mark_bps", m.slipMark),
		zap.Float64("threshold_bps", m.cfg.SlippageThresholdBps),
	)
	ok := m.replanWithSnapshot(now, schedule.ReasonSlippage)
	m.slipMark = slip
	return ok
}

func (m *Monitor) replanWithSnapshot(now time.Time, reason schedule.ReplanReason) bool {
	snap, err := m.deps.Market.Snapshot(m.ord.Symbol)
	if err != nil {
		m.logger.Warn("replan skipped, no market data", zap.String("reason", string(reason)), zap.Error(err))
		return false
	}
	if err := m.replan(now, snap, reason); err != nil {
		m.logger.Warn("replan failed, keeping schedule", zap.String("reason", string(reason)), zap.Error(err))
		return false
	}
	return true
}

// replan 对未成交且未在途的数量在剩余窗口内重新规划。失败时保留现有计划。
func (m *Monitor) replan(now time.Time, snap market.Snapshot, reason schedule.ReplanReason) error {
	residual := m.ord.Quantity - m.fills.Filled() - m.children.InFlight()
	if residual <= 0 {
		m.voidPending()
		return nil
	}
	start := now
	if start.Before(m.ord.StartTime) {
		start = m.ord.StartTime
	}
	if !m.ord.EndTime.After(start) {
		return fmt.Errorf("order %s: no time left to replan %d", m.ord.ID, residual)
	}
	prev := m.sched.Load()
	next, err := m.deps.Planner.Replan(prev, m.ord, m.ord.Residual(residual, start), m.spec, snap, reason)
	if err != nil {
		return err
	}
	m.voidPending()
	m.install(next)
	m.replans++
	m.logger.Info("schedule replanned",
		zap.String("reason", string(reason)),
		zap.Int("version", next.Version),
		zap.Int64("residual", residual),
		zap.Int("slices", len(next.Slices)),
	)
	return nil
}

// participation 路由成本估计使用的参与率：POV 用目标率，其余按剩余数量与剩余时间推算。
func (m *Monitor) participation(now time.Time, snap market.Snapshot, residual int64) float64 {
	if pov, ok := m.spec.(algo.POV); ok {
		return pov.Rate()
	}
	if snap.ADV <= 0 {
		return 0
	}
	days := float64(m.ord.EndTime.Sub(now)) / float64(m.deps.Planner.TradingDay)
	return numerics.Clamp(float64(residual)/(snap.ADV*math.Max(days, 1e-9)), 1e-9, 1)
}

func (m *Monitor) dispatchDue(now time.Time, snap market.Snapshot) []order.ChildOrder {
	if m.held {
		return nil
	}
	var cmds []order.ChildOrder
	for {
		it, ok := m.due.Min()
		if !ok || it.at.After(now) {
			break
		}
		if m.cancel.Load() {
			m.beginCancel()
			break
		}
		m.due.DeleteMin()
		ss, ok := m.slices[it.id]
		if !ok || ss.status != order.SlicePlanned {
			continue
		}
		cmds = append(cmds, m.dispatch(now, ss, snap)...)
	}
	return cmds
}

// dispatch 路由并生成子单。开放切片按上次派发以来的市场成交量计算实际数量。
func (m *Monitor) dispatch(now time.Time, ss *sliceState, snap market.Snapshot) []order.ChildOrder {
	available := m.ord.Quantity - m.fills.Filled() - m.children.InFlight()
	qty := ss.slice.Quantity
	if ss.slice.Open {
		observed := snap.CumulativeVolume - m.volumeMark
		if observed <= 0 {
			// 还没有可参照的市场成交量，推迟到下次复查
			m.due.ReplaceOrInsert(dueItem{at: now.Add(m.cfg.HoldRecheck), seq: ss.slice.Seq, id: ss.slice.ID})
			return nil
		}
		m.volumeMark = snap.CumulativeVolume
		qty = ss.slice.Bounds.Size(observed, available)
		m.driftArmed = true
	}
	if qty > available {
		qty = available
	}
	if qty <= 0 {
		m.setSlice(ss, order.SliceCanceled)
		return nil
	}

	routed := ss.slice
	routed.Quantity = qty
	liq, costs := venue.FromSnapshot(snap, m.participation(now, snap, available))
	alloc, err := m.deps.Router.Route(routed, m.ord.Side, m.deps.Venues, liq, costs)
	if err != nil {
		m.logger.Warn("slice unroutable", zap.String("slice_id", ss.slice.ID), zap.Int64("quantity", qty), zap.Error(err))
		m.setSlice(ss, order.SliceCanceled)
		return nil
	}
	m.setSlice(ss, order.SliceRouted)
	ss.alloc = alloc
	ss.dispatched = qty

	cmds := make([]order.ChildOrder, 0, len(alloc.Legs))
	for _, leg := range alloc.Legs {
		c := m.child(ss, leg.VenueID, leg.Quantity, 1, now)
		if err := m.children.Track(c); err != nil {
			m.logger.Error("track child", zap.String("child_id", c.ID), zap.Error(err))
			continue
		}
		m.analyzer.OnRouted(leg)
		cmds = append(cmds, c)
	}
	if len(cmds) == 0 {
		m.setSlice(ss, order.SliceCanceled)
		return nil
	}
	m.setSlice(ss, order.SliceDispatched)
	routed.Status = ss.status
	routed.Allocation = alloc
	m.observer.SliceDispatched(m.ord.ID, routed, alloc)
	m.logger.Debug("slice dispatched",
		zap.String("slice_id", ss.slice.ID),
		zap.Int64("quantity", qty),
		zap.Int("children", len(cmds)),
		zap.Float64("expected_cost_bps", alloc.ExpectedCostBps),
	)
	return cmds
}

func (m *Monitor) child(ss *sliceState, venueID string, qty int64, attempt int, now time.Time) order.ChildOrder {
	c := order.ChildOrder{
		ID:        m.newID(),
		OrderID:   m.ord.ID,
		SliceID:   ss.slice.ID,
		Symbol:    m.ord.Symbol,
		Side:      m.ord.Side,
		Venue:     venueID,
		Quantity:  qty,
		Attempt:   attempt,
		CreatedAt: now,
		Status:    order.ChildNew,
	}
	if ss.slice.LimitPrice != nil {
		c.LimitPrice = order.Price(*ss.slice.LimitPrice)
	}
	return c
}

// retry 按分配的评分顺序换下一个可接受该数量的场所，每个子单只重试一次。
func (m *Monitor) retry(now time.Time, ss *sliceState, c order.ChildOrder) (order.ChildOrder, bool) {
	if ss == nil || ss.alloc == nil || c.Attempt >= maxAttempts || m.winding() {
		return order.ChildOrder{}, false
	}
	qty := c.Remaining()
	next, ok := ss.alloc.NextVenue(c.Venue, func(id string) bool {
		v, ok := m.venues[id]
		if !ok {
			return false
		}
		return !venue.IsDark(v) || qty >= v.MinSize()
	})
	if !ok {
		return order.ChildOrder{}, false
	}
	retry := m.child(ss, next, qty, c.Attempt+1, now)
	if err := m.children.Track(retry); err != nil {
		m.logger.Error("track retry", zap.String("child_id", retry.ID), zap.Error(err))
		return order.ChildOrder{}, false
	}
	m.logger.Info("child rejected, retrying",
		zap.String("slice_id", c.SliceID),
		zap.String("rejected_venue", c.Venue),
		zap.String("retry_venue", next),
		zap.Int64("quantity", qty),
	)
	return retry, true
}

func (m *Monitor) failure(c order.ChildOrder, reason string) *execerr.ExecutionFailure {
	var venues []string
	for _, x := range m.children.ForSlice(c.SliceID) {
		if x.Status == order.ChildRejected {
			venues = append(venues, x.Venue)
		}
	}
	if reason == "" {
		reason = c.LastError
	}
	f := &execerr.ExecutionFailure{
		OrderID:  m.ord.ID,
		SliceID:  c.SliceID,
		Venues:   venues,
		Quantity: c.Quantity,
		Reason:   reason,
	}
	m.failures++
	m.observer.Failure(f)
	m.logger.Warn("execution failure", zap.Error(f))
	return f
}

// resolveSlice 切片下子单全部结束后定状态；返回固定切片是否成交不足。
// 开放切片（POV）的不足由后续切片按成交量吸收，不触发重规划。
func (m *Monitor) resolveSlice(ss *sliceState) bool {
	var executed int64
	for _, c := range m.children.ForSlice(ss.slice.ID) {
		executed += c.Executed
	}
	switch {
	case executed == 0:
		m.setSlice(ss, order.SliceCanceled)
	case executed < ss.dispatched:
		m.setSlice(ss, order.SlicePartiallyFilled)
	default:
		m.setSlice(ss, order.SliceFilled)
	}
	return executed < ss.dispatched && !ss.slice.Open
}
