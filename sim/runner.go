// Package sim 虚拟时钟回测：按历史报价推进时间，驱动监控器并用纸面撮合即时回报。
package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"execution-kit/algo"
	"execution-kit/execerr"
	"execution-kit/gateway"
	"execution-kit/market"
	"execution-kit/monitor"
	"execution-kit/order"
	"execution-kit/planner"
	"execution-kit/posttrade"
	"execution-kit/risk"
	"execution-kit/router"
	"execution-kit/schedule"
	"execution-kit/venue"
)

const maxSettleRounds = 4

// Bar 历史行情点：时点报价与该区间的市场成交量。
type Bar struct {
	Time    time.Time `json:"time" yaml:"time"`
	Bid     float64   `json:"bid" yaml:"bid"`
	Ask     float64   `json:"ask" yaml:"ask"`
	BidSize float64   `json:"bid_size" yaml:"bidSize"`
	AskSize float64   `json:"ask_size" yaml:"askSize"`
	Volume  float64   `json:"volume" yaml:"volume"`
}

// Result 回测结果
type Result struct {
	Status    monitor.Status              `json:"status"`
	Schedules []*schedule.Schedule        `json:"schedules"`
	Fills     []order.Fill                `json:"fills"`
	Analysis  posttrade.Stats             `json:"analysis"`
	Failures  []*execerr.ExecutionFailure `json:"failures,omitempty"`
	Placed    int                         `json:"placed"`
	Steps     int                         `json:"steps"`
	Finished  time.Time                   `json:"finished"`
}

// Runner 将行情 -> 监控器 -> 纸面撮合串起来，全部在调用方协程中同步执行。
type Runner struct {
	Planner    *planner.Planner
	Router     *router.Router
	Market     *market.Service
	Venues     []venue.Venue
	Compliance risk.Compliance
	Monitor    monitor.Config
	Paper      gateway.PaperConfig
	Observer   monitor.Observer // 可选
	Logger     *zap.Logger

	ActivateRetry time.Duration // 激活失败后的重试间隔，默认 1 秒
	MaxSteps      int           // 防止死循环，默认 100000
}

type run struct {
	r      *Runner
	ctx    context.Context
	mon    *monitor.Monitor
	paper  *gateway.Paper
	clock  time.Time
	bars   []Bar
	next   int
	result *Result
	seq    int
}

// Run 回测单个母单。bars 可以乱序，内部按时间排序；StartTime 之前的行情先全部应用。
func (r *Runner) Run(ctx context.Context, o order.Order, spec algo.Spec, bars []Bar) (*Result, error) {
	if r.Planner == nil || r.Router == nil || r.Market == nil {
		return nil, errors.New("runner not initialized")
	}
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retry := r.ActivateRetry
	if retry <= 0 {
		retry = time.Second
	}
	maxSteps := r.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 100_000
	}

	sorted := append([]Bar(nil), bars...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })

	st := &run{r: r, ctx: ctx, clock: o.StartTime, bars: sorted, result: &Result{}}
	now := func() time.Time { return st.clock }
	r.Market.SetClock(now)
	st.paper = gateway.NewPaper(r.Market, r.Paper, logger)
	st.paper.SetClock(now)
	defer st.paper.Close()

	mon, err := monitor.New(o, spec, r.Monitor, monitor.Deps{
		Planner:    r.Planner,
		Router:     r.Router,
		Market:     r.Market,
		Venues:     r.Venues,
		Compliance: r.Compliance,
		Observer:   r.Observer,
		Logger:     logger,
		NewID:      st.newID,
	})
	if err != nil {
		return nil, err
	}
	st.mon = mon
	st.applyBars()

	for ; st.result.Steps < maxSteps; st.result.Steps++ {
		if err := ctx.Err(); err != nil {
			return st.finish(), err
		}
		var wake time.Time
		if mon.Status().State == order.StatePending {
			wake = st.activate(retry)
		} else {
			wake = st.tick()
		}
		if mon.Status().State.IsFinal() {
			return st.finish(), nil
		}
		st.advance(wake)
	}
	return st.finish(), fmt.Errorf("order %s not finished after %d steps", o.ID, maxSteps)
}

// newID 确定性的子单/切片编号，便于比较两次回测
func (st *run) newID() string {
	st.seq++
	return fmt.Sprintf("sim-%06d", st.seq)
}

func (st *run) activate(retry time.Duration) time.Time {
	err := st.mon.Activate(st.ctx, st.clock)
	if err == nil {
		return st.tick()
	}
	if st.mon.Status().State.IsFinal() {
		return time.Time{}
	}
	if !st.clock.Before(st.mon.Order().EndTime) {
		st.mon.Cancel()
		_ = st.mon.Activate(st.ctx, st.clock)
		return time.Time{}
	}
	st.r.debug("activation deferred", zap.Time("clock", st.clock), zap.Error(err))
	return st.clock.Add(retry)
}

// tick 跑 Tick 并同步结算；结算中有回报（可能触发重规划）时再跑一轮。
func (st *run) tick() time.Time {
	var res monitor.TickResult
	for round := 0; round < maxSettleRounds; round++ {
		var err error
		res, err = st.mon.Tick(st.clock)
		if err != nil && !errors.Is(err, monitor.ErrNotActive) {
			st.r.debug("tick failed", zap.Time("clock", st.clock), zap.Error(err))
		}
		if st.settle(res.Commands) == 0 || st.mon.Status().State.IsFinal() {
			break
		}
	}
	return res.NextWake
}

// settle 下发子单并立即取回纸面回报；拒单重试的子单继续下发直到没有新命令。返回处理的回报数。
func (st *run) settle(cmds []order.ChildOrder) int {
	n := 0
	for len(cmds) > 0 {
		var reports []order.ExecutionReport
		for _, c := range cmds {
			if err := st.paper.Submit(st.ctx, c); err != nil {
				reports = append(reports, order.ExecutionReport{
					ChildID: c.ID, OrderID: c.OrderID, SliceID: c.SliceID, Venue: c.Venue,
					Status: order.ChildRejected, Reason: "submit: " + err.Error(), Timestamp: st.clock,
				})
			}
		}
		reports = append(reports, st.paper.Drain()...)
		cmds = nil
		for _, rep := range reports {
			n++
			out, err := st.mon.OnExecutionReport(rep)
			if err != nil {
				st.r.debug("report rejected", zap.String("child_id", rep.ChildID), zap.Error(err))
				continue
			}
			if out.Failure != nil {
				st.result.Failures = append(st.result.Failures, out.Failure)
			}
			cmds = append(cmds, out.Commands...)
		}
	}
	return n
}

// advance 时钟前进到下一次唤醒与下一根行情中较早者。
func (st *run) advance(wake time.Time) {
	end := st.mon.Order().EndTime
	if wake.IsZero() {
		wake = end
	}
	if st.next < len(st.bars) && st.bars[st.next].Time.Before(wake) {
		wake = st.bars[st.next].Time
	}
	if !wake.After(st.clock) {
		hold := st.r.Monitor.HoldRecheck
		if hold <= 0 {
			hold = monitor.DefaultConfig().HoldRecheck
		}
		wake = st.clock.Add(hold)
	}
	st.clock = wake
	st.applyBars()
}

func (st *run) applyBars() {
	sym := st.mon.Order().Symbol
	for st.next < len(st.bars) && !st.bars[st.next].Time.After(st.clock) {
		b := st.bars[st.next]
		st.r.Market.OnQuote(sym, market.Quote{Bid: b.Bid, Ask: b.Ask, BidSize: b.BidSize, AskSize: b.AskSize, Time: b.Time})
		if b.Volume > 0 {
			st.r.Market.OnTrade(sym, market.Trade{Price: (b.Bid + b.Ask) / 2, Qty: b.Volume, Ts: b.Time})
		}
		st.next++
	}
}

func (st *run) finish() *Result {
	res := st.result
	res.Status = st.mon.Status()
	res.Schedules = st.mon.History()
	res.Fills = st.mon.Fills()
	res.Analysis = st.mon.Analysis()
	res.Placed = st.paper.Placed()
	res.Finished = st.clock
	return res
}

func (r *Runner) debug(msg string, fields ...zap.Field) {
	if r.Logger != nil {
		r.Logger.Debug(msg, fields...)
	}
}
