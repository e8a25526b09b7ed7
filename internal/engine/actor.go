package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"execution-kit/execerr"
	"execution-kit/gateway"
	"execution-kit/infrastructure/logger"
	"execution-kit/monitor"
	"execution-kit/order"
)

const maxStepRounds = 4

// Hooks 执行器回调，全部可为空。
type Hooks struct {
	OnFailure func(*execerr.ExecutionFailure)
	OnTickErr func(error)
	OnDone    func(monitor.Status)
}

// Actor 单个母单的执行协程：回报走 mailbox，时钟走 timer，所有 monitor 的写操作都在这里串行执行。
type Actor struct {
	mon    *monitor.Monitor
	entry  gateway.OrderEntry
	logger *logger.Logger
	hooks  Hooks
	cfg    Config
	now    func() time.Time

	mailbox chan order.ExecutionReport
	wake    chan struct{}
	done    chan struct{}
}

// NewActor 创建执行器；调用 Run 前不会触碰 monitor。
func NewActor(mon *monitor.Monitor, entry gateway.OrderEntry, cfg Config, log *logger.Logger, hooks Hooks) *Actor {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.FromZap(nil)
	}
	return &Actor{
		mon:     mon,
		entry:   entry,
		logger:  log,
		hooks:   hooks,
		cfg:     cfg,
		now:     cfg.Now,
		mailbox: make(chan order.ExecutionReport, cfg.MailboxSize),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Monitor 返回被驱动的监控器（只读方法可并发调用）。
func (a *Actor) Monitor() *monitor.Monitor { return a.mon }

// Done 在执行器退出后关闭。
func (a *Actor) Done() <-chan struct{} { return a.done }

// Deliver 投递回报。执行器已结束时丢弃并返回 false。
func (a *Actor) Deliver(ctx context.Context, r order.ExecutionReport) bool {
	select {
	case a.mailbox <- r:
		return true
	case <-a.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Cancel 设置撤单标记并唤醒执行器。
func (a *Actor) Cancel() {
	a.mon.Cancel()
	a.nudge()
}

func (a *Actor) nudge() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Run 激活并驱动母单直到终态或 ctx 结束。单个母单的失败只记录日志，不向上返回，
// 避免 errgroup 连带取消其它母单。
func (a *Actor) Run(ctx context.Context) error {
	defer close(a.done)

	timer := time.NewTimer(time.Hour)
	stopTimer(timer)
	defer timer.Stop()

	next, finished := a.activate(ctx)
	for !finished {
		if !next.IsZero() {
			d := next.Sub(a.now())
			if d < 0 {
				d = 0
			}
			timer.Reset(d)
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			a.logger.Info("actor stopped by context",
				zap.String("order_id", a.mon.Order().ID), zap.String("state", string(a.mon.Status().State)))
			return nil
		case <-timer.C:
			next, finished = a.step(ctx)
		case <-a.wake:
			stopTimer(timer)
			next, finished = a.step(ctx)
		case r := <-a.mailbox:
			stopTimer(timer)
			a.process(ctx, r)
			next, finished = a.step(ctx)
		}
	}

	st := a.mon.Status()
	a.logger.LogOrder("finished", st.OrderID, map[string]interface{}{
		"state":    string(st.State),
		"filled":   st.Filled,
		"residual": st.Residual,
		"reason":   st.Reason,
	})
	if a.hooks.OnDone != nil {
		a.hooks.OnDone(st)
	}
	return nil
}

// activate 首次规划。行情暂不可用（交叉报价等）时保持 PENDING 并按 ActivateRetry 重试。
func (a *Actor) activate(ctx context.Context) (time.Time, bool) {
	now := a.now()
	err := a.mon.Activate(ctx, now)
	st := a.mon.Status()
	switch {
	case st.State.IsFinal():
		return time.Time{}, true
	case err != nil && !now.Before(a.mon.Order().EndTime):
		// 窗口内始终没能规划
		a.logger.LogOrder("activate_expired", st.OrderID, map[string]interface{}{"error": err.Error()})
		a.mon.Cancel()
		_ = a.mon.Activate(ctx, now)
		return time.Time{}, true
	case err != nil:
		a.tickErr(err)
		a.logger.LogOrder("activate_deferred", st.OrderID, map[string]interface{}{"error": err.Error()})
		return now.Add(a.cfg.ActivateRetry), false
	}
	a.logger.LogOrder("activated", st.OrderID, map[string]interface{}{
		"algo":     string(st.Algorithm),
		"quantity": st.Quantity,
		"arrival":  st.ArrivalPrice,
	})
	return a.step(ctx)
}

// step 跑 Tick 并下发命令，返回下一次唤醒时间。同步拒单可能触发重规划，产生新的到期切片，
// 因此有拒单时再跑一轮。
func (a *Actor) step(ctx context.Context) (time.Time, bool) {
	if a.mon.Status().State == order.StatePending {
		return a.activate(ctx)
	}
	var res monitor.TickResult
	for round := 0; round < maxStepRounds; round++ {
		var err error
		res, err = a.mon.Tick(a.now())
		if err != nil {
			a.tickErr(err)
		}
		rejects := a.submit(ctx, res.Commands)
		for _, r := range rejects {
			a.process(ctx, r)
		}
		if len(rejects) == 0 {
			break
		}
	}
	if a.mon.Status().State.IsFinal() {
		return time.Time{}, true
	}
	return res.NextWake, false
}

// process 应用一条回报；拒单重试产生的子单立即下发，下发失败转为合成拒单继续处理。
func (a *Actor) process(ctx context.Context, r order.ExecutionReport) {
	queue := []order.ExecutionReport{r}
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]
		out, err := a.mon.OnExecutionReport(r)
		if err != nil {
			a.logger.LogError(err, map[string]interface{}{"order_id": r.OrderID, "child_id": r.ChildID, "status": string(r.Status)})
			continue
		}
		if out.Failure != nil {
			a.logger.LogError(out.Failure, map[string]interface{}{"order_id": out.Failure.OrderID, "slice_id": out.Failure.SliceID})
			if a.hooks.OnFailure != nil {
				a.hooks.OnFailure(out.Failure)
			}
		}
		queue = append(queue, a.submit(ctx, out.Commands)...)
	}
}

// submit 下发子单。Submit 出错的子单生成合成 REJECTED 回报，走统一的重试逻辑。
func (a *Actor) submit(ctx context.Context, cmds []order.ChildOrder) []order.ExecutionReport {
	var rejects []order.ExecutionReport
	for _, c := range cmds {
		sctx, cancel := context.WithTimeout(ctx, a.cfg.SubmitTimeout)
		err := a.entry.Submit(sctx, c)
		cancel()
		if err == nil {
			continue
		}
		a.logger.Warn("child submit failed", zap.String("order_id", c.OrderID), zap.String("child_id", c.ID), zap.String("venue", c.Venue), zap.Error(err))
		rejects = append(rejects, order.ExecutionReport{
			ChildID:   c.ID,
			OrderID:   c.OrderID,
			SliceID:   c.SliceID,
			Venue:     c.Venue,
			Status:    order.ChildRejected,
			Reason:    "submit: " + err.Error(),
			Timestamp: a.now(),
		})
	}
	return rejects
}

func (a *Actor) tickErr(err error) {
	if errors.Is(err, monitor.ErrNotActive) {
		return
	}
	a.logger.Warn("tick failed", zap.String("order_id", a.mon.Order().ID), zap.Error(err))
	if a.hooks.OnTickErr != nil {
		a.hooks.OnTickErr(err)
	}
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
