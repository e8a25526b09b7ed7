package gateway

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"execution-kit/market"
	"execution-kit/order"
)

// PaperConfig 纸面撮合参数
type PaperConfig struct {
	FillRatio    float64            `yaml:"fillRatio"`    // 子单成交比例，默认 1
	PartialSteps int                `yaml:"partialSteps"` // 拆成几条部分成交回报，默认 1
	SlippageBps  float64            `yaml:"slippageBps"`  // 相对对手价的额外滑点
	Latency      time.Duration      `yaml:"latency"`      // 有 handler 时的回报延迟
	RejectFirst  map[string]int     `yaml:"rejectFirst"`  // 场所 -> 前 N 笔拒绝
	DarkVenues   map[string]bool    `yaml:"darkVenues"`   // 暗池按中间价成交
	FillRatios   map[string]float64 `yaml:"fillRatios"`   // 按场所覆盖 FillRatio
}

// Paper 纸面撮合：按行情快照给出成交价，买单高于限价/卖单低于限价时不成交。
// 设置 handler 时异步回报，否则回报进入队列由 Drain 取出（回测使用）。
type Paper struct {
	mu       sync.Mutex
	source   market.Source
	cfg      PaperConfig
	handler  ReportHandler
	pending  []order.ExecutionReport
	rejected map[string]int
	placed   int
	closed   bool
	now      func() time.Time
	logger   *zap.Logger
}

// NewPaper 创建纸面撮合
func NewPaper(source market.Source, cfg PaperConfig, logger *zap.Logger) *Paper {
	if cfg.FillRatio <= 0 || cfg.FillRatio > 1 {
		cfg.FillRatio = 1
	}
	if cfg.PartialSteps <= 0 {
		cfg.PartialSteps = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Paper{
		source:   source,
		cfg:      cfg,
		rejected: make(map[string]int),
		now:      time.Now,
		logger:   logger,
	}
}

// SetHandler 设置异步回报接收者
func (p *Paper) SetHandler(h ReportHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// SetClock 回测时使用虚拟时钟
func (p *Paper) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// Submit 模拟下单
func (p *Paper) Submit(ctx context.Context, c order.ChildOrder) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap, err := p.source.Snapshot(c.Symbol)
	if err != nil {
		return fmt.Errorf("paper %s: %w", c.Venue, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.placed++
	reports := p.simulate(c, snap)
	handler := p.handler
	if handler == nil {
		p.pending = append(p.pending, reports...)
	}
	latency := p.cfg.Latency
	p.mu.Unlock()

	if handler != nil {
		deliver := func() {
			for _, r := range reports {
				handler(r)
			}
		}
		if latency > 0 {
			time.AfterFunc(latency, deliver)
		} else {
			go deliver()
		}
	}
	return nil
}

func (p *Paper) simulate(c order.ChildOrder, snap market.Snapshot) []order.ExecutionReport {
	ts := p.now()
	base := order.ExecutionReport{ChildID: c.ID, OrderID: c.OrderID, SliceID: c.SliceID, Venue: c.Venue, Timestamp: ts}

	if p.rejected[c.Venue] < p.cfg.RejectFirst[c.Venue] {
		p.rejected[c.Venue]++
		r := base
		r.Status = order.ChildRejected
		r.Reason = "paper reject"
		return []order.ExecutionReport{r}
	}

	price := p.fillPrice(c, snap)
	ratio := p.cfg.FillRatio
	if v, ok := p.cfg.FillRatios[c.Venue]; ok {
		ratio = v
	}
	fill := int64(math.Floor(float64(c.Quantity) * ratio))
	if price <= 0 || (c.LimitPrice != nil && ((c.Side == order.SideBuy && price > *c.LimitPrice) || (c.Side == order.SideSell && price < *c.LimitPrice))) {
		fill = 0
	}
	if fill == 0 {
		r := base
		r.Status = order.ChildCanceled
		r.Reason = "no fill"
		return []order.ExecutionReport{r}
	}

	steps := p.cfg.PartialSteps
	if int64(steps) > fill {
		steps = int(fill)
	}
	out := make([]order.ExecutionReport, 0, steps+1)
	var done int64
	for i := 0; i < steps; i++ {
		q := fill / int64(steps)
		if i == steps-1 {
			q = fill - done
		}
		done += q
		r := base
		r.ExecutedQuantity = q
		r.Price = price
		r.Status = order.ChildPartiallyFilled
		if done == c.Quantity {
			r.Status = order.ChildFilled
		}
		out = append(out, r)
	}
	if done < c.Quantity {
		r := base
		r.Status = order.ChildCanceled
		r.Reason = "unfilled remainder canceled"
		out = append(out, r)
	}
	return out
}

func (p *Paper) fillPrice(c order.ChildOrder, snap market.Snapshot) float64 {
	if p.cfg.DarkVenues[c.Venue] {
		return snap.Mid()
	}
	if q, ok := snap.Venues[c.Venue]; ok && q.Price > 0 {
		return q.Price * (1 + c.Side.Sign()*p.cfg.SlippageBps/1e4)
	}
	var px float64
	if c.Side == order.SideBuy {
		px = snap.Quote.Ask
	} else {
		px = snap.Quote.Bid
	}
	if px <= 0 {
		px = snap.Mid()
	}
	return px * (1 + c.Side.Sign()*p.cfg.SlippageBps/1e4)
}

// Drain 取出排队的回报
func (p *Paper) Drain() []order.ExecutionReport {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.pending
	p.pending = nil
	return out
}

// Placed 累计下单次数
func (p *Paper) Placed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.placed
}

// Close 停止接收新单
func (p *Paper) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.logger.Info("paper gateway closed", zap.Int("placed", p.placed))
}
