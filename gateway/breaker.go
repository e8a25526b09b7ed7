package gateway

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"execution-kit/monitor"
	"execution-kit/order"
)

// ErrVenueUnavailable 场所熔断中，子单不下发
var ErrVenueUnavailable = errors.New("venue circuit open")

// BreakerState 熔断器状态
type BreakerState int

const (
	// BreakerClosed 正常下单
	BreakerClosed BreakerState = iota
	// BreakerOpen 熔断，拒绝所有子单
	BreakerOpen
	// BreakerHalfOpen 冷却结束，放行有限次试探
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	case BreakerHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig 场所熔断配置。Threshold<=0 关闭熔断。
type BreakerConfig struct {
	Threshold      int           `yaml:"threshold"`      // 连续拒单次数阈值
	Cooldown       time.Duration `yaml:"cooldown"`       // 熔断持续时间
	HalfOpenMaxTry int           `yaml:"halfOpenMaxTry"` // 半开状态放行的子单数
}

// circuit 单个场所的熔断器
type circuit struct {
	cfg             BreakerConfig
	state           BreakerState
	consecutiveFail int
	trials          int // 半开状态已放行
	successes       int // 半开状态已成交
	openedAt        time.Time
}

func (c *circuit) allow(now time.Time) bool {
	switch c.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if now.Sub(c.openedAt) < c.cfg.Cooldown {
			return false
		}
		c.state = BreakerHalfOpen
		c.trials, c.successes = 0, 0
		fallthrough
	case BreakerHalfOpen:
		if c.trials >= c.cfg.HalfOpenMaxTry {
			return false
		}
		c.trials++
		return true
	}
	return false
}

func (c *circuit) failure(now time.Time) (opened bool) {
	c.consecutiveFail++
	switch c.state {
	case BreakerClosed:
		if c.consecutiveFail >= c.cfg.Threshold {
			c.state = BreakerOpen
			c.openedAt = now
			return true
		}
	case BreakerHalfOpen:
		// 试探失败立即重新熔断
		c.state = BreakerOpen
		c.openedAt = now
		return true
	}
	return false
}

func (c *circuit) success() (closed bool) {
	c.consecutiveFail = 0
	if c.state != BreakerHalfOpen {
		return false
	}
	c.successes++
	if c.successes >= c.cfg.HalfOpenMaxTry {
		c.state = BreakerClosed
		return true
	}
	return false
}

// Breakers 按场所熔断的下单通道：连续拒单达到阈值的场所在冷却期内直接拒绝，
// 由监控器的重试逻辑转到下一个场所。结果通过 monitor.Observer 回调喂入。
type Breakers struct {
	monitor.NopObserver

	next   OrderEntry
	cfg    BreakerConfig
	mu     sync.Mutex
	venues map[string]*circuit
	now    func() time.Time
	logger *zap.Logger
}

// NewBreakers 包装下单通道
func NewBreakers(next OrderEntry, cfg BreakerConfig, logger *zap.Logger) *Breakers {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.HalfOpenMaxTry <= 0 {
		cfg.HalfOpenMaxTry = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breakers{
		next:   next,
		cfg:    cfg,
		venues: make(map[string]*circuit),
		now:    time.Now,
		logger: logger,
	}
}

// SetClock 测试用
func (b *Breakers) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

func (b *Breakers) circuit(venueID string) *circuit {
	c, ok := b.venues[venueID]
	if !ok {
		c = &circuit{cfg: b.cfg}
		b.venues[venueID] = c
	}
	return c
}

func (b *Breakers) Submit(ctx context.Context, c order.ChildOrder) error {
	if b.cfg.Threshold > 0 {
		b.mu.Lock()
		ok := b.circuit(c.Venue).allow(b.now())
		b.mu.Unlock()
		if !ok {
			return fmt.Errorf("%w: %s", ErrVenueUnavailable, c.Venue)
		}
	}
	return b.next.Submit(ctx, c)
}

// ChildRejected 拒单（含下发失败生成的合成拒单）计入连续失败
func (b *Breakers) ChildRejected(c order.ChildOrder) {
	if b.cfg.Threshold <= 0 {
		return
	}
	b.mu.Lock()
	opened := b.circuit(c.Venue).failure(b.now())
	b.mu.Unlock()
	if opened {
		b.logger.Warn("venue circuit opened", zap.String("venue", c.Venue), zap.Duration("cooldown", b.cfg.Cooldown))
	}
}

// Filled 有成交即视为场所恢复
func (b *Breakers) Filled(_, venueID string, _ int64, _ float64) {
	if b.cfg.Threshold <= 0 {
		return
	}
	b.mu.Lock()
	closed := b.circuit(venueID).success()
	b.mu.Unlock()
	if closed {
		b.logger.Info("venue circuit closed", zap.String("venue", venueID))
	}
}

// State 场所当前熔断状态
func (b *Breakers) State(venueID string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.venues[venueID]; ok {
		return c.state
	}
	return BreakerClosed
}

// Open 熔断中的场所，按 ID 排序
func (b *Breakers) Open() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for id, c := range b.venues {
		if c.state == BreakerOpen {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
