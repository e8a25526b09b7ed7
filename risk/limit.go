package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"execution-kit/market"
	"execution-kit/order"
)

var (
	ErrSingleExceed  = errors.New("single order exceed")
	ErrDailyExceed   = errors.New("daily volume exceed")
	ErrNotionalLimit = errors.New("notional exceed")
	ErrADVExceed     = errors.New("adv participation exceed")
	ErrSpreadTooWide = errors.New("spread too wide")
	ErrRestricted    = errors.New("restricted symbol")
)

// Limits 配置。
type Limits struct {
	MaxOrderQty    int64                              `yaml:"maxOrderQty"`
	DailyMax       int64                              `yaml:"dailyMax"`       // 单标的每日累计接受数量
	MaxNotional    float64                            `yaml:"maxNotional"`    // 单笔名义金额
	MaxADVFraction float64                            `yaml:"maxADVFraction"` // 单笔占 ADV 比例
	MaxSpreadBps   float64                            `yaml:"maxSpreadBps"`   // 激活时价差上限
	Restricted     []string                           `yaml:"restricted"`
	Constraints    map[string]order.SymbolConstraints `yaml:"constraints"`
}

// LimitChecker 限额类事前检查，维护每日累计接受数量。
type LimitChecker struct {
	mu       sync.Mutex
	cfg      Limits
	dayQty   map[string]int64
	dayReset time.Time
	clock    Clock
}

func NewLimitChecker(cfg Limits) *LimitChecker {
	return &LimitChecker{
		cfg:      cfg,
		dayQty:   make(map[string]int64),
		dayReset: NowUTC.Now(),
		clock:    NowUTC,
	}
}

// PreTrade 依次检查限制名单、单笔数量、名义、ADV 占比、价差、品种约束和日累计。
// 只有全部通过才计入日累计。
func (lc *LimitChecker) PreTrade(_ context.Context, o order.Order, snap market.Snapshot) (Decision, error) {
	if err := lc.check(o, snap); err != nil {
		return Reject(err.Error()), nil
	}
	return Approve(), nil
}

func (lc *LimitChecker) check(o order.Order, snap market.Snapshot) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	now := lc.clock.Now()
	if now.Sub(lc.dayReset) > 24*time.Hour {
		lc.dayQty = make(map[string]int64)
		lc.dayReset = now
	}
	for _, s := range lc.cfg.Restricted {
		if s == o.Symbol {
			return fmt.Errorf("%w: %s", ErrRestricted, o.Symbol)
		}
	}
	if lc.cfg.MaxOrderQty > 0 && o.Quantity > lc.cfg.MaxOrderQty {
		return fmt.Errorf("%w: %d > single %d", ErrSingleExceed, o.Quantity, lc.cfg.MaxOrderQty)
	}
	ref := snap.Mid()
	if o.LimitPrice != nil {
		ref = *o.LimitPrice
	}
	if lc.cfg.MaxNotional > 0 && ref > 0 {
		if notional := ref * float64(o.Quantity); notional > lc.cfg.MaxNotional {
			return fmt.Errorf("%w: %.2f > %.2f", ErrNotionalLimit, notional, lc.cfg.MaxNotional)
		}
	}
	if lc.cfg.MaxADVFraction > 0 && snap.ADV > 0 {
		if frac := float64(o.Quantity) / snap.ADV; frac > lc.cfg.MaxADVFraction {
			return fmt.Errorf("%w: %.4f > %.4f", ErrADVExceed, frac, lc.cfg.MaxADVFraction)
		}
	}
	if lc.cfg.MaxSpreadBps > 0 {
		if spread := 2 * snap.Quote.HalfSpreadBps(); spread > lc.cfg.MaxSpreadBps {
			return fmt.Errorf("%w: %.2fbps > %.2fbps", ErrSpreadTooWide, spread, lc.cfg.MaxSpreadBps)
		}
	}
	if c, ok := lc.cfg.Constraints[o.Symbol]; ok {
		if err := c.Validate(o, ref); err != nil {
			return err
		}
	}
	if lc.cfg.DailyMax > 0 && lc.dayQty[o.Symbol]+o.Quantity > lc.cfg.DailyMax {
		return fmt.Errorf("%w: %d > daily %d", ErrDailyExceed, lc.dayQty[o.Symbol]+o.Quantity, lc.cfg.DailyMax)
	}
	lc.dayQty[o.Symbol] += o.Quantity
	return nil
}

// DailyAccepted 当日已接受数量
func (lc *LimitChecker) DailyAccepted(symbol string) int64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.dayQty[symbol]
}
