package risk

import (
	"context"
	"testing"
	"time"

	"execution-kit/market"
	"execution-kit/order"
)

func testOrder(qty int64) order.Order {
	start := time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)
	return order.Order{ID: "P1", Symbol: "XYZ", Side: order.SideBuy, Quantity: qty, StartTime: start, EndTime: start.Add(time.Hour)}
}

func snap() market.Snapshot {
	return market.Snapshot{Symbol: "XYZ", Quote: market.Quote{Bid: 49.99, Ask: 50.01}, ADV: 1_000_000}
}

func TestLimitChecker(t *testing.T) {
	lc := NewLimitChecker(Limits{
		MaxOrderQty:    100_000,
		DailyMax:       150_000,
		MaxNotional:    6_000_000,
		MaxADVFraction: 0.1,
		MaxSpreadBps:   10,
	})
	ctx := context.Background()

	d, err := lc.PreTrade(ctx, testOrder(50_000), snap())
	if err != nil || !d.Pass {
		t.Fatalf("unexpected rejection: %+v %v", d, err)
	}
	if got := lc.DailyAccepted("XYZ"); got != 50_000 {
		t.Fatalf("daily accepted %d", got)
	}

	if d, _ := lc.PreTrade(ctx, testOrder(120_000), snap()); d.Pass {
		t.Fatalf("expected single exceed")
	}
	if d, _ := lc.PreTrade(ctx, testOrder(99_000), snap()); !d.Pass {
		t.Fatalf("unexpected rejection: %s", d.Reason)
	}
	if d, _ := lc.PreTrade(ctx, testOrder(2_000), snap()); d.Pass {
		t.Fatalf("expected daily exceed")
	}
	if got := lc.DailyAccepted("XYZ"); got != 149_000 {
		t.Fatalf("rejected orders must not count: %d", got)
	}

	wide := snap()
	wide.Quote = market.Quote{Bid: 49, Ask: 51}
	fresh := NewLimitChecker(Limits{MaxSpreadBps: 10})
	if d, _ := fresh.PreTrade(ctx, testOrder(10), wide); d.Pass {
		t.Fatalf("expected spread rejection")
	}
}

func TestLimitCheckerDailyReset(t *testing.T) {
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	lc := NewLimitChecker(Limits{DailyMax: 1000})
	lc.clock = ClockFunc(func() time.Time { return now })
	lc.dayReset = now

	if d, _ := lc.PreTrade(context.Background(), testOrder(1000), snap()); !d.Pass {
		t.Fatalf("unexpected rejection: %s", d.Reason)
	}
	if d, _ := lc.PreTrade(context.Background(), testOrder(1), snap()); d.Pass {
		t.Fatalf("expected daily exceed")
	}
	now = now.Add(25 * time.Hour)
	if d, _ := lc.PreTrade(context.Background(), testOrder(1), snap()); !d.Pass {
		t.Fatalf("expected reset after a day: %s", d.Reason)
	}
}

func TestLimitCheckerRestrictedAndConstraints(t *testing.T) {
	lc := NewLimitChecker(Limits{
		Restricted:  []string{"BAD"},
		Constraints: map[string]order.SymbolConstraints{"XYZ": {LotSize: 100}},
	})
	o := testOrder(100)
	o.Symbol = "BAD"
	if d, _ := lc.PreTrade(context.Background(), o, snap()); d.Pass {
		t.Fatalf("expected restricted rejection")
	}
	if d, _ := lc.PreTrade(context.Background(), testOrder(150), snap()); d.Pass {
		t.Fatalf("expected lot size rejection")
	}
}
