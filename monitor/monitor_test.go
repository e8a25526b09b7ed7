package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-kit/algo"
	"execution-kit/execerr"
	"execution-kit/market"
	"execution-kit/order"
	"execution-kit/planner"
	"execution-kit/risk"
	"execution-kit/router"
	"execution-kit/schedule"
	"execution-kit/venue"
)

var t0 = time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

type feed struct {
	mu   sync.Mutex
	snap market.Snapshot
}

func (f *feed) Snapshot(string) (market.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap.Clone(), nil
}

func (f *feed) update(fn func(s *market.Snapshot)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.snap)
}

type recorder struct {
	NopObserver
	reasons  []schedule.ReplanReason
	resolved map[string]order.SliceStatus
	failures []*execerr.ExecutionFailure
	terminal []Status
	filled   int64
}

func (r *recorder) ScheduleInstalled(s *schedule.Schedule) { r.reasons = append(r.reasons, s.Reason) }
func (r *recorder) SliceResolved(_, sliceID string, st order.SliceStatus) {
	r.resolved[sliceID] = st
}
func (r *recorder) Failure(f *execerr.ExecutionFailure)       { r.failures = append(r.failures, f) }
func (r *recorder) Terminal(st Status)                        { r.terminal = append(r.terminal, st) }
func (r *recorder) Filled(_, _ string, qty int64, _ float64) { r.filled += qty }

type harness struct {
	t    *testing.T
	feed *feed
	mon  *Monitor
	obs  *recorder
}

func baseSnapshot() market.Snapshot {
	return market.Snapshot{
		Symbol:     "ACME",
		Time:       t0,
		Quote:      market.Quote{Bid: 99.99, Ask: 100.01, BidSize: 500, AskSize: 500},
		ADV:        1_000_000,
		Volatility: 0.02,
		Venues: map[string]market.VenueQuote{
			"XNYS": {Depth: 1_000_000},
			"ARCA": {Depth: 1_000_000},
		},
	}
}

func baseOrder(qty int64) order.Order {
	return order.Order{
		ID:          "ord-1",
		Symbol:      "ACME",
		Side:        order.SideBuy,
		Quantity:    qty,
		ArrivalTime: t0.Add(-time.Second),
		StartTime:   t0,
		EndTime:     t0.Add(10 * time.Minute),
	}
}

func newHarness(t *testing.T, o order.Order, spec algo.Spec, cfg Config, compliance risk.Compliance) *harness {
	t.Helper()
	rt, err := router.New(router.DefaultWeights(), nil, nil)
	require.NoError(t, err)
	venues := []venue.Venue{
		venue.Exchange{Profile: venue.Profile{VenueID: "XNYS", Fee: 0.1, Delay: time.Millisecond}},
		venue.Exchange{Profile: venue.Profile{VenueID: "ARCA", Fee: 0.3, Delay: time.Millisecond}},
	}
	f := &feed{snap: baseSnapshot()}
	obs := &recorder{resolved: make(map[string]order.SliceStatus)}
	n := 0
	mon, err := New(o, spec, cfg, Deps{
		Planner:    planner.New(nil, nil),
		Router:     rt,
		Market:     f,
		Venues:     venues,
		Compliance: compliance,
		Observer:   obs,
		NewID: func() string {
			n++
			return fmt.Sprintf("c%d", n)
		},
	})
	require.NoError(t, err)
	return &harness{t: t, feed: f, mon: mon, obs: obs}
}

func (h *harness) activate() {
	h.t.Helper()
	require.NoError(h.t, h.mon.Activate(context.Background(), t0.Add(-time.Second)))
	require.Equal(h.t, order.StateScheduled, h.mon.Status().State)
}

func (h *harness) tick(at time.Time) TickResult {
	h.t.Helper()
	res, err := h.mon.Tick(at)
	require.NoError(h.t, err)
	return res
}

func (h *harness) report(c order.ChildOrder, qty int64, px float64, st order.ChildStatus, at time.Time) Outcome {
	h.t.Helper()
	out, err := h.mon.OnExecutionReport(order.ExecutionReport{
		ChildID:          c.ID,
		OrderID:          c.OrderID,
		SliceID:          c.SliceID,
		Venue:            c.Venue,
		ExecutedQuantity: qty,
		Price:            px,
		Timestamp:        at,
		Status:           st,
	})
	require.NoError(h.t, err)
	return out
}

func TestTWAPLifecycleCompletes(t *testing.T) {
	h := newHarness(t, baseOrder(1000), algo.TWAP{Slices: 5}, DefaultConfig(), nil)
	h.activate()

	res := h.tick(t0.Add(-time.Second))
	assert.Empty(t, res.Commands)
	assert.Equal(t, t0, res.NextWake)
	assert.Equal(t, order.StateScheduled, h.mon.Status().State)

	for i := 0; i < 5; i++ {
		at := t0.Add(time.Duration(i) * 2 * time.Minute)
		res = h.tick(at)
		require.Len(t, res.Commands, 1, "slice %d", i)
		c := res.Commands[0]
		assert.Equal(t, int64(200), c.Quantity)
		assert.Equal(t, "XNYS", c.Venue)
		assert.Equal(t, 1, c.Attempt)
		assert.Equal(t, order.StateExecuting, h.mon.Status().State)

		out := h.report(c, 200, 100.01, order.ChildFilled, at.Add(time.Second))
		assert.False(t, out.Replanned)
	}

	st := h.mon.Status()
	assert.Equal(t, order.StateCompleted, st.State)
	assert.Equal(t, int64(1000), st.Filled)
	assert.Zero(t, st.Residual)
	assert.InDelta(t, 1.0, st.SlippageBps, 1e-6)
	assert.Len(t, h.mon.History(), 1)
	assert.Equal(t, []schedule.ReplanReason{schedule.ReasonInitial}, h.obs.reasons)
	require.Len(t, h.obs.terminal, 1)
	assert.Equal(t, order.StateCompleted, h.obs.terminal[0].State)
	assert.Equal(t, int64(1000), h.obs.filled)

	for _, sl := range h.mon.Schedule().Slices {
		assert.Equal(t, order.SliceFilled, sl.Status)
		require.NotNil(t, sl.Allocation)
	}
	assert.True(t, h.tick(t0.Add(time.Hour)).Done)
}

func TestPartialFillReplansResidual(t *testing.T) {
	h := newHarness(t, baseOrder(1000), algo.TWAP{Slices: 5}, DefaultConfig(), nil)
	h.activate()
	first := h.mon.Current()

	c := h.tick(t0).Commands[0]
	out := h.report(c, 150, 100.01, order.ChildPartiallyFilled, t0.Add(time.Second))
	assert.False(t, out.Replanned)
	out = h.report(c, 0, 0, order.ChildCanceled, t0.Add(2*time.Second))
	assert.True(t, out.Replanned)
	assert.Equal(t, order.StateExecuting, out.State)

	assert.Equal(t, order.SlicePartiallyFilled, h.obs.resolved[first.Slices[0].ID])
	for _, sl := range first.Slices[1:] {
		assert.Equal(t, order.SliceCanceled, h.obs.resolved[sl.ID])
	}
	cur := h.mon.Current()
	assert.Equal(t, 2, cur.Version)
	assert.Equal(t, schedule.ReasonResidual, cur.Reason)
	assert.Equal(t, int64(850), cur.Quantity)
	assert.Equal(t, int64(850), cur.Total())
	assert.False(t, cur.Start.Before(t0.Add(2*time.Second)))
	assert.Equal(t, first, h.mon.History()[0], "installed schedules are never mutated")
}

func TestRejectionRetriedOnceThenFails(t *testing.T) {
	h := newHarness(t, baseOrder(1000), algo.TWAP{Slices: 5}, DefaultConfig(), nil)
	h.activate()

	c1 := h.tick(t0).Commands[0]
	require.Equal(t, "XNYS", c1.Venue)

	out := h.report(c1, 0, 0, order.ChildRejected, t0.Add(time.Second))
	require.Len(t, out.Commands, 1)
	c2 := out.Commands[0]
	assert.Equal(t, "ARCA", c2.Venue)
	assert.Equal(t, 2, c2.Attempt)
	assert.Equal(t, int64(200), c2.Quantity)
	assert.Nil(t, out.Failure)
	assert.False(t, out.Replanned)

	out = h.report(c2, 0, 0, order.ChildRejected, t0.Add(2*time.Second))
	require.NotNil(t, out.Failure)
	assert.True(t, errors.Is(out.Failure, execerr.ErrVenueRejection))
	assert.Equal(t, []string{"XNYS", "ARCA"}, out.Failure.Venues)
	assert.Empty(t, out.Commands)
	assert.True(t, out.Replanned)
	assert.Equal(t, order.StateExecuting, out.State)

	st := h.mon.Status()
	assert.Equal(t, 1, st.Failures)
	assert.Equal(t, int64(1000), st.Residual)
	cur := h.mon.Current()
	assert.Equal(t, schedule.ReasonRejection, cur.Reason)
	assert.Equal(t, int64(1000), cur.Total())
	assert.Len(t, h.obs.failures, 1)
}

func TestComplianceRejectionCancels(t *testing.T) {
	deny := risk.Func(func(context.Context, order.Order, market.Snapshot) (risk.Decision, error) {
		return risk.Reject("restricted symbol"), nil
	})
	h := newHarness(t, baseOrder(1000), algo.TWAP{Slices: 5}, DefaultConfig(), deny)

	err := h.mon.Activate(context.Background(), t0)
	require.ErrorIs(t, err, execerr.ErrComplianceRejected)
	assert.Equal(t, order.StateCanceled, h.mon.Status().State)
	assert.Nil(t, h.mon.Current())
	assert.Empty(t, h.mon.History())
}

func TestCrossedBookKeepsPending(t *testing.T) {
	h := newHarness(t, baseOrder(1000), algo.TWAP{Slices: 5}, DefaultConfig(), nil)
	h.feed.update(func(s *market.Snapshot) { s.Quote.Bid = 100.02 })

	err := h.mon.Activate(context.Background(), t0)
	require.ErrorIs(t, err, execerr.ErrCrossedBook)
	assert.Equal(t, order.StatePending, h.mon.Status().State)
	assert.Nil(t, h.mon.Current())

	_, err = h.mon.Tick(t0)
	assert.ErrorIs(t, err, ErrNotActive)

	h.feed.update(func(s *market.Snapshot) { s.Quote.Bid = 99.99 })
	h.activate()
}

func TestCrossedBookRetryChargesQuotaOnce(t *testing.T) {
	limits := risk.NewLimitChecker(risk.Limits{DailyMax: 1000})
	h := newHarness(t, baseOrder(600), algo.TWAP{Slices: 5}, DefaultConfig(), limits)
	h.feed.update(func(s *market.Snapshot) { s.Quote.Bid = 100.02 })

	for i := 0; i < 2; i++ {
		err := h.mon.Activate(context.Background(), t0)
		require.ErrorIs(t, err, execerr.ErrCrossedBook)
		assert.Equal(t, order.StatePending, h.mon.Status().State)
	}
	assert.Zero(t, limits.DailyAccepted("ACME"))

	h.feed.update(func(s *market.Snapshot) { s.Quote.Bid = 99.99 })
	h.activate()
	assert.Equal(t, int64(600), limits.DailyAccepted("ACME"))
}

func TestCancelWaitsForInFlight(t *testing.T) {
	h := newHarness(t, baseOrder(1000), algo.TWAP{Slices: 5}, DefaultConfig(), nil)
	h.activate()
	c := h.tick(t0).Commands[0]

	h.mon.Cancel()
	res := h.tick(t0.Add(2 * time.Minute))
	assert.Empty(t, res.Commands)
	assert.False(t, res.Done)
	assert.True(t, res.NextWake.IsZero())
	assert.Equal(t, order.StateExecuting, h.mon.Status().State)

	out := h.report(c, 200, 100.01, order.ChildFilled, t0.Add(2*time.Minute+time.Second))
	assert.Equal(t, order.StateCanceled, out.State)

	st := h.mon.Status()
	assert.Equal(t, int64(200), st.Filled)
	assert.Equal(t, int64(800), st.Residual)
	slices := h.mon.Schedule().Slices
	assert.Equal(t, order.SliceFilled, slices[0].Status)
	for _, sl := range slices[1:] {
		assert.Equal(t, order.SliceCanceled, sl.Status)
	}
}

func TestCancelBeforeActivation(t *testing.T) {
	h := newHarness(t, baseOrder(1000), algo.TWAP{Slices: 5}, DefaultConfig(), nil)
	h.mon.Cancel()
	require.NoError(t, h.mon.Activate(context.Background(), t0))
	assert.Equal(t, order.StateCanceled, h.mon.Status().State)
}

func TestExpiryReportsResidual(t *testing.T) {
	h := newHarness(t, baseOrder(1000), algo.TWAP{Slices: 5}, DefaultConfig(), nil)
	h.activate()
	c := h.tick(t0).Commands[0]
	h.report(c, 200, 100.01, order.ChildFilled, t0.Add(time.Second))

	res := h.tick(t0.Add(10 * time.Minute))
	assert.True(t, res.Done)
	st := h.mon.Status()
	assert.Equal(t, order.StateExpired, st.State)
	assert.Equal(t, int64(800), st.Residual)
}

func TestExpiryWaitsForInFlight(t *testing.T) {
	h := newHarness(t, baseOrder(1000), algo.TWAP{Slices: 5}, DefaultConfig(), nil)
	h.activate()
	c := h.tick(t0).Commands[0]

	res := h.tick(t0.Add(10 * time.Minute))
	assert.False(t, res.Done)
	assert.Equal(t, order.StateExecuting, h.mon.Status().State)

	h.report(c, 100, 100.01, order.ChildPartiallyFilled, t0.Add(10*time.Minute+time.Second))
	out := h.report(c, 0, 0, order.ChildCanceled, t0.Add(10*time.Minute+2*time.Second))
	assert.Equal(t, order.StateExpired, out.State)
	assert.Equal(t, int64(900), h.mon.Status().Residual)
}

func TestPriceLimitHoldsAndResumes(t *testing.T) {
	o := baseOrder(1000)
	o.LimitPrice = order.Price(100.5)
	h := newHarness(t, o, algo.TWAP{Slices: 5}, DefaultConfig(), nil)
	h.activate()

	h.feed.update(func(s *market.Snapshot) { s.Quote.Bid, s.Quote.Ask = 100.9, 101.0 })
	res := h.tick(t0)
	assert.Empty(t, res.Commands)
	assert.Equal(t, t0.Add(5*time.Second), res.NextWake)
	assert.True(t, h.mon.Status().Held)

	h.feed.update(func(s *market.Snapshot) { s.Quote.Bid, s.Quote.Ask = 99.99, 100.01 })
	res = h.tick(t0.Add(10 * time.Second))
	require.Len(t, res.Commands, 1)
	assert.Equal(t, int64(200), res.Commands[0].Quantity)
	require.NotNil(t, res.Commands[0].LimitPrice)
	assert.Equal(t, 100.5, *res.Commands[0].LimitPrice)
	assert.False(t, h.mon.Status().Held)

	assert.Equal(t, []schedule.ReplanReason{
		schedule.ReasonInitial, schedule.ReasonPriceLimit, schedule.ReasonPriceLimit,
	}, h.obs.reasons)
}

func TestSlippageTriggersReplan(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SlippageThresholdBps = 10
	h := newHarness(t, baseOrder(1000), algo.TWAP{Slices: 5}, cfg, nil)
	h.activate()

	c := h.tick(t0).Commands[0]
	out := h.report(c, 200, 100.5, order.ChildFilled, t0.Add(time.Second))
	assert.True(t, out.Replanned)

	cur := h.mon.Current()
	assert.Equal(t, schedule.ReasonSlippage, cur.Reason)
	assert.Equal(t, int64(800), cur.Quantity)
	assert.InDelta(t, 50, h.mon.Status().SlippageBps, 1e-6)
}

func povOrder() (order.Order, algo.POV) {
	return baseOrder(10_000), algo.POV{TargetRate: 0.1, MinRate: 0.05, MaxRate: 0.2, Interval: time.Minute}
}

func TestPOVSizesFromObservedVolume(t *testing.T) {
	o, spec := povOrder()
	h := newHarness(t, o, spec, DefaultConfig(), nil)
	h.activate()
	require.Len(t, h.mon.Current().Slices, 10)

	h.feed.update(func(s *market.Snapshot) { s.CumulativeVolume = 50_000 })
	res := h.tick(t0)
	require.Len(t, res.Commands, 1)
	assert.Equal(t, int64(5000), res.Commands[0].Quantity)
	assert.Equal(t, t0.Add(time.Minute), res.NextWake)
}

func TestPOVWithoutVolumeDefersSlice(t *testing.T) {
	o, spec := povOrder()
	cfg := DefaultConfig()
	h := newHarness(t, o, spec, cfg, nil)
	h.activate()

	res := h.tick(t0)
	assert.Empty(t, res.Commands)
	assert.Equal(t, order.SlicePlanned, h.mon.Schedule().Slices[0].Status)
	assert.Equal(t, t0.Add(cfg.HoldRecheck), res.NextWake)

	h.feed.update(func(s *market.Snapshot) { s.CumulativeVolume = 50_000 })
	res = h.tick(t0.Add(cfg.HoldRecheck))
	require.Len(t, res.Commands, 1)
	assert.Equal(t, int64(5000), res.Commands[0].Quantity)
	assert.Equal(t, schedule.ReasonInitial, h.mon.Current().Reason)
	assert.Equal(t, []schedule.ReplanReason{schedule.ReasonInitial}, h.obs.reasons)
}

func TestPOVParticipationDriftReplans(t *testing.T) {
	o, spec := povOrder()
	h := newHarness(t, o, spec, DefaultConfig(), nil)
	h.activate()

	h.feed.update(func(s *market.Snapshot) { s.CumulativeVolume = 50_000 })
	c := h.tick(t0).Commands[0]
	h.report(c, 5000, 100.01, order.ChildFilled, t0.Add(time.Second))

	// 5000 / 200000 = 2.5%，低于目标 10% 超过容差
	h.feed.update(func(s *market.Snapshot) { s.CumulativeVolume = 200_000 })
	res := h.tick(t0.Add(time.Minute))
	assert.Equal(t, schedule.ReasonParticipationDrift, h.mon.Current().Reason)
	require.Len(t, res.Commands, 1)
	assert.Equal(t, int64(5000), res.Commands[0].Quantity)
}

func TestReportValidation(t *testing.T) {
	h := newHarness(t, baseOrder(1000), algo.TWAP{Slices: 5}, DefaultConfig(), nil)
	_, err := h.mon.OnExecutionReport(order.ExecutionReport{ChildID: "x", Status: order.ChildFilled})
	assert.ErrorIs(t, err, ErrNotActive)

	h.activate()
	c := h.tick(t0).Commands[0]
	_, err = h.mon.OnExecutionReport(order.ExecutionReport{ChildID: "nope", Status: order.ChildCanceled})
	assert.ErrorIs(t, err, order.ErrUnknownChild)
	_, err = h.mon.OnExecutionReport(order.ExecutionReport{ChildID: c.ID, OrderID: "other", Status: order.ChildCanceled})
	assert.ErrorIs(t, err, execerr.ErrInvalidParameter)
	_, err = h.mon.OnExecutionReport(order.ExecutionReport{ChildID: c.ID, ExecutedQuantity: 500, Price: 100, Status: order.ChildFilled})
	assert.ErrorIs(t, err, order.ErrOverfill)
}

func TestNewValidatesDeps(t *testing.T) {
	_, err := New(baseOrder(1000), algo.TWAP{Slices: 5}, DefaultConfig(), Deps{})
	assert.Error(t, err)
	_, err = New(baseOrder(0), algo.TWAP{Slices: 5}, DefaultConfig(), Deps{})
	assert.ErrorIs(t, err, execerr.ErrInvalidParameter)
	_, err = New(baseOrder(1000), algo.TWAP{Slices: 0}, DefaultConfig(), Deps{})
	assert.ErrorIs(t, err, execerr.ErrInvalidParameter)
}
