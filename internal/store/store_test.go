package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution-kit/algo"
	"execution-kit/execerr"
	"execution-kit/market"
	"execution-kit/monitor"
	"execution-kit/order"
	"execution-kit/planner"
	"execution-kit/schedule"
)

var t0 = time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

func plan(t *testing.T, slices int) *schedule.Schedule {
	t.Helper()
	o := order.Order{
		ID:          "ord-1",
		Symbol:      "ACME",
		Side:        order.SideBuy,
		Quantity:    1000,
		ArrivalTime: t0,
		StartTime:   t0,
		EndTime:     t0.Add(10 * time.Minute),
	}
	snap := market.Snapshot{
		Symbol:     "ACME",
		Time:       t0,
		Quote:      market.Quote{Bid: 99.99, Ask: 100.01, BidSize: 100, AskSize: 100},
		ADV:        1_000_000,
		Volatility: 0.02,
	}
	s, err := planner.New(nil, nil).Plan(o, algo.TWAP{Slices: slices}, snap)
	require.NoError(t, err)
	return s
}

func openMem(t *testing.T, sink EventSink) *Store {
	t.Helper()
	st, err := Open(":memory:", nil, sink)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStore_ScheduleHistoryRoundTrip(t *testing.T) {
	st := openMem(t, nil)
	ctx := context.Background()

	first := plan(t, 4)
	second := first.Clone()
	second.Version = 2
	second.Reason = schedule.ReasonResidual
	second.Slices = second.Slices[1:]

	// 观察者回调与直接写入走同一条路径
	st.ScheduleInstalled(first)
	require.NoError(t, st.SaveSchedule(ctx, second))

	hist, err := st.History(ctx, "ord-1")
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, 1, hist[0].Version)
	assert.Equal(t, schedule.ReasonInitial, hist[0].Reason)
	assert.Equal(t, first.Quantities(), hist[0].Quantities())
	assert.True(t, first.Start.Equal(hist[0].Start))
	assert.Equal(t, schedule.ReasonResidual, hist[1].Reason)
	assert.Len(t, hist[1].Slices, 3)

	empty, err := st.History(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_TerminalOrders(t *testing.T) {
	st := openMem(t, nil)
	ctx := context.Background()

	_, err := st.Order(ctx, "ord-1")
	assert.ErrorIs(t, err, ErrNotFound)

	st.Terminal(monitor.Status{
		OrderID:   "ord-1",
		Symbol:    "ACME",
		Side:      order.SideBuy,
		Algorithm: algo.KindTWAP,
		State:     order.StateExpired,
		Quantity:  1000,
		Filled:    800,
		Residual:  200,
		AvgPrice:  100.02,
		Reason:    "end time reached",
		UpdatedAt: t0.Add(10 * time.Minute),
	})
	st.Terminal(monitor.Status{OrderID: "ord-0", Symbol: "ACME", Side: order.SideSell, State: order.StateCompleted, Quantity: 10, Filled: 10})

	rec, err := st.Order(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.StateExpired, rec.State)
	assert.Equal(t, int64(200), rec.Residual)
	assert.Equal(t, "end time reached", rec.Reason)
	assert.True(t, rec.UpdatedAt.Equal(t0.Add(10*time.Minute)))

	all, err := st.Orders(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "ord-0", all[0].OrderID)
	assert.Equal(t, order.SideSell, all[0].Side)
	assert.Zero(t, st.WriteErrors())
}

func TestStore_FillsAndFailures(t *testing.T) {
	var mu sync.Mutex
	var events []string
	st := openMem(t, func(event string, _ map[string]interface{}) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, event)
	})
	ctx := context.Background()

	st.Filled("ord-1", "XNYS", 150, 100.01)
	st.Filled("ord-1", "ARCA", 50, 100.02)
	st.Failure(&execerr.ExecutionFailure{OrderID: "ord-1", SliceID: "s-3", Venues: []string{"XNYS", "ARCA"}, Quantity: 100, Reason: "halted"})

	filled, err := st.FilledQuantity(ctx, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), filled)

	none, err := st.FilledQuantity(ctx, "ord-2")
	require.NoError(t, err)
	assert.Zero(t, none)

	fails, err := st.Failures(ctx, "ord-1")
	require.NoError(t, err)
	require.Len(t, fails, 1)
	assert.Equal(t, []string{"XNYS", "ARCA"}, fails[0].Venues)
	assert.Equal(t, int64(100), fails[0].Quantity)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"fill", "fill", "failure"}, events)
}

func TestStore_FileBackedReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.db")
	st, err := Open(path, nil, nil)
	require.NoError(t, err)
	st.ScheduleInstalled(plan(t, 2))
	require.NoError(t, st.Close())

	again, err := Open(path, nil, nil)
	require.NoError(t, err)
	defer again.Close()
	hist, err := again.History(context.Background(), "ord-1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Len(t, hist[0].Slices, 2)
}

func TestStore_WriteErrorsCounted(t *testing.T) {
	st, err := Open(":memory:", nil, nil)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st.Filled("ord-1", "XNYS", 1, 1)
	assert.Equal(t, int64(1), st.WriteErrors())

	_, err = Open("", nil, nil)
	assert.Error(t, err)
}

func TestStore_ConcurrentObservers(t *testing.T) {
	st := openMem(t, nil)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				st.Filled("ord-1", "XNYS", 1, 100)
			}
		}()
	}
	wg.Wait()
	n, err := st.FilledQuantity(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), n)
	assert.Zero(t, st.WriteErrors())
}
