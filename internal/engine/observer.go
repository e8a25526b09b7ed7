package engine

import (
	"execution-kit/execerr"
	"execution-kit/infrastructure/logger"
	"execution-kit/monitor"
	"execution-kit/order"
	"execution-kit/schedule"
	"execution-kit/venue"
)

// LogObserver 把监控器事件写成结构化事件日志（order_event / slice_event / replan_event / error_event）。
type LogObserver struct {
	log *logger.Logger
}

func NewLogObserver(l *logger.Logger) LogObserver {
	if l == nil {
		l = logger.FromZap(nil)
	}
	return LogObserver{log: l}
}

func (o LogObserver) ScheduleInstalled(s *schedule.Schedule) {
	o.log.LogReplan(s.OrderID, string(s.Reason), s.Version, s.Quantity, len(s.Slices))
}

func (o LogObserver) SliceDispatched(orderID string, sl schedule.Slice, alloc *venue.Allocation) {
	fields := map[string]interface{}{"quantity": sl.Quantity}
	if alloc != nil {
		legs := make([]string, len(alloc.Legs))
		for i, l := range alloc.Legs {
			legs[i] = l.String()
		}
		fields["legs"] = legs
		fields["expected_cost_bps"] = alloc.ExpectedCostBps
	}
	o.log.LogSlice("dispatched", orderID, sl.ID, fields)
}

func (o LogObserver) SliceResolved(orderID, sliceID string, status order.SliceStatus) {
	o.log.LogSlice("resolved", orderID, sliceID, map[string]interface{}{"status": string(status)})
}

func (o LogObserver) ChildRejected(c order.ChildOrder) {
	o.log.LogSlice("child_rejected", c.OrderID, c.SliceID, map[string]interface{}{
		"child_id": c.ID,
		"venue":    c.Venue,
		"attempt":  c.Attempt,
	})
}

func (o LogObserver) Failure(f *execerr.ExecutionFailure) {
	o.log.LogError(f, map[string]interface{}{
		"order_id": f.OrderID,
		"slice_id": f.SliceID,
		"venues":   f.Venues,
		"quantity": f.Quantity,
	})
}

func (o LogObserver) Filled(string, string, int64, float64) {}

func (o LogObserver) Terminal(st monitor.Status) {
	o.log.LogOrder("terminal", st.OrderID, map[string]interface{}{
		"state":        string(st.State),
		"filled":       st.Filled,
		"residual":     st.Residual,
		"avg_price":    st.AvgPrice,
		"slippage_bps": st.SlippageBps,
	})
}
