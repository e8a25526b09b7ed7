package monitor

import (
	"execution-kit/execerr"
	"execution-kit/order"
	"execution-kit/schedule"
	"execution-kit/venue"
)

// Observer 接收监控器事件（指标、审计）。回调在监控器的调用线程内同步执行，不能阻塞。
type Observer interface {
	ScheduleInstalled(s *schedule.Schedule)
	SliceDispatched(orderID string, sl schedule.Slice, alloc *venue.Allocation)
	SliceResolved(orderID, sliceID string, status order.SliceStatus)
	ChildRejected(c order.ChildOrder)
	Failure(f *execerr.ExecutionFailure)
	Filled(orderID, venueID string, qty int64, price float64)
	Terminal(st Status)
}

// NopObserver 空实现，可嵌入只关心部分事件的观察者。
type NopObserver struct{}

func (NopObserver) ScheduleInstalled(*schedule.Schedule)                      {}
func (NopObserver) SliceDispatched(string, schedule.Slice, *venue.Allocation) {}
func (NopObserver) SliceResolved(string, string, order.SliceStatus)           {}
func (NopObserver) ChildRejected(order.ChildOrder)                            {}
func (NopObserver) Failure(*execerr.ExecutionFailure)                         {}
func (NopObserver) Filled(string, string, int64, float64)                     {}
func (NopObserver) Terminal(Status)                                           {}

// Observers 广播到多个观察者
type Observers []Observer

func (o Observers) ScheduleInstalled(s *schedule.Schedule) {
	for _, x := range o {
		x.ScheduleInstalled(s)
	}
}

func (o Observers) SliceDispatched(orderID string, sl schedule.Slice, alloc *venue.Allocation) {
	for _, x := range o {
		x.SliceDispatched(orderID, sl, alloc)
	}
}

func (o Observers) SliceResolved(orderID, sliceID string, status order.SliceStatus) {
	for _, x := range o {
		x.SliceResolved(orderID, sliceID, status)
	}
}

func (o Observers) ChildRejected(c order.ChildOrder) {
	for _, x := range o {
		x.ChildRejected(c)
	}
}

func (o Observers) Failure(f *execerr.ExecutionFailure) {
	for _, x := range o {
		x.Failure(f)
	}
}

func (o Observers) Filled(orderID, venueID string, qty int64, price float64) {
	for _, x := range o {
		x.Filled(orderID, venueID, qty, price)
	}
}

func (o Observers) Terminal(st Status) {
	for _, x := range o {
		x.Terminal(st)
	}
}
