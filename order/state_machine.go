package order

import (
	"errors"
	"fmt"
)

// ErrIllegalTransition 非法状态转换。
var ErrIllegalTransition = errors.New("illegal state transition")

// StateTransition 状态转换
type StateTransition[S ~string] struct {
	From S
	To   S
}

// StateMachine 转换表驱动的状态机，构造后只读，可并发使用。
type StateMachine[S ~string] struct {
	transitions map[StateTransition[S]]bool
	final       map[S]bool
}

func newStateMachine[S ~string](legal []StateTransition[S], final ...S) *StateMachine[S] {
	sm := &StateMachine[S]{
		transitions: make(map[StateTransition[S]]bool, len(legal)),
		final:       make(map[S]bool, len(final)),
	}
	for _, t := range legal {
		sm.transitions[t] = true
	}
	for _, s := range final {
		sm.final[s] = true
	}
	return sm
}

// ValidateTransition 验证状态转换是否合法；相同状态视为幂等。
func (sm *StateMachine[S]) ValidateTransition(from, to S) error {
	if from == to {
		return nil
	}
	if !sm.transitions[StateTransition[S]{From: from, To: to}] {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// IsFinalState 判断是否是终态
func (sm *StateMachine[S]) IsFinalState(s S) bool { return sm.final[s] }

var orderStates = newStateMachine([]StateTransition[State]{
	// 规划成功
	{StatePending, StateScheduled},
	// 合规拒绝或规划前撤单
	{StatePending, StateCanceled},

	{StateScheduled, StateExecuting},
	{StateScheduled, StateCanceled},
	{StateScheduled, StateExpired},

	{StateExecuting, StateCompleted},
	{StateExecuting, StateCanceled},
	{StateExecuting, StateExpired},
}, StateCompleted, StateCanceled, StateExpired)

var sliceStates = newStateMachine([]StateTransition[SliceStatus]{
	{SlicePlanned, SliceRouted},
	{SlicePlanned, SliceCanceled}, // 撤单/过期/重规划作废

	{SliceRouted, SliceDispatched},
	{SliceRouted, SliceCanceled},

	{SliceDispatched, SliceFilled},
	{SliceDispatched, SlicePartiallyFilled},
	{SliceDispatched, SliceCanceled}, // 零成交
}, SliceFilled, SlicePartiallyFilled, SliceCanceled)

var childStates = newStateMachine([]StateTransition[ChildStatus]{
	{ChildNew, ChildPartiallyFilled},
	{ChildNew, ChildFilled},
	{ChildNew, ChildCanceled},
	{ChildNew, ChildRejected},
	{ChildPartiallyFilled, ChildFilled},
	{ChildPartiallyFilled, ChildCanceled},
}, ChildFilled, ChildCanceled, ChildRejected)

// OrderStates 母单状态机。
func OrderStates() *StateMachine[State] { return orderStates }

// SliceStates 切片状态机。
func SliceStates() *StateMachine[SliceStatus] { return sliceStates }

// ChildStates 子单状态机。
func ChildStates() *StateMachine[ChildStatus] { return childStates }

// IsFinal 母单是否已终结。
func (s State) IsFinal() bool { return orderStates.IsFinalState(s) }

// IsFinal 切片是否已终结。
func (s SliceStatus) IsFinal() bool { return sliceStates.IsFinalState(s) }

// IsFinal 子单是否已终结。
func (s ChildStatus) IsFinal() bool { return childStates.IsFinalState(s) }
