// Package execerr 定义执行核心的错误分类，调用方通过 errors.Is / errors.As 判断。
package execerr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameter 参数非法（窗口非正、切片数<1、参与率上下界倒置、成交量曲线为空等）。
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrCrossedBook 行情快照自相矛盾（bid >= ask 或数量为负）。
	ErrCrossedBook = errors.New("crossed book")
	// ErrVenueRejection 场所拒单，可恢复。
	ErrVenueRejection = errors.New("venue rejection")
	// ErrNumericOverflow 数值溢出；规划器内部降级为线性轨迹，不向外抛出。
	ErrNumericOverflow = errors.New("numeric overflow")
	// ErrComplianceRejected 事前合规未通过。
	ErrComplianceRejected = errors.New("compliance rejected")
)

// Invalid 包装 ErrInvalidParameter 并附带上下文。
func Invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameter, fmt.Sprintf(format, args...))
}

// Crossed 包装 ErrCrossedBook。
func Crossed(symbol string, bid, ask float64) error {
	return fmt.Errorf("%w: %s bid %.8f >= ask %.8f", ErrCrossedBook, symbol, bid, ask)
}

// ExecutionFailure 表示同一子单重试后仍被拒绝。父单不会中止，该数量计入下一次重规划。
type ExecutionFailure struct {
	OrderID  string
	SliceID  string
	Venues   []string
	Quantity int64
	Reason   string
}

func (f *ExecutionFailure) Error() string {
	return fmt.Sprintf("execution failure order=%s slice=%s qty=%d venues=%v: %s",
		f.OrderID, f.SliceID, f.Quantity, f.Venues, f.Reason)
}

func (f *ExecutionFailure) Unwrap() error { return ErrVenueRejection }
