// Package gateway 下单通道接口与参考实现（限速包装、纸面撮合）。
// 真实的 FIX/DMA 连接不在本仓库内。
package gateway

import (
	"context"
	"errors"

	"execution-kit/order"
)

// ErrClosed 通道已关闭
var ErrClosed = errors.New("gateway closed")

// OrderEntry 下单通道。Submit 只负责送达；成交结果通过 ReportHandler 异步返回。
// Submit 返回错误时子单视为未送达，调用方按拒单处理。
type OrderEntry interface {
	Submit(ctx context.Context, c order.ChildOrder) error
}

// ReportHandler 接收异步回报。
type ReportHandler func(order.ExecutionReport)

// Func 函数适配器
type Func func(ctx context.Context, c order.ChildOrder) error

func (f Func) Submit(ctx context.Context, c order.ChildOrder) error { return f(ctx, c) }
