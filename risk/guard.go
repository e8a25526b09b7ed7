// Package risk 事前合规：计划激活前调用一次，不通过则母单直接进入 CANCELED。
package risk

import (
	"context"

	"execution-kit/market"
	"execution-kit/order"
)

// Decision 合规结果。Pass=false 为硬拒绝。
type Decision struct {
	Pass   bool   `json:"pass"`
	Reason string `json:"reason,omitempty"`
}

// Approve 通过
func Approve() Decision { return Decision{Pass: true} }

// Reject 拒绝
func Reject(reason string) Decision { return Decision{Pass: false, Reason: reason} }

// Compliance 事前合规接口。返回 error 表示检查本身无法完成（母单保持 PENDING）。
type Compliance interface {
	PreTrade(ctx context.Context, o order.Order, snap market.Snapshot) (Decision, error)
}

// Func 函数适配器
type Func func(ctx context.Context, o order.Order, snap market.Snapshot) (Decision, error)

func (f Func) PreTrade(ctx context.Context, o order.Order, snap market.Snapshot) (Decision, error) {
	return f(ctx, o, snap)
}

// AllowAll 总是通过
var AllowAll Compliance = Func(func(context.Context, order.Order, market.Snapshot) (Decision, error) {
	return Approve(), nil
})

// Chain 顺序执行多个检查，第一个拒绝或错误即返回。
type Chain []Compliance

func (c Chain) PreTrade(ctx context.Context, o order.Order, snap market.Snapshot) (Decision, error) {
	for _, g := range c {
		if g == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Decision{}, err
		}
		d, err := g.PreTrade(ctx, o, snap)
		if err != nil || !d.Pass {
			return d, err
		}
	}
	return Approve(), nil
}
