package gateway

import (
	"context"

	"golang.org/x/time/rate"

	"execution-kit/order"
)

// RateLimited 令牌桶限速，避免触发场所的频率限制。ctx 取消时放弃等待。
type RateLimited struct {
	next    OrderEntry
	limiter *rate.Limiter
}

// NewRateLimited 每秒 perSecond 个请求，突发 burst。perSecond<=0 表示不限速。
func NewRateLimited(next OrderEntry, perSecond float64, burst int) *RateLimited {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimited) Submit(ctx context.Context, c order.ChildOrder) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.next.Submit(ctx, c)
}

// SetRate 热更新速率
func (r *RateLimited) SetRate(perSecond float64, burst int) {
	if perSecond <= 0 {
		r.limiter.SetLimit(rate.Inf)
	} else {
		r.limiter.SetLimit(rate.Limit(perSecond))
	}
	if burst > 0 {
		r.limiter.SetBurst(burst)
	}
}
