// Package api 运维 HTTP 接口：母单提交/撤单、状态与计划历史查询、Prometheus 指标。
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"execution-kit/algo"
	"execution-kit/internal/engine"
	"execution-kit/internal/store"
	"execution-kit/monitor"
	"execution-kit/order"
)

// Engine 接口层需要的执行引擎能力，*engine.Supervisor 满足。
type Engine interface {
	Submit(o order.Order, spec algo.Spec) (*engine.Actor, error)
	Cancel(orderID string) error
	Status(orderID string) (monitor.Status, error)
	Monitor(orderID string) (*monitor.Monitor, error)
	List() []monitor.Status
	Active() int
	GetState() engine.EngineState
}

// Options 可选依赖
type Options struct {
	Audit   *store.Store // 为空时只能查询内存中的母单
	Metrics http.Handler // 为空时不挂 /metrics
	Logger  *zap.Logger
	Now     func() time.Time
}

// NewRouter 注册全部路由以及请求日志中间件。
func NewRouter(eng Engine, opts Options) chi.Router {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	h := &orderHandler{eng: eng, audit: opts.Audit, now: opts.Now, logger: opts.Logger}

	r := chi.NewRouter()
	r.Use(requestLogging(opts.Logger))

	r.Get("/healthz", h.Health)

	r.Post("/orders", h.Submit)
	r.Get("/orders", h.List)
	r.Get("/orders/archive", h.Archive)
	r.Get("/orders/{order_id}", h.Get)
	r.Delete("/orders/{order_id}", h.Cancel)
	r.Get("/orders/{order_id}/schedule", h.Schedule)
	r.Get("/orders/{order_id}/schedules", h.History)
	r.Get("/orders/{order_id}/fills", h.Fills)
	r.Get("/orders/{order_id}/analysis", h.Analysis)
	r.Get("/orders/{order_id}/failures", h.Failures)

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	return r
}

func requestLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter 记录状态码
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
