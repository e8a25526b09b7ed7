// Package metrics 执行核心的 Prometheus 指标，注册在独立 registry 上。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"execution-kit/execerr"
	"execution-kit/monitor"
	"execution-kit/order"
	"execution-kit/schedule"
	"execution-kit/venue"
)

// Config 指标命名
type Config struct {
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{Namespace: "exec", Subsystem: "core"}
}

// Recorder 实现 monitor.Observer，把监控器事件转为指标。
type Recorder struct {
	registry *prometheus.Registry

	schedulesPlanned *prometheus.CounterVec // algo
	replans          *prometheus.CounterVec // reason
	slicesDispatched *prometheus.CounterVec // legs: single|split
	slicesResolved   *prometheus.CounterVec // status
	childRejections  *prometheus.CounterVec // venue
	failures         prometheus.Counter
	filledQuantity   *prometheus.CounterVec // venue
	ordersFinished   *prometheus.CounterVec // state
	activeOrders     prometheus.Gauge
	routeCostBps     prometheus.Histogram
	slippageBps      prometheus.Histogram
	tickErrors       prometheus.Counter
}

var _ monitor.Observer = (*Recorder)(nil)

// New 创建 Recorder
func New(cfg Config) *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, Name: name, Help: help,
		}, labels)
	}

	return &Recorder{
		registry:         reg,
		schedulesPlanned: counter("schedules_planned_total", "安装的执行计划数", "algo"),
		replans:          counter("replans_total", "重规划次数", "reason"),
		slicesDispatched: counter("slices_dispatched_total", "派发的切片数", "legs"),
		slicesResolved:   counter("slices_resolved_total", "切片终态计数", "status"),
		childRejections:  counter("child_rejections_total", "场所拒单数", "venue"),
		failures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "execution_failures_total", Help: "重试后仍被拒绝的子单数",
		}),
		filledQuantity: counter("filled_quantity_total", "累计成交数量", "venue"),
		ordersFinished: counter("orders_finished_total", "母单终态计数", "state"),
		activeOrders: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "active_orders", Help: "执行中的母单数",
		}),
		routeCostBps: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "route_expected_cost_bps", Help: "切片路由的预期成本（bps）",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 50, 100},
		}),
		slippageBps: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "order_slippage_bps", Help: "母单结束时相对到达价的滑点（bps）",
			Buckets: []float64{-50, -20, -10, -5, 0, 5, 10, 20, 50, 100},
		}),
		tickErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "tick_errors_total", Help: "Tick 返回错误的次数",
		}),
	}
}

// Registry 供测试或合并导出使用
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler HTTP 导出
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) ScheduleInstalled(s *schedule.Schedule) {
	r.schedulesPlanned.WithLabelValues(string(s.Algorithm)).Inc()
	if s.Reason != schedule.ReasonInitial {
		r.replans.WithLabelValues(string(s.Reason)).Inc()
	}
}

func (r *Recorder) SliceDispatched(_ string, _ schedule.Slice, alloc *venue.Allocation) {
	r.slicesDispatched.WithLabelValues(sliceKind(alloc)).Inc()
	if alloc != nil {
		r.routeCostBps.Observe(alloc.ExpectedCostBps)
	}
}

func sliceKind(alloc *venue.Allocation) string {
	if alloc == nil || len(alloc.Legs) == 0 {
		return "none"
	}
	if len(alloc.Legs) == 1 {
		return "single"
	}
	return "split"
}

func (r *Recorder) SliceResolved(_, _ string, status order.SliceStatus) {
	r.slicesResolved.WithLabelValues(string(status)).Inc()
}

func (r *Recorder) ChildRejected(c order.ChildOrder) {
	r.childRejections.WithLabelValues(c.Venue).Inc()
}

func (r *Recorder) Failure(*execerr.ExecutionFailure) { r.failures.Inc() }

func (r *Recorder) Filled(_, venueID string, qty int64, _ float64) {
	r.filledQuantity.WithLabelValues(venueID).Add(float64(qty))
}

func (r *Recorder) Terminal(st monitor.Status) {
	r.ordersFinished.WithLabelValues(string(st.State)).Inc()
	if st.Filled > 0 {
		r.slippageBps.Observe(st.SlippageBps)
	}
}

// OrderStarted / OrderStopped 由 supervisor 在 actor 启停时调用。
func (r *Recorder) OrderStarted() { r.activeOrders.Inc() }

func (r *Recorder) OrderStopped() { r.activeOrders.Dec() }

// TickError 记录一次 Tick 错误
func (r *Recorder) TickError() { r.tickErrors.Inc() }
