package alert

import (
	"fmt"
	"sync"
	"time"

	"execution-kit/execerr"
	"execution-kit/monitor"
	"execution-kit/order"
)

// Level 告警级别
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Alert 告警信息
type Alert struct {
	Level     Level                  `json:"level"`
	Event     string                 `json:"event"` // execution.failure, order.expired ...
	OrderID   string                 `json:"order_id,omitempty"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Channel 告警通道接口
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Throttler 告警限流器：同一 key 在 interval 内只发一次
type Throttler struct {
	lastSent map[string]time.Time
	interval time.Duration
	now      func() time.Time
	mu       sync.Mutex
}

// NewThrottler 创建限流器
func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
		now:      time.Now,
	}
}

// Allow 检查是否允许发送
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	last, ok := t.lastSent[key]
	if !ok || now.Sub(last) >= t.interval {
		t.lastSent[key] = now
		return true
	}
	return false
}

// Clear 清空所有限流记录
func (t *Throttler) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = make(map[string]time.Time)
}

// Manager 告警管理器，把执行事件分发到所有通道。
type Manager struct {
	channels []Channel
	throttle *Throttler
	mu       sync.RWMutex
}

// NewManager 创建告警管理器；throttleInterval<=0 不限流
func NewManager(channels []Channel, throttleInterval time.Duration) *Manager {
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttleInterval),
	}
}

// SendAlert 发送告警。限流 key 为 级别+事件+母单，被限流时静默返回 nil。
// 全部通道失败时返回最后一个错误。
func (m *Manager) SendAlert(a Alert) error {
	if a.Timestamp.IsZero() {
		a.Timestamp = m.throttle.now()
	}
	if !m.throttle.Allow(fmt.Sprintf("%s:%s:%s", a.Level, a.Event, a.OrderID)) {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var lastErr error
	ok := 0
	for _, ch := range m.channels {
		if err := ch.Send(a); err != nil {
			lastErr = fmt.Errorf("channel %s failed: %w", ch.Name(), err)
			continue
		}
		ok++
	}
	if ok == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// AddChannel 添加告警通道
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// RemoveChannel 移除告警通道
func (m *Manager) RemoveChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	filtered := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		if ch.Name() != name {
			filtered = append(filtered, ch)
		}
	}
	m.channels = filtered
}

// Channels 通道名称
func (m *Manager) Channels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}

// ResetThrottle 重置限流器
func (m *Manager) ResetThrottle() {
	m.throttle.Clear()
}

// Observer 把监控器事件转成告警：执行失败、母单过期未完成、合规拒绝。
// 作为 monitor.Observer 挂到引擎上；发送失败只能丢弃，由 OnError 上报。
type Observer struct {
	monitor.NopObserver
	m       *Manager
	OnError func(error)
}

// NewObserver 创建告警观察者
func NewObserver(m *Manager) *Observer {
	return &Observer{m: m}
}

func (o *Observer) send(a Alert) {
	if err := o.m.SendAlert(a); err != nil && o.OnError != nil {
		o.OnError(err)
	}
}

// Failure 同一子单在两个场所都被拒绝
func (o *Observer) Failure(f *execerr.ExecutionFailure) {
	o.send(Alert{
		Level:   LevelError,
		Event:   "execution.failure",
		OrderID: f.OrderID,
		Message: f.Error(),
		Fields: map[string]interface{}{
			"slice_id": f.SliceID,
			"venues":   f.Venues,
			"quantity": f.Quantity,
			"reason":   f.Reason,
		},
	})
}

// Terminal 过期仍有剩余量，或未激活即被撤销（合规拒绝等）
func (o *Observer) Terminal(st monitor.Status) {
	switch {
	case st.State == order.StateExpired && st.Residual > 0:
		o.send(Alert{
			Level:   LevelWarning,
			Event:   "order.expired",
			OrderID: st.OrderID,
			Message: fmt.Sprintf("order %s expired with %d of %d unfilled", st.OrderID, st.Residual, st.Quantity),
			Fields: map[string]interface{}{
				"symbol":       st.Symbol,
				"filled":       st.Filled,
				"slippage_bps": st.SlippageBps,
			},
		})
	case st.State == order.StateCanceled && st.Reason != "" && !st.CancelRequested:
		o.send(Alert{
			Level:   LevelWarning,
			Event:   "order.canceled",
			OrderID: st.OrderID,
			Message: fmt.Sprintf("order %s canceled: %s", st.OrderID, st.Reason),
			Fields:  map[string]interface{}{"symbol": st.Symbol, "filled": st.Filled},
		})
	}
}
