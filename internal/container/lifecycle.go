package container

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Lifecycle 生命周期接口
type Lifecycle interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	Health() error
}

// LifecycleManager 生命周期管理器：按注册顺序启动，逆序停止。
type LifecycleManager struct {
	components []Lifecycle
	started    int
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewLifecycleManager 创建新的生命周期管理器
func NewLifecycleManager(logger *zap.Logger) *LifecycleManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleManager{
		components: make([]Lifecycle, 0),
		logger:     logger,
	}
}

// Register 注册组件
func (m *LifecycleManager) Register(component Lifecycle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component)
}

// StartAll 按顺序启动所有组件；失败时回滚已启动的组件。
func (m *LifecycleManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, component := range m.components {
		if err := component.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if serr := m.components[j].Stop(); serr != nil {
					m.logger.Warn("rollback stop failed", zap.String("component", m.components[j].Name()), zap.Error(serr))
				}
			}
			m.started = 0
			return fmt.Errorf("start %s: %w", component.Name(), err)
		}
		m.logger.Info("component started", zap.String("component", component.Name()))
		m.started = i + 1
	}
	return nil
}

// StopAll 逆序停止已启动的组件，汇总全部错误。
func (m *LifecycleManager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs error
	for i := m.started - 1; i >= 0; i-- {
		c := m.components[i]
		if err := c.Stop(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("stop %s: %w", c.Name(), err))
			continue
		}
		m.logger.Info("component stopped", zap.String("component", c.Name()))
	}
	m.started = 0
	return errs
}

// CheckHealth 检查所有组件健康状态
func (m *LifecycleManager) CheckHealth() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, component := range m.components {
		if err := component.Health(); err != nil {
			return fmt.Errorf("component %s unhealthy: %w", component.Name(), err)
		}
	}
	return nil
}

// funcComponent 用闭包描述的组件
type funcComponent struct {
	name   string
	start  func(ctx context.Context) error
	stop   func() error
	health func() error
}

func (f *funcComponent) Name() string { return f.name }

func (f *funcComponent) Start(ctx context.Context) error {
	if f.start == nil {
		return nil
	}
	return f.start(ctx)
}

func (f *funcComponent) Stop() error {
	if f.stop == nil {
		return nil
	}
	return f.stop()
}

func (f *funcComponent) Health() error {
	if f.health == nil {
		return nil
	}
	return f.health()
}

// httpServerComponent HTTP服务器组件。Start 同步绑定端口，端口占用会直接报错。
type httpServerComponent struct {
	name    string
	handler http.Handler
	addr    string
	logger  *zap.Logger
	server  *http.Server
	bound   string
	started bool
	failed  error
	mu      sync.Mutex
}

func (h *httpServerComponent) Name() string { return h.name }

func (h *httpServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return nil
	}
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("%s listen %s: %w", h.name, h.addr, err)
	}
	srv := &http.Server{
		Handler:           h.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	h.server = srv
	h.bound = ln.Addr().String()
	h.failed = nil

	go func() {
		h.logger.Info("http server listening", zap.String("component", h.name), zap.String("addr", h.bound))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("http server failed", zap.String("component", h.name), zap.Error(err))
			h.mu.Lock()
			h.failed = err
			h.mu.Unlock()
		}
	}()

	h.started = true
	return nil
}

func (h *httpServerComponent) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started || h.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", h.name, err)
	}
	h.started = false
	return nil
}

func (h *httpServerComponent) Health() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.failed != nil {
		return h.failed
	}
	if !h.started {
		return fmt.Errorf("%s not started", h.name)
	}
	return nil
}

// Addr 实际监听地址（配置 :0 时用于测试）
func (h *httpServerComponent) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bound
}
