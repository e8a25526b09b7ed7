package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"execution-kit/algo"
	"execution-kit/execerr"
	"execution-kit/gateway"
	"execution-kit/infrastructure/logger"
	"execution-kit/market"
	"execution-kit/metrics"
	"execution-kit/monitor"
	"execution-kit/order"
	"execution-kit/planner"
	"execution-kit/risk"
	"execution-kit/router"
	"execution-kit/venue"
)

// EngineState 引擎状态
type EngineState int

const (
	// StateIdle 空闲状态
	StateIdle EngineState = iota
	// StateRunning 运行状态
	StateRunning
	// StateStopped 停止状态
	StateStopped
)

// String 返回状态名称
func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrNotRunning     = errors.New("engine not running")
	ErrDuplicateOrder = errors.New("duplicate order id")
	ErrUnknownOrder   = errors.New("unknown order")
)

// Config 引擎配置
type Config struct {
	MailboxSize   int              `yaml:"mailboxSize"`   // 每个母单的回报缓冲
	ActivateRetry time.Duration    `yaml:"activateRetry"` // 行情不可用时重新激活的间隔
	SubmitTimeout time.Duration    `yaml:"submitTimeout"` // 单个子单下发超时（含限速等待）
	Now           func() time.Time `yaml:"-"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MailboxSize:   256,
		ActivateRetry: 5 * time.Second,
		SubmitTimeout: 5 * time.Second,
		Now:           time.Now,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MailboxSize <= 0 {
		c.MailboxSize = d.MailboxSize
	}
	if c.ActivateRetry <= 0 {
		c.ActivateRetry = d.ActivateRetry
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = d.SubmitTimeout
	}
	if c.Now == nil {
		c.Now = d.Now
	}
	return c
}

// Components 引擎依赖组件
type Components struct {
	Planner    *planner.Planner
	Router     *router.Router
	Market     market.Source
	Venues     []venue.Venue
	Compliance risk.Compliance
	Gateway    gateway.OrderEntry
	Metrics    *metrics.Recorder  // 可选
	Observers  []monitor.Observer // 额外观察者，例如审计库
	Logger     *logger.Logger
	NewID      func() string
}

// Supervisor 管理所有母单的执行器：按母单 ID 分发回报，errgroup 统一回收协程。
type Supervisor struct {
	cfg      Config
	comp     Components
	observer monitor.Observer
	logger   *logger.Logger

	mu        sync.RWMutex
	state     EngineState
	monCfg    monitor.Config
	actors    map[string]*Actor
	group     *errgroup.Group
	ctx       context.Context
	onFailure func(*execerr.ExecutionFailure)
}

// New 创建引擎
func New(cfg Config, monCfg monitor.Config, comp Components) (*Supervisor, error) {
	if err := validateComponents(comp); err != nil {
		return nil, fmt.Errorf("invalid components: %w", err)
	}
	if comp.Logger == nil {
		comp.Logger = logger.FromZap(nil)
	}
	observers := monitor.Observers{NewLogObserver(comp.Logger)}
	if comp.Metrics != nil {
		observers = append(observers, comp.Metrics)
	}
	observers = append(observers, comp.Observers...)

	return &Supervisor{
		cfg:      cfg.withDefaults(),
		comp:     comp,
		observer: observers,
		logger:   comp.Logger,
		state:    StateIdle,
		monCfg:   monCfg,
		actors:   make(map[string]*Actor),
	}, nil
}

// SetFailureHandler 设置执行失败回调（在执行器协程中调用，不能阻塞）。
func (s *Supervisor) SetFailureHandler(fn func(*execerr.ExecutionFailure)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFailure = fn
}

// Start 启动引擎；之后才能 Submit。
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return fmt.Errorf("engine already started (state: %s)", s.state)
	}
	s.group, s.ctx = errgroup.WithContext(ctx)
	s.state = StateRunning
	s.logger.Info("execution engine started", zap.Int("venues", len(s.comp.Venues)))
	return nil
}

// Wait 等待所有执行器退出。通常在 ctx 取消后调用。
func (s *Supervisor) Wait() error {
	s.mu.RLock()
	g := s.group
	s.mu.RUnlock()
	if g == nil {
		return ErrNotRunning
	}
	err := g.Wait()
	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	s.logger.Info("execution engine stopped")
	return err
}

// Run 启动并阻塞到 ctx 结束。
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Wait()
}

// Submit 接收母单并启动执行器。
func (s *Supervisor) Submit(o order.Order, spec algo.Spec) (*Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return nil, ErrNotRunning
	}
	if _, ok := s.actors[o.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateOrder, o.ID)
	}

	mon, err := monitor.New(o, spec, s.monCfg, monitor.Deps{
		Planner:    s.comp.Planner,
		Router:     s.comp.Router,
		Market:     s.comp.Market,
		Venues:     s.comp.Venues,
		Compliance: s.comp.Compliance,
		Observer:   s.observer,
		Logger:     s.logger.Logger.With(zap.String("order_id", o.ID)),
		NewID:      s.comp.NewID,
	})
	if err != nil {
		return nil, err
	}

	actor := NewActor(mon, s.comp.Gateway, s.cfg, s.logger.WithFields(map[string]interface{}{"symbol": o.Symbol}), Hooks{
		OnFailure: s.failure,
		OnTickErr: func(error) {
			if s.comp.Metrics != nil {
				s.comp.Metrics.TickError()
			}
		},
	})
	s.actors[o.ID] = actor
	if s.comp.Metrics != nil {
		s.comp.Metrics.OrderStarted()
	}
	s.logger.LogOrder("submitted", o.ID, map[string]interface{}{
		"symbol":   o.Symbol,
		"side":     string(o.Side),
		"quantity": o.Quantity,
		"algo":     string(spec.Kind()),
	})

	ctx := s.ctx
	s.group.Go(func() error {
		defer func() {
			if s.comp.Metrics != nil {
				s.comp.Metrics.OrderStopped()
			}
		}()
		return actor.Run(ctx)
	})
	return actor, nil
}

func (s *Supervisor) failure(f *execerr.ExecutionFailure) {
	s.mu.RLock()
	fn := s.onFailure
	s.mu.RUnlock()
	if fn != nil {
		fn(f)
	}
}

// Deliver 按母单 ID 把回报交给对应执行器；可直接作为 gateway.ReportHandler。
func (s *Supervisor) Deliver(r order.ExecutionReport) {
	s.mu.RLock()
	actor, ok := s.actors[r.OrderID]
	ctx := s.ctx
	s.mu.RUnlock()
	if !ok {
		s.logger.Warn("report for unknown order", zap.String("order_id", r.OrderID), zap.String("child_id", r.ChildID))
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if !actor.Deliver(ctx, r) {
		s.logger.Debug("report dropped after order finished",
			zap.String("order_id", r.OrderID), zap.String("child_id", r.ChildID), zap.String("status", string(r.Status)))
	}
}

// Cancel 请求撤单
func (s *Supervisor) Cancel(orderID string) error {
	actor, err := s.actor(orderID)
	if err != nil {
		return err
	}
	actor.Cancel()
	s.logger.LogOrder("cancel_requested", orderID, nil)
	return nil
}

// Status 母单状态
func (s *Supervisor) Status(orderID string) (monitor.Status, error) {
	actor, err := s.actor(orderID)
	if err != nil {
		return monitor.Status{}, err
	}
	return actor.Monitor().Status(), nil
}

// Monitor 返回母单的监控器（计划历史、成交明细）
func (s *Supervisor) Monitor(orderID string) (*monitor.Monitor, error) {
	actor, err := s.actor(orderID)
	if err != nil {
		return nil, err
	}
	return actor.Monitor(), nil
}

// Done 母单执行器退出时关闭
func (s *Supervisor) Done(orderID string) (<-chan struct{}, error) {
	actor, err := s.actor(orderID)
	if err != nil {
		return nil, err
	}
	return actor.Done(), nil
}

func (s *Supervisor) actor(orderID string) (*Actor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	actor, ok := s.actors[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	return actor, nil
}

// List 所有母单状态，按 ID 排序
func (s *Supervisor) List() []monitor.Status {
	s.mu.RLock()
	out := make([]monitor.Status, 0, len(s.actors))
	for _, a := range s.actors {
		out = append(out, a.Monitor().Status())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

// Active 未结束的母单数量
func (s *Supervisor) Active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.actors {
		select {
		case <-a.Done():
		default:
			n++
		}
	}
	return n
}

// SetMonitorConfig 热更新容差，对新旧母单都生效。
func (s *Supervisor) SetMonitorConfig(cfg monitor.Config) {
	s.mu.Lock()
	s.monCfg = cfg
	actors := make([]*Actor, 0, len(s.actors))
	for _, a := range s.actors {
		actors = append(actors, a)
	}
	s.mu.Unlock()
	for _, a := range actors {
		a.Monitor().SetConfig(cfg)
	}
	s.logger.Info("monitor tolerances updated",
		zap.Float64("participation_tolerance", cfg.ParticipationTolerance),
		zap.Float64("slippage_threshold_bps", cfg.SlippageThresholdBps))
}

// GetState 获取引擎状态
func (s *Supervisor) GetState() EngineState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// validateComponents 验证组件
func validateComponents(comp Components) error {
	if comp.Planner == nil {
		return errors.New("planner is required")
	}
	if comp.Router == nil {
		return errors.New("router is required")
	}
	if comp.Market == nil {
		return errors.New("market source is required")
	}
	if comp.Gateway == nil {
		return errors.New("gateway is required")
	}
	if len(comp.Venues) == 0 {
		return errors.New("at least one venue is required")
	}
	return nil
}
