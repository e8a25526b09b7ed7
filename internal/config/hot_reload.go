package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	appconfig "execution-kit/config"
	"execution-kit/gateway"
	"execution-kit/monitor"
	"execution-kit/router"
)

// HotReloadConfig 热更新配置
type HotReloadConfig struct {
	Enabled      bool          `yaml:"enabled"`      // 是否启用热更新
	CooldownTime time.Duration `yaml:"cooldownTime"` // 冷却时间，避免编辑器连续写入触发多次
}

// DefaultHotReloadConfig 默认热更新配置
func DefaultHotReloadConfig() HotReloadConfig {
	return HotReloadConfig{
		Enabled:      true,
		CooldownTime: time.Second,
	}
}

// Validator 在应用前检查新配置；任何一个失败则整次重载放弃。
type Validator interface {
	Validate(cfg appconfig.AppConfig) error
}

// ValidatorFunc 函数适配
type ValidatorFunc func(cfg appconfig.AppConfig) error

func (f ValidatorFunc) Validate(cfg appconfig.AppConfig) error { return f(cfg) }

// Applier 把新配置的一部分应用到运行中的组件。
type Applier interface {
	Apply(cfg appconfig.AppConfig) error
}

// ApplierFunc 函数适配
type ApplierFunc func(cfg appconfig.AppConfig) error

func (f ApplierFunc) Apply(cfg appconfig.AppConfig) error { return f(cfg) }

// HotReloader 配置热更新器。只有路由权重、监控容差、限速这类无状态参数可以热更新；
// 场所列表和存储路径需要重启。
type HotReloader struct {
	config     HotReloadConfig
	configPath string
	watcher    *fsnotify.Watcher
	logger     *zap.Logger
	load       func(path string) (appconfig.AppConfig, error)

	mu         sync.RWMutex
	validators map[string]Validator
	appliers   map[string]Applier
	lastReload time.Time
	reloads    int
	lastErr    error

	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

// NewHotReloader 创建热更新器
func NewHotReloader(configPath string, cfg HotReloadConfig, logger *zap.Logger) (*HotReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HotReloader{
		config:     cfg,
		configPath: filepath.Clean(configPath),
		watcher:    watcher,
		logger:     logger,
		load:       appconfig.LoadWithEnvOverrides,
		validators: make(map[string]Validator),
		appliers:   make(map[string]Applier),
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// RegisterValidator 注册验证器
func (h *HotReloader) RegisterValidator(name string, v Validator) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.validators[name] = v
}

// RegisterApplier 注册应用器
func (h *HotReloader) RegisterApplier(name string, a Applier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.appliers[name] = a
}

// Start 启动热更新监听。监听所在目录而不是文件本身：编辑器常用 rename 替换文件。
func (h *HotReloader) Start(ctx context.Context) error {
	if !h.config.Enabled {
		close(h.doneChan)
		return nil
	}
	if err := h.watcher.Add(filepath.Dir(h.configPath)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}
	go h.watch(ctx)
	return nil
}

// Stop 停止热更新
func (h *HotReloader) Stop() error {
	var err error
	h.stopOnce.Do(func() {
		close(h.stopChan)
		select {
		case <-h.doneChan:
		case <-time.After(time.Second):
			// watch goroutine 未启动
		}
		err = h.watcher.Close()
	})
	return err
}

func (h *HotReloader) watch(ctx context.Context) {
	defer close(h.doneChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != h.configPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			h.handleConfigChange()
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			// 记录错误但继续监听
			h.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (h *HotReloader) handleConfigChange() {
	h.mu.RLock()
	cooling := !h.lastReload.IsZero() && time.Since(h.lastReload) < h.config.CooldownTime
	h.mu.RUnlock()
	if cooling {
		return
	}
	if err := h.Reload(); err != nil {
		h.logger.Error("config reload failed", zap.String("path", h.configPath), zap.Error(err))
	}
}

// Reload 立即重新加载配置：先全部验证，再按名字顺序应用。应用器错误会汇总返回，
// 已成功的部分保留。冷却只在成功后生效，写了一半的文件不会挡住随后的写入事件。
func (h *HotReloader) Reload() error {
	cfg, err := h.load(h.configPath)
	if err != nil {
		h.record(err)
		return err
	}

	h.mu.RLock()
	validators := sortedKeys(h.validators)
	appliers := sortedKeys(h.appliers)
	vs := make([]Validator, len(validators))
	for i, name := range validators {
		vs[i] = h.validators[name]
	}
	as := make([]Applier, len(appliers))
	for i, name := range appliers {
		as[i] = h.appliers[name]
	}
	h.mu.RUnlock()

	for i, v := range vs {
		if err := v.Validate(cfg); err != nil {
			err = fmt.Errorf("validator %s: %w", validators[i], err)
			h.record(err)
			return err
		}
	}
	var errs error
	for i, a := range as {
		if err := a.Apply(cfg); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("applier %s: %w", appliers[i], err))
		}
	}
	h.record(errs)
	if errs == nil {
		h.logger.Info("config reloaded", zap.String("path", h.configPath), zap.Strings("appliers", appliers))
	}
	return errs
}

func (h *HotReloader) record(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastErr = err
	if err == nil {
		h.lastReload = time.Now()
		h.reloads++
	}
}

// GetLastReloadTime 获取最后一次成功重载的时间
func (h *HotReloader) GetLastReloadTime() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastReload
}

// Reloads 成功重载次数与最近一次错误。
func (h *HotReloader) Reloads() (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.reloads, h.lastErr
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MonitorTuner 接收新的监控容差（engine.Supervisor 实现）。
type MonitorTuner interface {
	SetMonitorConfig(cfg monitor.Config)
}

// RouterWeights 热更新路由权重。
func RouterWeights(r *router.Router) Applier {
	return ApplierFunc(func(cfg appconfig.AppConfig) error {
		return r.SetWeights(cfg.Router)
	})
}

// MonitorTolerances 热更新参与率/滑点容差。
func MonitorTolerances(t MonitorTuner) Applier {
	return ApplierFunc(func(cfg appconfig.AppConfig) error {
		t.SetMonitorConfig(cfg.Monitor)
		return nil
	})
}

// GatewayRate 热更新下单限速。
func GatewayRate(g *gateway.RateLimited) Applier {
	return ApplierFunc(func(cfg appconfig.AppConfig) error {
		g.SetRate(cfg.Gateway.RatePerSecond, cfg.Gateway.Burst)
		return nil
	})
}

// VenueSetUnchanged 拒绝修改场所列表的重载。
func VenueSetUnchanged(current appconfig.AppConfig) Validator {
	ids := make(map[string]bool, len(current.Venues))
	for _, v := range current.Venues {
		ids[v.ID] = true
	}
	return ValidatorFunc(func(cfg appconfig.AppConfig) error {
		if len(cfg.Venues) != len(ids) {
			return fmt.Errorf("venue set changed: restart required")
		}
		for _, v := range cfg.Venues {
			if !ids[v.ID] {
				return fmt.Errorf("venue %s added: restart required", v.ID)
			}
		}
		return nil
	})
}
