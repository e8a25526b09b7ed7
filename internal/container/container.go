package container

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"execution-kit/config"
	"execution-kit/execerr"
	"execution-kit/gateway"
	"execution-kit/infrastructure/alert"
	"execution-kit/infrastructure/logger"
	"execution-kit/internal/api"
	hotconfig "execution-kit/internal/config"
	"execution-kit/internal/engine"
	"execution-kit/internal/store"
	"execution-kit/market"
	"execution-kit/metrics"
	"execution-kit/monitor"
	"execution-kit/risk"
	"execution-kit/router"
	"execution-kit/venue"
)

const (
	// drainTimeout 停机时等待母单撤单完成的上限
	drainTimeout = 5 * time.Second
	// feedBackoff 行情断线重连间隔
	feedBackoff = 2 * time.Second
)

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg        *config.AppConfig
	configPath string

	// 基础设施
	logger  *logger.Logger
	metrics *metrics.Recorder
	alerts  *alert.Manager

	// 行情与下单通道
	market   *market.Service
	feed     *market.WSFeed
	paper    *gateway.Paper
	limited  *gateway.RateLimited
	breakers *gateway.Breakers

	// 核心服务
	router   *router.Router
	venues   []venue.Venue
	audit    *store.Store
	engine   *engine.Supervisor
	reloader *hotconfig.HotReloader

	// HTTP服务器
	apiServer     *httpServerComponent
	metricsServer *httpServerComponent

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 加载配置（含 EXEC_* 环境变量覆盖）并创建 Container
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewFromConfig(cfg, configPath), nil
}

// NewFromConfig 使用已加载的配置；configPath 为空时不启用热重载。
func NewFromConfig(cfg config.AppConfig, configPath string) *Container {
	return &Container{cfg: &cfg, configPath: configPath}
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	c.buildMarket()
	if err := c.buildCoreServices(); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}
	if err := c.buildHotReload(); err != nil {
		return fmt.Errorf("build hot reload failed: %w", err)
	}
	c.registerLifecycleComponents()
	c.logger.Info("container built", zap.String("env", c.cfg.Env), zap.Int("venues", len(c.venues)))
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}
	c.metrics = metrics.New(c.cfg.Metrics.Config)

	channels := []alert.Channel{alert.NewLogChannel("log", c.logger.Logger.Named("alert"))}
	if c.cfg.Alerts.Webhook != "" {
		channels = append(channels, alert.NewWebhookChannel("webhook", c.cfg.Alerts.Webhook, c.cfg.Alerts.WebhookTimeout))
	}
	c.alerts = alert.NewManager(channels, c.cfg.Alerts.Throttle)

	c.lifecycle = NewLifecycleManager(c.logger.Logger)
	return nil
}

func (c *Container) buildMarket() {
	c.market = c.cfg.NewMarket()
	if c.cfg.Market.FeedURL != "" {
		c.feed = market.NewWSFeed(c.cfg.Market.FeedURL, c.market, c.logger.Logger.Named("feed"))
	}
}

func (c *Container) buildCoreServices() error {
	var err error
	c.venues, err = venue.BuildAll(c.cfg.Venues)
	if err != nil {
		return err
	}
	c.router, err = c.cfg.NewRouter(c.logger.Logger.Named("router"))
	if err != nil {
		return err
	}

	if c.cfg.Gateway.Mode != "paper" {
		return execerr.Invalid("gateway mode %q not supported", c.cfg.Gateway.Mode)
	}
	c.paper = gateway.NewPaper(c.market, c.cfg.Gateway.Paper, c.logger.Logger.Named("paper"))
	c.limited = gateway.NewRateLimited(c.paper, c.cfg.Gateway.RatePerSecond, c.cfg.Gateway.Burst)
	// 熔断在限速之外，熔断中的场所不占令牌
	c.breakers = gateway.NewBreakers(c.limited, c.cfg.Gateway.Breaker, c.logger.Logger.Named("breaker"))

	alerting := alert.NewObserver(c.alerts)
	alerting.OnError = func(err error) {
		c.logger.Warn("alert delivery failed", zap.Error(err))
	}
	observers := []monitor.Observer{alerting, c.breakers}
	if c.cfg.Store.Path != "" {
		c.audit, err = store.Open(c.cfg.Store.Path, c.logger.Logger.Named("store"), nil)
		if err != nil {
			return err
		}
		observers = append(observers, c.audit)
	}

	c.engine, err = engine.New(engine.DefaultConfig(), c.cfg.Monitor, engine.Components{
		Planner:    c.cfg.NewPlanner(c.logger.Logger.Named("planner")),
		Router:     c.router,
		Market:     c.market,
		Venues:     c.venues,
		Compliance: risk.NewLimitChecker(c.cfg.Compliance),
		Gateway:    c.breakers,
		Metrics:    c.metrics,
		Observers:  observers,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.paper.SetHandler(c.engine.Deliver)
	c.engine.SetFailureHandler(func(f *execerr.ExecutionFailure) {
		c.logger.LogError(f, map[string]interface{}{"action": "execution_failure", "venues": f.Venues})
	})
	return nil
}

func (c *Container) buildHotReload() error {
	if c.configPath == "" {
		return nil
	}
	var err error
	c.reloader, err = hotconfig.NewHotReloader(c.configPath, hotconfig.DefaultHotReloadConfig(), c.logger.Logger.Named("reload"))
	if err != nil {
		return err
	}
	c.reloader.RegisterValidator("venues", hotconfig.VenueSetUnchanged(*c.cfg))
	c.reloader.RegisterApplier("router", hotconfig.RouterWeights(c.router))
	c.reloader.RegisterApplier("monitor", hotconfig.MonitorTolerances(c.engine))
	c.reloader.RegisterApplier("gateway", hotconfig.GatewayRate(c.limited))
	return nil
}

// registerLifecycleComponents 启动顺序：审计库 -> 行情 -> 引擎 -> 热重载 -> HTTP；停止逆序。
func (c *Container) registerLifecycleComponents() {
	if c.audit != nil {
		c.lifecycle.Register(&funcComponent{
			name: "audit_store",
			stop: c.audit.Close,
			health: func() error {
				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				return c.audit.Ping(ctx)
			},
		})
	}

	if c.feed != nil {
		c.lifecycle.Register(c.feedComponent())
	}

	c.lifecycle.Register(c.engineComponent())

	if c.reloader != nil {
		c.lifecycle.Register(&funcComponent{
			name:  "hot_reload",
			start: c.reloader.Start,
			stop:  c.reloader.Stop,
			health: func() error {
				_, err := c.reloader.Reloads()
				return err
			},
		})
	}

	var metricsHandler http.Handler = c.metrics.Handler()
	if c.cfg.Metrics.Addr != "" {
		c.metricsServer = &httpServerComponent{
			name:    "metrics_server",
			handler: metricsHandler,
			addr:    c.cfg.Metrics.Addr,
			logger:  c.logger.Logger,
		}
		c.lifecycle.Register(c.metricsServer)
		metricsHandler = nil
	}
	if c.cfg.API.Addr != "" {
		c.apiServer = &httpServerComponent{
			name: "api_server",
			handler: api.NewRouter(c.engine, api.Options{
				Audit:   c.audit,
				Metrics: metricsHandler,
				Logger:  c.logger.Logger.Named("api"),
			}),
			addr:   c.cfg.API.Addr,
			logger: c.logger.Logger,
		}
		c.lifecycle.Register(c.apiServer)
	}
}

// feedComponent 行情 websocket，断线后按固定间隔重连直到停止。
func (c *Container) feedComponent() Lifecycle {
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)
	return &funcComponent{
		name: "market_feed",
		start: func(ctx context.Context) error {
			ctx, cancel = context.WithCancel(ctx)
			done = make(chan struct{})
			go func() {
				defer close(done)
				for {
					err := c.feed.Run(ctx)
					if ctx.Err() != nil {
						return
					}
					c.logger.Warn("market feed disconnected", zap.Error(err), zap.Duration("retry_in", feedBackoff))
					select {
					case <-ctx.Done():
						return
					case <-time.After(feedBackoff):
					}
				}
			}()
			return nil
		},
		stop: func() error {
			if cancel != nil {
				cancel()
				<-done
			}
			return nil
		},
	}
}

// engineComponent 停止时先撤销所有母单，等在途子单结束后再退出执行器。
func (c *Container) engineComponent() Lifecycle {
	var cancel context.CancelFunc
	return &funcComponent{
		name: "engine",
		start: func(ctx context.Context) error {
			ctx, cancel = context.WithCancel(ctx)
			return c.engine.Start(ctx)
		},
		stop: func() error {
			if cancel == nil {
				return nil
			}
			c.cancelAll()
			cancel()
			err := c.engine.Wait()
			c.paper.Close()
			return err
		},
		health: func() error {
			if st := c.engine.GetState(); st != engine.StateRunning {
				return fmt.Errorf("engine %s", st)
			}
			return nil
		},
	}
}

func (c *Container) cancelAll() {
	var pending []string
	for _, st := range c.engine.List() {
		if st.State.IsFinal() {
			continue
		}
		if err := c.engine.Cancel(st.OrderID); err == nil {
			pending = append(pending, st.OrderID)
		}
	}
	if len(pending) == 0 {
		return
	}
	c.logger.Info("canceling open orders before shutdown", zap.Int("orders", len(pending)))
	deadline := time.After(drainTimeout)
	for _, id := range pending {
		done, err := c.engine.Done(id)
		if err != nil {
			continue
		}
		select {
		case <-done:
		case <-deadline:
			c.logger.Warn("shutdown drain timed out", zap.Int("active", c.engine.Active()))
			return
		}
	}
}

// Start 启动所有组件
func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")
	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	c.logger.Info("container started")
	return nil
}

// Stop 逆序停止所有组件
func (c *Container) Stop() error {
	if c.lifecycle == nil {
		return nil
	}
	c.logger.Info("stopping container...")
	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	_ = c.logger.Close()
	return err
}

// HealthCheck 所有组件健康
func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

// Engine 执行引擎
func (c *Container) Engine() *engine.Supervisor { return c.engine }

// Market 行情服务（静态报价或 websocket 推送）
func (c *Container) Market() *market.Service { return c.market }

// Logger 日志
func (c *Container) Logger() *logger.Logger { return c.logger }

// APIAddr API 实际监听地址；未启用时为空
func (c *Container) APIAddr() string {
	if c.apiServer == nil {
		return ""
	}
	return c.apiServer.Addr()
}
