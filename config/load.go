package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"execution-kit/gateway"
	"execution-kit/impact"
	"execution-kit/infrastructure/logger"
	"execution-kit/market"
	"execution-kit/metrics"
	"execution-kit/monitor"
	"execution-kit/planner"
	"execution-kit/risk"
	"execution-kit/router"
	"execution-kit/venue"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env        string           `yaml:"env"`
	Logging    logger.Config    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	API        APIConfig        `yaml:"api"`
	Market     MarketConfig     `yaml:"market"`
	Planner    PlannerConfig    `yaml:"planner"`
	Impact     impact.Estimator `yaml:"impact"`
	Router     router.Weights   `yaml:"router"`
	Monitor    monitor.Config   `yaml:"monitor"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Compliance risk.Limits      `yaml:"compliance"`
	Store      StoreConfig      `yaml:"store"`
	Alerts     AlertConfig      `yaml:"alerts"`
	Venues     []venue.Config   `yaml:"venues"`
}

type MetricsConfig struct {
	metrics.Config `yaml:",inline"`
	Addr           string `yaml:"addr"` // 为空时挂在 API 的 /metrics 上
}

type APIConfig struct {
	Addr string `yaml:"addr"`
}

// AlertConfig 执行失败/过期告警。日志通道总是开启，Webhook 为空时不推送。
type AlertConfig struct {
	Throttle       time.Duration `yaml:"throttle"` // 同一母单同类告警的最小间隔
	Webhook        string        `yaml:"webhook"`
	WebhookTimeout time.Duration `yaml:"webhookTimeout"`
}

type StoreConfig struct {
	Path string `yaml:"path"` // sqlite 文件；为空则不落审计日志
}

// GatewayConfig 下单通道。目前只有 paper 模式。
type GatewayConfig struct {
	Mode          string                `yaml:"mode"`
	RatePerSecond float64               `yaml:"ratePerSecond"` // <=0 不限速
	Burst         int                   `yaml:"burst"`
	Breaker       gateway.BreakerConfig `yaml:"breaker"` // 场所熔断；threshold<=0 关闭
	Paper         gateway.PaperConfig   `yaml:"paper"`
}

// PlannerConfig 对应 planner.Planner 的可调参数。
type PlannerConfig struct {
	TradingDay         time.Duration `yaml:"tradingDay"`
	Epsilon            float64       `yaml:"epsilon"`
	DefaultConvexity   float64       `yaml:"defaultConvexity"`
	DefaultPOVInterval time.Duration `yaml:"defaultPOVInterval"`
}

// MarketConfig 参考数据与行情源。
type MarketConfig struct {
	FeedURL string                  `yaml:"feedURL"` // websocket 报价源；为空只用静态报价
	Symbols map[string]SymbolConfig `yaml:"symbols"`
	Profile market.ProfileConfig    `yaml:"profile"` // buckets>0 时从成交流构建 VWAP 曲线
}

// SymbolConfig 单个标的的参考数据与初始报价。
type SymbolConfig struct {
	ADV        float64                      `yaml:"adv"`
	Volatility float64                      `yaml:"volatility"`
	Curve      market.VolumeCurve           `yaml:"curve"`
	Bid        float64                      `yaml:"bid"`
	Ask        float64                      `yaml:"ask"`
	BidSize    float64                      `yaml:"bidSize"`
	AskSize    float64                      `yaml:"askSize"`
	Venues     map[string]market.VenueQuote `yaml:"venues"`
}

// Default 返回可直接运行的默认配置（paper 网关，无审计库）。
func Default() AppConfig {
	p := planner.New(nil, nil)
	return AppConfig{
		Env:     "dev",
		Logging: logger.DefaultConfig(),
		Metrics: MetricsConfig{Config: metrics.DefaultConfig()},
		API:     APIConfig{Addr: ":8080"},
		Planner: PlannerConfig{
			TradingDay:         p.TradingDay,
			Epsilon:            p.Epsilon,
			DefaultConvexity:   p.DefaultConvexity,
			DefaultPOVInterval: p.DefaultPOVInterval,
		},
		Impact:  *impact.Default(),
		Router:  router.DefaultWeights(),
		Monitor: monitor.DefaultConfig(),
		Gateway: GatewayConfig{
			Mode:  "paper",
			Burst:   1,
			Breaker: gateway.BreakerConfig{Threshold: 5, Cooldown: 30 * time.Second, HalfOpenMaxTry: 1},
			Paper:   gateway.PaperConfig{FillRatio: 1, PartialSteps: 1},
		},
		Alerts: AlertConfig{Throttle: time.Minute, WebhookTimeout: 5 * time.Second},
	}
}

// Load reads YAML config from path over the defaults and validates it.
func Load(path string) (AppConfig, error) {
	cfg, err := read(path)
	if err != nil {
		return cfg, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func read(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides deployment fields from EXEC_* env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := read(path)
	if err != nil {
		return cfg, err
	}
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, Validate(cfg)
}

// ApplyEnv 覆盖部署相关字段。
func ApplyEnv(cfg *AppConfig) error {
	if v := os.Getenv("EXEC_ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("EXEC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("EXEC_API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv("EXEC_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("EXEC_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("EXEC_FEED_URL"); v != "" {
		cfg.Market.FeedURL = v
	}
	if v := os.Getenv("EXEC_GATEWAY_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("EXEC_GATEWAY_RATE: %w", err)
		}
		cfg.Gateway.RatePerSecond = rate
	}
	return nil
}

// NewPlanner 按配置构造 planner。
func (c AppConfig) NewPlanner(log *zap.Logger) *planner.Planner {
	est := c.Impact
	p := planner.New(&est, log)
	p.TradingDay = c.Planner.TradingDay
	p.Epsilon = c.Planner.Epsilon
	p.DefaultConvexity = c.Planner.DefaultConvexity
	p.DefaultPOVInterval = c.Planner.DefaultPOVInterval
	return p
}

// NewRouter 按配置构造 router。
func (c AppConfig) NewRouter(log *zap.Logger) (*router.Router, error) {
	est := c.Impact
	return router.New(c.Router, &est, log)
}

// NewMarket 用静态参考数据与初始报价填充行情服务。
func (c AppConfig) NewMarket() *market.Service {
	svc := market.NewService(c.Planner.TradingDay)
	if c.Market.Profile.Buckets > 0 {
		svc.TrackVolumeProfile(c.Market.Profile)
	}
	for sym, s := range c.Market.Symbols {
		svc.SetReference(sym, market.Reference{ADV: s.ADV, Volatility: s.Volatility, Curve: s.Curve})
		if s.Bid > 0 || s.Ask > 0 {
			svc.OnQuote(sym, market.Quote{Bid: s.Bid, Ask: s.Ask, BidSize: s.BidSize, AskSize: s.AskSize})
		}
		for id, vq := range s.Venues {
			svc.SetVenueQuote(sym, id, vq)
		}
	}
	return svc
}
