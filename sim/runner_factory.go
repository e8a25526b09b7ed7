package sim

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"execution-kit/algo"
	"execution-kit/config"
	"execution-kit/order"
	"execution-kit/risk"
	"execution-kit/venue"
)

// BuildRunner 基于应用配置组装 Runner（内存行情 + 纸面撮合，适合离线回测）。
func BuildRunner(cfg config.AppConfig, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	venues, err := venue.BuildAll(cfg.Venues)
	if err != nil {
		return nil, fmt.Errorf("build venues: %w", err)
	}
	rt, err := cfg.NewRouter(logger)
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}
	return &Runner{
		Planner:    cfg.NewPlanner(logger),
		Router:     rt,
		Market:     cfg.NewMarket(),
		Venues:     venues,
		Compliance: risk.NewLimitChecker(cfg.Compliance),
		Monitor:    cfg.Monitor,
		Paper:      cfg.Gateway.Paper,
		Logger:     logger,
	}, nil
}

// Scenario 回测场景文件：一个母单、算法参数与行情路径。
type Scenario struct {
	Order     ScenarioOrder `yaml:"order"`
	Algorithm algo.YAMLSpec `yaml:"algorithm"`
	Bars      []Bar         `yaml:"bars"`
}

// ScenarioOrder 母单定义；Window 与 EndTime 二选一，Start 缺省为最早的行情时间。
type ScenarioOrder struct {
	ID           string        `yaml:"id"`
	Symbol       string        `yaml:"symbol"`
	Side         order.Side    `yaml:"side"`
	Quantity     int64         `yaml:"quantity"`
	LimitPrice   *float64      `yaml:"limitPrice"`
	Start        time.Time     `yaml:"start"`
	EndTime      time.Time     `yaml:"end"`
	Window       time.Duration `yaml:"window"`
	Urgency      float64       `yaml:"urgency"`
	RiskAversion float64       `yaml:"riskAversion"`
}

// LoadScenario 读取 YAML 场景并解析算法参数。
func LoadScenario(path string) (order.Order, algo.Spec, []Bar, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return order.Order{}, nil, nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(raw)
}

// ParseScenario 解析场景内容
func ParseScenario(raw []byte) (order.Order, algo.Spec, []Bar, error) {
	var sc Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return order.Order{}, nil, nil, fmt.Errorf("parse scenario: %w", err)
	}
	spec, err := sc.Algorithm.Spec()
	if err != nil {
		return order.Order{}, nil, nil, err
	}
	so := sc.Order
	start := so.Start
	if start.IsZero() {
		// 未给 start 时取最早的一根行情
		for _, b := range sc.Bars {
			if start.IsZero() || b.Time.Before(start) {
				start = b.Time
			}
		}
	}
	end := so.EndTime
	if end.IsZero() {
		end = start.Add(so.Window)
	}
	id := so.ID
	if id == "" {
		id = "sim"
	}
	o := order.Order{
		ID:           id,
		Symbol:       so.Symbol,
		Side:         so.Side,
		Quantity:     so.Quantity,
		LimitPrice:   so.LimitPrice,
		ArrivalTime:  start,
		StartTime:    start,
		EndTime:      end,
		Urgency:      so.Urgency,
		RiskAversion: so.RiskAversion,
	}
	if err := o.Validate(); err != nil {
		return order.Order{}, nil, nil, err
	}
	return o, spec, sc.Bars, nil
}
