package config

import (
	"fmt"
	"net/url"

	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"

	"execution-kit/venue"
)

// Validate 汇总所有配置错误，而不是遇到第一个就返回。
func Validate(cfg AppConfig) error {
	var errs error
	if cfg.Env == "" {
		errs = multierr.Append(errs, fmt.Errorf("env is required"))
	}
	if _, err := zapcore.ParseLevel(cfg.Logging.Level); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if cfg.Metrics.Namespace == "" {
		errs = multierr.Append(errs, fmt.Errorf("metrics.namespace is required"))
	}
	if cfg.Planner.TradingDay <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("planner.tradingDay must be > 0"))
	}
	if cfg.Planner.Epsilon <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("planner.epsilon must be > 0"))
	}
	if cfg.Planner.DefaultConvexity <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("planner.defaultConvexity must be > 0"))
	}
	if cfg.Planner.DefaultPOVInterval <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("planner.defaultPOVInterval must be > 0"))
	}
	if err := cfg.Impact.Validate(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("impact: %w", err))
	}
	if err := cfg.Router.Validate(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("router: %w", err))
	}
	errs = multierr.Append(errs, validateMonitor(cfg))
	errs = multierr.Append(errs, validateGateway(cfg.Gateway))
	errs = multierr.Append(errs, validateVenues(cfg.Venues))
	if pc := cfg.Market.Profile; pc.Buckets < 0 || pc.BucketWidth < 0 || pc.SessionOpen < 0 {
		errs = multierr.Append(errs, fmt.Errorf("market.profile values must be >= 0"))
	}
	if cfg.Alerts.Throttle < 0 {
		errs = multierr.Append(errs, fmt.Errorf("alerts.throttle must be >= 0"))
	}
	if w := cfg.Alerts.Webhook; w != "" {
		if u, err := url.ParseRequestURI(w); err != nil || !u.IsAbs() {
			errs = multierr.Append(errs, fmt.Errorf("alerts.webhook must be an absolute URL, got %q", w))
		}
	}
	for sym, s := range cfg.Market.Symbols {
		if s.ADV < 0 || s.Volatility < 0 {
			errs = multierr.Append(errs, fmt.Errorf("market.symbols.%s: adv/volatility must be >= 0", sym))
		}
		if s.Bid > 0 && s.Ask > 0 && s.Bid >= s.Ask {
			errs = multierr.Append(errs, fmt.Errorf("market.symbols.%s: bid %v >= ask %v", sym, s.Bid, s.Ask))
		}
	}
	return errs
}

func validateMonitor(cfg AppConfig) error {
	var errs error
	m := cfg.Monitor
	if m.ParticipationTolerance <= 0 || m.ParticipationTolerance >= 1 {
		errs = multierr.Append(errs, fmt.Errorf("monitor.participationTolerance must be in (0,1), got %v", m.ParticipationTolerance))
	}
	if m.SlippageThresholdBps < 0 {
		errs = multierr.Append(errs, fmt.Errorf("monitor.slippageThresholdBps must be >= 0"))
	}
	if m.HoldRecheck <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("monitor.holdRecheck must be > 0"))
	}
	return errs
}

func validateGateway(g GatewayConfig) error {
	var errs error
	if g.Mode != "paper" {
		errs = multierr.Append(errs, fmt.Errorf("gateway.mode %q not supported", g.Mode))
	}
	if g.RatePerSecond > 0 && g.Burst < 1 {
		errs = multierr.Append(errs, fmt.Errorf("gateway.burst must be >= 1 when rate limited"))
	}
	if g.Breaker.Threshold < 0 || g.Breaker.Cooldown < 0 || g.Breaker.HalfOpenMaxTry < 0 {
		errs = multierr.Append(errs, fmt.Errorf("gateway.breaker values must be >= 0"))
	}
	p := g.Paper
	if p.FillRatio < 0 || p.FillRatio > 1 {
		errs = multierr.Append(errs, fmt.Errorf("gateway.paper.fillRatio must be in [0,1]"))
	}
	if p.PartialSteps < 0 {
		errs = multierr.Append(errs, fmt.Errorf("gateway.paper.partialSteps must be >= 0"))
	}
	for id, r := range p.FillRatios {
		if r < 0 || r > 1 {
			errs = multierr.Append(errs, fmt.Errorf("gateway.paper.fillRatios.%s must be in [0,1]", id))
		}
	}
	return errs
}

func validateVenues(cfgs []venue.Config) error {
	if len(cfgs) == 0 {
		return fmt.Errorf("at least one venue is required")
	}
	var errs error
	seen := make(map[string]bool, len(cfgs))
	for _, c := range cfgs {
		if err := c.Validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("venues: %w", err))
		}
		if seen[c.ID] {
			errs = multierr.Append(errs, fmt.Errorf("venues: duplicate id %q", c.ID))
		}
		seen[c.ID] = true
	}
	return errs
}
