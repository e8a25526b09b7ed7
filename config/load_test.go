package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"

	"execution-kit/venue"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

const sample = `
env: dev
logging:
  level: debug
router:
  price: 0.6
  liquidity: 0.3
  latency: 0.1
monitor:
  participationTolerance: 0.1
  slippageThresholdBps: 25
  holdRecheck: 2s
gateway:
  mode: paper
  ratePerSecond: 50
  burst: 5
  paper:
    fillRatio: 0.8
    rejectFirst:
      ARCA: 1
market:
  symbols:
    ACME:
      adv: 1000000
      volatility: 0.02
      bid: 99.99
      ask: 100.01
venues:
  - id: XNYS
    kind: EXCHANGE
    feeBps: 0.1
    latency: 2ms
  - id: DARK1
    kind: DARK_POOL
    feeBps: 0.05
    minSize: 100
    fillProbability: 0.4
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, sample))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Env != "dev" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected cfg values: %+v", cfg)
	}
	if cfg.Router.Price != 0.6 || cfg.Monitor.HoldRecheck != 2*time.Second {
		t.Fatalf("router/monitor not decoded: %+v %+v", cfg.Router, cfg.Monitor)
	}
	if cfg.Gateway.Paper.RejectFirst["ARCA"] != 1 || cfg.Gateway.Paper.FillRatio != 0.8 {
		t.Fatalf("paper config not decoded: %+v", cfg.Gateway.Paper)
	}
	if len(cfg.Venues) != 2 || cfg.Venues[1].Kind != venue.KindDarkPool || cfg.Venues[0].Latency != 2*time.Millisecond {
		t.Fatalf("venues not decoded: %+v", cfg.Venues)
	}
	// 未出现的段保持默认值
	if cfg.Planner.TradingDay != 6*time.Hour+30*time.Minute || cfg.Impact.K == 0 {
		t.Fatalf("defaults lost: %+v %+v", cfg.Planner, cfg.Impact)
	}
	if cfg.Metrics.Namespace != "exec" {
		t.Fatalf("metrics defaults lost: %+v", cfg.Metrics)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, sample)
	t.Setenv("EXEC_ENV", "prod")
	t.Setenv("EXEC_STORE_PATH", "/tmp/audit.db")
	t.Setenv("EXEC_GATEWAY_RATE", "12.5")
	cfg, err := LoadWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Env != "prod" || cfg.Store.Path != "/tmp/audit.db" || cfg.Gateway.RatePerSecond != 12.5 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestLoadWithEnvOverridesBadRate(t *testing.T) {
	path := writeTempConfig(t, sample)
	t.Setenv("EXEC_GATEWAY_RATE", "fast")
	if _, err := LoadWithEnvOverrides(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestValidate(t *testing.T) {
	err := Validate(AppConfig{})
	if err == nil {
		t.Fatalf("expected error for empty config")
	}
	// 所有问题一起报告
	if n := len(multierr.Errors(err)); n < 5 {
		t.Fatalf("expected aggregated errors, got %d: %v", n, err)
	}
}

func TestValidateCatchesBadSections(t *testing.T) {
	cfg := Default()
	cfg.Venues = []venue.Config{
		{ID: "XNYS", Kind: venue.KindExchange},
		{ID: "XNYS", Kind: venue.KindExchange},
	}
	cfg.Router.Price = 0.9
	cfg.Gateway.Mode = "fix"
	cfg.Alerts.Webhook = "not a url"
	err := Validate(cfg)
	if err == nil {
		t.Fatalf("expected errors")
	}
	msg := err.Error()
	for _, want := range []string{"duplicate id", "router", "gateway.mode", "alerts.webhook"} {
		if !strings.Contains(msg, want) {
			t.Errorf("missing %q in %v", want, msg)
		}
	}
}

func TestDefaultNeedsVenues(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "venue") {
		t.Fatalf("expected venue error, got %v", err)
	}
	cfg.Venues = []venue.Config{{ID: "XNYS", Kind: venue.KindExchange}}
	if err := Validate(cfg); err != nil {
		t.Fatalf("default with one venue should validate: %v", err)
	}
}

func TestBuilders(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, sample))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	p := cfg.NewPlanner(nil)
	if p.TradingDay != cfg.Planner.TradingDay || p.Impact.K != cfg.Impact.K {
		t.Fatalf("planner not configured: %+v", p)
	}
	r, err := cfg.NewRouter(nil)
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	if r.Weights() != cfg.Router {
		t.Fatalf("router weights %+v", r.Weights())
	}
	snap, err := cfg.NewMarket().Snapshot("ACME")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.ADV != 1e6 || snap.Quote.Bid != 99.99 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
