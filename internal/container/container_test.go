package container

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"execution-kit/config"
	"execution-kit/market"
	"execution-kit/order"
	"execution-kit/venue"
)

func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.API.Addr = "127.0.0.1:0"
	cfg.Store.Path = filepath.Join(t.TempDir(), "audit.db")
	cfg.Venues = []venue.Config{{ID: "XNYS", Kind: venue.KindExchange, FeeBps: 0.1}}
	cfg.Market.Symbols = map[string]config.SymbolConfig{
		"ACME": {
			ADV: 1_000_000, Volatility: 0.02,
			Bid: 99.99, Ask: 100.01, BidSize: 500, AskSize: 500,
			Venues: map[string]market.VenueQuote{"XNYS": {Depth: 1_000_000}},
		},
	}
	return cfg
}

func TestContainerServeAndDrain(t *testing.T) {
	c := NewFromConfig(testConfig(t), "")
	require.NoError(t, c.Build())
	require.NoError(t, c.Start(context.Background()))
	stopped := false
	t.Cleanup(func() {
		if !stopped {
			_ = c.Stop()
		}
	})

	base := "http://" + c.APIAddr()
	require.NoError(t, c.HealthCheck())

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// 指标挂在 API 上
	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := json.Marshal(map[string]any{
		"order": map[string]any{
			"id":       "c1",
			"symbol":   "ACME",
			"side":     "BUY",
			"quantity": 400,
			"end_time": time.Now().Add(time.Hour).Format(time.RFC3339Nano),
		},
		"algorithm": map[string]any{"kind": "TWAP", "params": map[string]any{"slices": 4}},
	})
	require.NoError(t, err)
	resp, err = http.Post(base+"/orders", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(raw))

	// 第一片立即下发
	require.Eventually(t, func() bool {
		st, err := c.Engine().Status("c1")
		return err == nil && st.Filled == 100
	}, 3*time.Second, 10*time.Millisecond)

	stopped = true
	require.NoError(t, c.Stop())

	st, err := c.Engine().Status("c1")
	require.NoError(t, err)
	assert.Equal(t, order.StateCanceled, st.State)
	assert.Equal(t, int64(100), st.Filled)
}

func TestContainerRejectsUnknownGateway(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gateway.Mode = "fix"
	c := NewFromConfig(cfg, "")
	err := c.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway mode")
	assert.NoError(t, c.Stop())
}

func TestContainerSeparateMetricsServer(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Addr = "127.0.0.1:0"
	cfg.Store.Path = ""
	c := NewFromConfig(cfg, "")
	require.NoError(t, c.Build())
	require.NoError(t, c.Start(context.Background()))
	defer func() { _ = c.Stop() }()

	resp, err := http.Get("http://" + c.metricsServer.Addr() + "/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// API 不再挂 /metrics
	resp, err = http.Get("http://" + c.APIAddr() + "/metrics")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type fakeComponent struct {
	name     string
	startErr error
	stopErr  error
	log      *[]string
}

func (f *fakeComponent) Name() string { return f.name }

func (f *fakeComponent) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	*f.log = append(*f.log, "start "+f.name)
	return nil
}

func (f *fakeComponent) Stop() error {
	*f.log = append(*f.log, "stop "+f.name)
	return f.stopErr
}

func (f *fakeComponent) Health() error { return nil }

func TestLifecycleOrder(t *testing.T) {
	var log []string
	m := NewLifecycleManager(zap.NewNop())
	for _, n := range []string{"a", "b", "c"} {
		m.Register(&fakeComponent{name: n, log: &log})
	}
	require.NoError(t, m.StartAll(context.Background()))
	require.NoError(t, m.StopAll())
	assert.Equal(t, []string{"start a", "start b", "start c", "stop c", "stop b", "stop a"}, log)

	// 再次停止是空操作
	require.NoError(t, m.StopAll())
	assert.Len(t, log, 6)
}

func TestLifecycleRollback(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	m := NewLifecycleManager(nil)
	m.Register(&fakeComponent{name: "a", log: &log})
	m.Register(&fakeComponent{name: "b", log: &log})
	m.Register(&fakeComponent{name: "c", startErr: boom, log: &log})

	err := m.StartAll(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "start c")
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, log)
	require.NoError(t, m.StopAll())
}

func TestLifecycleStopAggregatesErrors(t *testing.T) {
	var log []string
	m := NewLifecycleManager(nil)
	for i := 0; i < 3; i++ {
		m.Register(&fakeComponent{name: fmt.Sprint(i), stopErr: fmt.Errorf("stop failed %d", i), log: &log})
	}
	require.NoError(t, m.StartAll(context.Background()))
	err := m.StopAll()
	require.Error(t, err)
	for i := 0; i < 3; i++ {
		assert.Contains(t, err.Error(), fmt.Sprintf("stop failed %d", i))
	}
	assert.Len(t, log, 6)
}

func TestHTTPServerComponent(t *testing.T) {
	h := &httpServerComponent{
		name:    "probe",
		handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) }),
		addr:    "127.0.0.1:0",
		logger:  zap.NewNop(),
	}
	assert.Error(t, h.Health())
	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Health())

	resp, err := http.Get("http://" + h.Addr())
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)

	// 端口已占用时同步报错
	dup := &httpServerComponent{name: "dup", handler: h.handler, addr: h.Addr(), logger: zap.NewNop()}
	assert.Error(t, dup.Start(context.Background()))

	require.NoError(t, h.Stop())
	assert.Error(t, h.Health())
}
