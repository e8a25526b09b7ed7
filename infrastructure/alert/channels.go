package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// LogChannel 写入结构化日志的告警通道
type LogChannel struct {
	logger *zap.Logger
	name   string
}

// NewLogChannel 创建日志告警通道
func NewLogChannel(name string, logger *zap.Logger) *LogChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogChannel{logger: logger, name: name}
}

// Send 按级别写日志
func (c *LogChannel) Send(a Alert) error {
	fields := []zap.Field{
		zap.String("alert_level", string(a.Level)),
		zap.String("event", a.Event),
		zap.Time("alert_time", a.Timestamp),
	}
	if a.OrderID != "" {
		fields = append(fields, zap.String("order_id", a.OrderID))
	}
	for k, v := range a.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	switch a.Level {
	case LevelCritical, LevelError:
		c.logger.Error(a.Message, fields...)
	case LevelWarning:
		c.logger.Warn(a.Message, fields...)
	default:
		c.logger.Info(a.Message, fields...)
	}
	return nil
}

// Name 返回通道名称
func (c *LogChannel) Name() string { return c.name }

// WebhookChannel 以 JSON POST 推送告警
type WebhookChannel struct {
	name   string
	url    string
	client *http.Client
}

// NewWebhookChannel 创建 webhook 通道；timeout<=0 时为 5 秒
func NewWebhookChannel(name, url string, timeout time.Duration) *WebhookChannel {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookChannel{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Send 推送告警，非 2xx 视为失败
func (c *WebhookChannel) Send(a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return err
	}
	resp, err := c.client.Post(c.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: status %d", c.url, resp.StatusCode)
	}
	return nil
}

// Name 返回通道名称
func (c *WebhookChannel) Name() string { return c.name }
