package logger

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"execution-kit/infrastructure/logger/logschema"
)

// Logger 执行服务的结构化日志。除了 zap 的常规接口，LogOrder/LogSlice/LogReplan
// 按 logschema 登记的事件写入，字段缺失时附带 schema_error 而不是丢弃。
type Logger struct {
	*zap.Logger
	config Config
}

// Config 日志配置
type Config struct {
	Level      string   `yaml:"level"`
	Outputs    []string `yaml:"outputs"` // stdout / file
	OutputFile string   `yaml:"output_file"`
	ErrorFile  string   `yaml:"error_file"` // 仅 error 及以上
	Format     string   `yaml:"format"`     // json | console
	MaxSize    int      `yaml:"max_size"`
	MaxBackups int      `yaml:"max_backups"`
	MaxAge     int      `yaml:"max_age"`
}

func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Outputs:    []string{"stdout"},
		Format:     "json",
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
	}
}

// New 按配置组装 tee core：stdout、主日志文件、错误日志文件各一路。
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}

	var cores []zapcore.Core
	for _, out := range cfg.Outputs {
		switch out {
		case "stdout":
			cores = append(cores, zapcore.NewCore(stdoutEncoder(cfg.Format), zapcore.Lock(os.Stdout), level))
		case "file":
			if cfg.OutputFile == "" {
				continue
			}
			w, err := openSink(cfg.OutputFile)
			if err != nil {
				return nil, err
			}
			cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), w, level))
		}
	}
	if cfg.ErrorFile != "" {
		w, err := openSink(cfg.ErrorFile)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), w, zapcore.ErrorLevel))
	}

	z := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return &Logger{Logger: z, config: cfg}, nil
}

func encoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeDuration = zapcore.StringDurationEncoder
	return ec
}

// stdoutEncoder console 格式给本地调试用，带颜色
func stdoutEncoder(format string) zapcore.Encoder {
	if format != "console" {
		return zapcore.NewJSONEncoder(encoderConfig())
	}
	ec := zap.NewDevelopmentEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(ec)
}

func openSink(path string) (zapcore.WriteSyncer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return zapcore.AddSync(f), nil
}

// WithFields 派生带固定字段的 logger，例如每个母单 actor 一个
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{Logger: l.Logger.With(toZap(fields)...), config: l.config}
}

func toZap(fields map[string]interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// FromZap 包装已有的 zap.Logger（测试或嵌入场景）。
func FromZap(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{Logger: z, config: DefaultConfig()}
}

func (l *Logger) emit(level zapcore.Level, msg string, fields map[string]interface{}) {
	fields["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	if err := logschema.Validate(msg, fields); err != nil {
		fields["schema_error"] = err.Error()
	}
	if ce := l.Check(level, msg); ce != nil {
		ce.Write(toZap(fields)...)
	}
}

// LogOrder 记录母单事件（激活、终态、撤单请求）
func (l *Logger) LogOrder(event string, orderID string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["event"] = event
	fields["order_id"] = orderID
	l.emit(zapcore.InfoLevel, logschema.OrderEvent, fields)
}

// LogSlice 记录切片事件（派发、结算、作废）
func (l *Logger) LogSlice(event, orderID, sliceID string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["event"] = event
	fields["order_id"] = orderID
	fields["slice_id"] = sliceID
	l.emit(zapcore.DebugLevel, logschema.SliceEvent, fields)
}

// LogReplan 记录计划安装
func (l *Logger) LogReplan(orderID, reason string, version int, quantity int64, slices int) {
	l.emit(zapcore.InfoLevel, logschema.ReplanEvent, map[string]interface{}{
		"order_id": orderID,
		"reason":   reason,
		"version":  version,
		"quantity": quantity,
		"slices":   slices,
	})
}

// LogError 记录错误并附带上下文
func (l *Logger) LogError(err error, context map[string]interface{}) {
	if context == nil {
		context = make(map[string]interface{})
	}
	context["error"] = err.Error()
	l.emit(zapcore.ErrorLevel, logschema.ErrorEvent, context)
}

// Close 刷盘。stdout 在部分平台 Sync 返回 EINVAL，忽略即可
func (l *Logger) Close() error {
	if err := l.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) && !errors.Is(err, syscall.ENOTTY) {
		return err
	}
	return nil
}
