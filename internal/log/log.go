// Package log wraps zap into the single process-wide logger every
// component pulls from, configured off the agent's own config section
// rather than a standalone logging service.
package log

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/wire"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger *zap.Logger
)

// ProviderSet is the wire provider set for the log package.
var ProviderSet = wire.NewSet(ProvideLogger)

// Conf controls where and how the agent logs.
type Conf struct {
	Output     string `mapstructure:"output"` // "stdout" or "file"
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	Level      string `mapstructure:"level"`
	KeepDays   int    `mapstructure:"keep_days"`
	RotateSize int    `mapstructure:"rotate_size_mb"`
	RotateNum  int    `mapstructure:"rotate_backups"`
}

// SetDefaults returns the agent's default logging configuration.
func SetDefaults() *Conf {
	return &Conf{
		Output:     "stdout",
		Path:       "./logs",
		Filename:   "sentryd.log",
		Level:      "INFO",
		KeepDays:   7,
		RotateSize: 100,
		RotateNum:  10,
	}
}

func (c *Conf) validate() error {
	if c.Output == "file" {
		if c.Path == "" {
			return fmt.Errorf("log path is required when output is 'file'")
		}
		if c.RotateSize <= 0 {
			c.RotateSize = 100
		}
		if c.RotateNum <= 0 {
			c.RotateNum = 10
		}
		if c.KeepDays <= 0 {
			c.KeepDays = 7
		}
	}
	return nil
}

// ProvideLogger constructs the process logger for wire-based wiring.
func ProvideLogger(conf *Conf) (*zap.Logger, error) {
	return New(conf)
}

// New builds a zap.Logger from conf and installs it as the package-global
// logger returned by L().
func New(conf *Conf) (*zap.Logger, error) {
	if err := conf.validate(); err != nil {
		return nil, fmt.Errorf("invalid log config: %w", err)
	}

	var writeSyncer zapcore.WriteSyncer
	switch conf.Output {
	case "file":
		var err error
		writeSyncer, err = fileWriteSyncer(conf)
		if err != nil {
			return nil, fmt.Errorf("build file log writer: %w", err)
		}
	default:
		writeSyncer = zapcore.AddSync(os.Stdout)
	}

	core := zapcore.NewCore(encoder(), writeSyncer, parseLevel(conf.Level))
	newLogger := zap.New(core, zap.AddCaller())

	mu.Lock()
	logger = newLogger
	mu.Unlock()

	newLogger.Debug("log initialized", zap.String("output", conf.Output), zap.String("level", conf.Level))
	return newLogger, nil
}

// MustInit initializes the global logger and panics on failure.
func MustInit(conf *Conf) *zap.Logger {
	l, err := New(conf)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	return l
}

// L returns the process-wide logger. Before the first New/MustInit call
// it falls back to zap's no-op logger rather than nil, so packages that
// grab a reference during package-level init never crash.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func encoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.LevelKey = "level"
	cfg.NameKey = "logger"
	cfg.CallerKey = "caller"
	cfg.MessageKey = "msg"
	cfg.StacktraceKey = "stacktrace"
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeTime = rfc3339TimeEncoder
	cfg.EncodeDuration = zapcore.SecondsDurationEncoder
	cfg.EncodeCaller = zapcore.ShortCallerEncoder
	return zapcore.NewJSONEncoder(cfg)
}

func rfc3339TimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format(time.RFC3339Nano))
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "INFO":
		return zapcore.InfoLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	case "FATAL":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
