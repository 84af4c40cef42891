package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap logger and keeps track of its dotted name so child
// loggers read as "service.payment", "queue.redis" and so on.
type Logger struct {
	*zap.Logger
	name string
}

// NewLoggerFromEnv builds a console logger at debug level for development and
// a JSON logger at info level for every other environment.
func NewLoggerFromEnv(env string) *Logger {
	var cfg zap.Config
	switch env {
	case "dev", "development":
		cfg = zap.Config{
			Level:       zap.NewAtomicLevelAt(zapcore.DebugLevel),
			Development: true,
			Encoding:    "console",
			EncoderConfig: zapcore.EncoderConfig{
				CallerKey:      "C",
				EncodeCaller:   zapcore.ShortCallerEncoder,
				EncodeDuration: zapcore.StringDurationEncoder,
				EncodeLevel:    zapcore.CapitalLevelEncoder,
				EncodeTime:     zapcore.ISO8601TimeEncoder,
				LevelKey:       "L",
				LineEnding:     "\n",
				MessageKey:     "M",
				NameKey:        "N",
				TimeKey:        "T",
			},
			OutputPaths:      []string{"stdout"},
			ErrorOutputPaths: []string{"stderr"},
		}
	default:
		cfg = zap.Config{
			Level:       zap.NewAtomicLevelAt(zapcore.InfoLevel),
			Development: false,
			Encoding:    "json",
			EncoderConfig: zapcore.EncoderConfig{
				CallerKey:      "caller",
				EncodeCaller:   zapcore.ShortCallerEncoder,
				EncodeDuration: zapcore.SecondsDurationEncoder,
				EncodeLevel:    zapcore.LowercaseLevelEncoder,
				EncodeName:     zapcore.FullNameEncoder,
				EncodeTime:     zapcore.ISO8601TimeEncoder,
				LevelKey:       "level",
				LineEnding:     "\n",
				MessageKey:     "message",
				NameKey:        "logger",
				StacktraceKey:  "stacktrace",
				TimeKey:        "@timestamp",
			},
			OutputPaths:      []string{"stdout"},
			ErrorOutputPaths: []string{"stderr"},
		}
	}

	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return &Logger{Logger: l}
}

// NewTestLogger returns a logger that discards everything.
func NewTestLogger() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

func (log *Logger) GetName() string {
	return log.name
}

func (log *Logger) Named(name string) *Logger {
	newName := name
	if log.name != "" {
		newName = fmt.Sprintf("%s.%s", log.name, name)
	}
	return &Logger{
		Logger: log.Logger.Named(name),
		name:   newName,
	}
}

func (log *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{
		Logger: log.Logger.With(fields...),
		name:   log.name,
	}
}

// AtExit flushes buffered entries. Meant to be deferred right after the
// logger is created.
func (log *Logger) AtExit() {
	if log.Logger != nil {
		_ = log.Logger.Sync()
	}
}

// GooseLogger adapts the logger to the interface expected by goose.
func (log *Logger) GooseLogger() *GooseLogger {
	return &GooseLogger{log: log.Logger.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

type GooseLogger struct {
	log *zap.SugaredLogger
}

func (g *GooseLogger) Fatal(v ...interface{}) {
	g.log.Fatal(v...)
}

func (g *GooseLogger) Fatalf(format string, v ...interface{}) {
	g.log.Fatalf(strings.TrimSpace(format), v...)
}

func (g *GooseLogger) Print(v ...interface{}) {
	g.log.Info(v...)
}

func (g *GooseLogger) Println(v ...interface{}) {
	g.log.Info(v...)
}

func (g *GooseLogger) Printf(format string, v ...interface{}) {
	g.log.Infof(strings.TrimSpace(format), v...)
}
