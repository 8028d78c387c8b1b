package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Leveled logger used across the service.
// - backed by a zap sugared logger with an atomic level
// - provides Debug/Info/Warn/Error/Fatal variants and Init(level)

var (
	mu    sync.RWMutex
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugar = newConsole(zapcore.Lock(os.Stdout))
)

func newConsole(w zapcore.WriteSyncer) *zap.SugaredLogger {
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.RFC3339TimeEncoder
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), w, level)
	return zap.New(core).Sugar()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

func replace(s *zap.SugaredLogger) (restore func()) {
	mu.Lock()
	prev := sugar
	sugar = s
	mu.Unlock()
	return func() {
		mu.Lock()
		sugar = prev
		mu.Unlock()
	}
}

// Init sets the global log level (case-insensitive: debug, info, warn, error, fatal).
// Call early during startup. Default level is Info.
func Init(l string) {
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "debug":
		level.SetLevel(zapcore.DebugLevel)
	case "warn", "warning":
		level.SetLevel(zapcore.WarnLevel)
	case "error":
		level.SetLevel(zapcore.ErrorLevel)
	case "fatal":
		level.SetLevel(zapcore.FatalLevel)
	default:
		level.SetLevel(zapcore.InfoLevel)
	}
}

// Level exposes the atomic level so other zap loggers can share it.
func Level() zap.AtomicLevel { return level }

// Sync flushes buffered entries.
func Sync() { _ = current().Sync() }

func Debugf(format string, v ...interface{}) { current().Debugf(format, v...) }
func Infof(format string, v ...interface{})  { current().Infof(format, v...) }
func Warnf(format string, v ...interface{})  { current().Warnf(format, v...) }
func Errorf(format string, v ...interface{}) { current().Errorf(format, v...) }

// Fatalf logs and exits the process with status 1.
func Fatalf(format string, v ...interface{}) { current().Fatalf(format, v...) }

// Println kept for brief messages (maps to Info)
func Println(v ...interface{}) {
	current().Info(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

func Debug(v string) { current().Debug(v) }
func Info(v string)  { current().Info(v) }
func Warn(v string)  { current().Warn(v) }
func Error(v string) { current().Error(v) }

// LevelString returns the current level as text.
func LevelString() string {
	switch level.Level() {
	case zapcore.DebugLevel:
		return "debug"
	case zapcore.WarnLevel:
		return "warn"
	case zapcore.ErrorLevel:
		return "error"
	case zapcore.FatalLevel:
		return "fatal"
	}
	return "info"
}

// MaskSecret keeps a short prefix of a credential so log lines can be
// correlated without exposing the value.
func MaskSecret(s string) string {
	const keep = 4
	if len(s) <= keep {
		return strings.Repeat("*", len(s))
	}
	return s[:keep] + strings.Repeat("*", len(s)-keep)
}
