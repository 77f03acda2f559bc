// Package logger wraps zap with the key/value call style used across the
// service.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	SugaredLogger *zap.SugaredLogger
}

// New builds a JSON production logger for "prod"/"production" and a console
// development logger otherwise. An empty level means info.
func New(mode, level string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}

	if level == "" {
		level = "info"
	}
	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg.Level = zap.NewAtomicLevelAt(parsed)

	zapLogger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{SugaredLogger: zapLogger.Sugar()}, nil
}

// Nop discards everything; used by tests
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func (l *Logger) Sync() {
	_ = l.SugaredLogger.Sync()
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Debugw(msg, keysAndValues...)
}
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Infow(msg, keysAndValues...)
}
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Warnw(msg, keysAndValues...)
}
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Errorw(msg, keysAndValues...)
}
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{SugaredLogger: l.SugaredLogger.With(keysAndValues...)}
}

// Badger adapts the logger to badger.Logger
func (l *Logger) Badger() *BadgerLogger {
	return &BadgerLogger{sugar: l.SugaredLogger.With("component", "badger")}
}

// BadgerLogger forwards printf-style badger output; badger's info chatter is
// demoted to debug
type BadgerLogger struct {
	sugar *zap.SugaredLogger
}

func (b *BadgerLogger) Errorf(format string, args ...interface{}) {
	b.sugar.Errorf(strings.TrimSpace(format), args...)
}
func (b *BadgerLogger) Warningf(format string, args ...interface{}) {
	b.sugar.Warnf(strings.TrimSpace(format), args...)
}
func (b *BadgerLogger) Infof(format string, args ...interface{}) {
	b.sugar.Debugf(strings.TrimSpace(format), args...)
}
func (b *BadgerLogger) Debugf(format string, args ...interface{}) {
	b.sugar.Debugf(strings.TrimSpace(format), args...)
}
