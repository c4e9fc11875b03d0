package ui

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the printf-style facade the rest of archivist logs through.
// It is backed by a zap logger so serve mode gets structured output.
type Logger struct {
	Debug bool
	z     *zap.SugaredLogger
}

func NewLogger(debug bool) (*Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.EncoderConfig.TimeKey = "ts"

	z, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	return &Logger{Debug: debug, z: z.Sugar()}, nil
}

func NopLogger() *Logger {
	return &Logger{z: zap.NewNop().Sugar()}
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{Debug: l.Debug, z: l.z.With(kv...)}
}

func (l *Logger) Debugf(format string, args ...any) {
	l.z.Debugf(trimNL(format), args...)
}

func (l *Logger) Infof(format string, args ...any) {
	l.z.Infof(trimNL(format), args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.z.Warnf(trimNL(format), args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.z.Errorf(trimNL(format), args...)
}

func (l *Logger) Sync() {
	_ = l.z.Sync()
}

// zap terminates every entry itself
func trimNL(format string) string {
	return strings.TrimRight(format, "\n")
}
