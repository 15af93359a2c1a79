// Package logging provides the structured logger used across the broker.
package logging

import (
	"go.uber.org/zap"
)

// Logger wraps a zap.SugaredLogger with session-scoped helpers.
type Logger struct {
	*zap.SugaredLogger
}

// Build constructs a Logger. Debug mode uses zap's development encoder
// (console, colorized levels); production mode uses the JSON encoder.
func Build(debug bool) *Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.LevelKey = "level"
		cfg.EncoderConfig.MessageKey = "msg"
		cfg.EncoderConfig.CallerKey = "caller"
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.LevelKey = "level"
		cfg.EncoderConfig.MessageKey = "msg"
		cfg.EncoderConfig.CallerKey = "caller"
		cfg.Encoding = "json"
	}

	logger, _ := cfg.Build(zap.AddCaller())
	return &Logger{logger.Sugar()}
}

// New is an alias of Build kept for call-site symmetry with other
// constructors in this codebase.
func New(debug bool) *Logger {
	return Build(debug)
}

// WithSession returns a child logger tagged with session and device ids so
// a single session's timeline can be grepped out of the aggregate stream.
func (l *Logger) WithSession(sessionID, deviceID string) *Logger {
	return &Logger{l.With("session_id", sessionID, "device_id", deviceID)}
}

// WithProvider returns a child logger tagged with the provider name, used
// by the provider-client and resilience layers.
func (l *Logger) WithProvider(name string) *Logger {
	return &Logger{l.With("provider", name)}
}
