package scheduler

import (
	"github.com/hibiken/asynq"

	"github.com/rediai/broker/internal/logging"
)

// asynqLogger adapts internal/logging.Logger to asynq's Logger interface.
type asynqLogger struct {
	log *logging.Logger
}

// NewAsynqLogger wraps log to satisfy asynq.Logger.
func NewAsynqLogger(log *logging.Logger) asynq.Logger {
	return &asynqLogger{log: log}
}

func (l *asynqLogger) Debug(args ...interface{}) { l.log.Debug(args...) }
func (l *asynqLogger) Info(args ...interface{})  { l.log.Info(args...) }
func (l *asynqLogger) Warn(args ...interface{})  { l.log.Warn(args...) }
func (l *asynqLogger) Error(args ...interface{}) { l.log.Error(args...) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.log.Fatal(args...) }
