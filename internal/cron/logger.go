package cron

import (
	"github.com/deskflow/billing/internal/logger"
	"github.com/robfig/cron/v3"
)

// cronLogger adapts the application logger to cron.Logger
type cronLogger struct {
	log *logger.Logger
}

func newCronLogger(l *logger.Logger) cron.Logger {
	return &cronLogger{log: l.With("component", "scheduler")}
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
