package pubsub

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/deskflow/billing/internal/logger"
)

// watermillLogger routes watermill's internal logs through the service logger
type watermillLogger struct {
	logger *logger.Logger
}

// NewWatermillLogger adapts logger to watermill.LoggerAdapter
func NewWatermillLogger(l *logger.Logger) watermill.LoggerAdapter {
	return &watermillLogger{logger: l}
}

func flatten(fields watermill.LogFields) []interface{} {
	kv := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return kv
}

func (w *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.logger.Errorw(msg, append(flatten(fields), "error", err)...)
}

func (w *watermillLogger) Info(msg string, fields watermill.LogFields) {
	w.logger.Infow(msg, flatten(fields)...)
}

func (w *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.logger.Debugw(msg, flatten(fields)...)
}

// Trace is too chatty for anything but local debugging, it maps to debug
func (w *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.logger.Debugw(msg, flatten(fields)...)
}

func (w *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{logger: w.logger.With(flatten(fields)...)}
}
