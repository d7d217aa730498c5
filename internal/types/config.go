package types

import (
	ierr "github.com/deskflow/billing/internal/errors"
	"github.com/samber/lo"
)

type RunMode string

const (
	// ModeLocal runs the API server and the background scheduler in one process
	ModeLocal RunMode = "local"
	// ModeAPI is the mode for running just the API server
	ModeAPI RunMode = "api"
	// ModeScheduler runs only the cron sweeps
	ModeScheduler RunMode = "scheduler"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// SequenceBackend selects where the per period invoice counters live
type SequenceBackend string

const (
	SequenceBackendPostgres SequenceBackend = "postgres"
	SequenceBackendRedis    SequenceBackend = "redis"
	SequenceBackendMemory   SequenceBackend = "memory"
)

func (b SequenceBackend) Validate() error {
	allowed := []SequenceBackend{SequenceBackendPostgres, SequenceBackendRedis, SequenceBackendMemory}
	if !lo.Contains(allowed, b) {
		return ierr.NewError("invalid sequence backend").
			WithHint("Please provide a valid invoice sequence backend").
			WithReportableDetails(map[string]any{
				"allowed": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// PubSubType defines the type of pubsub implementation
type PubSubType string

const (
	// MemoryPubSub uses in-memory implementation
	MemoryPubSub PubSubType = "memory"

	// KafkaPubSub uses Kafka implementation
	KafkaPubSub PubSubType = "kafka"
)
