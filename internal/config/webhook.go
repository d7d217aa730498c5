package config

import "github.com/deskflow/billing/internal/types"

// Webhook represents the configuration for the notification event stream
type Webhook struct {
	Enabled        bool             `mapstructure:"enabled"`
	Topic          string           `mapstructure:"topic" default:"notifications"`
	PubSub         types.PubSubType `mapstructure:"pubsub" default:"memory"`
	ExcludedEvents []string         `mapstructure:"excluded_events"`
}
