// Package services hosts the engine's domain services: conflict detection,
// negotiation coordination, and booking admission. Services share a common
// configuration and communicate through the event bus and explicit
// interfaces rather than global state.
package services

import (
	"context"

	"github.com/concord-io/concord/pkg/events"
	"github.com/concord-io/concord/pkg/observability"
)

// ServiceConfig provides common configuration for all services
type ServiceConfig struct {
	Logger  observability.Logger
	Metrics observability.MetricsClient
	Tracer  observability.StartSpanFunc
}

// Defaults fills unset fields so services never nil-check their config.
func (c ServiceConfig) Defaults() ServiceConfig {
	if c.Logger == nil {
		c.Logger = observability.NewNoopLogger()
	}
	if c.Metrics == nil {
		c.Metrics = observability.NewNoOpMetricsClient()
	}
	if c.Tracer == nil {
		c.Tracer = observability.NoopStartSpan
	}
	return c
}

// BaseService provides common functionality for all services
type BaseService struct {
	config ServiceConfig
	bus    events.Bus
}

// NewBaseService creates a new base service
func NewBaseService(config ServiceConfig, bus events.Bus) BaseService {
	return BaseService{
		config: config.Defaults(),
		bus:    bus,
	}
}

// publish emits an event if a bus is configured.
func (s *BaseService) publish(eventType events.EventType, payload map[string]interface{}) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(context.Background(), eventType, payload)
}
