// Package bus provides the event bus carrying async ingests and scored events.
package bus

import (
	"errors"
	"fmt"

	"github.com/shaayud/shaayud/internal/domain"
)

var (
	// ErrClosed is returned once the bus has been closed.
	ErrClosed = errors.New("bus is closed")

	// ErrBufferFull means a subscriber could not take the message.
	ErrBufferFull = errors.New("subscriber buffer full")
)

// New creates a new event bus based on configuration.
// The "none" type returns a nil bus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil

	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("%w: unsupported event bus type: %s", domain.ErrConfiguration, cfg.Type)
	}
}
