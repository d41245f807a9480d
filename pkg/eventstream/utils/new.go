// Package eventstreamutils builds the configured task event publisher.
package eventstreamutils

import (
	"fmt"

	"github.com/papercomputeco/quarry/pkg/config"
	"github.com/papercomputeco/quarry/pkg/eventstream"
	"github.com/papercomputeco/quarry/pkg/eventstream/kafka"
	"github.com/papercomputeco/quarry/pkg/eventstream/nop"
)

// NewPublisher returns the publisher for cfg.Provider. An empty provider is
// treated as "nop".
func NewPublisher(cfg config.EventsConfig) (eventstream.Publisher, error) {
	switch cfg.Provider {
	case "", "nop":
		return nop.NewPublisher(), nil
	case "kafka":
		return kafka.NewPublisher(kafka.Config{
			Brokers: cfg.Brokers,
			Topic:   cfg.Topic,
		})
	default:
		return nil, fmt.Errorf("unsupported events provider: %s", cfg.Provider)
	}
}
