// Package nop is the events.provider = "nop" backend: task events are
// checked and dropped.
package nop

import (
	"context"
	"sync/atomic"

	"github.com/papercomputeco/quarry/pkg/eventstream"
)

type Publisher struct {
	discarded atomic.Uint64
}

func NewPublisher() *Publisher {
	return &Publisher{}
}

// PublishTask rejects malformed events the same way a real backend would,
// so a scheduler running without a broker still surfaces them.
func (p *Publisher) PublishTask(_ context.Context, event *eventstream.TaskEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	p.discarded.Add(1)
	return nil
}

// Discarded counts the valid events dropped so far.
func (p *Publisher) Discarded() uint64 {
	return p.discarded.Load()
}

func (p *Publisher) Close() error {
	return nil
}
