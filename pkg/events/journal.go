package events

import (
	"context"
	"sync/atomic"

	"github.com/cuemby/zoe/pkg/log"
	"github.com/cuemby/zoe/pkg/metrics"
	"github.com/rs/zerolog"
)

// Journal is the master's broker subscriber: it logs every lifecycle event
// and counts it by type.
type Journal struct {
	broker *Broker
	sub    Subscriber
	logger zerolog.Logger
	seen   atomic.Uint64
}

// NewJournal subscribes to broker right away so no event published after
// this call is missed
func NewJournal(broker *Broker) *Journal {
	return &Journal{
		broker: broker,
		sub:    broker.Subscribe(),
		logger: log.WithComponent("events"),
	}
}

// Run consumes events until ctx is cancelled or the subscription is closed
func (j *Journal) Run(ctx context.Context) {
	defer j.broker.Unsubscribe(j.sub)

	for {
		select {
		case event, ok := <-j.sub:
			if !ok {
				return
			}
			j.record(event)
		case <-ctx.Done():
			return
		}
	}
}

func (j *Journal) record(event *Event) {
	metrics.LifecycleEventsTotal.WithLabelValues(string(event.Type)).Inc()
	j.seen.Add(1)

	evt := j.logger.Debug()
	if event.Type == EventExecutionFailed || event.Type == EventMonitorDied {
		evt = j.logger.Warn()
	}
	evt.Str("event", string(event.Type)).
		Uint64("execution_id", event.ExecutionID).
		Str("status", event.Metadata["status"]).
		Msg(event.Message)
}

// Seen returns how many events the journal has consumed
func (j *Journal) Seen() uint64 {
	return j.seen.Load()
}
