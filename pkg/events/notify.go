package events

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/zoe/pkg/log"
	"github.com/cuemby/zoe/pkg/types"
	"github.com/rs/zerolog"
)

// Notifier is told when an execution reaches a terminal state.
// Implementations must not block the caller.
type Notifier interface {
	NotifyExecutionFinished(e *types.Execution)
}

// BrokerNotifier publishes finished executions on a broker
type BrokerNotifier struct {
	broker *Broker
}

// NewBrokerNotifier creates a notifier publishing on broker
func NewBrokerNotifier(broker *Broker) *BrokerNotifier {
	return &BrokerNotifier{broker: broker}
}

func (n *BrokerNotifier) NotifyExecutionFinished(e *types.Execution) {
	event := NewEvent(EventNotification, e.ID,
		fmt.Sprintf("Application execution %s finished", e.Name))
	event.Metadata = finishedMetadata(e)
	n.broker.Publish(event)
}

// LogNotifier writes finished executions to the log
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier creates a notifier logging through the events component logger
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: log.WithComponent("notify")}
}

func (n *LogNotifier) NotifyExecutionFinished(e *types.Execution) {
	evt := n.logger.Info()
	for k, v := range finishedMetadata(e) {
		evt = evt.Str(k, v)
	}
	evt.Msgf("Application execution %s finished", e.Name)
}

// Notifiers fans a notification out to several notifiers
type Notifiers []Notifier

func (ns Notifiers) NotifyExecutionFinished(e *types.Execution) {
	for _, n := range ns {
		n.NotifyExecutionFinished(e)
	}
}

func finishedMetadata(e *types.Execution) map[string]string {
	md := map[string]string{
		"execution_id": strconv.FormatUint(e.ID, 10),
		"name":         e.Name,
		"user_id":      e.UserID,
		"status":       string(e.Status),
		"runtime":      FormatDuration(e.Duration()),
	}
	if e.Description != nil {
		md["app_name"] = e.Description.Name
	}
	if e.ErrorMessage != "" {
		md["error"] = e.ErrorMessage
	}
	return md
}

// FormatDuration renders a run time as "2 days, 1 hour, 5 minutes, 3 seconds".
// Zero components are omitted; sub-second remainders are dropped.
func FormatDuration(d time.Duration) string {
	total := int64(d / time.Second)
	if total <= 0 {
		return "0 seconds"
	}

	parts := []struct {
		n    int64
		unit string
	}{
		{total / 86400, "day"},
		{total % 86400 / 3600, "hour"},
		{total % 3600 / 60, "minute"},
		{total % 60, "second"},
	}

	var tokens []string
	for _, p := range parts {
		switch {
		case p.n > 1:
			tokens = append(tokens, fmt.Sprintf("%d %ss", p.n, p.unit))
		case p.n == 1:
			tokens = append(tokens, "1 "+p.unit)
		}
	}
	return strings.Join(tokens, ", ")
}
