/*
Package events distributes execution lifecycle events inside the master.

The platform manager publishes an Event for every state change it makes
(submitted, scheduled, starting, running, requeued, cleaning up, finished,
failed, deleted) on a Broker. Subscribers receive them on buffered channels;
slow subscribers miss events rather than stall the manager, and Publish
itself never blocks.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	for ev := range sub {
		fmt.Println(ev.Type, ev.ExecutionID, ev.Message)
	}

The master runs a Journal as its subscriber: it logs every event and counts
it in zoe_lifecycle_events_total by type.

# Notifications

When an execution reaches a terminal state the manager also calls a
Notifier. BrokerNotifier turns it into an EventNotification event with
the run time rendered by FormatDuration; LogNotifier writes it to the log.
Notifiers combines several.
*/
package events
