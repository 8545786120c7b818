/*
Package storage persists executions and services, the state Zoe needs to
survive a master restart.

Two implementations satisfy the Store interface:

  - BoltStore keeps records as JSON in a bbolt file at <dataDir>/zoe.db
  - MemoryStore keeps them in maps and is used by tests and the memory backend

# Layout

	┌─────────────── zoe.db ───────────────┐
	│  executions   big-endian id ─► JSON   │
	│  services     big-endian id ─► JSON   │
	└───────────────────────────────────────┘

Ids come from each bucket's NextSequence, so they are assigned in submission
order and iteration returns records sorted by id. Deleting an execution also
deletes its services in the same transaction.

# Change Notification

Every store embeds a stateNotifier. Components that mutate state call
StateUpdated once they are done; the hook installed with SetStateHook fans the
notification out to listeners (the events broker in the master process), and
Generation lets tests observe how many notifications were raised.

# Usage

	store, err := storage.NewBoltStore("/var/lib/zoe")
	if err != nil {
		return err
	}
	defer store.Close()

	id, err := store.CreateExecution(&types.Execution{
		Name:        "notebook",
		UserID:      "alice",
		Description: desc,
		Status:      types.StatusSubmitted,
	})

	running, err := store.ListExecutions(storage.ExecutionFilter{
		Status: types.StatusRunning,
	})
*/
package storage
