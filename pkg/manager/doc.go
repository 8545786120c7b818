/*
Package manager implements the platform manager of the Zoe master.

The manager owns every lifecycle transition of an execution. It is driven
from two sides: the command channel (execution_start, execution_terminate,
execution_delete) and the periodic tasks (scheduler, execution health
checker, submission retry).

# Lifecycle

	submitted ──admission──▶ scheduled ──Schedule──▶ starting ──▶ running
	    │  refused                │                      │           │
	    ▼                         │      backend down    │           │
	  error ◀─────────────────────┼──────── (rollback) ──┤           │
	                              │    ◀── submitted ────┘           │
	                              ▼                                  ▼
	                         cleaning up ◀──────── terminate ────────┘
	                              │
	                              ▼
	                          terminated

ExecutionSubmitted runs admission control against the cached resource
snapshot and queues the execution. Schedule pops the head of the queue and
starts it: service records are written first, then one backend instance is
created per service. If any creation fails, the instances already created
are destroyed and the records removed. A backend outage sends the execution
back to submitted, where the submission retry task picks it up again; any
other failure is final.

ExecutionTerminate destroys the live instances and marks the execution
terminated. It is idempotent. A terminate that arrives while the same
execution is starting is remembered and applied once the start returns.

CheckExecutionsHealth looks at the monitor services of running executions.
The first dead monitor terminates its execution; the other services are not
inspected in that pass.

# Locking

A single mutex guards the scheduler policy and the in-flight bookkeeping.
Backend calls are made without it, so a slow backend never blocks the
command channel.

# Restart

Queues live in memory. Recover rebuilds them at start-up: running executions
are registered with the policy again and executions caught in scheduled or
starting are rolled back to submitted.
*/
package manager
