/*
Package scheduler holds the admission and run-queue policy of the Zoe master.

A Policy owns two collections of execution ids: the waiting queue and the
running set. The platform manager asks it three questions:

  - AdmissionControl: can this application ever run on this cluster?
  - Runnable: which queued execution should start next?
  - Started / Terminated: bookkeeping after the backend acted.

SimplePolicy answers them with a FIFO queue and a single threshold. An
application is admitted when the number of whole cores it needs (fractions
rounded up) is strictly lower than the total core count of the last resource
snapshot. Current usage is ignored, so admitted executions may wait in the
queue until the backend can actually place them.

	snapshots := status.NewProvider(backend)
	policy := scheduler.NewSimplePolicy(snapshots)

	if policy.AdmissionControl(desc.RequiredResources()) {
		policy.Insert(exec.ID, desc.RequiredResources())
	}
	if entry, ok := policy.Runnable(); ok {
		// start entry.ExecutionID, then:
		policy.Started(entry.ExecutionID, entry.Resources)
	}

Policies do no locking. The manager holds its own mutex around every call.
*/
package scheduler
