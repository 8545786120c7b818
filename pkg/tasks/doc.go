/*
Package tasks runs the periodic control loops of the Zoe master.

An Engine is a registry of named tasks, each with its own interval, driven
by a robfig/cron runner. Every job is wrapped so that:

  - a tick arriving while the previous run of the same task is still going
    is skipped (cron.SkipIfStillRunning);
  - a panic is logged and the task stays scheduled (cron.Recover);
  - errors are logged with the task name, rate limited per task so a long
    backend outage does not flood the log, and counted in
    zoe_periodic_task_runs_total.

The master registers:

	platform status updater         refresh the resource snapshot
	scheduler                       start the next queued execution
	execution health checker        terminate executions whose monitor died
	submission retry                re-admit the oldest submitted execution
	proxy access timestamp updater  only when a proxy hook is configured
	metrics collector               refresh the Prometheus gauges

Stop cancels the context passed to every task and waits for runs in
progress to return.
*/
package tasks
