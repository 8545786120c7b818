/*
Package metrics defines the Prometheus metrics and health endpoints of the
Zoe master.

All metrics are registered on the default registry at package init and
exposed through Handler. They fall into four groups:

	zoe_scheduler_queue_length{queue}          waiting / running queue sizes
	zoe_executions_total{status}               executions per lifecycle state
	zoe_cluster_cores{kind}                    total / used, from the snapshot
	zoe_cluster_memory_bytes{kind}
	zoe_cluster_containers
	zoe_status_snapshot_age_seconds

	zoe_admissions_total{result}               admitted / refused
	zoe_execution_starts_total{result}         success / retry / error
	zoe_execution_terminations_total
	zoe_health_check_terminations_total
	zoe_scheduling_latency_seconds             submit to running

	zoe_periodic_task_runs_total{task,result}
	zoe_periodic_task_duration_seconds{task}

	zoe_ipc_requests_total{command,status}
	zoe_ipc_request_duration_seconds{command}

Counters and histograms are updated inline by the packages that own the
event. Gauges are refreshed by Collector, which the master runs as the
"metrics collector" periodic task.

# Health

HealthChecker keeps the last reported state of each component. Readiness
requires every critical component (backend, store and ipc for the master)
to be registered and healthy:

	hc := metrics.Default()
	hc.Report(metrics.ComponentBackend, err)

	http.ListenAndServe(":9090", hc.Mux()) // /metrics /health /ready /live

# Timing

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.TaskDuration, name)
*/
package metrics
