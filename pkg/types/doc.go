/*
Package types defines the data model shared by every Zoe component.

An Execution is one run of an ApplicationDescription submitted by a user. The
description lists the services (container images with resource reservations
and published ports) the application needs. Each running container is recorded
as a Service that belongs to exactly one execution.

# Execution Lifecycle

Executions move through a fixed state machine. SetStatus refuses every edge
not listed below and maintains the lifecycle timestamps:

	submitted ──► scheduled ──► starting ──► running ──► cleaning up ──► terminated
	    │             │             │
	    │             │             └──► error
	    │             └──► cleaning up / error
	    └──► cleaning up / error

	scheduled, starting ──► submitted   (backend unreachable, queue recovery)

TimeStart is set when an execution enters running and TimeEnd when it reaches
terminated or error. Moving back to submitted clears TimeStart.

# Resources

RequiredResources sums the cores and memory of every service instance in a
description. Admission control compares the rounded-up core count against the
cores reported in a ResourceSnapshot.

# Errors

The sentinel errors in errors.go (ErrNotFound, ErrValidation, ErrConflict,
ErrBackendUnavailable, ErrMasterUnavailable and friends) are wrapped with
fmt.Errorf("...: %w") throughout the code base and matched with errors.Is.
*/
package types
