package types

import (
	"fmt"
	"strconv"
	"time"
)

// ExecutionStatus is a state of the execution lifecycle
type ExecutionStatus string

const (
	StatusSubmitted  ExecutionStatus = "submitted"
	StatusScheduled  ExecutionStatus = "scheduled"
	StatusStarting   ExecutionStatus = "starting"
	StatusRunning    ExecutionStatus = "running"
	StatusCleaningUp ExecutionStatus = "cleaning up"
	StatusTerminated ExecutionStatus = "terminated"
	StatusError      ExecutionStatus = "error"
)

// AllStatuses lists every lifecycle state in lifecycle order
var AllStatuses = []ExecutionStatus{
	StatusSubmitted,
	StatusScheduled,
	StatusStarting,
	StatusRunning,
	StatusCleaningUp,
	StatusTerminated,
	StatusError,
}

// transitions holds the allowed edges of the lifecycle.
// The back-edges to submitted are taken when the backend is unreachable during
// start and when recovering a queue lost with the previous process; the
// submission retry task picks the execution up again from there.
var transitions = map[ExecutionStatus][]ExecutionStatus{
	StatusSubmitted:  {StatusScheduled, StatusCleaningUp, StatusError},
	StatusScheduled:  {StatusStarting, StatusCleaningUp, StatusError, StatusSubmitted},
	StatusStarting:   {StatusRunning, StatusError, StatusSubmitted},
	StatusRunning:    {StatusCleaningUp},
	StatusCleaningUp: {StatusTerminated},
}

// Valid reports whether s is a known status
func (s ExecutionStatus) Valid() bool {
	for _, st := range AllStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible
func (s ExecutionStatus) Terminal() bool {
	return s == StatusTerminated || s == StatusError
}

// CanTransitionTo reports whether next is a legal successor of s
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsActive reports whether the execution still holds, or may acquire, backend resources
func (e *Execution) IsActive() bool {
	return !e.Status.Terminal()
}

// IsRunning reports whether the execution is in the running state
func (e *Execution) IsRunning() bool {
	return e.Status == StatusRunning
}

// SetStatus moves the execution to next, stamping lifecycle timestamps
func (e *Execution) SetStatus(next ExecutionStatus) error {
	if e.Status == next {
		return nil
	}
	if !e.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, next)
	}
	now := time.Now()
	switch next {
	case StatusRunning:
		e.TimeStart = &now
	case StatusTerminated, StatusError:
		e.TimeEnd = &now
	case StatusSubmitted:
		e.TimeStart = nil
	}
	e.Status = next
	return nil
}

// SetError moves the execution to the error state with a message
func (e *Execution) SetError(msg string) error {
	if err := e.SetStatus(StatusError); err != nil {
		return err
	}
	e.ErrorMessage = msg
	return nil
}

// Duration returns how long the execution ran, zero if it never started
func (e *Execution) Duration() time.Duration {
	if e.TimeStart == nil {
		return 0
	}
	end := time.Now()
	if e.TimeEnd != nil {
		end = *e.TimeEnd
	}
	return end.Sub(*e.TimeStart)
}

// PortKey builds the "<number>/<protocol>" key used for published ports
func PortKey(number int, protocol string) string {
	if protocol == "" {
		protocol = "tcp"
	}
	return strconv.Itoa(number) + "/" + protocol
}
