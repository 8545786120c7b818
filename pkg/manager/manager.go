package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/zoe/pkg/backend"
	"github.com/cuemby/zoe/pkg/events"
	"github.com/cuemby/zoe/pkg/log"
	"github.com/cuemby/zoe/pkg/metrics"
	"github.com/cuemby/zoe/pkg/scheduler"
	"github.com/cuemby/zoe/pkg/storage"
	"github.com/cuemby/zoe/pkg/types"
	"github.com/rs/zerolog"
)

// AdmissionRefusedMessage is stored on executions refused by admission control
const AdmissionRefusedMessage = "admission control refused this application description"

// Manager is the platform manager: it drives executions through their
// lifecycle against the backend and keeps the scheduler policy in sync.
type Manager struct {
	store     storage.Store
	backend   backend.Backend
	snapshots scheduler.SnapshotSource
	notifier  events.Notifier
	broker    *events.Broker
	logger    zerolog.Logger

	// mu guards policy and the in-flight maps. Backend calls never run under it.
	mu               sync.Mutex
	policy           scheduler.Policy
	starting         map[uint64]bool
	pendingTerminate map[uint64]bool
	terminating      map[uint64]bool
}

// Config holds the collaborators of a Manager
type Config struct {
	Store     storage.Store
	Backend   backend.Backend
	Snapshots scheduler.SnapshotSource
	Policy    scheduler.Policy // defaults to a SimplePolicy over Snapshots
	Broker    *events.Broker   // optional
	Notifier  events.Notifier  // optional
}

// NewManager creates a new Manager instance
func NewManager(cfg *Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("manager requires a store")
	}
	if cfg.Backend == nil {
		return nil, errors.New("manager requires a backend")
	}
	if cfg.Snapshots == nil {
		return nil, errors.New("manager requires a snapshot source")
	}

	policy := cfg.Policy
	if policy == nil {
		policy = scheduler.NewSimplePolicy(cfg.Snapshots)
	}

	return &Manager{
		store:            cfg.Store,
		backend:          cfg.Backend,
		snapshots:        cfg.Snapshots,
		notifier:         cfg.Notifier,
		broker:           cfg.Broker,
		logger:           log.WithComponent("manager"),
		policy:           policy,
		starting:         make(map[uint64]bool),
		pendingTerminate: make(map[uint64]bool),
		terminating:      make(map[uint64]bool),
	}, nil
}

// ExecutionSubmitted runs admission control on a submitted execution and
// queues it. Without any resource snapshot it returns ErrBackendUnavailable and
// leaves the execution submitted; a refused execution moves to error.
func (m *Manager) ExecutionSubmitted(ctx context.Context, id uint64) error {
	if _, ok := m.snapshots.Snapshot(); !ok {
		return fmt.Errorf("no platform status available for execution %d: %w", id, types.ErrBackendUnavailable)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.terminating[id] {
		return fmt.Errorf("%w: execution %d is being terminated", types.ErrConflict, id)
	}

	e, err := m.store.GetExecution(id)
	if err != nil {
		return fmt.Errorf("failed to get execution: %w", err)
	}
	if e.Status != types.StatusSubmitted {
		return fmt.Errorf("%w: execution %d is %s, not submitted", types.ErrConflict, id, e.Status)
	}

	var res types.ApplicationResources
	if e.Description != nil {
		res = e.Description.RequiredResources()
	}
	if e.Description == nil || !m.policy.AdmissionControl(res) {
		metrics.AdmissionsTotal.WithLabelValues("refused").Inc()
		if err := e.SetError(AdmissionRefusedMessage); err != nil {
			return err
		}
		if err := m.save(e); err != nil {
			return err
		}
		m.logger.Warn().Uint64("execution_id", id).Float64("cores", res.Cores).Msg("Admission control refused execution")
		m.publish(events.EventExecutionFailed, e, AdmissionRefusedMessage)
		m.notify(e)
		return nil
	}

	metrics.AdmissionsTotal.WithLabelValues("admitted").Inc()
	if err := e.SetStatus(types.StatusScheduled); err != nil {
		return err
	}
	if err := m.save(e); err != nil {
		return err
	}
	m.policy.Insert(id, res)

	m.logger.Info().Uint64("execution_id", id).Str("name", e.Name).Msg("Execution scheduled")
	m.publish(events.EventExecutionScheduled, e, "execution admitted and queued")
	return nil
}

// Schedule runs one scheduling pass: it pops the next runnable execution and starts it
func (m *Manager) Schedule(ctx context.Context) error {
	m.mu.Lock()
	entry, ok := m.policy.Runnable()
	if ok {
		m.starting[entry.ExecutionID] = true
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	_, err := m.startExecution(ctx, entry)
	return err
}

// StartExecution creates every service of a scheduled execution on the backend.
// It reports whether the execution is now running. On failure the instances
// already created are destroyed; the execution goes back to submitted when the
// backend was unreachable and to error otherwise.
func (m *Manager) StartExecution(ctx context.Context, id uint64, res types.ApplicationResources) (bool, error) {
	m.mu.Lock()
	if m.starting[id] {
		m.mu.Unlock()
		return false, fmt.Errorf("%w: execution %d is already starting", types.ErrConflict, id)
	}
	m.starting[id] = true
	m.mu.Unlock()

	return m.startExecution(ctx, scheduler.Entry{ExecutionID: id, Resources: res})
}

// startExecution expects entry.ExecutionID to be marked in m.starting
func (m *Manager) startExecution(ctx context.Context, entry scheduler.Entry) (started bool, err error) {
	id := entry.ExecutionID
	logger := executionLogger(id)

	defer func() {
		m.mu.Lock()
		delete(m.starting, id)
		pending := m.pendingTerminate[id]
		delete(m.pendingTerminate, id)
		if started {
			m.policy.Started(id, entry.Resources)
		}
		m.mu.Unlock()

		if pending {
			logger.Info().Msg("Applying terminate requested during start")
			if terr := m.ExecutionTerminate(ctx, id); terr != nil {
				logger.Error().Err(terr).Msg("Failed to terminate execution after start")
			}
		}
	}()

	e, err := m.store.GetExecution(id)
	if err != nil {
		return false, fmt.Errorf("failed to get execution: %w", err)
	}
	if e.Status != types.StatusScheduled {
		// terminated or deleted while queued
		logger.Debug().Str("status", string(e.Status)).Msg("Skipping start of execution that is no longer scheduled")
		return false, nil
	}

	if err := e.SetStatus(types.StatusStarting); err != nil {
		return false, err
	}
	if err := m.save(e); err != nil {
		return false, err
	}
	m.publish(events.EventExecutionStarting, e, "creating services")

	services, err := m.createServiceRecords(e)
	if err == nil {
		err = m.createInstances(ctx, services)
	}
	if err != nil {
		return false, m.failStart(ctx, e, services, err)
	}

	if err := e.SetStatus(types.StatusRunning); err != nil {
		return false, err
	}
	if err := m.save(e); err != nil {
		return false, err
	}
	m.store.StateUpdated()

	metrics.ExecutionStartsTotal.WithLabelValues("success").Inc()
	metrics.SchedulingLatency.Observe(e.TimeStart.Sub(e.TimeSubmit).Seconds())
	logger.Info().Int("services", len(services)).Msg("Execution running")
	m.publish(events.EventExecutionRunning, e, "all services started")
	return true, nil
}

// createServiceRecords persists one service record per instance of each service
func (m *Manager) createServiceRecords(e *types.Execution) ([]*types.Service, error) {
	var services []*types.Service
	for _, desc := range e.Description.Services {
		n := desc.Instances()
		for i := 0; i < n; i++ {
			name := desc.Name
			if n > 1 {
				name = fmt.Sprintf("%s%d", desc.Name, i)
			}
			svc := &types.Service{
				ExecutionID: e.ID,
				Name:        name,
				Description: desc,
				Status:      types.ServiceStatusCreated,
				CreatedAt:   time.Now(),
			}
			if _, err := m.store.CreateService(svc); err != nil {
				return services, fmt.Errorf("failed to create service record: %w", err)
			}
			services = append(services, svc)
		}
	}
	return services, nil
}

func (m *Manager) createInstances(ctx context.Context, services []*types.Service) error {
	for _, svc := range services {
		svc.Status = types.ServiceStatusStarting
		handle, err := m.backend.CreateService(ctx, backend.NewServiceSpec(svc))
		if err != nil {
			svc.Status = types.ServiceStatusError
			svc.Error = err.Error()
			return fmt.Errorf("failed to start service %s: %w", svc.Name, err)
		}
		svc.BackendID = handle.ID
		svc.Ports = handle.Ports
		svc.Status = types.ServiceStatusActive
		if err := m.store.UpdateService(svc); err != nil {
			return fmt.Errorf("failed to update service %s: %w", svc.Name, err)
		}
	}
	return nil
}

// failStart rolls back a partial start and moves the execution out of starting
func (m *Manager) failStart(ctx context.Context, e *types.Execution, services []*types.Service, cause error) error {
	logger := executionLogger(e.ID)

	m.rollback(ctx, services)

	if backend.IsUnavailable(cause) {
		metrics.ExecutionStartsTotal.WithLabelValues("retry").Inc()
		if err := e.SetStatus(types.StatusSubmitted); err != nil {
			return err
		}
		if err := m.save(e); err != nil {
			return err
		}
		logger.Warn().Err(cause).Msg("Backend unavailable, execution returned to submitted")
		m.publish(events.EventExecutionRequeued, e, cause.Error())
		return cause
	}

	metrics.ExecutionStartsTotal.WithLabelValues("error").Inc()
	if err := e.SetError(cause.Error()); err != nil {
		return err
	}
	if err := m.save(e); err != nil {
		return err
	}
	m.store.StateUpdated()
	logger.Error().Err(cause).Msg("Execution failed to start")
	m.publish(events.EventExecutionFailed, e, cause.Error())
	m.notify(e)
	return cause
}

// rollback destroys created instances and removes the service records
func (m *Manager) rollback(ctx context.Context, services []*types.Service) {
	for _, svc := range services {
		if svc.BackendID != "" {
			if err := m.backend.DestroyService(ctx, svc.BackendID); err != nil {
				m.logger.Error().Err(err).Uint64("service_id", svc.ID).Msg("Failed to destroy service during rollback")
			}
		}
		if err := m.store.DeleteService(svc.ID); err != nil {
			m.logger.Error().Err(err).Uint64("service_id", svc.ID).Msg("Failed to delete service record during rollback")
		}
	}
}

// beginTerminate claims id for termination and moves it to cleaning up. The
// status is read and written under m.mu so a concurrent ExecutionSubmitted
// either runs entirely before it or sees the claim. A nil execution means
// there is nothing to tear down now.
func (m *Manager) beginTerminate(id uint64) (*types.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.starting[id] {
		m.pendingTerminate[id] = true
		m.logger.Info().Uint64("execution_id", id).Msg("Terminate deferred until start completes")
		return nil, nil
	}
	if m.terminating[id] {
		return nil, nil
	}

	e, err := m.store.GetExecution(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	if e.Status.Terminal() {
		return nil, nil
	}
	if e.Status == types.StatusStarting {
		// only reachable for a start lost with a previous process, before Recover
		return nil, fmt.Errorf("%w: execution %d is starting", types.ErrConflict, id)
	}

	m.policy.Terminated(id)
	if e.Status != types.StatusCleaningUp {
		if err := e.SetStatus(types.StatusCleaningUp); err != nil {
			return nil, err
		}
		if err := m.save(e); err != nil {
			return nil, err
		}
	}
	m.terminating[id] = true
	return e, nil
}

// ExecutionTerminate stops every service of an execution and marks it terminated.
// Terminating an execution that already finished is a no-op. A terminate
// requested while the execution is starting is applied when the start completes.
func (m *Manager) ExecutionTerminate(ctx context.Context, id uint64) error {
	e, err := m.beginTerminate(id)
	if err != nil || e == nil {
		return err
	}

	defer func() {
		m.mu.Lock()
		delete(m.terminating, id)
		m.mu.Unlock()
	}()

	logger := executionLogger(id)
	m.publish(events.EventExecutionCleaningUp, e, "terminating services")

	services, err := m.store.ListServices(storage.ServiceFilter{ExecutionID: id})
	if err != nil {
		return fmt.Errorf("failed to list services: %w", err)
	}

	var teardownErr error
	for _, svc := range services {
		if svc.Status == types.ServiceStatusTerminated {
			continue
		}
		if svc.BackendID != "" {
			if err := m.backend.DestroyService(ctx, svc.BackendID); err != nil {
				logger.Error().Err(err).Uint64("service_id", svc.ID).Msg("Failed to destroy service")
				if teardownErr == nil {
					teardownErr = fmt.Errorf("failed to destroy service %s: %w", svc.Name, err)
				}
				continue
			}
		}
		svc.Status = types.ServiceStatusTerminated
		if err := m.store.UpdateService(svc); err != nil {
			logger.Error().Err(err).Uint64("service_id", svc.ID).Msg("Failed to update service")
		}
	}
	if teardownErr != nil {
		return teardownErr
	}

	if err := e.SetStatus(types.StatusTerminated); err != nil {
		return err
	}
	if err := m.save(e); err != nil {
		return err
	}
	m.store.StateUpdated()

	metrics.ExecutionTerminationsTotal.Inc()
	logger.Info().Msg("Execution terminated")
	m.publish(events.EventExecutionFinished, e, "execution terminated")
	m.notify(e)
	return nil
}

// ExecutionDelete removes a finished execution and its services from the store
func (m *Manager) ExecutionDelete(ctx context.Context, id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.store.GetExecution(id)
	if err != nil {
		return fmt.Errorf("failed to get execution: %w", err)
	}
	if e.IsActive() {
		return fmt.Errorf("%w: execution %d is %s, terminate it before deleting", types.ErrConflict, id, e.Status)
	}

	m.policy.Terminated(id)
	if err := m.store.DeleteExecution(id); err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}
	m.store.StateUpdated()

	m.logger.Info().Uint64("execution_id", id).Msg("Execution deleted")
	m.publish(events.EventExecutionDeleted, e, "execution deleted")
	return nil
}

// CheckExecutionsHealth terminates running executions whose monitor service died.
// Each execution is terminated at most once per pass.
func (m *Manager) CheckExecutionsHealth(ctx context.Context) error {
	running, err := m.store.ListExecutions(storage.ExecutionFilter{Status: types.StatusRunning})
	if err != nil {
		return fmt.Errorf("failed to list running executions: %w", err)
	}

	var errs []error
	for _, e := range running {
		services, err := m.store.ListServices(storage.ServiceFilter{ExecutionID: e.ID})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to list services of execution %d: %w", e.ID, err))
			continue
		}

		for _, svc := range services {
			if !svc.IsMonitor() {
				continue
			}
			dead, err := m.backend.IsDead(ctx, svc.BackendID)
			if err != nil {
				if backend.IsUnavailable(err) {
					return fmt.Errorf("health check aborted: %w", err)
				}
				errs = append(errs, fmt.Errorf("failed to inspect service %d: %w", svc.ID, err))
				continue
			}
			if !dead {
				continue
			}

			m.logger.Info().
				Uint64("execution_id", e.ID).
				Str("service", svc.Name).
				Msg("Monitor service died, terminating execution")
			metrics.HealthCheckKillsTotal.Inc()
			m.publish(events.EventMonitorDied, e, fmt.Sprintf("monitor service %s is dead", svc.Name))

			if err := m.ExecutionTerminate(ctx, e.ID); err != nil {
				errs = append(errs, err)
			}
			break
		}
	}
	return errors.Join(errs...)
}

// RetrySubmitted re-runs admission for the oldest execution still in submitted.
// A backend outage is logged and leaves the execution untouched.
func (m *Manager) RetrySubmitted(ctx context.Context) error {
	submitted, err := m.store.ListExecutions(storage.ExecutionFilter{Status: types.StatusSubmitted})
	if err != nil {
		return fmt.Errorf("failed to list submitted executions: %w", err)
	}
	if len(submitted) == 0 {
		return nil
	}

	sort.SliceStable(submitted, func(i, j int) bool {
		if submitted[i].TimeSubmit.Equal(submitted[j].TimeSubmit) {
			return submitted[i].ID < submitted[j].ID
		}
		return submitted[i].TimeSubmit.Before(submitted[j].TimeSubmit)
	})
	oldest := submitted[0]

	err = m.ExecutionSubmitted(ctx, oldest.ID)
	if errors.Is(err, types.ErrBackendUnavailable) {
		m.logger.Warn().Err(err).Uint64("execution_id", oldest.ID).Msg("Backend still unavailable, will retry submission")
		return nil
	}
	return err
}

// Recover rebuilds the in-memory queues after a restart. Running executions
// are registered with the policy again; executions caught in scheduled or
// starting lose their partial services and go back to submitted.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	executions, err := m.store.ListExecutions(storage.ExecutionFilter{})
	if err != nil {
		return 0, fmt.Errorf("failed to list executions: %w", err)
	}

	requeued := 0
	for _, e := range executions {
		switch e.Status {
		case types.StatusRunning:
			m.mu.Lock()
			m.policy.Started(e.ID, e.Description.RequiredResources())
			m.mu.Unlock()

		case types.StatusScheduled, types.StatusStarting:
			services, err := m.store.ListServices(storage.ServiceFilter{ExecutionID: e.ID})
			if err != nil {
				return requeued, fmt.Errorf("failed to list services: %w", err)
			}
			m.rollback(ctx, services)

			if err := e.SetStatus(types.StatusSubmitted); err != nil {
				return requeued, err
			}
			if err := m.save(e); err != nil {
				return requeued, err
			}
			m.publish(events.EventExecutionRequeued, e, "recovered after restart")
			requeued++
		}
	}

	if requeued > 0 {
		m.store.StateUpdated()
	}
	m.logger.Info().Int("requeued", requeued).Msg("Recovered execution state")
	return requeued, nil
}

// Statistics returns the scheduler queue statistics
func (m *Manager) Statistics() scheduler.Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.policy.Stats()
}

// RecordAccess stores the time a running execution was last reached through
// the proxy. Older timestamps and executions that are not running are ignored,
// as are executions with a start or terminate in flight.
func (m *Manager) RecordAccess(id uint64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.starting[id] || m.terminating[id] {
		return nil
	}
	e, err := m.store.GetExecution(id)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to get execution: %w", err)
	}
	if !e.IsRunning() || (e.LastAccess != nil && !at.After(*e.LastAccess)) {
		return nil
	}
	e.LastAccess = &at
	return m.save(e)
}

// Store returns the repository the manager writes to
func (m *Manager) Store() storage.Store {
	return m.store
}

// Shutdown releases the store
func (m *Manager) Shutdown() error {
	if err := m.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}

// executionLogger returns the manager logger scoped to one execution
func executionLogger(id uint64) zerolog.Logger {
	return log.WithExecutionID(id).With().Str("component", "manager").Logger()
}

func (m *Manager) save(e *types.Execution) error {
	if err := m.store.UpdateExecution(e); err != nil {
		return fmt.Errorf("failed to update execution %d: %w", e.ID, err)
	}
	return nil
}

func (m *Manager) publish(t events.EventType, e *types.Execution, message string) {
	if m.broker == nil {
		return
	}
	event := events.NewEvent(t, e.ID, message)
	event.Metadata = map[string]string{
		"name":   e.Name,
		"status": string(e.Status),
	}
	m.broker.Publish(event)
}

func (m *Manager) notify(e *types.Execution) {
	if m.notifier != nil {
		m.notifier.NotifyExecutionFinished(e)
	}
}
