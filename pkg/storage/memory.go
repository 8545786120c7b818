package storage

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cuemby/zoe/pkg/types"
)

// MemoryStore implements Store in process memory. Records are deep-copied on the
// way in and out so callers never share state with the store, like a real database.
type MemoryStore struct {
	stateNotifier

	mu         sync.RWMutex
	executions map[uint64][]byte
	services   map[uint64][]byte
	nextExec   uint64
	nextSvc    uint64
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: make(map[uint64][]byte),
		services:   make(map[uint64][]byte),
	}
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) CreateExecution(execution *types.Execution) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextExec++
	execution.ID = s.nextExec
	data, err := json.Marshal(execution)
	if err != nil {
		return 0, fmt.Errorf("failed to create execution: %w", err)
	}
	s.executions[execution.ID] = data
	return execution.ID, nil
}

func (s *MemoryStore) GetExecution(id uint64) (*types.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.executions[id]
	if !ok {
		return nil, fmt.Errorf("execution %d: %w", id, types.ErrNotFound)
	}
	var execution types.Execution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, err
	}
	return &execution, nil
}

func (s *MemoryStore) ListExecutions(filter ExecutionFilter) ([]*types.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var executions []*types.Execution
	for _, data := range s.executions {
		var execution types.Execution
		if err := json.Unmarshal(data, &execution); err != nil {
			return nil, err
		}
		if filter.Match(&execution) {
			executions = append(executions, &execution)
		}
	}
	sortExecutions(executions)
	if filter.Limit > 0 && len(executions) > filter.Limit {
		executions = executions[:filter.Limit]
	}
	return executions, nil
}

func (s *MemoryStore) UpdateExecution(execution *types.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[execution.ID]; !ok {
		return fmt.Errorf("execution %d: %w", execution.ID, types.ErrNotFound)
	}
	data, err := json.Marshal(execution)
	if err != nil {
		return err
	}
	s.executions[execution.ID] = data
	return nil
}

// DeleteExecution removes the execution and every service that belongs to it
func (s *MemoryStore) DeleteExecution(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.executions[id]; !ok {
		return fmt.Errorf("execution %d: %w", id, types.ErrNotFound)
	}
	for sid, data := range s.services {
		var service types.Service
		if err := json.Unmarshal(data, &service); err != nil {
			return err
		}
		if service.ExecutionID == id {
			delete(s.services, sid)
		}
	}
	delete(s.executions, id)
	return nil
}

func (s *MemoryStore) CreateService(service *types.Service) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSvc++
	service.ID = s.nextSvc
	data, err := json.Marshal(service)
	if err != nil {
		return 0, fmt.Errorf("failed to create service: %w", err)
	}
	s.services[service.ID] = data
	return service.ID, nil
}

func (s *MemoryStore) GetService(id uint64) (*types.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.services[id]
	if !ok {
		return nil, fmt.Errorf("service %d: %w", id, types.ErrNotFound)
	}
	var service types.Service
	if err := json.Unmarshal(data, &service); err != nil {
		return nil, err
	}
	return &service, nil
}

func (s *MemoryStore) ListServices(filter ServiceFilter) ([]*types.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var services []*types.Service
	for _, data := range s.services {
		var service types.Service
		if err := json.Unmarshal(data, &service); err != nil {
			return nil, err
		}
		if filter.Match(&service) {
			services = append(services, &service)
		}
	}
	sortServices(services)
	return services, nil
}

func (s *MemoryStore) UpdateService(service *types.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.services[service.ID]; !ok {
		return fmt.Errorf("service %d: %w", service.ID, types.ErrNotFound)
	}
	data, err := json.Marshal(service)
	if err != nil {
		return err
	}
	s.services[service.ID] = data
	return nil
}

func (s *MemoryStore) DeleteService(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.services, id)
	return nil
}
