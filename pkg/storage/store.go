package storage

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cuemby/zoe/pkg/types"
)

// Store defines the repository the engine reads and writes execution state through.
// Implemented by the BoltDB-backed store and the in-memory store.
type Store interface {
	// Executions
	CreateExecution(execution *types.Execution) (uint64, error)
	GetExecution(id uint64) (*types.Execution, error)
	ListExecutions(filter ExecutionFilter) ([]*types.Execution, error)
	UpdateExecution(execution *types.Execution) error
	DeleteExecution(id uint64) error

	// Services
	CreateService(service *types.Service) (uint64, error)
	GetService(id uint64) (*types.Service, error)
	ListServices(filter ServiceFilter) ([]*types.Service, error)
	UpdateService(service *types.Service) error
	DeleteService(id uint64) error

	// StateUpdated signals that a batch of changes is complete
	StateUpdated()

	// Utility
	Close() error
}

// ExecutionFilter selects executions; zero fields match everything
type ExecutionFilter struct {
	ID     uint64
	Status types.ExecutionStatus
	UserID string
	Name   string
	Limit  int
}

// Match reports whether e satisfies the filter
func (f ExecutionFilter) Match(e *types.Execution) bool {
	if f.ID != 0 && e.ID != f.ID {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Name != "" && e.Name != f.Name {
		return false
	}
	return true
}

// ServiceFilter selects services; zero fields match everything
type ServiceFilter struct {
	ExecutionID uint64
	Status      types.ServiceStatus
	BackendID   string
}

// Match reports whether s satisfies the filter
func (f ServiceFilter) Match(s *types.Service) bool {
	if f.ExecutionID != 0 && s.ExecutionID != f.ExecutionID {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.BackendID != "" && s.BackendID != f.BackendID {
		return false
	}
	return true
}

// stateNotifier implements the change-notification hook shared by the stores
type stateNotifier struct {
	mu         sync.Mutex
	hook       func()
	generation atomic.Uint64
}

// SetStateHook installs fn to be called after every StateUpdated
func (n *stateNotifier) SetStateHook(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hook = fn
}

// StateUpdated bumps the generation counter and runs the hook
func (n *stateNotifier) StateUpdated() {
	n.generation.Add(1)
	n.mu.Lock()
	hook := n.hook
	n.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// Generation returns how many times StateUpdated was called
func (n *stateNotifier) Generation() uint64 {
	return n.generation.Load()
}

func sortExecutions(execs []*types.Execution) {
	sort.Slice(execs, func(i, j int) bool { return execs[i].ID < execs[j].ID })
}

func sortServices(services []*types.Service) {
	sort.Slice(services, func(i, j int) bool { return services[i].ID < services[j].ID })
}
