package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/zoe/pkg/types"
	"github.com/google/uuid"
)

// MemoryBackend simulates a cluster in process memory. It backs the
// "memory" backend of the master and lets tests inject failures.
type MemoryBackend struct {
	mu sync.Mutex

	cores       int
	memoryBytes int64
	hostIP      string
	nextPort    int

	instances   map[string]*memoryInstance
	unavailable bool
	rejectAfter int // reject the create after this many succeed, -1 disables
	publish     bool

	created   int
	destroyed []string
}

type memoryInstance struct {
	spec  ServiceSpec
	dead  bool
	ports []types.PublishedPort
}

// NewMemoryBackend creates a simulated cluster with the given capacity
func NewMemoryBackend(cores int, memoryBytes int64) *MemoryBackend {
	return &MemoryBackend{
		cores:       cores,
		memoryBytes: memoryBytes,
		hostIP:      "127.0.0.1",
		nextPort:    30000,
		instances:   make(map[string]*memoryInstance),
		rejectAfter: -1,
		publish:     true,
	}
}

// Status returns the simulated cluster resources
func (b *MemoryBackend) Status(ctx context.Context) (*types.ResourceSnapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.unavailable {
		return nil, Unavailable(errors.New("memory backend switched off"))
	}

	snap := &types.ResourceSnapshot{
		CoresTotal:  b.cores,
		MemoryTotal: b.memoryBytes,
		Timestamp:   time.Now(),
	}
	for _, inst := range b.instances {
		if inst.dead {
			continue
		}
		snap.CoresUsed += inst.spec.Cores
		snap.MemoryUsed += inst.spec.MemoryBytes
		snap.Containers++
	}
	return snap, nil
}

// CreateService registers a live instance
func (b *MemoryBackend) CreateService(ctx context.Context, spec ServiceSpec) (*Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.unavailable {
		return nil, Unavailable(errors.New("memory backend switched off"))
	}
	if b.rejectAfter >= 0 && b.created >= b.rejectAfter {
		return nil, fmt.Errorf("image %s rejected by backend", spec.Image)
	}
	b.created++

	inst := &memoryInstance{spec: spec}
	if b.publish {
		for _, p := range spec.Ports {
			inst.ports = append(inst.ports, types.PublishedPort{
				Internal:     p.Key(),
				ExternalIP:   b.hostIP,
				ExternalPort: b.nextPort,
			})
			b.nextPort++
		}
	}

	id := uuid.New().String()
	b.instances[id] = inst
	return &Handle{ID: id, Ports: inst.ports}, nil
}

// DestroyService removes an instance; unknown ids are ignored
func (b *MemoryBackend) DestroyService(ctx context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.unavailable {
		return Unavailable(errors.New("memory backend switched off"))
	}
	if _, ok := b.instances[id]; ok {
		delete(b.instances, id)
		b.destroyed = append(b.destroyed, id)
	}
	return nil
}

// IsDead reports whether the instance was killed or never existed
func (b *MemoryBackend) IsDead(ctx context.Context, id string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.unavailable {
		return false, Unavailable(errors.New("memory backend switched off"))
	}
	inst, ok := b.instances[id]
	if !ok {
		return true, nil
	}
	return inst.dead, nil
}

// Kill marks an instance as exited without removing it
func (b *MemoryBackend) Kill(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if inst, ok := b.instances[id]; ok {
		inst.dead = true
	}
}

// SetUnavailable switches connectivity off or back on
func (b *MemoryBackend) SetUnavailable(off bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unavailable = off
}

// RejectAfter makes every create after the first n fail; negative disables
func (b *MemoryBackend) RejectAfter(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectAfter = n
	b.created = 0
}

// SetPublishPorts controls whether created instances publish their ports
func (b *MemoryBackend) SetPublishPorts(publish bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publish = publish
}

// Live returns the number of instances currently present
func (b *MemoryBackend) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.instances)
}

// Destroyed returns the ids removed so far, in order
func (b *MemoryBackend) Destroyed() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.destroyed...)
}
