package scheduler

import (
	"github.com/cuemby/zoe/pkg/types"
)

var _ Policy = (*SimplePolicy)(nil)

// Entry is one execution in the run queue together with its resource demand
type Entry struct {
	ExecutionID uint64
	Resources   types.ApplicationResources
}

// Statistics describes the queues of a policy
type Statistics struct {
	Waiting      int      `json:"queue_length"`
	Running      int      `json:"running_length"`
	WaitingQueue []uint64 `json:"queue"`
	RunningQueue []uint64 `json:"running"`
}

// SnapshotSource provides the latest cached cluster resources
type SnapshotSource interface {
	Snapshot() (*types.ResourceSnapshot, bool)
}

// Policy decides admission and ordering of executions.
// Implementations are not safe for concurrent use; the caller serialises access.
type Policy interface {
	// AdmissionControl reports whether an application with the given demand
	// could ever fit on the cluster
	AdmissionControl(required types.ApplicationResources) bool

	// Insert queues an admitted execution
	Insert(id uint64, res types.ApplicationResources)

	// Runnable removes and returns the next execution to start
	Runnable() (Entry, bool)

	// Started records that an execution is running
	Started(id uint64, res types.ApplicationResources)

	// Terminated forgets an execution; unknown ids are ignored
	Terminated(id uint64)

	// Stats returns a copy of the queue state
	Stats() Statistics
}

// SimplePolicy is a FIFO queue with a total-cores admission threshold.
// An execution is admitted when its core demand is strictly below the number of
// cores in the cluster; it does not look at what is currently in use.
type SimplePolicy struct {
	snapshots SnapshotSource
	waiting   []Entry
	running   []Entry
}

// NewSimplePolicy creates a policy reading cluster size from snapshots
func NewSimplePolicy(snapshots SnapshotSource) *SimplePolicy {
	return &SimplePolicy{snapshots: snapshots}
}

// AdmissionControl compares the demand against the last captured snapshot.
// Without any snapshot nothing is admitted.
func (p *SimplePolicy) AdmissionControl(required types.ApplicationResources) bool {
	snap, ok := p.snapshots.Snapshot()
	if !ok || snap == nil {
		return false
	}
	return required.CoreCount() < snap.CoresTotal
}

// Insert appends to the waiting queue. Duplicates are not checked.
func (p *SimplePolicy) Insert(id uint64, res types.ApplicationResources) {
	p.waiting = append(p.waiting, Entry{ExecutionID: id, Resources: res})
}

// Runnable pops the head of the waiting queue
func (p *SimplePolicy) Runnable() (Entry, bool) {
	if len(p.waiting) == 0 {
		return Entry{}, false
	}
	e := p.waiting[0]
	p.waiting = p.waiting[1:]
	return p.assign(e), true
}

// assign is where placement would be decided; this policy leaves it to the backend
func (p *SimplePolicy) assign(e Entry) Entry {
	return e
}

func (p *SimplePolicy) Started(id uint64, res types.ApplicationResources) {
	p.running = append(p.running, Entry{ExecutionID: id, Resources: res})
}

func (p *SimplePolicy) Terminated(id uint64) {
	p.waiting = remove(p.waiting, id)
	p.running = remove(p.running, id)
}

func (p *SimplePolicy) Stats() Statistics {
	return Statistics{
		Waiting:      len(p.waiting),
		Running:      len(p.running),
		WaitingQueue: ids(p.waiting),
		RunningQueue: ids(p.running),
	}
}

func remove(entries []Entry, id uint64) []Entry {
	out := entries[:0]
	for _, e := range entries {
		if e.ExecutionID != id {
			out = append(out, e)
		}
	}
	return out
}

func ids(entries []Entry) []uint64 {
	out := make([]uint64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ExecutionID)
	}
	return out
}
