package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/zoe/pkg/scheduler"
	"github.com/cuemby/zoe/pkg/storage"
	"github.com/cuemby/zoe/pkg/types"
)

// StatsSource exposes the scheduler queue statistics
type StatsSource interface {
	Statistics() scheduler.Statistics
}

// Collector refreshes the gauges from the store, the scheduler and the
// resource snapshot. It is run as a periodic task by the master.
type Collector struct {
	store     storage.Store
	stats     StatsSource
	snapshots scheduler.SnapshotSource
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store, stats StatsSource, snapshots scheduler.SnapshotSource) *Collector {
	return &Collector{
		store:     store,
		stats:     stats,
		snapshots: snapshots,
	}
}

// Collect updates every gauge once
func (c *Collector) Collect(ctx context.Context) error {
	c.collectQueueMetrics()
	c.collectClusterMetrics()
	return c.collectExecutionMetrics()
}

func (c *Collector) collectQueueMetrics() {
	stats := c.stats.Statistics()
	QueueLength.WithLabelValues("waiting").Set(float64(stats.Waiting))
	QueueLength.WithLabelValues("running").Set(float64(stats.Running))
}

func (c *Collector) collectClusterMetrics() {
	snap, ok := c.snapshots.Snapshot()
	if !ok {
		return
	}
	ClusterCores.WithLabelValues("total").Set(float64(snap.CoresTotal))
	ClusterCores.WithLabelValues("used").Set(snap.CoresUsed)
	ClusterMemoryBytes.WithLabelValues("total").Set(float64(snap.MemoryTotal))
	ClusterMemoryBytes.WithLabelValues("used").Set(float64(snap.MemoryUsed))
	ClusterContainers.Set(float64(snap.Containers))
	SnapshotAge.Set(time.Since(snap.Timestamp).Seconds())
}

func (c *Collector) collectExecutionMetrics() error {
	executions, err := c.store.ListExecutions(storage.ExecutionFilter{})
	if err != nil {
		return fmt.Errorf("failed to list executions: %w", err)
	}

	counts := make(map[types.ExecutionStatus]int, len(types.AllStatuses))
	for _, e := range executions {
		counts[e.Status]++
	}
	// every status is set so that drained states drop back to zero
	for _, status := range types.AllStatuses {
		ExecutionsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
	return nil
}
