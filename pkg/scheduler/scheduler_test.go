package scheduler

import (
	"testing"

	"github.com/cuemby/zoe/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSnapshot struct {
	snap *types.ResourceSnapshot
}

func (f fixedSnapshot) Snapshot() (*types.ResourceSnapshot, bool) {
	return f.snap, f.snap != nil
}

func cores(n float64) types.ApplicationResources {
	return types.ApplicationResources{Cores: n}
}

func TestAdmissionControl(t *testing.T) {
	tests := []struct {
		name     string
		total    int
		required float64
		expected bool
	}{
		{name: "well below total", total: 16, required: 4, expected: true},
		{name: "one below total", total: 16, required: 15, expected: true},
		{name: "equal to total is refused", total: 16, required: 16, expected: false},
		{name: "above total", total: 16, required: 17, expected: false},
		{name: "fraction rounds up to total", total: 16, required: 15.5, expected: false},
		{name: "fraction below total", total: 16, required: 14.2, expected: true},
		{name: "zero demand", total: 1, required: 0, expected: true},
		{name: "empty cluster", total: 0, required: 0, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewSimplePolicy(fixedSnapshot{snap: &types.ResourceSnapshot{CoresTotal: tt.total}})
			assert.Equal(t, tt.expected, p.AdmissionControl(cores(tt.required)))
		})
	}
}

func TestAdmissionControlIgnoresUsage(t *testing.T) {
	p := NewSimplePolicy(fixedSnapshot{snap: &types.ResourceSnapshot{CoresTotal: 16, CoresUsed: 15}})
	assert.True(t, p.AdmissionControl(cores(8)))
}

func TestAdmissionControlWithoutSnapshot(t *testing.T) {
	p := NewSimplePolicy(fixedSnapshot{})
	assert.False(t, p.AdmissionControl(cores(1)))
}

func TestRunnableIsFIFO(t *testing.T) {
	p := NewSimplePolicy(fixedSnapshot{})

	p.Insert(1, cores(1))
	p.Insert(2, cores(8))
	p.Insert(3, cores(2))

	for _, want := range []uint64{1, 2, 3} {
		e, ok := p.Runnable()
		require.True(t, ok)
		assert.Equal(t, want, e.ExecutionID)
	}

	_, ok := p.Runnable()
	assert.False(t, ok)
}

func TestRunnableCarriesResources(t *testing.T) {
	p := NewSimplePolicy(fixedSnapshot{})
	p.Insert(5, types.ApplicationResources{Cores: 2.5, MemoryBytes: 1024})

	e, ok := p.Runnable()
	require.True(t, ok)
	assert.Equal(t, 2.5, e.Resources.Cores)
	assert.Equal(t, int64(1024), e.Resources.MemoryBytes)
}

func TestTerminated(t *testing.T) {
	t.Run("removes from waiting", func(t *testing.T) {
		p := NewSimplePolicy(fixedSnapshot{})
		p.Insert(1, cores(1))
		p.Insert(2, cores(1))

		p.Terminated(1)

		stats := p.Stats()
		assert.Equal(t, []uint64{2}, stats.WaitingQueue)
	})

	t.Run("removes from running", func(t *testing.T) {
		p := NewSimplePolicy(fixedSnapshot{})
		p.Started(1, cores(1))
		p.Started(2, cores(1))

		p.Terminated(2)

		assert.Equal(t, []uint64{1}, p.Stats().RunningQueue)
	})

	t.Run("unknown id is a no-op", func(t *testing.T) {
		p := NewSimplePolicy(fixedSnapshot{})
		p.Insert(1, cores(1))
		p.Started(2, cores(1))
		before := p.Stats()

		p.Terminated(99)

		assert.Equal(t, before, p.Stats())
	})
}

func TestWaitingAndRunningStayDisjoint(t *testing.T) {
	p := NewSimplePolicy(fixedSnapshot{})
	for id := uint64(1); id <= 4; id++ {
		p.Insert(id, cores(1))
	}

	for i := 0; i < 2; i++ {
		e, ok := p.Runnable()
		require.True(t, ok)
		p.Started(e.ExecutionID, e.Resources)
	}

	stats := p.Stats()
	assert.Equal(t, 2, stats.Waiting)
	assert.Equal(t, 2, stats.Running)
	for _, id := range stats.RunningQueue {
		assert.NotContains(t, stats.WaitingQueue, id)
	}
}

func TestStatsEmpty(t *testing.T) {
	p := NewSimplePolicy(fixedSnapshot{})
	stats := p.Stats()

	assert.Zero(t, stats.Waiting)
	assert.Zero(t, stats.Running)
	assert.NotNil(t, stats.WaitingQueue)
	assert.Empty(t, stats.WaitingQueue)
}
