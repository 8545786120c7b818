package backend

import (
	"context"
	"strings"
	"testing"

	"github.com/cuemby/zoe/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSpec(name string, cores float64) ServiceSpec {
	svc := &types.Service{
		ID:          3,
		ExecutionID: 1,
		Name:        name,
		Description: types.ServiceDescription{
			Name:      name,
			Image:     "zoerepo/spark",
			Resources: types.ServiceResources{Cores: cores, MemoryBytes: 1 << 30},
			Ports:     []types.PortDescription{{Name: "web", Protocol: "tcp", PortNumber: 8080}},
		},
	}
	return NewServiceSpec(svc)
}

func TestNewServiceSpecLabels(t *testing.T) {
	spec := testSpec("spark-master", 1.5)

	assert.Equal(t, "1", spec.Labels[LabelExecutionID])
	assert.Equal(t, "3", spec.Labels[LabelServiceID])
	assert.Equal(t, "spark-master", spec.Labels[LabelService])
	assert.Equal(t, "1.5", spec.Labels[LabelCores])
	assert.Equal(t, "1073741824", spec.Labels[LabelMemory])
	assert.Equal(t, "zoe-1-3-spark-master", spec.ContainerName())
}

func TestMemoryBackendStatus(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(16, 64<<30)

	h1, err := b.CreateService(ctx, testSpec("a", 2))
	require.NoError(t, err)
	_, err = b.CreateService(ctx, testSpec("b", 1.5))
	require.NoError(t, err)

	snap, err := b.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 16, snap.CoresTotal)
	assert.InDelta(t, 3.5, snap.CoresUsed, 0.001)
	assert.Equal(t, int64(2<<30), snap.MemoryUsed)
	assert.Equal(t, 2, snap.Containers)

	b.Kill(h1.ID)
	snap, err = b.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Containers)
}

func TestMemoryBackendPorts(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(4, 0)

	h, err := b.CreateService(ctx, testSpec("web", 1))
	require.NoError(t, err)
	require.Len(t, h.Ports, 1)
	assert.Equal(t, "8080/tcp", h.Ports[0].Internal)
	assert.True(t, h.Ports[0].Published())

	b.SetPublishPorts(false)
	h, err = b.CreateService(ctx, testSpec("web", 1))
	require.NoError(t, err)
	assert.Empty(t, h.Ports)
}

func TestMemoryBackendDestroyIdempotent(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(4, 0)

	h, err := b.CreateService(ctx, testSpec("a", 1))
	require.NoError(t, err)

	require.NoError(t, b.DestroyService(ctx, h.ID))
	require.NoError(t, b.DestroyService(ctx, h.ID))
	assert.Equal(t, []string{h.ID}, b.Destroyed())

	dead, err := b.IsDead(ctx, h.ID)
	require.NoError(t, err)
	assert.True(t, dead)
}

func TestMemoryBackendFailureInjection(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(4, 0)

	b.RejectAfter(1)
	_, err := b.CreateService(ctx, testSpec("a", 1))
	require.NoError(t, err)
	_, err = b.CreateService(ctx, testSpec("b", 1))
	require.Error(t, err)
	assert.False(t, IsUnavailable(err))

	b.SetUnavailable(true)
	_, err = b.Status(ctx)
	assert.True(t, IsUnavailable(err))
	_, err = b.IsDead(ctx, "anything")
	assert.ErrorIs(t, err, types.ErrBackendUnavailable)
}

func TestUnavailableWrapsOnce(t *testing.T) {
	err := Unavailable(Unavailable(assert.AnError))
	assert.True(t, IsUnavailable(err))
	assert.Equal(t, 1, strings.Count(err.Error(), types.ErrBackendUnavailable.Error()))
	assert.NoError(t, Unavailable(nil))
}
