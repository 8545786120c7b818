package storage

import (
	"testing"
	"time"

	"github.com/cuemby/zoe/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	bolt, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bolt.Close() })

	return map[string]Store{
		"bolt":   bolt,
		"memory": NewMemoryStore(),
	}
}

func newExecution(name, user string, status types.ExecutionStatus) *types.Execution {
	return &types.Execution{
		Name:       name,
		UserID:     user,
		Status:     status,
		TimeSubmit: time.Now(),
		Description: &types.ApplicationDescription{
			Name: "notebook",
			Services: []types.ServiceDescription{
				{Name: "jupyter", Image: "jupyter/base", Monitor: true},
			},
		},
	}
}

func TestExecutionCRUD(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			e := newExecution("exec-one", "alice", types.StatusSubmitted)
			id, err := store.CreateExecution(e)
			require.NoError(t, err)
			assert.NotZero(t, id)
			assert.Equal(t, id, e.ID)

			got, err := store.GetExecution(id)
			require.NoError(t, err)
			assert.Equal(t, "exec-one", got.Name)
			assert.Equal(t, types.StatusSubmitted, got.Status)
			require.NotNil(t, got.Description)
			assert.Equal(t, "jupyter", got.Description.Services[0].Name)

			got.Status = types.StatusScheduled
			require.NoError(t, store.UpdateExecution(got))

			again, err := store.GetExecution(id)
			require.NoError(t, err)
			assert.Equal(t, types.StatusScheduled, again.Status)

			require.NoError(t, store.DeleteExecution(id))
			_, err = store.GetExecution(id)
			assert.ErrorIs(t, err, types.ErrNotFound)
		})
	}
}

func TestListExecutionsFilterAndOrder(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, e := range []*types.Execution{
				newExecution("first", "alice", types.StatusSubmitted),
				newExecution("second", "bob", types.StatusRunning),
				newExecution("third", "alice", types.StatusSubmitted),
			} {
				_, err := store.CreateExecution(e)
				require.NoError(t, err)
			}

			all, err := store.ListExecutions(ExecutionFilter{})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "first", all[0].Name)
			assert.Equal(t, "third", all[2].Name)

			submitted, err := store.ListExecutions(ExecutionFilter{Status: types.StatusSubmitted})
			require.NoError(t, err)
			assert.Len(t, submitted, 2)

			bob, err := store.ListExecutions(ExecutionFilter{UserID: "bob"})
			require.NoError(t, err)
			require.Len(t, bob, 1)
			assert.Equal(t, "second", bob[0].Name)

			limited, err := store.ListExecutions(ExecutionFilter{Limit: 1})
			require.NoError(t, err)
			require.Len(t, limited, 1)
			assert.Equal(t, "first", limited[0].Name)
		})
	}
}

func TestDeleteExecutionRemovesServices(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			e := newExecution("with-services", "alice", types.StatusTerminated)
			id, err := store.CreateExecution(e)
			require.NoError(t, err)

			other := newExecution("other", "alice", types.StatusRunning)
			otherID, err := store.CreateExecution(other)
			require.NoError(t, err)

			for _, execID := range []uint64{id, id, otherID} {
				_, err := store.CreateService(&types.Service{ExecutionID: execID, Name: "svc"})
				require.NoError(t, err)
			}

			require.NoError(t, store.DeleteExecution(id))

			remaining, err := store.ListServices(ServiceFilter{})
			require.NoError(t, err)
			require.Len(t, remaining, 1)
			assert.Equal(t, otherID, remaining[0].ExecutionID)
		})
	}
}

func TestServiceCRUD(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			svc := &types.Service{
				ExecutionID: 7,
				Name:        "spark-master",
				Status:      types.ServiceStatusCreated,
				Description: types.ServiceDescription{Name: "spark-master", Monitor: true},
			}
			id, err := store.CreateService(svc)
			require.NoError(t, err)

			svc.BackendID = "ctr-1"
			svc.Status = types.ServiceStatusActive
			svc.Ports = []types.PublishedPort{{Internal: "8080/tcp", ExternalIP: "10.0.0.1", ExternalPort: 32000}}
			require.NoError(t, store.UpdateService(svc))

			got, err := store.GetService(id)
			require.NoError(t, err)
			assert.Equal(t, "ctr-1", got.BackendID)
			assert.True(t, got.IsMonitor())
			require.Len(t, got.Ports, 1)
			assert.True(t, got.Ports[0].Published())

			byExec, err := store.ListServices(ServiceFilter{ExecutionID: 7})
			require.NoError(t, err)
			assert.Len(t, byExec, 1)

			require.NoError(t, store.DeleteService(id))
			_, err = store.GetService(id)
			assert.ErrorIs(t, err, types.ErrNotFound)
		})
	}
}

func TestUpdateMissingReturnsNotFound(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := store.UpdateExecution(&types.Execution{ID: 99})
			assert.ErrorIs(t, err, types.ErrNotFound)

			err = store.UpdateService(&types.Service{ID: 99})
			assert.ErrorIs(t, err, types.ErrNotFound)
		})
	}
}

func TestStateUpdatedHook(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	store.SetStateHook(func() { calls++ })

	store.StateUpdated()
	store.StateUpdated()

	assert.Equal(t, 2, calls)
	assert.Equal(t, uint64(2), store.Generation())
}
