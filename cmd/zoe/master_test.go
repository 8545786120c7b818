package main

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/cuemby/zoe/pkg/config"
	"github.com/cuemby/zoe/pkg/events"
	"github.com/cuemby/zoe/pkg/ipc"
	"github.com/cuemby/zoe/pkg/metrics"
	"github.com/cuemby/zoe/pkg/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *config.Config {
	cfg := config.Default()
	cfg.Store = config.StoreMemory
	cfg.Backend.Kind = config.BackendMemory
	cfg.IPC.Listen = "127.0.0.1:0"
	cfg.Metrics.Listen = "127.0.0.1:0"
	cfg.Intervals = config.IntervalsConfig{
		PlatformStatus:  20 * time.Millisecond,
		Scheduler:       20 * time.Millisecond,
		HealthCheck:     50 * time.Millisecond,
		SubmissionRetry: 50 * time.Millisecond,
		ProxyAccess:     time.Second,
		Metrics:         50 * time.Millisecond,
	}
	return cfg
}

func startMaster(t *testing.T, cfg *config.Config) *master {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	m, err := newMaster(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, m.start(ctx, make(chan error, 3)))

	t.Cleanup(func() {
		cancel()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		m.shutdown(stopCtx)
	})
	return m
}

func notebook() *types.ApplicationDescription {
	return &types.ApplicationDescription{
		Name: "jupyter",
		Services: []types.ServiceDescription{{
			Name:      "notebook",
			Image:     "zoerepo/jupyter",
			Monitor:   true,
			Resources: types.ServiceResources{Cores: 2, MemoryBytes: 1 << 30},
			Ports: []types.PortDescription{{
				Name: "web", Protocol: "tcp", PortNumber: 8888,
				URLTemplate: "http://{ip_port}/tree", IsMainEndpoint: true,
			}},
		}},
	}
}

func TestMasterRunsExecutionEndToEnd(t *testing.T) {
	m := startMaster(t, memoryConfig())
	ctx := context.Background()

	running := func() float64 {
		return testutil.ToFloat64(metrics.LifecycleEventsTotal.WithLabelValues(string(events.EventExecutionRunning)))
	}
	runningBefore := running()

	client, err := ipc.NewClient(m.ipcAddr.String(), 2*time.Second)
	require.NoError(t, err)
	defer client.Close()

	user := types.User{ID: "alice", Role: types.RoleUser}
	id, warning, err := client.ExecutionNew(ctx, user, "my-notebook", notebook())
	require.NoError(t, err)
	assert.Empty(t, warning)
	require.NotZero(t, id)

	require.Eventually(t, func() bool {
		e, err := client.ExecutionGet(ctx, id)
		return err == nil && e.Status == types.StatusRunning
	}, 2*time.Second, 20*time.Millisecond)

	// scheduled, starting and running reach the journal
	require.Eventually(t, func() bool { return m.journal.Seen() >= 3 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, runningBefore+1, running())

	_, endpoints, err := client.ExecutionEndpoints(ctx, user, id)
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	assert.Contains(t, endpoints[0].URL, "/tree")

	ok, msg := client.ExecutionTerminate(ctx, id)
	require.True(t, ok, msg)
	e, err := client.ExecutionGet(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusTerminated, e.Status)

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", m.metricsAddr))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMasterJournalIsSubscribed(t *testing.T) {
	m := startMaster(t, memoryConfig())
	assert.Equal(t, 1, m.broker.SubscriberCount())
}
