package ipc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/zoe/pkg/log"
	"github.com/cuemby/zoe/pkg/scheduler"
	"github.com/cuemby/zoe/pkg/status"
	"github.com/cuemby/zoe/pkg/storage"
	"github.com/cuemby/zoe/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

type fakeEngine struct {
	mu         sync.Mutex
	submitted  []uint64
	terminated []uint64
	deleted    []uint64
	submitErr  error
	block      bool
}

func (f *fakeEngine) ExecutionSubmitted(ctx context.Context, id uint64) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, id)
	return f.submitErr
}

func (f *fakeEngine) ExecutionTerminate(_ context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, id)
	return nil
}

func (f *fakeEngine) ExecutionDelete(_ context.Context, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeEngine) Statistics() scheduler.Statistics {
	return scheduler.Statistics{
		Waiting:      1,
		Running:      1,
		WaitingQueue: []uint64{2},
		RunningQueue: []uint64{1},
	}
}

type fixedReport struct{ r status.Report }

func (f fixedReport) Report() status.Report { return f.r }

type harness struct {
	engine *fakeEngine
	store  *storage.MemoryStore
	client *Client
}

func newHarness(t *testing.T, timeout time.Duration, opts ...grpc.ServerOption) *harness {
	t.Helper()

	engine := &fakeEngine{}
	store := storage.NewMemoryStore()
	srv := NewServer(engine, store, fixedReport{r: status.Report{Available: true, CoresTotal: 16}}, opts...)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := NewClient("passthrough:///bufnet", timeout,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return &harness{engine: engine, store: store, client: client}
}

func (h *harness) createExecution(t *testing.T, name, user string) uint64 {
	t.Helper()
	id, err := h.store.CreateExecution(&types.Execution{
		Name:       name,
		UserID:     user,
		Status:     types.StatusSubmitted,
		TimeSubmit: time.Now().UTC().Truncate(time.Second),
	})
	require.NoError(t, err)
	return id
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	log.Init(log.Config{Level: log.DebugLevel, JSONOutput: true, Output: &buf})
	return &buf
}

func TestExecutionListRoundTrip(t *testing.T) {
	h := newHarness(t, time.Second)
	h.createExecution(t, "first", "alice")
	h.createExecution(t, "second", "bob")

	answer, err := h.client.Ask(context.Background(), CommandExecutionList, nil)
	require.NoError(t, err)

	list, ok := answer.([]interface{})
	require.True(t, ok, "answer should be a list, got %T", answer)
	require.Len(t, list, 2)
	first := list[0].(map[string]interface{})
	assert.Equal(t, "first", first["name"])
	assert.Equal(t, "alice", first["user_id"])
	assert.Equal(t, float64(1), first["id"])
}

func TestExecutionListEmptyIsList(t *testing.T) {
	h := newHarness(t, time.Second)

	answer, err := h.client.Ask(context.Background(), CommandExecutionList, nil)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{}, answer)
}

func TestErrorReplyIsLoggedAndNil(t *testing.T) {
	buf := captureLogs(t)
	h := newHarness(t, time.Second)
	h.engine.submitErr = errors.New("boom")

	answer, err := h.client.Ask(context.Background(), CommandExecutionStart, map[string]interface{}{"execution_id": 3})
	require.NoError(t, err)
	assert.Nil(t, answer)
	assert.Contains(t, buf.String(), "IPC error: boom")
	assert.Equal(t, []uint64{3}, h.engine.submitted)
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t, time.Second)

	reply, err := h.client.ask(context.Background(), Command("reboot"), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusError, reply.Status)
	assert.Equal(t, "unknown command: reboot", reply.Answer)
}

func TestTypedHelpers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Second)
	id := h.createExecution(t, "spark", "alice")

	ok, msg := h.client.ExecutionStart(ctx, id)
	assert.True(t, ok)
	assert.Empty(t, msg)

	ok, _ = h.client.ExecutionTerminate(ctx, id)
	assert.True(t, ok)
	ok, _ = h.client.ExecutionDelete(ctx, id)
	assert.True(t, ok)

	assert.Equal(t, []uint64{id}, h.engine.submitted)
	assert.Equal(t, []uint64{id}, h.engine.terminated)
	assert.Equal(t, []uint64{id}, h.engine.deleted)

	e, err := h.client.ExecutionGet(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "spark", e.Name)
	assert.Equal(t, types.StatusSubmitted, e.Status)

	execs, err := h.client.ExecutionList(ctx, ListArgs{UserID: "bob"})
	require.NoError(t, err)
	assert.Empty(t, execs)

	stats, err := h.client.SchedulerStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, stats.WaitingQueue)
	assert.Equal(t, 1, stats.Running)

	report, err := h.client.PlatformStatus(ctx)
	require.NoError(t, err)
	assert.True(t, report.Available)
	assert.Equal(t, 16, report.CoresTotal)
}

func TestExecutionGetNotFound(t *testing.T) {
	buf := captureLogs(t)
	h := newHarness(t, time.Second)

	_, err := h.client.ExecutionGet(context.Background(), 42)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.Contains(t, buf.String(), "IPC error:")
	assert.Contains(t, buf.String(), "execution_get")
}

func TestMissingExecutionID(t *testing.T) {
	h := newHarness(t, time.Second)

	ok, msg := h.client.result(context.Background(), CommandExecutionStart, 0)
	assert.False(t, ok)
	assert.Contains(t, msg, "execution_id is required")
	assert.Empty(t, h.engine.submitted)
}

func TestTimeoutIsMasterUnavailable(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond)
	h.engine.block = true

	_, err := h.client.Ask(context.Background(), CommandExecutionStart, map[string]interface{}{"execution_id": 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrMasterUnavailable)
}

func TestReadOnlyInterceptor(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Second, grpc.UnaryInterceptor(ReadOnlyInterceptor()))

	_, err := h.client.Ask(ctx, CommandSchedulerStats, nil)
	require.NoError(t, err)

	_, err = h.client.Ask(ctx, CommandExecutionTerminate, map[string]interface{}{"execution_id": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed on read-only socket")
	assert.Empty(t, h.engine.terminated)
}

func TestDecodeArgs(t *testing.T) {
	t.Run("float id from the wire", func(t *testing.T) {
		var args ExecutionArgs
		require.NoError(t, DecodeArgs(map[string]interface{}{"execution_id": float64(7)}, &args))
		assert.Equal(t, uint64(7), args.ExecutionID)
	})

	t.Run("string id", func(t *testing.T) {
		var args ExecutionArgs
		require.NoError(t, DecodeArgs(map[string]interface{}{"execution_id": "9"}, &args))
		assert.Equal(t, uint64(9), args.ExecutionID)
	})

	t.Run("unknown key rejected", func(t *testing.T) {
		var args ListArgs
		err := DecodeArgs(map[string]interface{}{"owner": "alice"}, &args)
		assert.ErrorIs(t, err, types.ErrValidation)
	})

	t.Run("nil args", func(t *testing.T) {
		var args ListArgs
		require.NoError(t, DecodeArgs(nil, &args))
		assert.Zero(t, args)
	})
}

func TestCommandReadOnly(t *testing.T) {
	assert.True(t, CommandExecutionList.ReadOnly())
	assert.True(t, CommandPlatformStatus.ReadOnly())
	assert.False(t, CommandExecutionStart.ReadOnly())
	assert.False(t, CommandExecutionDelete.ReadOnly())
}

type fakeFrontend struct {
	user  types.User
	name  string
	desc  *types.ApplicationDescription
	down  bool
	calls int
}

func (f *fakeFrontend) ExecutionStart(_ context.Context, user types.User, name string, desc *types.ApplicationDescription) (uint64, error) {
	f.calls++
	f.user, f.name, f.desc = user, name, desc
	if f.down {
		return 11, fmt.Errorf("%w, execution will be submitted automatically", types.ErrMasterUnavailable)
	}
	return 11, nil
}

func (f *fakeFrontend) ExecutionEndpoints(user types.User, id uint64) ([]*types.Service, []types.Endpoint, error) {
	if user.ID != "alice" {
		return nil, nil, types.ErrUnauthorized
	}
	return []*types.Service{{ID: 1, ExecutionID: id, Name: "notebook"}},
		[]types.Endpoint{{ServiceID: 1, Service: "notebook", Name: "web", URL: "http://127.0.0.1:30000/"}},
		nil
}

func newFrontendHarness(t *testing.T, frontend *fakeFrontend) *harness {
	t.Helper()

	engine := &fakeEngine{}
	store := storage.NewMemoryStore()
	srv := NewServer(engine, store, fixedReport{})
	srv.SetFrontend(frontend)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := NewClient("passthrough:///bufnet", time.Second,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return &harness{engine: engine, store: store, client: client}
}

func TestExecutionNew(t *testing.T) {
	ctx := context.Background()
	frontend := &fakeFrontend{}
	h := newFrontendHarness(t, frontend)

	desc := &types.ApplicationDescription{
		Name: "jupyter",
		Services: []types.ServiceDescription{{
			Name:      "notebook",
			Image:     "zoerepo/jupyter",
			Monitor:   true,
			Resources: types.ServiceResources{Cores: 2, MemoryBytes: 4 << 30},
		}},
	}
	alice := types.User{ID: "alice", Role: types.RoleUser}

	id, warning, err := h.client.ExecutionNew(ctx, alice, "my-notebook", desc)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), id)
	assert.Empty(t, warning)
	assert.Equal(t, alice, frontend.user)
	assert.Equal(t, "my-notebook", frontend.name)
	assert.Equal(t, desc, frontend.desc)

	frontend.down = true
	id, warning, err = h.client.ExecutionNew(ctx, alice, "my-notebook", desc)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), id)
	assert.Contains(t, warning, "submitted automatically")
}

func TestExecutionNewRequiresDescription(t *testing.T) {
	frontend := &fakeFrontend{}
	h := newFrontendHarness(t, frontend)

	reply, err := h.client.ask(context.Background(), CommandExecutionNew, map[string]interface{}{"user_id": "alice", "name": "nb-1"})
	require.NoError(t, err)
	assert.Equal(t, StatusError, reply.Status)
	assert.Contains(t, reply.Answer, "description is required")
	assert.Zero(t, frontend.calls)
}

func TestExecutionNewWithoutFrontend(t *testing.T) {
	h := newHarness(t, time.Second)

	reply, err := h.client.ask(context.Background(), CommandExecutionNew, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusError, reply.Status)
	assert.Contains(t, reply.Answer, "not served")
}

func TestExecutionEndpointsCommand(t *testing.T) {
	ctx := context.Background()
	h := newFrontendHarness(t, &fakeFrontend{})

	services, endpoints, err := h.client.ExecutionEndpoints(ctx, types.User{ID: "alice"}, 4)
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, uint64(4), services[0].ExecutionID)
	require.Len(t, endpoints, 1)
	assert.Equal(t, "http://127.0.0.1:30000/", endpoints[0].URL)

	_, _, err = h.client.ExecutionEndpoints(ctx, types.User{ID: "bob"}, 4)
	assert.ErrorContains(t, err, "unauthorized")
}
