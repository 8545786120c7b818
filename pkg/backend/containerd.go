package backend

import (
	"context"
	"errors"
	"fmt"
	goruntime "runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/containers"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/cuemby/zoe/pkg/log"
	"github.com/cuemby/zoe/pkg/types"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/pbnjay/memory"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// DefaultNamespace is the containerd namespace for Zoe
	DefaultNamespace = "zoe"

	// DefaultSocketPath is the default containerd socket
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// cpuPeriod is the CFS period used to express fractional core limits
	cpuPeriod uint64 = 100000
)

// ContainerdConfig configures the containerd backend
type ContainerdConfig struct {
	SocketPath  string
	Namespace   string
	HostIP      string        // address published ports are reachable on
	Cores       int           // overrides the detected core count when > 0
	MemoryBytes int64         // overrides the detected memory when > 0
	StopTimeout time.Duration // grace period before SIGKILL
}

// ContainerdBackend runs services as containerd containers on a single host.
// Containers share the host network namespace so declared ports are published
// directly on HostIP.
type ContainerdBackend struct {
	client *containerd.Client
	cfg    ContainerdConfig
	logger zerolog.Logger
}

// NewContainerdBackend connects to containerd
func NewContainerdBackend(cfg ContainerdConfig) (*ContainerdBackend, error) {
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.HostIP == "" {
		cfg.HostIP = "127.0.0.1"
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}

	client, err := containerd.New(cfg.SocketPath)
	if err != nil {
		return nil, Unavailable(fmt.Errorf("failed to connect to containerd: %w", err))
	}

	return &ContainerdBackend{
		client: client,
		cfg:    cfg,
		logger: log.WithComponent("backend"),
	}, nil
}

// Close closes the containerd client connection
func (b *ContainerdBackend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}

func (b *ContainerdBackend) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, b.cfg.Namespace)
}

// classify marks transport failures as retryable
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(errors.Unwrap(err)) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return Unavailable(err)
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return Unavailable(err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.ECONNREFUSED) {
		return Unavailable(err)
	}
	return err
}

// Status sums the reservations of every Zoe container on the host
func (b *ContainerdBackend) Status(ctx context.Context) (*types.ResourceSnapshot, error) {
	ctx = b.ctx(ctx)

	snap := &types.ResourceSnapshot{
		CoresTotal:  b.cfg.Cores,
		MemoryTotal: b.cfg.MemoryBytes,
		Timestamp:   time.Now(),
	}
	if snap.CoresTotal <= 0 {
		snap.CoresTotal = goruntime.NumCPU()
	}
	if snap.MemoryTotal <= 0 {
		snap.MemoryTotal = int64(memory.TotalMemory())
	}

	ctrs, err := b.client.Containers(ctx)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list containers: %w", err))
	}

	for _, c := range ctrs {
		labels, err := c.Labels(ctx)
		if err != nil {
			continue
		}
		if _, ok := labels[LabelExecutionID]; !ok {
			continue
		}
		if dead, err := b.isDead(ctx, c); err != nil || dead {
			continue
		}
		cores, _ := strconv.ParseFloat(labels[LabelCores], 64)
		mem, _ := strconv.ParseInt(labels[LabelMemory], 10, 64)
		snap.CoresUsed += cores
		snap.MemoryUsed += mem
		snap.Containers++
	}

	return snap, nil
}

// CreateService pulls the image if needed, creates the container and starts its task
func (b *ContainerdBackend) CreateService(ctx context.Context, spec ServiceSpec) (*Handle, error) {
	ctx = b.ctx(ctx)

	image, err := b.client.GetImage(ctx, spec.Image)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			return nil, classify(fmt.Errorf("failed to get image %s: %w", spec.Image, err))
		}
		image, err = b.client.Pull(ctx, spec.Image, containerd.WithPullUnpack)
		if err != nil {
			return nil, classify(fmt.Errorf("failed to pull image %s: %w", spec.Image, err))
		}
	}

	id := spec.ContainerName()
	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(spec.Env),
		oci.WithHostNamespace(specs.NetworkNamespace),
		oci.WithHostHostsFile,
		oci.WithHostResolvconf,
		withHostname(spec.Name),
	}
	if len(spec.Command) > 0 {
		opts = append(opts, oci.WithProcessArgs(spec.Command...))
	}
	if spec.MemoryBytes > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(spec.MemoryBytes)))
	}
	if spec.Cores > 0 {
		opts = append(opts, oci.WithCPUCFS(int64(spec.Cores*float64(cpuPeriod)), cpuPeriod))
	}

	container, err := b.client.NewContainer(
		ctx,
		id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(opts...),
		containerd.WithContainerLabels(spec.Labels),
	)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to create container: %w", err))
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		_ = container.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, classify(fmt.Errorf("failed to create task: %w", err))
	}
	if err := task.Start(ctx); err != nil {
		_, _ = task.Delete(ctx, containerd.WithProcessKill)
		_ = container.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, classify(fmt.Errorf("failed to start task: %w", err))
	}

	handle := &Handle{ID: id}
	for _, p := range spec.Ports {
		handle.Ports = append(handle.Ports, types.PublishedPort{
			Internal:     p.Key(),
			ExternalIP:   b.cfg.HostIP,
			ExternalPort: p.PortNumber,
		})
	}
	return handle, nil
}

// withHostname sets the container hostname to the service name
func withHostname(name string) oci.SpecOpts {
	return func(_ context.Context, _ oci.Client, _ *containers.Container, s *specs.Spec) error {
		s.Hostname = name
		return nil
	}
}

// DestroyService stops the task (SIGTERM, then SIGKILL after the grace period)
// and removes the container with its snapshot
func (b *ContainerdBackend) DestroyService(ctx context.Context, id string) error {
	ctx = b.ctx(ctx)

	container, err := b.client.LoadContainer(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return classify(fmt.Errorf("failed to load container %s: %w", id, err))
	}

	if task, err := container.Task(ctx, nil); err == nil {
		if err := b.stopTask(ctx, task); err != nil {
			b.logger.Warn().Err(err).Str("container", id).Msg("Failed to stop task before delete")
		}
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
		return classify(fmt.Errorf("failed to delete container: %w", err))
	}
	return nil
}

func (b *ContainerdBackend) stopTask(ctx context.Context, task containerd.Task) error {
	stopCtx, cancel := context.WithTimeout(ctx, b.cfg.StopTimeout)
	defer cancel()

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("failed to wait for task: %w", err)
	}
	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to kill task: %w", err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("failed to force kill task: %w", err)
		}
	}

	if _, err := task.Delete(ctx, containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// IsDead reports whether the container is gone or its task has stopped
func (b *ContainerdBackend) IsDead(ctx context.Context, id string) (bool, error) {
	ctx = b.ctx(ctx)

	container, err := b.client.LoadContainer(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return true, nil
		}
		return false, classify(fmt.Errorf("failed to load container %s: %w", id, err))
	}
	return b.isDead(ctx, container)
}

func (b *ContainerdBackend) isDead(ctx context.Context, container containerd.Container) (bool, error) {
	task, err := container.Task(ctx, nil)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return true, nil
		}
		return false, classify(fmt.Errorf("failed to get task: %w", err))
	}

	st, err := task.Status(ctx)
	if err != nil {
		return false, classify(fmt.Errorf("failed to get task status: %w", err))
	}

	switch st.Status {
	case containerd.Stopped, containerd.Unknown:
		return true, nil
	default:
		return false, nil
	}
}
