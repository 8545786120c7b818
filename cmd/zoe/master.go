package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/zoe/pkg/api"
	"github.com/cuemby/zoe/pkg/backend"
	"github.com/cuemby/zoe/pkg/config"
	"github.com/cuemby/zoe/pkg/events"
	"github.com/cuemby/zoe/pkg/ipc"
	"github.com/cuemby/zoe/pkg/log"
	"github.com/cuemby/zoe/pkg/manager"
	"github.com/cuemby/zoe/pkg/metrics"
	"github.com/cuemby/zoe/pkg/proxy"
	"github.com/cuemby/zoe/pkg/status"
	"github.com/cuemby/zoe/pkg/storage"
	"github.com/cuemby/zoe/pkg/tasks"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "Run the Zoe master",
	Long: `Run the scheduling engine: platform status refresh, admission control,
the scheduling loop, the execution health checker and the command channel.

Configuration is read from --config (YAML); flags override file values.`,
	RunE: runMaster,
}

func init() {
	masterCmd.Flags().StringP("config", "c", "", "Configuration file (YAML)")
	masterCmd.Flags().String("data-dir", "", "Data directory for the bolt store")
	masterCmd.Flags().String("store", "", "State store (bolt, memory)")
	masterCmd.Flags().String("backend", "", "Container backend (containerd, memory)")
	masterCmd.Flags().String("ipc-listen", "", "Command channel listen address")
	masterCmd.Flags().String("ipc-socket", "", "Read-only command channel Unix socket")
	masterCmd.Flags().String("metrics-listen", "", "Metrics and health listen address")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	overrides := map[string]*string{
		"data-dir":       &cfg.DataDir,
		"store":          &cfg.Store,
		"backend":        &cfg.Backend.Kind,
		"ipc-listen":     &cfg.IPC.Listen,
		"ipc-socket":     &cfg.IPC.Socket,
		"metrics-listen": &cfg.Metrics.Listen,
	}
	for flag, field := range overrides {
		if cmd.Flags().Changed(flag) {
			*field, _ = cmd.Flags().GetString(flag)
		}
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSON, _ = cmd.Flags().GetBool("log-json")
	}
	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
		Output:     os.Stderr,
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.Store == config.StoreMemory {
		return storage.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	return storage.NewBoltStore(cfg.DataDir)
}

func openBackend(cfg *config.Config) (backend.Backend, error) {
	if cfg.Backend.Kind == config.BackendMemory {
		return backend.NewMemoryBackend(cfg.Backend.Memory.Cores, cfg.Backend.Memory.MemoryBytes), nil
	}
	c := cfg.Backend.Containerd
	return backend.NewContainerdBackend(backend.ContainerdConfig{
		SocketPath:  c.Socket,
		Namespace:   c.Namespace,
		HostIP:      c.HostIP,
		Cores:       c.Cores,
		MemoryBytes: c.MemoryBytes,
		StopTimeout: c.StopTimeout,
	})
}

func runMaster(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m, err := newMaster(ctx, cfg)
	if err != nil {
		return err
	}
	errCh := make(chan error, 3)
	if err := m.start(ctx, errCh); err != nil {
		m.close()
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		m.logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		m.logger.Error().Err(err).Msg("Server failed, shutting down")
	}

	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	m.shutdown(stopCtx)
	return nil
}

// master holds the components of a running master process
type master struct {
	cfg    *config.Config
	logger zerolog.Logger
	health *metrics.HealthChecker

	store    storage.Store
	backend  backend.Backend
	provider *status.Provider
	broker   *events.Broker
	journal  *events.Journal
	manager  *manager.Manager
	engine   *tasks.Engine
	endpoint *api.Endpoint

	ipcServer   *ipc.Server
	localServer *ipc.Server
	httpServer  *http.Server

	ipcAddr     net.Addr
	metricsAddr net.Addr
}

// newMaster builds and wires every component and recovers persisted state.
// Nothing is listening or ticking until start.
func newMaster(ctx context.Context, cfg *config.Config) (*master, error) {
	m := &master{
		cfg:    cfg,
		logger: log.WithComponent("master"),
		health: metrics.Default(),
	}
	m.health.SetVersion(Version)

	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	m.store = store
	m.health.Report(metrics.ComponentStore, nil)

	be, err := openBackend(cfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open backend: %w", err)
	}
	m.backend = be

	m.provider = status.NewProvider(be)
	err = m.provider.Update(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Platform status unavailable at start-up, submissions will wait")
	}
	m.health.Report(metrics.ComponentBackend, err)

	m.broker = events.NewBroker()
	m.journal = events.NewJournal(m.broker)

	m.manager, err = manager.NewManager(&manager.Config{
		Store:     store,
		Backend:   be,
		Snapshots: m.provider,
		Broker:    m.broker,
		Notifier:  events.Notifiers{events.NewBrokerNotifier(m.broker), events.NewLogNotifier()},
	})
	if err != nil {
		m.close()
		return nil, fmt.Errorf("failed to create manager: %w", err)
	}

	if _, err := m.manager.Recover(ctx); err != nil {
		m.close()
		return nil, fmt.Errorf("failed to recover state: %w", err)
	}

	m.engine, err = registerTasks(cfg, m.provider, m.manager)
	if err != nil {
		m.close()
		return nil, err
	}

	m.endpoint = api.NewEndpoint(api.NewLocalMaster(m.manager), store)

	m.ipcServer = ipc.NewServer(m.manager, store, m.provider)
	m.ipcServer.SetFrontend(m.endpoint)
	if cfg.IPC.Socket != "" {
		m.localServer = ipc.NewServer(m.manager, store, m.provider, grpc.UnaryInterceptor(ipc.ReadOnlyInterceptor()))
		m.localServer.SetFrontend(m.endpoint)
	}

	m.httpServer = &http.Server{
		Handler:      m.health.Mux(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return m, nil
}

// start runs the event journal and the periodic tasks and opens the listeners.
// Serve failures are sent on errCh.
func (m *master) start(ctx context.Context, errCh chan<- error) error {
	m.broker.Start()
	go m.journal.Run(ctx)

	ipcLis, err := net.Listen("tcp", m.cfg.IPC.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.cfg.IPC.Listen, err)
	}
	m.ipcAddr = ipcLis.Addr()

	var localLis net.Listener
	if m.localServer != nil {
		if err := os.Remove(m.cfg.IPC.Socket); err != nil && !errors.Is(err, os.ErrNotExist) {
			_ = ipcLis.Close()
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
		localLis, err = net.Listen("unix", m.cfg.IPC.Socket)
		if err != nil {
			_ = ipcLis.Close()
			return fmt.Errorf("failed to listen on %s: %w", m.cfg.IPC.Socket, err)
		}
	}

	metricsLis, err := net.Listen("tcp", m.cfg.Metrics.Listen)
	if err != nil {
		_ = ipcLis.Close()
		if localLis != nil {
			_ = localLis.Close()
		}
		return fmt.Errorf("failed to listen on %s: %w", m.cfg.Metrics.Listen, err)
	}
	m.metricsAddr = metricsLis.Addr()

	m.engine.Start()
	m.logger.Info().Strs("tasks", m.engine.Names()).Msg("Periodic tasks started")

	go func() {
		if err := m.ipcServer.Serve(ipcLis); err != nil {
			errCh <- fmt.Errorf("command channel error: %w", err)
		}
	}()
	m.health.Report(metrics.ComponentIPC, nil)

	if localLis != nil {
		go func() {
			if err := m.localServer.Serve(localLis); err != nil {
				errCh <- fmt.Errorf("read-only command channel error: %w", err)
			}
		}()
	}

	go func() {
		if err := m.httpServer.Serve(metricsLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	m.logger.Info().
		Str("ipc", m.ipcAddr.String()).
		Str("metrics", m.metricsAddr.String()).
		Str("backend", m.cfg.Backend.Kind).
		Str("store", m.cfg.Store).
		Msg("Master is running")
	return nil
}

// shutdown stops the tasks and servers, then releases the backend and store
func (m *master) shutdown(ctx context.Context) {
	if err := m.engine.Stop(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Periodic tasks did not stop in time")
	}
	m.ipcServer.Stop()
	if m.localServer != nil {
		m.localServer.Stop()
	}
	if err := m.httpServer.Shutdown(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to shut down metrics server")
	}
	m.close()
	m.logger.Info().Msg("Shutdown complete")
}

// close releases the broker, backend and store
func (m *master) close() {
	if m.broker != nil {
		m.broker.Stop()
	}
	if c, ok := m.backend.(io.Closer); ok {
		if err := c.Close(); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to close backend")
		}
	}
	if m.manager != nil {
		if err := m.manager.Shutdown(); err != nil {
			m.logger.Error().Err(err).Msg("Failed to shut down manager")
		}
		return
	}
	if m.store != nil {
		_ = m.store.Close()
	}
}

func registerTasks(cfg *config.Config, provider *status.Provider, mgr *manager.Manager) (*tasks.Engine, error) {
	health := metrics.Default()
	iv := cfg.Intervals
	engine := tasks.NewEngine()

	add := func(name string, interval time.Duration, fn tasks.Func) error {
		if err := engine.Add(name, interval, fn); err != nil {
			return fmt.Errorf("failed to register task %q: %w", name, err)
		}
		return nil
	}

	updateStatus := func(ctx context.Context) error {
		err := provider.Update(ctx)
		health.Report(metrics.ComponentBackend, err)
		return err
	}
	collector := metrics.NewCollector(mgr.Store(), mgr, provider)

	if err := add(tasks.PlatformStatusUpdater, iv.PlatformStatus, updateStatus); err != nil {
		return nil, err
	}
	if err := add(tasks.Scheduler, iv.Scheduler, mgr.Schedule); err != nil {
		return nil, err
	}
	if err := add(tasks.HealthChecker, iv.HealthCheck, mgr.CheckExecutionsHealth); err != nil {
		return nil, err
	}
	if err := add(tasks.SubmissionRetry, iv.SubmissionRetry, mgr.RetrySubmitted); err != nil {
		return nil, err
	}
	if err := add(tasks.MetricsCollector, iv.Metrics, collector.Collect); err != nil {
		return nil, err
	}
	if cfg.Proxy.AccessLog != "" {
		updater := proxy.NewUpdater(proxy.NewAccessLog(cfg.Proxy.AccessLog, cfg.Proxy.Prefix), mgr)
		if err := add(tasks.ProxyAccessUpdater, iv.ProxyAccess, updater.Update); err != nil {
			return nil, err
		}
	}
	return engine, nil
}
