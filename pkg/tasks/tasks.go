package tasks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/zoe/pkg/log"
	"github.com/cuemby/zoe/pkg/metrics"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Names of the periodic tasks run by the master
const (
	PlatformStatusUpdater = "platform status updater"
	Scheduler             = "scheduler"
	HealthChecker         = "execution health checker"
	SubmissionRetry       = "submission retry"
	ProxyAccessUpdater    = "proxy access timestamp updater"
	MetricsCollector      = "metrics collector"
)

// Func is the body of a periodic task. The context is cancelled on Stop.
type Func func(ctx context.Context) error

// Engine runs named tasks at fixed intervals. A task never overlaps with
// itself: a tick that fires while the previous run is still going is skipped.
// A panicking task is logged and keeps its schedule.
type Engine struct {
	mu      sync.Mutex
	cron    *cron.Cron
	tasks   map[string]*task
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	logger  zerolog.Logger
}

type task struct {
	name     string
	interval time.Duration
	fn       Func
	entry    cron.EntryID
	limiter  *rate.Limiter
	logger   zerolog.Logger
}

// NewEngine creates an engine with no tasks
func NewEngine() *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	logger := log.WithComponent("tasks")
	cl := cronLogger{logger: logger}

	return &Engine{
		cron: cron.New(cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		)),
		tasks:  make(map[string]*task),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Add registers a task. Tasks added after Start begin on their next tick.
func (e *Engine) Add(name string, interval time.Duration, fn Func) error {
	if interval <= 0 {
		return fmt.Errorf("task %q: interval must be positive, got %s", name, interval)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.tasks[name]; exists {
		return fmt.Errorf("task %q already registered", name)
	}

	t := &task{
		name:     name,
		interval: interval,
		fn:       fn,
		// errors are logged at most once per interval, at least once a minute
		limiter: rate.NewLimiter(rate.Every(minDuration(interval, time.Minute)), 1),
		logger:  log.WithTask(name),
	}
	t.entry = e.cron.Schedule(every(interval), cron.FuncJob(func() { e.run(t) }))
	e.tasks[name] = t

	e.logger.Debug().Str("task", name).Dur("interval", interval).Msg("Task registered")
	return nil
}

// Remove unregisters a task; a run in progress is allowed to finish
func (e *Engine) Remove(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.tasks[name]; ok {
		e.cron.Remove(t.entry)
		delete(e.tasks, name)
	}
}

// Names returns the registered task names in alphabetical order
func (e *Engine) Names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, 0, len(e.tasks))
	for name := range e.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start begins running the registered tasks
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return
	}
	e.started = true
	e.cron.Start()
	e.logger.Info().Int("tasks", len(e.tasks)).Msg("Periodic tasks started")
}

// Stop cancels every task and waits for running ones to return
func (e *Engine) Stop(ctx context.Context) error {
	e.cancel()
	done := e.cron.Stop()

	select {
	case <-done.Done():
		e.logger.Info().Msg("Periodic tasks stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timed out waiting for periodic tasks: %w", ctx.Err())
	}
}

func (e *Engine) run(t *task) {
	if e.ctx.Err() != nil {
		return
	}

	timer := metrics.NewTimer()
	err := t.fn(e.ctx)
	timer.ObserveDurationVec(metrics.TaskDuration, t.name)

	if err == nil {
		metrics.TaskRunsTotal.WithLabelValues(t.name, "success").Inc()
		return
	}

	metrics.TaskRunsTotal.WithLabelValues(t.name, "error").Inc()
	if e.ctx.Err() != nil {
		return
	}
	if t.limiter.Allow() {
		t.logger.Error().Err(err).Msg("Periodic task failed")
	} else {
		t.logger.Debug().Err(err).Msg("Periodic task failed")
	}
}

// every is a fixed-delay schedule. cron.Every rounds down to whole seconds,
// which is too coarse for the scheduler tick and for tests.
type every time.Duration

func (d every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}

// cronLogger adapts zerolog to the cron.Logger interface
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
