package api

import (
	"context"

	"github.com/cuemby/zoe/pkg/scheduler"
)

// Master is the command interface of the scheduling engine as seen by the API
// tier. ipc.Client implements it for a remote master; LocalMaster for one
// running in the same process.
type Master interface {
	ExecutionStart(ctx context.Context, id uint64) (bool, string)
	ExecutionTerminate(ctx context.Context, id uint64) (bool, string)
	ExecutionDelete(ctx context.Context, id uint64) (bool, string)
	SchedulerStatistics(ctx context.Context) (*scheduler.Statistics, error)
}

// Engine is the subset of the platform manager LocalMaster drives
type Engine interface {
	ExecutionSubmitted(ctx context.Context, id uint64) error
	ExecutionTerminate(ctx context.Context, id uint64) error
	ExecutionDelete(ctx context.Context, id uint64) error
	Statistics() scheduler.Statistics
}

// LocalMaster adapts an in-process engine to Master
type LocalMaster struct {
	engine Engine
}

// NewLocalMaster creates a Master backed by engine
func NewLocalMaster(engine Engine) *LocalMaster {
	return &LocalMaster{engine: engine}
}

func result(err error) (bool, string) {
	if err != nil {
		return false, err.Error()
	}
	return true, ""
}

func (m *LocalMaster) ExecutionStart(ctx context.Context, id uint64) (bool, string) {
	return result(m.engine.ExecutionSubmitted(ctx, id))
}

func (m *LocalMaster) ExecutionTerminate(ctx context.Context, id uint64) (bool, string) {
	return result(m.engine.ExecutionTerminate(ctx, id))
}

func (m *LocalMaster) ExecutionDelete(ctx context.Context, id uint64) (bool, string) {
	return result(m.engine.ExecutionDelete(ctx, id))
}

func (m *LocalMaster) SchedulerStatistics(_ context.Context) (*scheduler.Statistics, error) {
	stats := m.engine.Statistics()
	return &stats, nil
}
