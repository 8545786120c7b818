package status

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cuemby/zoe/pkg/log"
	"github.com/cuemby/zoe/pkg/types"
	"github.com/rs/zerolog"
)

// Source reports the current cluster resources
type Source interface {
	Status(ctx context.Context) (*types.ResourceSnapshot, error)
}

// Provider caches the latest resource snapshot of the cluster.
// Update replaces the cached pointer wholesale, readers never block.
type Provider struct {
	source  Source
	current atomic.Pointer[types.ResourceSnapshot]
	lastErr atomic.Pointer[string]
	logger  zerolog.Logger
}

// NewProvider creates a provider with no snapshot
func NewProvider(source Source) *Provider {
	return &Provider{
		source: source,
		logger: log.WithComponent("status"),
	}
}

// Update queries the backend and replaces the cached snapshot.
// On failure the previous snapshot is kept.
func (p *Provider) Update(ctx context.Context) error {
	snap, err := p.source.Status(ctx)
	if err == nil && snap == nil {
		err = errors.New("backend returned no resource snapshot")
	}
	if err != nil {
		msg := err.Error()
		p.lastErr.Store(&msg)
		return fmt.Errorf("failed to refresh platform status: %w", err)
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}
	p.current.Store(snap)
	p.lastErr.Store(nil)

	p.logger.Debug().
		Int("cores_total", snap.CoresTotal).
		Float64("cores_used", snap.CoresUsed).
		Int("containers", snap.Containers).
		Msg("Platform status updated")
	return nil
}

// Snapshot returns the latest snapshot, false if none was ever captured
func (p *Provider) Snapshot() (*types.ResourceSnapshot, bool) {
	snap := p.current.Load()
	return snap, snap != nil
}

// Report describes the cached platform status
type Report struct {
	Available   bool    `json:"available"`
	CoresTotal  int     `json:"cores_total"`
	CoresUsed   float64 `json:"cores_used"`
	MemoryTotal int64   `json:"memory_total"`
	MemoryUsed  int64   `json:"memory_used"`
	Containers  int     `json:"containers"`
	Timestamp   string  `json:"timestamp,omitempty"`
	AgeSeconds  float64 `json:"age_seconds"`
	LastError   string  `json:"last_error,omitempty"`
}

// Report builds the platform status report served over the command channel
func (p *Provider) Report() Report {
	var r Report
	if msg := p.lastErr.Load(); msg != nil {
		r.LastError = *msg
	}
	snap, ok := p.Snapshot()
	if !ok {
		return r
	}
	r.Available = true
	r.CoresTotal = snap.CoresTotal
	r.CoresUsed = snap.CoresUsed
	r.MemoryTotal = snap.MemoryTotal
	r.MemoryUsed = snap.MemoryUsed
	r.Containers = snap.Containers
	r.Timestamp = snap.Timestamp.UTC().Format(time.RFC3339)
	r.AgeSeconds = time.Since(snap.Timestamp).Seconds()
	return r
}
