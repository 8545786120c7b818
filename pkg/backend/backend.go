package backend

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/cuemby/zoe/pkg/types"
)

// Labels attached to every backend instance
const (
	LabelExecutionID = "zoe.execution.id"
	LabelServiceID   = "zoe.service.id"
	LabelService     = "zoe.service.name"
	LabelCores       = "zoe.resources.cores"
	LabelMemory      = "zoe.resources.memory"
)

// Backend is the cluster the engine places services on.
// Connectivity failures are returned wrapping types.ErrBackendUnavailable;
// any other error is a rejection of the request.
type Backend interface {
	// Status returns the aggregate resource state of the cluster
	Status(ctx context.Context) (*types.ResourceSnapshot, error)

	// CreateService creates and starts one service instance
	CreateService(ctx context.Context, spec ServiceSpec) (*Handle, error)

	// DestroyService stops and removes an instance. Destroying an instance
	// that is already gone is not an error.
	DestroyService(ctx context.Context, id string) error

	// IsDead reports whether the instance has stopped or disappeared
	IsDead(ctx context.Context, id string) (bool, error)
}

// ServiceSpec is everything the backend needs to instantiate a service
type ServiceSpec struct {
	ExecutionID uint64
	ServiceID   uint64
	Name        string
	Image       string
	Command     []string
	Env         []string
	Labels      map[string]string
	Cores       float64
	MemoryBytes int64
	Ports       []types.PortDescription
}

// NewServiceSpec builds the spec for a persisted service record
func NewServiceSpec(svc *types.Service) ServiceSpec {
	d := svc.Description
	labels := make(map[string]string, len(d.Labels)+5)
	for k, v := range d.Labels {
		labels[k] = v
	}
	labels[LabelExecutionID] = strconv.FormatUint(svc.ExecutionID, 10)
	labels[LabelServiceID] = strconv.FormatUint(svc.ID, 10)
	labels[LabelService] = d.Name
	labels[LabelCores] = strconv.FormatFloat(d.Resources.Cores, 'f', -1, 64)
	labels[LabelMemory] = strconv.FormatInt(d.Resources.MemoryBytes, 10)

	return ServiceSpec{
		ExecutionID: svc.ExecutionID,
		ServiceID:   svc.ID,
		Name:        svc.Name,
		Image:       d.Image,
		Command:     d.Command,
		Env:         d.Environment,
		Labels:      labels,
		Cores:       d.Resources.Cores,
		MemoryBytes: d.Resources.MemoryBytes,
		Ports:       d.Ports,
	}
}

// ContainerName returns the backend instance name for a spec
func (s ServiceSpec) ContainerName() string {
	return fmt.Sprintf("zoe-%d-%d-%s", s.ExecutionID, s.ServiceID, s.Name)
}

// Handle identifies a created instance and the ports it published
type Handle struct {
	ID    string
	Ports []types.PublishedPort
}

// Unavailable wraps err so callers can detect a retryable connectivity failure
func Unavailable(err error) error {
	if err == nil || errors.Is(err, types.ErrBackendUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", types.ErrBackendUnavailable, err)
}

// IsUnavailable reports whether err is a retryable connectivity failure
func IsUnavailable(err error) bool {
	return errors.Is(err, types.ErrBackendUnavailable)
}
