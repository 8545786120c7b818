package api

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/zoe/pkg/log"
	"github.com/cuemby/zoe/pkg/scheduler"
	"github.com/cuemby/zoe/pkg/storage"
	"github.com/cuemby/zoe/pkg/types"
	"github.com/rs/zerolog"
)

// Endpoint is the API tier: it owns user-facing validation and ownership rules,
// writes execution records and hands state changes to the master.
type Endpoint struct {
	master Master
	store  storage.Store
	logger zerolog.Logger
}

// NewEndpoint creates the API tier facade
func NewEndpoint(master Master, store storage.Store) *Endpoint {
	return &Endpoint{
		master: master,
		store:  store,
		logger: log.WithComponent("api"),
	}
}

// ExecutionByID looks up an execution the user is allowed to see
func (a *Endpoint) ExecutionByID(user types.User, id uint64) (*types.Execution, error) {
	e, err := a.store.GetExecution(id)
	if err != nil {
		return nil, fmt.Errorf("no such execution: %w", err)
	}
	if !user.Owns(e) {
		return nil, fmt.Errorf("execution %d: %w", id, types.ErrUnauthorized)
	}
	return e, nil
}

// ExecutionList lists executions matching filter, restricted to those the user owns
func (a *Endpoint) ExecutionList(user types.User, filter storage.ExecutionFilter) ([]*types.Execution, error) {
	if !user.IsAdmin() {
		filter.UserID = user.ID
	}
	execs, err := a.store.ListExecutions(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	return execs, nil
}

// ExecutionStart validates and records a new execution, then hands it to the
// master. When the master cannot take it the record stays submitted, the id is
// still returned and the error wraps ErrMasterUnavailable: the submission retry
// task will pick it up.
func (a *Endpoint) ExecutionStart(ctx context.Context, user types.User, name string, desc *types.ApplicationDescription) (uint64, error) {
	if err := desc.Validate(); err != nil {
		return 0, fmt.Errorf("invalid application description: %w", err)
	}
	if err := types.ValidateExecutionName(name); err != nil {
		return 0, err
	}

	e := &types.Execution{
		Name:        name,
		UserID:      user.ID,
		Description: desc,
		Status:      types.StatusSubmitted,
		TimeSubmit:  time.Now().UTC(),
	}
	id, err := a.store.CreateExecution(e)
	if err != nil {
		return 0, fmt.Errorf("failed to create execution: %w", err)
	}
	a.store.StateUpdated()

	a.logger.Info().
		Uint64("execution_id", id).
		Str("user_id", user.ID).
		Str("name", name).
		Msg("Execution submitted")

	if ok, msg := a.master.ExecutionStart(ctx, id); !ok {
		return id, fmt.Errorf("%w, execution will be submitted automatically when the master is back up (%s)", types.ErrMasterUnavailable, msg)
	}
	return id, nil
}

// ExecutionTerminate asks the master to terminate an active execution
func (a *Endpoint) ExecutionTerminate(ctx context.Context, user types.User, id uint64) error {
	e, err := a.ExecutionByID(user, id)
	if err != nil {
		return err
	}
	if !e.IsActive() {
		return fmt.Errorf("%w: execution %d is not running", types.ErrConflict, id)
	}
	if ok, msg := a.master.ExecutionTerminate(ctx, id); !ok {
		return fmt.Errorf("failed to terminate execution %d: %s", id, msg)
	}
	return nil
}

// ExecutionDelete asks the master to delete an inactive execution
func (a *Endpoint) ExecutionDelete(ctx context.Context, user types.User, id uint64) error {
	e, err := a.ExecutionByID(user, id)
	if err != nil {
		return err
	}
	if e.IsActive() {
		return fmt.Errorf("%w: cannot delete an active execution", types.ErrConflict)
	}
	if ok, msg := a.master.ExecutionDelete(ctx, id); !ok {
		return fmt.Errorf("failed to delete execution %d: %s", id, msg)
	}
	return nil
}

// ServiceByID looks up a service of an execution the user owns
func (a *Endpoint) ServiceByID(user types.User, id uint64) (*types.Service, error) {
	s, err := a.store.GetService(id)
	if err != nil {
		return nil, fmt.Errorf("no such service: %w", err)
	}
	e, err := a.store.GetExecution(s.ExecutionID)
	if err != nil {
		return nil, fmt.Errorf("no such execution for service %d: %w", id, err)
	}
	if !user.Owns(e) {
		return nil, fmt.Errorf("service %d: %w", id, types.ErrUnauthorized)
	}
	return s, nil
}

// ExecutionEndpoints returns the services of an execution and the public URLs
// of every port the backend has published. Unpublished ports are left out.
func (a *Endpoint) ExecutionEndpoints(user types.User, id uint64) ([]*types.Service, []types.Endpoint, error) {
	if _, err := a.ExecutionByID(user, id); err != nil {
		return nil, nil, err
	}

	services, err := a.store.ListServices(storage.ServiceFilter{ExecutionID: id})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list services: %w", err)
	}

	endpoints := []types.Endpoint{}
	for _, s := range services {
		for _, port := range s.Description.Ports {
			published, ok := findPort(s.Ports, port.Key())
			if !ok {
				continue
			}
			endpoints = append(endpoints, types.Endpoint{
				ServiceID: s.ID,
				Service:   s.Name,
				Name:      port.Name,
				URL:       RenderURL(port.URLTemplate, published),
				Main:      port.IsMainEndpoint,
			})
		}
	}
	return services, endpoints, nil
}

// StatisticsScheduler returns the scheduler queues as reported by the master
func (a *Endpoint) StatisticsScheduler(ctx context.Context, _ types.User) (*scheduler.Statistics, error) {
	stats, err := a.master.SchedulerStatistics(ctx)
	if err != nil {
		if errors.Is(err, types.ErrMasterUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get scheduler statistics: %w", err)
	}
	return stats, nil
}

func findPort(ports []types.PublishedPort, key string) (types.PublishedPort, bool) {
	for _, p := range ports {
		if p.Internal == key && p.Published() {
			return p, true
		}
	}
	return types.PublishedPort{}, false
}

// RenderURL substitutes {ip_port} in a port URL template. An empty template
// yields the bare address.
func RenderURL(template string, p types.PublishedPort) string {
	ipPort := p.ExternalIP + ":" + strconv.Itoa(p.ExternalPort)
	if template == "" {
		return ipPort
	}
	return strings.ReplaceAll(template, "{ip_port}", ipPort)
}
