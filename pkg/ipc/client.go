package ipc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/zoe/pkg/log"
	"github.com/cuemby/zoe/pkg/scheduler"
	"github.com/cuemby/zoe/pkg/status"
	"github.com/cuemby/zoe/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// DefaultTimeout bounds a single request when the caller sets none
const DefaultTimeout = 10 * time.Second

// Client talks to the master over the command channel. A client carries at most
// one outstanding request at a time.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
	logger  zerolog.Logger

	mu sync.Mutex
}

// NewClient creates a command channel client for target ("host:port" or
// "unix:///path"). The connection is established lazily on first use.
func NewClient(target string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", target, err)
	}

	return &Client{
		conn:    conn,
		timeout: timeout,
		logger:  log.WithComponent("ipc-client"),
	}, nil
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Ask sends a command and returns the answer. An error reply is logged and
// yields a nil answer. A master that does not answer in time yields
// ErrMasterUnavailable.
func (c *Client) Ask(ctx context.Context, cmd Command, args map[string]interface{}) (interface{}, error) {
	reply, err := c.ask(ctx, cmd, args)
	if err != nil {
		return nil, err
	}
	if reply.Status != StatusOK {
		c.logger.Error().Str("command", string(cmd)).Msgf("IPC error: %v", reply.Answer)
		return nil, nil
	}
	return reply.Answer, nil
}

func (c *Client) ask(ctx context.Context, cmd Command, args map[string]interface{}) (Reply, error) {
	in, err := Request{Command: cmd, Args: args}.toStruct()
	if err != nil {
		return Reply{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, AskMethod, in, out); err != nil {
		return Reply{}, classify(err)
	}
	return replyFromStruct(out), nil
}

func classify(err error) error {
	switch grpcstatus.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return fmt.Errorf("%w: %v", types.ErrMasterUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", types.ErrMasterUnavailable, err)
	}
	return fmt.Errorf("command channel request failed: %w", err)
}

// result turns a reply into (ok, message) for the state-changing helpers
func (c *Client) result(ctx context.Context, cmd Command, id uint64) (bool, string) {
	reply, err := c.ask(ctx, cmd, map[string]interface{}{"execution_id": id})
	if err != nil {
		return false, err.Error()
	}
	if reply.Status != StatusOK {
		msg := fmt.Sprint(reply.Answer)
		c.logger.Error().Str("command", string(cmd)).Msgf("IPC error: %s", msg)
		return false, msg
	}
	return true, ""
}

// ExecutionStart hands a submitted execution to the master
func (c *Client) ExecutionStart(ctx context.Context, id uint64) (bool, string) {
	return c.result(ctx, CommandExecutionStart, id)
}

// ExecutionTerminate asks the master to terminate an execution
func (c *Client) ExecutionTerminate(ctx context.Context, id uint64) (bool, string) {
	return c.result(ctx, CommandExecutionTerminate, id)
}

// ExecutionDelete asks the master to delete an inactive execution
func (c *Client) ExecutionDelete(ctx context.Context, id uint64) (bool, string) {
	return c.result(ctx, CommandExecutionDelete, id)
}

// query runs a command and decodes the answer into out. An error reply is
// logged like in Ask; with no answer to decode, its message is returned as
// the error.
func (c *Client) query(ctx context.Context, cmd Command, args map[string]interface{}, out interface{}) error {
	reply, err := c.ask(ctx, cmd, args)
	if err != nil {
		return err
	}
	if reply.Status != StatusOK {
		c.logger.Error().Str("command", string(cmd)).Msgf("IPC error: %v", reply.Answer)
		return fmt.Errorf("%s: %v", cmd, reply.Answer)
	}
	if err := convert(reply.Answer, out); err != nil {
		return fmt.Errorf("failed to decode %s answer: %w", cmd, err)
	}
	return nil
}

// ExecutionList lists executions known to the master
func (c *Client) ExecutionList(ctx context.Context, args ListArgs) ([]*types.Execution, error) {
	m := map[string]interface{}{}
	if args.Status != "" {
		m["status"] = args.Status
	}
	if args.UserID != "" {
		m["user_id"] = args.UserID
	}
	if args.Limit > 0 {
		m["limit"] = args.Limit
	}

	var execs []*types.Execution
	if err := c.query(ctx, CommandExecutionList, m, &execs); err != nil {
		return nil, err
	}
	return execs, nil
}

// ExecutionGet fetches one execution
func (c *Client) ExecutionGet(ctx context.Context, id uint64) (*types.Execution, error) {
	var e types.Execution
	if err := c.query(ctx, CommandExecutionGet, map[string]interface{}{"execution_id": id}, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// SchedulerStatistics returns the waiting and running queues
func (c *Client) SchedulerStatistics(ctx context.Context) (*scheduler.Statistics, error) {
	var stats scheduler.Statistics
	if err := c.query(ctx, CommandSchedulerStats, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// PlatformStatus returns the cached platform status report
func (c *Client) PlatformStatus(ctx context.Context) (*status.Report, error) {
	var r status.Report
	if err := c.query(ctx, CommandPlatformStatus, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ExecutionNew submits a new execution through the API tier hosted by the
// master. A non-empty warning means the execution was recorded but not yet
// admitted; it will be retried.
func (c *Client) ExecutionNew(ctx context.Context, user types.User, name string, desc *types.ApplicationDescription) (uint64, string, error) {
	args := map[string]interface{}{
		"user_id":     user.ID,
		"role":        user.Role,
		"name":        name,
		"description": desc,
	}
	var answer struct {
		ExecutionID uint64 `json:"execution_id"`
		Warning     string `json:"warning"`
	}
	if err := c.query(ctx, CommandExecutionNew, args, &answer); err != nil {
		return 0, "", err
	}
	return answer.ExecutionID, answer.Warning, nil
}

// ExecutionEndpoints returns the services and public endpoints of an execution
func (c *Client) ExecutionEndpoints(ctx context.Context, user types.User, id uint64) ([]*types.Service, []types.Endpoint, error) {
	args := map[string]interface{}{
		"user_id":      user.ID,
		"role":         user.Role,
		"execution_id": id,
	}
	var answer struct {
		Services  []*types.Service `json:"services"`
		Endpoints []types.Endpoint `json:"endpoints"`
	}
	if err := c.query(ctx, CommandExecutionEndpoints, args, &answer); err != nil {
		return nil, nil, err
	}
	return answer.Services, answer.Endpoints, nil
}
