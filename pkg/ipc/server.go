package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/cuemby/zoe/pkg/log"
	"github.com/cuemby/zoe/pkg/metrics"
	"github.com/cuemby/zoe/pkg/scheduler"
	"github.com/cuemby/zoe/pkg/status"
	"github.com/cuemby/zoe/pkg/storage"
	"github.com/cuemby/zoe/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// AskMethod is the full gRPC method name of the command channel
const AskMethod = "/zoe.ipc.Master/Ask"

// Engine is the part of the platform manager the command channel drives
type Engine interface {
	ExecutionSubmitted(ctx context.Context, id uint64) error
	ExecutionTerminate(ctx context.Context, id uint64) error
	ExecutionDelete(ctx context.Context, id uint64) error
	Statistics() scheduler.Statistics
}

// Frontend is the API tier, when it is hosted in the master process
type Frontend interface {
	ExecutionStart(ctx context.Context, user types.User, name string, desc *types.ApplicationDescription) (uint64, error)
	ExecutionEndpoints(user types.User, id uint64) ([]*types.Service, []types.Endpoint, error)
}

// StatusReporter produces the platform status report
type StatusReporter interface {
	Report() status.Report
}

// Server answers command channel requests on behalf of the master
type Server struct {
	engine   Engine
	frontend Frontend
	store    storage.Store
	status   StatusReporter
	grpc     *grpc.Server
	logger   zerolog.Logger
}

// NewServer creates a command channel server. Extra options are passed to the
// underlying gRPC server (the read-only socket adds ReadOnlyInterceptor).
func NewServer(engine Engine, store storage.Store, reporter StatusReporter, opts ...grpc.ServerOption) *Server {
	s := &Server{
		engine: engine,
		store:  store,
		status: reporter,
		grpc:   grpc.NewServer(opts...),
		logger: log.WithComponent("ipc"),
	}
	s.grpc.RegisterService(&masterServiceDesc, s)
	return s
}

// SetFrontend enables the execution_new and execution_endpoints commands.
// Must be called before Serve.
func (s *Server) SetFrontend(frontend Frontend) {
	s.frontend = frontend
}

// Start listens on addr and serves until Stop is called
func (s *Server) Start(network, addr string) error {
	lis, err := net.Listen(network, addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve accepts connections on lis
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("Command channel listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the gRPC server
func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

// Ask is the gRPC handler: decode the envelope, dispatch, encode the reply
func (s *Server) Ask(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	reply := s.Handle(ctx, requestFromStruct(in))
	out, err := reply.toStruct()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode reply")
		return Reply{Status: StatusError, Answer: err.Error()}.toStruct()
	}
	return out, nil
}

// Handle executes one request. Failures become error replies, never transport errors.
func (s *Server) Handle(ctx context.Context, req Request) Reply {
	timer := metrics.NewTimer()
	answer, err := s.dispatch(ctx, req)
	timer.ObserveDurationVec(metrics.IPCRequestDuration, string(req.Command))

	if err != nil {
		metrics.IPCRequestsTotal.WithLabelValues(string(req.Command), StatusError).Inc()
		s.logger.Debug().Err(err).Str("command", string(req.Command)).Msg("Command failed")
		return Reply{Status: StatusError, Answer: err.Error()}
	}
	metrics.IPCRequestsTotal.WithLabelValues(string(req.Command), StatusOK).Inc()
	return Reply{Status: StatusOK, Answer: answer}
}

func (s *Server) dispatch(ctx context.Context, req Request) (interface{}, error) {
	switch req.Command {
	case CommandExecutionStart:
		args, err := s.executionArgs(req)
		if err != nil {
			return nil, err
		}
		if err := s.engine.ExecutionSubmitted(ctx, args.ExecutionID); err != nil {
			return nil, err
		}
		return map[string]interface{}{"execution_id": args.ExecutionID}, nil

	case CommandExecutionTerminate:
		args, err := s.executionArgs(req)
		if err != nil {
			return nil, err
		}
		if err := s.engine.ExecutionTerminate(ctx, args.ExecutionID); err != nil {
			return nil, err
		}
		return map[string]interface{}{"execution_id": args.ExecutionID}, nil

	case CommandExecutionDelete:
		args, err := s.executionArgs(req)
		if err != nil {
			return nil, err
		}
		if err := s.engine.ExecutionDelete(ctx, args.ExecutionID); err != nil {
			return nil, err
		}
		return map[string]interface{}{"execution_id": args.ExecutionID}, nil

	case CommandExecutionGet:
		args, err := s.executionArgs(req)
		if err != nil {
			return nil, err
		}
		return s.store.GetExecution(args.ExecutionID)

	case CommandExecutionList:
		var args ListArgs
		if err := DecodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		filter := storage.ExecutionFilter{
			Status: types.ExecutionStatus(args.Status),
			UserID: args.UserID,
			Limit:  args.Limit,
		}
		if filter.Status != "" && !filter.Status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", types.ErrValidation, args.Status)
		}
		execs, err := s.store.ListExecutions(filter)
		if err != nil {
			return nil, err
		}
		if execs == nil {
			execs = []*types.Execution{}
		}
		return execs, nil

	case CommandSchedulerStats:
		return s.engine.Statistics(), nil

	case CommandExecutionNew:
		if s.frontend == nil {
			return nil, fmt.Errorf("command %s is not served by this master", req.Command)
		}
		args, err := decodeNewArgs(req.Args)
		if err != nil {
			return nil, err
		}
		user := types.User{ID: args.UserID, Role: args.Role}
		id, err := s.frontend.ExecutionStart(ctx, user, args.Name, args.Description)
		if err != nil {
			if id != 0 && errors.Is(err, types.ErrMasterUnavailable) {
				return map[string]interface{}{"execution_id": id, "warning": err.Error()}, nil
			}
			return nil, err
		}
		return map[string]interface{}{"execution_id": id}, nil

	case CommandExecutionEndpoints:
		if s.frontend == nil {
			return nil, fmt.Errorf("command %s is not served by this master", req.Command)
		}
		var args EndpointsArgs
		if err := DecodeArgs(req.Args, &args); err != nil {
			return nil, err
		}
		user := types.User{ID: args.UserID, Role: args.Role}
		services, endpoints, err := s.frontend.ExecutionEndpoints(user, args.ExecutionID)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"services": services, "endpoints": endpoints}, nil

	case CommandPlatformStatus:
		return s.status.Report(), nil

	default:
		return nil, fmt.Errorf("unknown command: %s", req.Command)
	}
}

func (s *Server) executionArgs(req Request) (ExecutionArgs, error) {
	var args ExecutionArgs
	if err := DecodeArgs(req.Args, &args); err != nil {
		return args, err
	}
	return args, args.validate()
}

type masterServer interface {
	Ask(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func askHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(masterServer).Ask(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: AskMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(masterServer).Ask(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var masterServiceDesc = grpc.ServiceDesc{
	ServiceName: "zoe.ipc.Master",
	HandlerType: (*masterServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Ask",
			Handler:    askHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "zoe/ipc.proto",
}
