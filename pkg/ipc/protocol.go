package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/zoe/pkg/types"
	"github.com/mitchellh/mapstructure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Command names a request understood by the master
type Command string

const (
	CommandExecutionStart     Command = "execution_start"
	CommandExecutionTerminate Command = "execution_terminate"
	CommandExecutionDelete    Command = "execution_delete"
	CommandExecutionList      Command = "execution_list"
	CommandExecutionGet       Command = "execution_get"
	CommandSchedulerStats     Command = "scheduler_statistics"
	CommandPlatformStatus     Command = "platform_status"

	// Served by the API tier hosted in the master process
	CommandExecutionNew       Command = "execution_new"
	CommandExecutionEndpoints Command = "execution_endpoints"
)

// Reply statuses
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// ReadOnly reports whether the command leaves engine state untouched
func (c Command) ReadOnly() bool {
	switch c {
	case CommandExecutionList, CommandExecutionGet, CommandSchedulerStats, CommandPlatformStatus,
		CommandExecutionEndpoints:
		return true
	}
	return false
}

// Request is the {command, args} envelope sent to the master
type Request struct {
	Command Command
	Args    map[string]interface{}
}

// Reply is the {status, answer} envelope returned by the master
type Reply struct {
	Status string
	Answer interface{}
}

// ExecutionArgs addresses a single execution
type ExecutionArgs struct {
	ExecutionID uint64 `mapstructure:"execution_id"`
}

func (a ExecutionArgs) validate() error {
	if a.ExecutionID == 0 {
		return fmt.Errorf("%w: execution_id is required", types.ErrValidation)
	}
	return nil
}

// ListArgs filters execution_list; zero fields match everything
type ListArgs struct {
	Status string `mapstructure:"status"`
	UserID string `mapstructure:"user_id"`
	Limit  int    `mapstructure:"limit"`
}

// NewArgs submits a new execution on behalf of a user
type NewArgs struct {
	UserID      string                        `mapstructure:"user_id"`
	Role        string                        `mapstructure:"role"`
	Name        string                        `mapstructure:"name"`
	Description *types.ApplicationDescription `mapstructure:"-"`
}

// EndpointsArgs asks for the public endpoints of an execution
type EndpointsArgs struct {
	UserID      string `mapstructure:"user_id"`
	Role        string `mapstructure:"role"`
	ExecutionID uint64 `mapstructure:"execution_id"`
}

// DecodeArgs decodes command arguments into out. Numbers arrive as float64 on
// the wire, so weak typing is enabled. Unknown keys are rejected.
func DecodeArgs(args map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return fmt.Errorf("failed to create args decoder: %w", err)
	}
	if err := dec.Decode(args); err != nil {
		return fmt.Errorf("%w: %v", types.ErrValidation, err)
	}
	return nil
}

// decodeNewArgs splits the nested application description off before the
// strict decode of the scalar arguments
func decodeNewArgs(args map[string]interface{}) (NewArgs, error) {
	var out NewArgs
	rest := make(map[string]interface{}, len(args))
	for k, v := range args {
		if k != "description" {
			rest[k] = v
		}
	}
	if err := DecodeArgs(rest, &out); err != nil {
		return out, err
	}

	raw, ok := args["description"]
	if !ok || raw == nil {
		return out, fmt.Errorf("%w: description is required", types.ErrValidation)
	}
	out.Description = &types.ApplicationDescription{}
	if err := convert(raw, out.Description); err != nil {
		return out, fmt.Errorf("%w: malformed description: %v", types.ErrValidation, err)
	}
	return out, nil
}

// toStruct encodes the request envelope
func (r Request) toStruct() (*structpb.Struct, error) {
	args := r.Args
	if args == nil {
		args = map[string]interface{}{}
	}
	plain, err := plainValue(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode args: %w", err)
	}
	return structpb.NewStruct(map[string]interface{}{
		"command": string(r.Command),
		"args":    plain,
	})
}

func requestFromStruct(s *structpb.Struct) Request {
	m := s.AsMap()
	req := Request{}
	if cmd, ok := m["command"].(string); ok {
		req.Command = Command(cmd)
	}
	if args, ok := m["args"].(map[string]interface{}); ok {
		req.Args = args
	}
	return req
}

func (r Reply) toStruct() (*structpb.Struct, error) {
	answer, err := plainValue(r.Answer)
	if err != nil {
		return nil, fmt.Errorf("failed to encode answer: %w", err)
	}
	return structpb.NewStruct(map[string]interface{}{
		"status": r.Status,
		"answer": answer,
	})
}

func replyFromStruct(s *structpb.Struct) Reply {
	m := s.AsMap()
	status, _ := m["status"].(string)
	return Reply{Status: status, Answer: m["answer"]}
}

// plainValue reduces v to the JSON-shaped values structpb accepts
func plainValue(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// convert re-decodes a plain answer into a typed value
func convert(in interface{}, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
