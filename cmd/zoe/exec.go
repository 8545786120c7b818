package main

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/cuemby/zoe/pkg/ipc"
	"github.com/cuemby/zoe/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func addClientFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("master", "127.0.0.1:8723", "Master command channel address (host:port or unix:///path)")
	cmd.PersistentFlags().Duration("timeout", ipc.DefaultTimeout, "Command channel timeout")
	cmd.PersistentFlags().String("user", currentUser(), "User to act as")
	cmd.PersistentFlags().String("role", types.RoleUser, "Role of the user (user, admin)")
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

func newClient(cmd *cobra.Command) (*ipc.Client, error) {
	addr, _ := cmd.Flags().GetString("master")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	c, err := ipc.NewClient(addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to master: %w", err)
	}
	return c, nil
}

func callerOf(cmd *cobra.Command) types.User {
	id, _ := cmd.Flags().GetString("user")
	role, _ := cmd.Flags().GetString("role")
	return types.User{ID: id, Role: role}
}

func parseID(arg string) (uint64, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid execution id %q", arg)
	}
	return id, nil
}

var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Manage executions",
}

var execStartCmd = &cobra.Command{
	Use:   "start NAME -f APP.yaml",
	Short: "Submit a new execution",
	Long: `Submit an application description as a new execution.

Examples:
  # Start a notebook
  zoe exec start my-notebook -f jupyter.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filename, _ := cmd.Flags().GetString("file")

		data, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		var desc types.ApplicationDescription
		if err := yaml.Unmarshal(data, &desc); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		id, warning, err := c.ExecutionNew(context.Background(), callerOf(cmd), args[0], &desc)
		if err != nil {
			return fmt.Errorf("failed to start execution: %w", err)
		}
		if warning != "" {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
		fmt.Printf("✓ Execution submitted: %s (ID: %d)\n", args[0], id)
		return nil
	},
}

var execListCmd = &cobra.Command{
	Use:   "list",
	Short: "List executions",
	RunE: func(cmd *cobra.Command, args []string) error {
		statusFilter, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		caller := callerOf(cmd)

		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		filter := ipc.ListArgs{Status: statusFilter, Limit: limit}
		if !caller.IsAdmin() {
			filter.UserID = caller.ID
		}
		execs, err := c.ExecutionList(context.Background(), filter)
		if err != nil {
			return fmt.Errorf("failed to list executions: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tUSER\tSTATUS\tSUBMITTED\tRUNTIME")
		for _, e := range execs {
			runtime := "-"
			if e.TimeStart != nil {
				runtime = e.Duration().Round(time.Second).String()
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
				e.ID, e.Name, e.UserID, e.Status,
				e.TimeSubmit.Local().Format(time.DateTime), runtime)
		}
		return w.Flush()
	},
}

var execGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show one execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		e, err := c.ExecutionGet(context.Background(), id)
		if err != nil {
			return fmt.Errorf("failed to get execution: %w", err)
		}
		out, err := yaml.Marshal(e)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

var execTerminateCmd = &cobra.Command{
	Use:   "terminate ID",
	Short: "Terminate an execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if ok, msg := c.ExecutionTerminate(context.Background(), id); !ok {
			return fmt.Errorf("failed to terminate execution %d: %s", id, msg)
		}
		fmt.Printf("✓ Execution %d terminated\n", id)
		return nil
	},
}

var execDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a finished execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		if ok, msg := c.ExecutionDelete(context.Background(), id); !ok {
			return fmt.Errorf("failed to delete execution %d: %s", id, msg)
		}
		fmt.Printf("✓ Execution %d deleted\n", id)
		return nil
	},
}

var execEndpointsCmd = &cobra.Command{
	Use:   "endpoints ID",
	Short: "Show the public endpoints of an execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		services, endpoints, err := c.ExecutionEndpoints(context.Background(), callerOf(cmd), id)
		if err != nil {
			return fmt.Errorf("failed to get endpoints: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SERVICE\tSTATUS\tBACKEND ID")
		for _, s := range services {
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, s.Status, s.BackendID)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "SERVICE\tENDPOINT\tURL")
		for _, ep := range endpoints {
			name := ep.Name
			if ep.Main {
				name += " (main)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", ep.Service, name, ep.URL)
		}
		return w.Flush()
	},
}

func init() {
	addClientFlags(execCmd)

	execCmd.AddCommand(execStartCmd)
	execCmd.AddCommand(execListCmd)
	execCmd.AddCommand(execGetCmd)
	execCmd.AddCommand(execTerminateCmd)
	execCmd.AddCommand(execDeleteCmd)
	execCmd.AddCommand(execEndpointsCmd)

	execStartCmd.Flags().StringP("file", "f", "", "Application description file (required)")
	_ = execStartCmd.MarkFlagRequired("file")

	execListCmd.Flags().String("status", "", "Only executions in this status")
	execListCmd.Flags().Int("limit", 0, "Maximum number of executions")
}
