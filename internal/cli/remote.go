package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewTriggerCmd создаёт команду ручного запуска workflow через API.
func NewTriggerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var (
		nodeID  string
		payload string
	)

	cmd := &cobra.Command{
		Use:   "trigger WORKFLOW_ID",
		Short: "Queue a manual execution of a stored workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := ParsePayload(payload)
			if err != nil {
				return err
			}

			accepted, err := clientFn().Trigger(args[0], TriggerRequest{
				NodeID:  nodeID,
				Payload: data,
			})
			if err != nil {
				return err
			}

			out := outputFn()
			if out.jsonMode {
				out.JSON(accepted)
				return nil
			}
			out.Success(fmt.Sprintf("Execution %s queued (%s)", accepted.ExecutionID, accepted.Status))
			return nil
		},
	}

	cmd.Flags().StringVar(&nodeID, "node", "", "Trigger node ID (default: first trigger)")
	cmd.Flags().StringVar(&payload, "payload", "", "Trigger payload as JSON/YAML or @file")

	return cmd
}

// NewExecutionCmd создаёт группу команд для execution.
func NewExecutionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "execution",
		Aliases: []string{"exec"},
		Short:   "Inspect workflow executions",
	}

	cmd.AddCommand(
		newExecutionGetCmd(clientFn, outputFn),
		newExecutionListCmd(clientFn, outputFn),
	)

	return cmd
}

func newExecutionGetCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "get EXECUTION_ID",
		Short: "Show execution status and node states",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exec, err := clientFn().GetExecution(args[0])
			if err != nil {
				return err
			}

			out := outputFn()
			if out.jsonMode {
				out.JSON(exec)
				return nil
			}

			fmt.Fprintf(out.w, "ID:          %s\n", exec.ID)
			fmt.Fprintf(out.w, "Workflow:    %s\n", exec.WorkflowID)
			fmt.Fprintf(out.w, "Status:      %s\n", exec.Status)
			fmt.Fprintf(out.w, "Trigger:     %s\n", orDash(exec.TriggerNodeID))
			fmt.Fprintf(out.w, "Duration:    %dms\n", exec.DurationMs)
			if exec.Error != "" {
				fmt.Fprintf(out.w, "Error:       %s\n", exec.Error)
			}
			fmt.Fprintln(out.w)

			headers := []string{"NODE", "TYPE", "STATUS", "ATTEMPTS", "DETAIL"}
			rows := make([][]string, 0, len(exec.Nodes))
			for _, n := range exec.Nodes {
				detail := orDash(n.Reason)
				if n.Result != nil && n.Result.Error != "" {
					detail = n.Result.Error
				}
				rows = append(rows, []string{n.NodeID, n.Type, n.Status, strconv.Itoa(n.Attempts), detail})
			}
			out.Table(headers, rows)
			return nil
		},
	}
}

func newExecutionListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list WORKFLOW_ID",
		Short: "List recent executions of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			execs, err := clientFn().ListExecutions(args[0], limit)
			if err != nil {
				return err
			}

			headers := []string{"ID", "STATUS", "TRIGGER", "DURATION", "CREATED"}
			rows := make([][]string, 0, len(execs))
			for _, e := range execs {
				rows = append(rows, []string{
					e.ID,
					e.Status,
					orDash(e.TriggerNodeID),
					fmt.Sprintf("%dms", e.DurationMs),
					e.CreatedAt,
				})
			}

			outputFn().Print(headers, rows, execs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of executions")

	return cmd
}
