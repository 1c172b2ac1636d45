package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/shaiso/Nodeflow/internal/domain"
	"github.com/shaiso/Nodeflow/internal/engine"
	"github.com/shaiso/Nodeflow/internal/executors"
	"github.com/shaiso/Nodeflow/internal/orchestrator"
	"github.com/shaiso/Nodeflow/internal/services"
)

// NewValidateCmd создаёт команду проверки определения без запуска.
func NewValidateCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a workflow definition (JSON or YAML)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := LoadDefinition(args[0])
			if err != nil {
				return err
			}

			validator := engine.NewValidator(executors.DefaultRegistry(executors.Deps{}))
			res := validator.Validate(def)

			out := outputFn()
			if out.jsonMode {
				out.JSON(validationReport(res))
			} else if res.IsValid {
				out.Success(fmt.Sprintf("Workflow %s is valid (%d nodes, %d connections)",
					def.ID, len(def.Nodes), len(def.Connections)))
			} else {
				headers := []string{"NODE", "FIELD", "MESSAGE"}
				rows := make([][]string, 0, len(res.Errors))
				for _, e := range res.Errors {
					rows = append(rows, []string{orDash(e.NodeID), orDash(e.Field), e.Message})
				}
				out.Table(headers, rows)
			}

			if !res.IsValid {
				return fmt.Errorf("workflow %s is invalid: %d error(s)", def.ID, len(res.Errors))
			}
			return nil
		},
	}
}

// NewRunLocalCmd создаёт команду локального запуска workflow
// на in-memory сервисах.
func NewRunLocalCmd(outputFn func() *Output) *cobra.Command {
	var (
		nodeID  string
		payload string
		timeout time.Duration
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Execute a workflow locally with in-memory services",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := LoadDefinition(args[0])
			if err != nil {
				return err
			}
			data, err := ParsePayload(payload)
			if err != nil {
				return err
			}
			if nodeID == "" {
				nodeID = firstTrigger(def)
			}

			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

			eng, err := orchestrator.New(orchestrator.Config{
				Registry: executors.DefaultRegistry(executors.Deps{Logger: logger}),
				Services: services.NewMemoryBundle(),
				Logger:   logger,
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			event := domain.NewTriggerEvent(def.ID, nodeID, domain.SourceManual, data)
			exec, runErr := eng.Execute(ctx, def, event)
			if exec == nil {
				return runErr
			}

			printExecution(outputFn(), exec)
			if exec.Status != domain.RunStatusCompleted {
				return fmt.Errorf("execution %s %s: %s", exec.ID, strings.ToLower(string(exec.Status)), exec.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&nodeID, "node", "", "Trigger node ID (default: first trigger)")
	cmd.Flags().StringVar(&payload, "payload", "", "Trigger payload as JSON/YAML or @file")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Abort the run after this duration")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log node execution to stderr")

	return cmd
}

// NewExecutorsCmd создаёт команду вывода встроенных типов узлов.
func NewExecutorsCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "executors",
		Short: "List built-in node types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			metas := executors.DefaultRegistry(executors.Deps{}).All()

			headers := []string{"TYPE", "CATEGORY", "INPUTS", "OUTPUTS", "ASYNC"}
			rows := make([][]string, 0, len(metas))
			for _, m := range metas {
				rows = append(rows, []string{
					m.Type,
					string(m.Category),
					limitString(m.MaxInputs),
					limitString(m.MaxOutputs),
					strconv.FormatBool(m.IsAsync),
				})
			}

			outputFn().Print(headers, rows, metas)
			return nil
		},
	}
}

type validationIssue struct {
	NodeID  string `json:"node_id,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func validationReport(res *engine.ValidationResult) map[string]any {
	issues := make([]validationIssue, 0, len(res.Errors))
	for _, e := range res.Errors {
		issues = append(issues, validationIssue{NodeID: e.NodeID, Field: e.Field, Message: e.Message})
	}
	return map[string]any{"is_valid": res.IsValid, "errors": issues}
}

// printExecution выводит итог run: статус и таблицу узлов.
func printExecution(out *Output, exec *domain.Execution) {
	if out.jsonMode {
		out.JSON(exec)
		return
	}

	fmt.Fprintf(out.w, "Execution %s: %s (%s)\n\n", exec.ID, exec.Status, exec.Duration().Round(time.Millisecond))

	headers := []string{"NODE", "TYPE", "STATUS", "ATTEMPTS", "DETAIL"}
	nodes := exec.SortedNodes()
	rows := make([][]string, 0, len(nodes))
	for _, n := range nodes {
		rows = append(rows, []string{
			n.NodeID,
			n.Type,
			string(n.Status),
			strconv.Itoa(n.Attempts),
			nodeDetail(n),
		})
	}
	out.Table(headers, rows)
}

func nodeDetail(n *domain.NodeState) string {
	switch {
	case n.Reason != "":
		return n.Reason
	case n.Result != nil && n.Result.Error != "":
		return n.Result.Error
	case n.Result != nil && n.Result.Data != nil:
		return truncate(engine.Stringify(n.Result.Data), 60)
	}
	return "-"
}

func firstTrigger(def *domain.WorkflowDefinition) string {
	reg := executors.DefaultRegistry(executors.Deps{})
	for _, n := range def.Nodes {
		if m, ok := reg.Metadata(n.Type); ok && m.Category == domain.CategoryTrigger {
			return n.ID
		}
	}
	return ""
}

func limitString(n int) string {
	if n < 0 {
		return "*"
	}
	return strconv.Itoa(n)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	n = max(n-3, 0)
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
