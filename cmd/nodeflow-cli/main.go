// Nodeflow CLI — локальная проверка и запуск workflow,
// ручные запуски и просмотр execution через HTTP API.
//
// Использование:
//
//	nodeflow [--api-url URL] [--json] <command> [flags]
//
// Команды:
//
//	validate   Проверка определения (JSON/YAML)
//	run        Локальный запуск на in-memory сервисах
//	executors  Встроенные типы узлов
//	trigger    Ручной запуск через API
//	execution  Просмотр execution
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Nodeflow/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "nodeflow",
		Short:         "Nodeflow CLI — workflow automation engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", envOr("NODEFLOW_API_URL", "http://localhost:8080"), "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewValidateCmd(outputFn),
		cli.NewRunLocalCmd(outputFn),
		cli.NewExecutorsCmd(outputFn),
		cli.NewTriggerCmd(clientFn, outputFn),
		cli.NewExecutionCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
