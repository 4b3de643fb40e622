// Sutra CLI — инструмент командной строки для постановки задач и
// операторских проверок через HTTP API.
//
// Использование:
//
//	sutra [--api-url URL] [--secret SECRET] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	task    Постановка и просмотр задач
//	dlq     Разбор dead letters
//	health  Статус pipeline
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Sutra/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var secret string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "sutra",
		Short:         "Sutra CLI — journal indexing pipeline tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().StringVar(&secret, "secret", os.Getenv("REINDEX_SECRET"), "Reindex secret for privileged operations")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL, secret) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewTaskCmd(clientFn, outputFn),
		cli.NewDLQCmd(clientFn, outputFn),
		cli.NewHealthCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
