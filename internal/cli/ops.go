package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewDLQCmd создаёт команды для разбора dead letters.
func NewDLQCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect the dead letter store",
	}

	cmd.AddCommand(newDLQListCmd(clientFn, outputFn))
	return cmd
}

func newDLQListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent dead letters",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			letters, err := client.ListDeadLetters(limit)
			if err != nil {
				return err
			}

			headers := []string{"TASK_ID", "TYPE", "ERROR_CLASS", "ATTEMPTS", "ESCALATED", "LAST_ERROR"}
			rows := make([][]string, len(letters))
			for i, dl := range letters {
				rows[i] = []string{
					dl.TaskID,
					dl.TaskType,
					dl.ErrorClass,
					fmt.Sprintf("%d", dl.Attempts),
					dl.EscalatedAt,
					dl.LastError,
				}
			}

			out.Print(headers, rows, letters)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of dead letters")
	return cmd
}

// NewHealthCmd создаёт команду просмотра health-статуса.
func NewHealthCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show the latest pipeline health probe",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			health, err := client.Health()
			if err != nil {
				return err
			}

			headers := []string{"COMPONENT", "REACHABLE", "LATENCY_MS", "ERROR"}
			var rows [][]string
			for name, comp := range health.Components {
				rows = append(rows, []string{
					name,
					fmt.Sprintf("%t", comp.Reachable),
					fmt.Sprintf("%d", comp.LatencyMS),
					comp.Error,
				})
			}

			out.Success(fmt.Sprintf("Overall: %s (checked at %s)", health.Overall, health.CheckedAt))
			out.Print(headers, rows, health)
			return nil
		},
	}
}
