package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewTaskCmd создаёт группу команд для работы с задачами.
func NewTaskCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Submit and inspect pipeline tasks",
	}

	cmd.AddCommand(
		newTaskSubmitEntryCmd(clientFn, outputFn),
		newTaskSubmitBatchCmd(clientFn, outputFn),
		newTaskReindexCmd(clientFn, outputFn),
		newTaskRebuildCmd(clientFn, outputFn),
		newTaskShowCmd(clientFn, outputFn),
	)

	return cmd
}

func newTaskSubmitEntryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var entryID, userID, tradition string

	cmd := &cobra.Command{
		Use:   "submit-entry",
		Short: "Submit a journal entry for indexing",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			res, err := client.SubmitEntry(EntryRequest{
				EntryID:   entryID,
				UserID:    userID,
				Tradition: tradition,
			})
			if err != nil {
				return err
			}

			printSubmitResult(out, res)
			return nil
		},
	}

	cmd.Flags().StringVar(&entryID, "entry-id", "", "Journal entry ID (required)")
	cmd.Flags().StringVar(&userID, "user-id", "", "Owner user ID (required)")
	cmd.Flags().StringVar(&tradition, "tradition", "", "Tradition partition (required)")
	cmd.MarkFlagRequired("entry-id")
	cmd.MarkFlagRequired("user-id")
	cmd.MarkFlagRequired("tradition")

	return cmd
}

func newTaskSubmitBatchCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "submit-batch",
		Short: "Submit a batch of journal entries from a JSON file",
		Long: `Submit a batch of journal entries for indexing.

The file must contain a JSON array of entries:
  [{"entry_id": "...", "user_id": "...", "tradition": "..."}, ...]`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read batch file: %w", err)
			}

			var entries []EntryRequest
			if err := json.Unmarshal(data, &entries); err != nil {
				return fmt.Errorf("parse batch file: %w", err)
			}

			res, err := client.SubmitBatch(BatchRequest{Entries: entries})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Batch of %d entries submitted", len(entries)))
			printSubmitResult(out, res)
			return nil
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Path to JSON file with entries (required)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newTaskReindexCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var tradition string

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Reindex a tradition knowledge base (requires --secret)",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := clientFn().Reindex(tradition)
			if err != nil {
				return err
			}

			printSubmitResult(outputFn(), res)
			return nil
		},
	}

	cmd.Flags().StringVar(&tradition, "tradition", "", "Tradition partition (required)")
	cmd.MarkFlagRequired("tradition")

	return cmd
}

func newTaskRebuildCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var tradition string

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild a tradition index from scratch (requires --secret)",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := clientFn().Rebuild(tradition)
			if err != nil {
				return err
			}

			printSubmitResult(outputFn(), res)
			return nil
		},
	}

	cmd.Flags().StringVar(&tradition, "tradition", "", "Tradition partition (required)")
	cmd.MarkFlagRequired("tradition")

	return cmd
}

func newTaskShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show task state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			task, err := client.GetTask(args[0])
			if err != nil {
				return err
			}

			headers := []string{"ID", "TYPE", "DISPOSITION", "ATTEMPTS", "ERROR_CLASS", "LAST_ERROR"}
			rows := [][]string{{
				task.TaskID,
				task.TaskType,
				task.Disposition,
				fmt.Sprintf("%d", task.DeliveryAttempt),
				task.ErrorClass,
				task.LastError,
			}}

			out.Print(headers, rows, task)
			return nil
		},
	}
}

// printSubmitResult выводит результат постановки.
func printSubmitResult(out *Output, res *SubmitResponse) {
	status := "submitted"
	if res.Deduplicated {
		status = "deduplicated (already done)"
	}
	out.Print(
		[]string{"TASK_ID", "STATUS"},
		[][]string{{res.TaskID, status}},
		res,
	)
}
