package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/magpie/pkg/manager"
	"github.com/cuemby/magpie/pkg/types"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage collection tasks",
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		tasks, err := apiClient().ListTasks(context.Background())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATUS\tMODE\tCREATED BY")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				t.ID, t.Name, t.Type, t.Status, t.TriggerMode, t.CreatedBy)
		}
		return w.Flush()
	},
}

var taskGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show one task as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := apiClient().GetTask(context.Background(), args[0])
		if err != nil {
			return err
		}
		return printJSON(task)
	},
}

var taskCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a task",
	Long: `Create a collection task. An auto task needs a schedule, passed as
a JSON spec:

  magpie task create nightly-crawl --type container-crawl \
    --url https://example.com/catalog --mode auto \
    --schedule '{"type":"daily","config":{"time":"03:00:00"}}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskType, _ := cmd.Flags().GetString("type")
		baseURL, _ := cmd.Flags().GetString("url")
		mode, _ := cmd.Flags().GetString("mode")
		description, _ := cmd.Flags().GetString("description")
		login, _ := cmd.Flags().GetBool("login")
		scheduleJSON, _ := cmd.Flags().GetString("schedule")

		req := &manager.CreateTaskRequest{
			Name:          args[0],
			Type:          types.TaskType(taskType),
			TriggerMode:   types.TriggerMode(mode),
			BaseURL:       baseURL,
			LoginRequired: login,
			Description:   description,
		}
		if scheduleJSON != "" {
			var spec manager.ScheduleSpec
			if err := json.Unmarshal([]byte(scheduleJSON), &spec); err != nil {
				return fmt.Errorf("invalid --schedule JSON: %w", err)
			}
			req.Schedule = &spec
		}

		task, err := apiClient().CreateTask(context.Background(), req)
		if err != nil {
			return err
		}
		fmt.Printf("Task %s created (%s)\n", task.Name, task.ID)
		return nil
	},
}

var taskExecuteCmd = &cobra.Command{
	Use:   "execute ID",
	Short: "Run a task now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		exec, err := apiClient().ExecuteTask(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Execution %s created (%s)\n", exec.Name, exec.ID)
		return nil
	},
}

var taskStopCmd = &cobra.Command{
	Use:   "stop ID",
	Short: "Stop a task's live execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		exec, err := apiClient().StopTask(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Execution %s is %s\n", exec.ID, exec.Status)
		return nil
	},
}

var taskActivateCmd = &cobra.Command{
	Use:   "activate ID",
	Short: "Return a paused task to active",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := apiClient().ActivateTask(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Task %s is %s\n", task.Name, task.Status)
		return nil
	},
}

var taskPauseCmd = &cobra.Command{
	Use:   "pause ID",
	Short: "Take a task out of rotation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		task, err := apiClient().PauseTask(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Task %s is %s\n", task.Name, task.Status)
		return nil
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Soft-delete a task and its schedules",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiClient().DeleteTask(context.Background(), args[0]); err != nil {
			return err
		}
		fmt.Println("Task deleted")
		return nil
	},
}

func init() {
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskGetCmd)
	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskExecuteCmd)
	taskCmd.AddCommand(taskStopCmd)
	taskCmd.AddCommand(taskActivateCmd)
	taskCmd.AddCommand(taskPauseCmd)
	taskCmd.AddCommand(taskDeleteCmd)

	taskCreateCmd.Flags().String("type", string(types.TaskTypeContainerCrawl), "Task type (container-crawl, api-pull, db-extract)")
	taskCreateCmd.Flags().String("url", "", "Base URL to collect from")
	taskCreateCmd.Flags().String("mode", string(types.TriggerManual), "Trigger mode (manual, auto)")
	taskCreateCmd.Flags().String("description", "", "Free-form description")
	taskCreateCmd.Flags().Bool("login", false, "Collection requires a login")
	taskCreateCmd.Flags().String("schedule", "", "Schedule spec as JSON (required for auto)")
	_ = taskCreateCmd.MarkFlagRequired("url")
}

// Execution commands
var executionCmd = &cobra.Command{
	Use:   "executions",
	Short: "Inspect executions",
}

var executionListCmd = &cobra.Command{
	Use:   "list TASK_ID",
	Short: "List a task's executions, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		execs, err := apiClient().ListExecutions(context.Background(), args[0], limit, offset)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tSTARTED\tENDED\tPORT")
		for _, e := range execs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n",
				e.ID, e.Name, e.Status, formatTime(e.StartedAt), formatTime(e.EndedAt), e.HostPort)
		}
		return w.Flush()
	},
}

var executionGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show one execution as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		exec, err := apiClient().GetExecution(context.Background(), args[0])
		if err != nil {
			return err
		}
		return printJSON(exec)
	},
}

var executionLogsCmd = &cobra.Command{
	Use:   "logs ID",
	Short: "Tail an execution's container log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tail, _ := cmd.Flags().GetInt("tail")
		logs, err := apiClient().ExecutionLogs(context.Background(), args[0], tail)
		if err != nil {
			return err
		}
		fmt.Print(logs)
		return nil
	},
}

func init() {
	executionCmd.AddCommand(executionListCmd)
	executionCmd.AddCommand(executionGetCmd)
	executionCmd.AddCommand(executionLogsCmd)

	executionListCmd.Flags().Int("limit", 50, "Maximum rows to return")
	executionListCmd.Flags().Int("offset", 0, "Rows to skip")
	executionLogsCmd.Flags().Int("tail", 200, "Lines from the end of the log")
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
