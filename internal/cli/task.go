package cli

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/taskledger/taskledger/internal/store"
	"github.com/taskledger/taskledger/internal/task"
)

var (
	taskCmd = &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	taskCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE:  runTaskCreate,
	}

	taskListCmd = &cobra.Command{
		Use:   "list",
		Short: "List tasks in a project",
		RunE:  runTaskList,
	}

	taskGetCmd = &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskGet,
	}

	taskDeleteCmd = &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task (requires --expected-version)",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskDelete,
	}

	taskVerifyCmd = &cobra.Command{
		Use:   "verify <task-id>",
		Short: "Verify a task with a score and summary",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskVerify,
	}

	taskVersionsCmd = &cobra.Command{
		Use:   "versions <task-id>",
		Short: "Show a task's version ledger, newest first",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskVersions,
	}

	taskRevertCmd = &cobra.Command{
		Use:   "revert <task-id>",
		Short: "Restore a task from a ledger version",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaskRevert,
	}

	taskStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show per-status task counts",
		RunE:  runTaskStats,
	}
)

func init() {
	taskCreateCmd.Flags().String("name", "", "Task name (required)")
	taskCreateCmd.Flags().String("description", "", "Task description")
	taskCreateCmd.Flags().StringSlice("dep", nil, "Dependency (task id or name, repeatable)")
	taskCreateCmd.Flags().String("message", "", "Ledger message")

	taskListCmd.Flags().String("status", "", "Filter by status")
	taskListCmd.Flags().Int("limit", 0, "Page size")
	taskListCmd.Flags().Int("offset", 0, "Page offset")
	taskListCmd.Flags().Bool("json", false, "Output machine-readable JSON")

	taskGetCmd.Flags().Bool("json", false, "Output machine-readable JSON")

	taskDeleteCmd.Flags().Int64("expected-version", -1, "Expected version_number (required)")

	taskVerifyCmd.Flags().Int64("expected-version", -1, "Expected version_number (required)")
	taskVerifyCmd.Flags().Int("score", 0, "Verification score, 0-100")
	taskVerifyCmd.Flags().String("summary", "", "Verification summary")

	taskVersionsCmd.Flags().Int("limit", 0, "Page size")
	taskVersionsCmd.Flags().Int("offset", 0, "Page offset")
	taskVersionsCmd.Flags().Bool("json", false, "Output machine-readable JSON")

	taskRevertCmd.Flags().Int64("to-version", -1, "Ledger version to restore (required)")

	taskCmd.AddCommand(taskCreateCmd, taskListCmd, taskGetCmd, taskDeleteCmd,
		taskVerifyCmd, taskVersionsCmd, taskRevertCmd, taskStatsCmd)
	rootCmd.AddCommand(taskCmd)
}

func taskService() (*task.Service, *store.Store, error) {
	st, cfg, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	return task.NewService(st, newLogger(cfg)), st, nil
}

func runTaskCreate(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("--name is required")
	}
	description, _ := cmd.Flags().GetString("description")
	deps, _ := cmd.Flags().GetStringSlice("dep")
	message, _ := cmd.Flags().GetString("message")

	svc, st, err := taskService()
	if err != nil {
		return err
	}
	defer st.Close()

	created, err := svc.Create(cmd.Context(), &store.Task{
		ProjectID:    projectFlag(cmd),
		Name:         name,
		Description:  description,
		Dependencies: deps,
	}, actorFlag(cmd), message)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created task %s (version %d)\n", color.GreenString(created.ID), created.VersionNumber)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	asJSON, _ := cmd.Flags().GetBool("json")

	svc, st, err := taskService()
	if err != nil {
		return err
	}
	defer st.Close()

	list, err := svc.List(cmd.Context(), projectFlag(cmd), status, limit, offset)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), list)
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tasks.")
		return nil
	}
	for _, t := range list {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  v%-3d %-12s %s\n", t.ID, t.VersionNumber, t.Status, t.Name)
	}
	return nil
}

func runTaskGet(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	svc, st, err := taskService()
	if err != nil {
		return err
	}
	defer st.Close()

	t, err := svc.Get(cmd.Context(), projectFlag(cmd), args[0])
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), t)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Task:    %s\n", t.ID)
	fmt.Fprintf(out, "Name:    %s\n", t.Name)
	fmt.Fprintf(out, "Status:  %s\n", t.Status)
	fmt.Fprintf(out, "Version: %d\n", t.VersionNumber)
	if len(t.Dependencies) > 0 {
		fmt.Fprintf(out, "Depends: %s\n", strings.Join(t.Dependencies, ", "))
	}
	if t.Summary != "" {
		fmt.Fprintf(out, "Summary: %s\n", t.Summary)
	}
	return nil
}

func runTaskDelete(cmd *cobra.Command, args []string) error {
	expected, _ := cmd.Flags().GetInt64("expected-version")
	if expected < 0 {
		return fmt.Errorf("--expected-version is required")
	}
	svc, st, err := taskService()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := svc.Delete(cmd.Context(), projectFlag(cmd), args[0], expected, actorFlag(cmd), ""); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted task %s\n", args[0])
	return nil
}

func runTaskVerify(cmd *cobra.Command, args []string) error {
	expected, _ := cmd.Flags().GetInt64("expected-version")
	if expected < 0 {
		return fmt.Errorf("--expected-version is required")
	}
	score, _ := cmd.Flags().GetInt("score")
	summary, _ := cmd.Flags().GetString("summary")

	svc, st, err := taskService()
	if err != nil {
		return err
	}
	defer st.Close()

	result, err := svc.Verify(cmd.Context(), projectFlag(cmd), args[0], expected, score, summary, actorFlag(cmd))
	if err != nil {
		return err
	}
	if result.Completed {
		fmt.Fprintf(cmd.OutOrStdout(), "Task %s %s (score %d)\n", args[0], color.GreenString("completed"), score)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Task %s %s (score %d, threshold %d)\n", args[0], color.YellowString("not completed"), score, task.VerifyThreshold)
	}
	return nil
}

func runTaskVersions(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	asJSON, _ := cmd.Flags().GetBool("json")

	svc, st, err := taskService()
	if err != nil {
		return err
	}
	defer st.Close()

	versions, err := svc.Versions(cmd.Context(), projectFlag(cmd), args[0], limit, offset)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), versions)
	}
	if len(versions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No versions.")
		return nil
	}
	for _, v := range versions {
		msg := v.Message
		if msg != "" {
			msg = "  " + msg
		}
		fmt.Fprintf(cmd.OutOrStdout(), "v%-4d %-9s %-12s %s%s\n", v.Seq, v.Operation, v.Actor, v.CreatedAt.Format("2006-01-02 15:04:05"), msg)
	}
	return nil
}

func runTaskRevert(cmd *cobra.Command, args []string) error {
	toVersion, _ := cmd.Flags().GetInt64("to-version")
	if toVersion < 0 {
		return fmt.Errorf("--to-version is required")
	}
	svc, st, err := taskService()
	if err != nil {
		return err
	}
	defer st.Close()

	reverted, err := svc.Revert(cmd.Context(), projectFlag(cmd), args[0], toVersion, actorFlag(cmd))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reverted task %s to version %d (now at version %d)\n", args[0], toVersion, reverted.VersionNumber)
	return nil
}

func runTaskStats(cmd *cobra.Command, args []string) error {
	svc, st, err := taskService()
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := svc.Statistics(cmd.Context(), projectFlag(cmd))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Total:       %d\n", stats["total"])
	fmt.Fprintf(out, "Pending:     %d\n", stats[store.TaskStatusPending])
	fmt.Fprintf(out, "In progress: %d\n", stats[store.TaskStatusInProgress])
	fmt.Fprintf(out, "Completed:   %d\n", stats[store.TaskStatusCompleted])
	fmt.Fprintf(out, "Failed:      %d\n", stats[store.TaskStatusFailed])
	fmt.Fprintf(out, "Cancelled:   %d\n", stats[store.TaskStatusCancelled])
	return nil
}
