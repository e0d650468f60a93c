package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/taskledger/taskledger/internal/memory"
	"github.com/taskledger/taskledger/internal/store"
)

var (
	memoryCmd = &cobra.Command{
		Use:   "memory",
		Short: "Manage memories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	memoryCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Create a memory",
		RunE:  runMemoryCreate,
	}

	memoryListCmd = &cobra.Command{
		Use:   "list",
		Short: "List memories in a project",
		RunE:  runMemoryList,
	}

	memoryGetCmd = &cobra.Command{
		Use:   "get <memory-id>",
		Short: "Show one memory",
		Args:  cobra.ExactArgs(1),
		RunE:  runMemoryGet,
	}

	memoryDeleteCmd = &cobra.Command{
		Use:   "delete <memory-id>",
		Short: "Delete a memory (requires --expected-version)",
		Args:  cobra.ExactArgs(1),
		RunE:  runMemoryDelete,
	}

	memoryRevertCmd = &cobra.Command{
		Use:   "revert <memory-id>",
		Short: "Restore a memory from a ledger version",
		Args:  cobra.ExactArgs(1),
		RunE:  runMemoryRevert,
	}
)

func init() {
	memoryCreateCmd.Flags().String("title", "", "Memory title (required)")
	memoryCreateCmd.Flags().String("content", "", "Memory content")
	memoryCreateCmd.Flags().String("task", "", "Task id this memory refers to")
	memoryCreateCmd.Flags().StringSlice("tag", nil, "Tag (repeatable)")

	memoryListCmd.Flags().String("task", "", "Filter by task id")
	memoryListCmd.Flags().StringSlice("tag", nil, "Filter by tag, any-match (repeatable)")
	memoryListCmd.Flags().String("query", "", "Substring match over title and content")
	memoryListCmd.Flags().Int("limit", 0, "Page size")
	memoryListCmd.Flags().Int("offset", 0, "Page offset")
	memoryListCmd.Flags().Bool("json", false, "Output machine-readable JSON")

	memoryGetCmd.Flags().Bool("json", false, "Output machine-readable JSON")

	memoryDeleteCmd.Flags().Int64("expected-version", -1, "Expected version_number (required)")

	memoryRevertCmd.Flags().Int64("to-version", -1, "Ledger version to restore (required)")

	memoryCmd.AddCommand(memoryCreateCmd, memoryListCmd, memoryGetCmd, memoryDeleteCmd, memoryRevertCmd)
	rootCmd.AddCommand(memoryCmd)
}

func memoryService() (*memory.Service, *store.Store, error) {
	st, cfg, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	return memory.NewService(st, newLogger(cfg)), st, nil
}

func runMemoryCreate(cmd *cobra.Command, args []string) error {
	title, _ := cmd.Flags().GetString("title")
	if title == "" {
		return fmt.Errorf("--title is required")
	}
	content, _ := cmd.Flags().GetString("content")
	taskID, _ := cmd.Flags().GetString("task")
	tags, _ := cmd.Flags().GetStringSlice("tag")

	svc, st, err := memoryService()
	if err != nil {
		return err
	}
	defer st.Close()

	created, err := svc.Create(cmd.Context(), &store.Memory{
		ProjectID: projectFlag(cmd),
		TaskID:    taskID,
		Title:     title,
		Content:   content,
		Tags:      tags,
	}, actorFlag(cmd), "")
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created memory %s (version %d)\n", color.GreenString(created.ID), created.VersionNumber)
	return nil
}

func runMemoryList(cmd *cobra.Command, args []string) error {
	taskID, _ := cmd.Flags().GetString("task")
	tags, _ := cmd.Flags().GetStringSlice("tag")
	query, _ := cmd.Flags().GetString("query")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	asJSON, _ := cmd.Flags().GetBool("json")

	svc, st, err := memoryService()
	if err != nil {
		return err
	}
	defer st.Close()

	list, err := svc.List(cmd.Context(), projectFlag(cmd), store.MemoryFilter{
		TaskID: taskID,
		Tags:   tags,
		Query:  query,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), list)
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No memories.")
		return nil
	}
	for _, m := range list {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  v%-3d %s\n", m.ID, m.VersionNumber, m.Title)
	}
	return nil
}

func runMemoryGet(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	svc, st, err := memoryService()
	if err != nil {
		return err
	}
	defer st.Close()

	m, err := svc.Get(cmd.Context(), projectFlag(cmd), args[0])
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), m)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Memory:  %s\n", m.ID)
	fmt.Fprintf(out, "Title:   %s\n", m.Title)
	fmt.Fprintf(out, "Version: %d\n", m.VersionNumber)
	if m.TaskID != "" {
		fmt.Fprintf(out, "Task:    %s\n", m.TaskID)
	}
	if m.Content != "" {
		fmt.Fprintf(out, "\n%s\n", m.Content)
	}
	return nil
}

func runMemoryDelete(cmd *cobra.Command, args []string) error {
	expected, _ := cmd.Flags().GetInt64("expected-version")
	if expected < 0 {
		return fmt.Errorf("--expected-version is required")
	}
	svc, st, err := memoryService()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := svc.Delete(cmd.Context(), projectFlag(cmd), args[0], expected, actorFlag(cmd), ""); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted memory %s\n", args[0])
	return nil
}

func runMemoryRevert(cmd *cobra.Command, args []string) error {
	toVersion, _ := cmd.Flags().GetInt64("to-version")
	if toVersion < 0 {
		return fmt.Errorf("--to-version is required")
	}
	svc, st, err := memoryService()
	if err != nil {
		return err
	}
	defer st.Close()

	reverted, err := svc.Revert(cmd.Context(), projectFlag(cmd), args[0], toVersion, actorFlag(cmd))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reverted memory %s to version %d (now at version %d)\n", args[0], toVersion, reverted.VersionNumber)
	return nil
}
