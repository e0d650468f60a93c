package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	projectCmd = &cobra.Command{
		Use:   "project",
		Short: "Manage project partitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	projectListCmd = &cobra.Command{
		Use:   "list",
		Short: "List known projects",
		RunE:  runProjectList,
	}

	projectDeleteCmd = &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project and its contents (the audit log survives)",
		Args:  cobra.ExactArgs(1),
		RunE:  runProjectDelete,
	}
)

func init() {
	projectListCmd.Flags().Bool("json", false, "Output machine-readable JSON")
	projectDeleteCmd.Flags().Bool("yes", false, "Skip the confirmation prompt")
	projectCmd.AddCommand(projectListCmd, projectDeleteCmd)
	rootCmd.AddCommand(projectCmd)
}

func runProjectList(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	projects, err := st.ListProjects(cmd.Context())
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), projects)
	}
	if len(projects) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No projects.")
		return nil
	}
	for _, p := range projects {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  created %s\n", p.ID, p.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runProjectDelete(cmd *cobra.Command, args []string) error {
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		fmt.Fprintf(cmd.OutOrStdout(), "Delete project %q and everything in it? Re-run with --yes to confirm.\n", args[0])
		return nil
	}
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	del, err := st.DeleteProject(cmd.Context(), args[0], actorFlag(cmd))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted project %s: %d tasks, %d memories, %d snapshots\n",
		del.ProjectID, del.TasksDeleted, del.MemoriesDeleted, del.SnapshotsDeleted)
	return nil
}
