package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/taskledger/taskledger/internal/store"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query the audit log",
	RunE:  runAudit,
}

func init() {
	auditCmd.Flags().String("entity-type", "", "Filter by entity type (task, memory, project)")
	auditCmd.Flags().String("entity", "", "Filter by entity id")
	auditCmd.Flags().String("operation", "", "Filter by operation (create, update, delete, rollback)")
	auditCmd.Flags().String("outcome", "", "Filter by outcome (success, failure)")
	auditCmd.Flags().String("by", "", "Filter by actor")
	auditCmd.Flags().Int("limit", 0, "Page size")
	auditCmd.Flags().Int("offset", 0, "Page offset")
	auditCmd.Flags().Bool("json", false, "Output machine-readable JSON")
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	entityType, _ := cmd.Flags().GetString("entity-type")
	entityID, _ := cmd.Flags().GetString("entity")
	operation, _ := cmd.Flags().GetString("operation")
	outcome, _ := cmd.Flags().GetString("outcome")
	by, _ := cmd.Flags().GetString("by")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	asJSON, _ := cmd.Flags().GetBool("json")

	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	entries, err := st.QueryAudit(cmd.Context(), projectFlag(cmd), store.AuditFilter{
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  operation,
		Actor:      by,
		Outcome:    outcome,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No audit entries.")
		return nil
	}
	for _, e := range entries {
		colored := color.GreenString(e.Outcome)
		if e.Outcome == store.OutcomeFailure {
			colored = color.RedString(e.Outcome)
		}
		line := fmt.Sprintf("%s  %-7s %-9s %-8s %s",
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.EntityType, e.Operation, colored, e.EntityID)
		if e.Reason != "" {
			line += "  " + e.Reason
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}
	return nil
}
