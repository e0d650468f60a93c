package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/taskledger/taskledger/internal/cli.version=1.2.3"
	version = "0.3.0"
	logo    = "\n" +
		"  _____         _    _              _\n" +
		" |_   _|_ _ ___| | _| |    ___  __| | __ _  ___ _ __\n" +
		"   | |/ _` / __| |/ / |   / _ \\/ _` |/ _` |/ _ \\ '__|\n" +
		"   | | (_| \\__ \\   <| |__|  __/ (_| | (_| |  __/ |\n" +
		"   |_|\\__,_|___/_|\\_\\_____\\___|\\__,_|\\__, |\\___|_|\n" +
		"                                     |___/\n"
)

var rootCmd = &cobra.Command{
	Use:   "taskledger",
	Short: "TaskLedger - versioned task store",
	Long:  color.CyanString(logo) + "\nA multi-tenant task store with dependency validation,\nan append-only version ledger and an audit log.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "taskledger %s\n", version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("project", "", "Project partition (default \"default\")")
	rootCmd.PersistentFlags().String("actor", "", "Actor recorded in the ledger and audit log")
	rootCmd.AddCommand(versionCmd)
}
