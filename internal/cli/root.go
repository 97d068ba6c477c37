package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pkgset",
		Short: "Analyze package set composition of RPM-based repositories",
		Long: `Pkgset resolves environments and workloads against repository
snapshots, combines them into views, expands buildroots, and recommends
component owners.

Definitions (environments, workloads, labels, views, unwanted lists) are
YAML documents in a config directory; results are written as JSON and
plain text artifacts.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Setup logging
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.InfoLevel)
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	// Add subcommands
	rootCmd.AddCommand(NewAnalyzeCmd())

	return rootCmd
}
