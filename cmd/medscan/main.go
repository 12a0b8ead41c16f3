// Package main provides the medscan operator CLI.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "medscan",
		Short:         "Medication label capture tools",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(parseCmd())
	root.AddCommand(projectCmd())
	root.AddCommand(fhirCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(topicsCmd())
	return root
}
