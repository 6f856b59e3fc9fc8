// Package main provides the entry point for the deltacov CLI tool.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/deltacov/cmd/deltacov/commands"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "deltacov",
		Short: "Differential code coverage reports",
		Long: `Deltacov renders a differential code-coverage report as a navigable
static HTML site from coverage trace files, classifying every line, branch,
and function against the code change and the baseline coverage.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewReportCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		if !errors.Is(err, commands.ErrReportFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}

		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "deltacov %s\n", version)
		},
	}
}
