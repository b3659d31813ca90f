package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	version = "v0.1.0" // Overwritten at build time
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "workflowctl",
		Short: "Drive the domain generation workflow from a terminal",
		Long: `workflowctl runs the stage-gated generation workflow locally: project setup,
domain analysis, business context, ASCII diagram, OpenAPI and security
specifications. State is persisted per scope under --state-dir, so every
command continues where the previous one stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Disable automatic 'completion' command added by cobra
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	opts.bind(rootCmd)

	rootCmd.AddCommand(
		newProjectCmd(opts),
		newSubmitCmd(opts),
		newImageCmd(opts),
		newContextsCmd(opts),
		newDiagramCmd(opts),
		newOpenAPICmd(opts),
		newSecurityCmd(opts),
		newStageCmd(opts),
		newEditCmd(opts),
		newStatusCmd(opts),
		newResetCmd(opts),
		newTokenCmd(opts),
		newVersionCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "workflowctl version %s\n", version)
		},
	}
}
