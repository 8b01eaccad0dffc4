package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "mcp-authserver",
		Short:         "OAuth 2.1 authorization server protecting an MCP endpoint",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.Version = version
	root.SetVersionTemplate(fmt.Sprintf("mcp-authserver %s (%s)\n", version, commit))

	root.AddCommand(newServeCommand())
	root.AddCommand(newHashPasswordCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mcp-authserver %s (%s)\n", version, commit)
		},
	}
}
