// Command tickline boots a tickline agent process: it loads a YAML config,
// wires an App per configured agent definition to the requested model
// adapter, and serves them behind a Gateway over the configured transports.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tickline",
		Short: "tickline runs conversational agent sessions behind a transport-agnostic gateway",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newRegistryCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the tickline version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

// version is overridden at build time via -ldflags.
var version = "dev"
