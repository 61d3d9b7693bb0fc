package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

// RootCmd is the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:   "blockpack",
	Short: "Blockpack resource container tool",
	Long: `Blockpack inspects and verifies load-in-place resource containers.
A container holds an object graph whose on-disk layout mirrors its
in-memory layout: compressed packs, a pointer fix-up table, and a
small header.`,
}

// Execute executes the root command.
func Execute() error {
	return RootCmd.Execute()
}

// ExecuteWithContext executes the root command with the given context.
func ExecuteWithContext(ctx context.Context) error {
	RootCmd.SetContext(ctx)
	return RootCmd.Execute()
}
