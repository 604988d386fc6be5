// Package handlers wires the CLI commands.
package handlers

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tangent",
		Short: "Tangent is a proactive serendipitous retrieval engine.",
		Long: `Tangent watches what you are reading and surfaces related but
different knowledge: tangential concepts from your own notes, graph
neighbors of what you already know, and deliberately orthogonal web
discoveries. It never echoes the thing already on your screen.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .tangent.yaml)")

	rootCmd.AddCommand(NewServeCmd())

	return rootCmd
}

// Execute runs the root command.
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
