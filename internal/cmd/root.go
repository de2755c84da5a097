// Package cmd implements the ponderd CLI: operate an indexing engine
// instance against a caller-supplied schema.Descriptor and engine.Registry
// (SPEC_FULL.md §6).
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ponderengine/core/internal/engine"
)

var cfgPath string
var schemaPath string

// NewRootCmd builds the ponderd command tree. registry holds every handler
// the calling deployment has registered; the CLI never constructs handlers
// itself (SPEC_FULL.md §6: the handler registry is consumed, not compiled).
func NewRootCmd(registry *engine.Registry) *cobra.Command {
	root := &cobra.Command{
		Use:   "ponderd",
		Short: "Blockchain indexing engine operations CLI",
	}
	cobra.EnableCommandSorting = false

	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "Path to config file")
	root.PersistentFlags().StringVar(&schemaPath, "schema", "schema.json", "Path to compiled schema descriptor")

	root.AddCommand(
		newVersionCmd(),
		newValidateCmd(),
		newRunCmd(registry),
		newStateCmd(),
		newRevertCmd(),
	)
	return root
}

// Execute runs the ponderd command tree for the given handler registry.
func Execute(registry *engine.Registry) error {
	root := NewRootCmd(registry)
	root.SilenceUsage = true
	root.SilenceErrors = true

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
