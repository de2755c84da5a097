package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ponderengine/core/internal/config"
	"github.com/ponderengine/core/internal/engine"
	"github.com/ponderengine/core/internal/reorgstore"
	"github.com/ponderengine/core/internal/schema"
)

func newRevertCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "revert",
		Short: "Manually revert every user table to the state as of a checkpoint",
		Long: "Reverts storage to the last event with checkpoint <= --to, without a " +
			"live reorg driving it. Useful for recovering a corrupted deployment.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if to == "" {
				return fmt.Errorf("--to is required")
			}

			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			desc, err := schema.LoadDescriptor(schemaPath)
			if err != nil {
				return fmt.Errorf("load schema: %w", err)
			}

			store, err := reorgstore.Open(cfg.Global.Database, desc)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer store.Close()

			exec := engine.NewExecutor(store, engine.NewRegistry(), nil)
			rows, err := exec.RevertTo(cmd.Context(), defaultNamespace, to)
			if err != nil {
				return fmt.Errorf("revert: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reverted %d row(s) to checkpoint <= %s\n", rows, to)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Checkpoint to revert to (inclusive)")
	return cmd
}
