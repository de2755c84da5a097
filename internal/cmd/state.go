package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	ckpt "github.com/ponderengine/core/internal/checkpoint"
	"github.com/ponderengine/core/internal/config"
	"github.com/ponderengine/core/internal/reorgstore"
	"github.com/ponderengine/core/internal/schema"
)

const defaultNamespace = "default"

func newStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show the safe/latest checkpoint and the block lag between them",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

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

			safe, latest, ok, err := store.GetCheckpoints(cmd.Context(), defaultNamespace)
			if err != nil {
				return fmt.Errorf("read checkpoints: %w", err)
			}
			if !ok {
				fmt.Fprintln(out, "no checkpoint recorded yet (first run has not committed)")
				return nil
			}

			safeFields, err := ckpt.Decode(safe)
			if err != nil {
				return fmt.Errorf("decode safe checkpoint: %w", err)
			}
			latestFields, err := ckpt.Decode(latest)
			if err != nil {
				return fmt.Errorf("decode latest checkpoint: %w", err)
			}

			fmt.Fprintf(out, "safe_checkpoint:   chain=%d block=%d timestamp=%d\n",
				safeFields.ChainID, safeFields.BlockNumber, safeFields.BlockTimestamp)
			fmt.Fprintf(out, "latest_checkpoint: chain=%d block=%d timestamp=%d\n",
				latestFields.ChainID, latestFields.BlockNumber, latestFields.BlockTimestamp)
			if latestFields.BlockNumber > safeFields.BlockNumber {
				fmt.Fprintf(out, "lag: %d blocks unconfirmed ahead of the safe checkpoint\n",
					latestFields.BlockNumber-safeFields.BlockNumber)
			}
			return nil
		},
	}
}
