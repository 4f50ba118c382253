package client

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/rzbill/kvbridge/internal/checkpoint"
	"github.com/rzbill/kvbridge/internal/config"
	"github.com/rzbill/kvbridge/internal/mutation"
	"github.com/rzbill/kvbridge/internal/runtime"
	pebblestore "github.com/rzbill/kvbridge/internal/storage/pebble"
)

// ResetRunID marks checkpoints written by `checkpoint reset`.
const ResetRunID = "checkpoint-reset"

// NewCheckpointCommand constructs the `checkpoint` group.
func NewCheckpointCommand(cfgFn ConfigFunc) *cobra.Command {
	cmd := &cobra.Command{Use: "checkpoint", Short: "Inspect or reset the replication checkpoint"}
	cmd.AddCommand(newCheckpointShowCommand(cfgFn), newCheckpointResetCommand(cfgFn))
	return cmd
}

func newCheckpointShowCommand(cfgFn ConfigFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the stored checkpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cfgFn(cmd)
			if err != nil {
				return err
			}
			store, closeFn, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			cp, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			if cp == nil {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "no checkpoint; replication starts at the first retained record")
				return err
			}
			return printJSON(cmd, cp)
		},
	}
}

func newCheckpointResetCommand(cfgFn ConfigFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Overwrite the checkpoint; the bridge resumes after --to (bridge must be stopped)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("to") {
				return errors.New("--to is required")
			}
			to, _ := cmd.Flags().GetUint64("to")
			confirm, _ := cmd.Flags().GetBool("confirm")
			if !confirm {
				return errors.New("checkpoint reset can skip or replay records; pass --confirm")
			}
			cfg, err := cfgFn(cmd)
			if err != nil {
				return err
			}
			store, closeFn, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			cp := checkpoint.Checkpoint{Position: mutation.Position(to), AppliedAt: time.Now().UTC(), RunID: ResetRunID}
			if err := store.Reset(cmd.Context(), cp); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "checkpoint reset to %d\n", to)
			return err
		},
	}
	cmd.Flags().Uint64("to", 0, "Position to store; replication resumes at the record after it")
	cmd.Flags().Bool("confirm", false, "Confirm the reset")
	return cmd
}

// openStore opens only what the checkpoint backend needs, so file and
// postgres checkpoints can be read while the bridge holds the database.
func openStore(ctx context.Context, cfg config.Config) (checkpoint.Store, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if cfg.Checkpoint.Backend != "pebble" {
		store, err := runtime.OpenCheckpointStore(ctx, cfg, nil)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
	mode, err := pebblestore.ParseFsyncMode(cfg.Fsync)
	if err != nil {
		return nil, nil, err
	}
	db, err := pebblestore.Open(pebblestore.Options{DataDir: runtime.StoreDir(cfg), Fsync: mode})
	if err != nil {
		return nil, nil, err
	}
	store, err := runtime.OpenCheckpointStore(ctx, cfg, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return store, func() {
		_ = store.Close()
		_ = db.Close()
	}, nil
}
