package client

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzbill/kvbridge/internal/bridge"
	"github.com/rzbill/kvbridge/internal/config"
	"github.com/rzbill/kvbridge/internal/mutation"
	"github.com/rzbill/kvbridge/internal/runtime"
)

// NewStatusCommand constructs `status`, which prints the running bridge's
// status as JSON.
func NewStatusCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the running bridge's status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var st bridge.Status
			if err := getJSON(cmd.Context(), baseURL()+"/v1/status", &st); err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}
}

// lagView mirrors the /v1/lag body.
type lagView struct {
	Checkpoint   uint64 `json:"checkpoint"`
	UpstreamLast uint64 `json:"upstreamLast"`
	Lag          uint64 `json:"lag"`
}

// NewLagCommand constructs `lag`. With --offline it reads the local data
// directory instead of asking the running bridge.
func NewLagCommand(cfgFn ConfigFunc, baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lag",
		Short: "Show how far the checkpoint trails the upstream log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			offline, _ := cmd.Flags().GetBool("offline")
			var v lagView
			if offline {
				cfg, err := cfgFn(cmd)
				if err != nil {
					return err
				}
				if v, err = offlineLag(cmd.Context(), cfg); err != nil {
					return err
				}
			} else if err := getJSON(cmd.Context(), baseURL()+"/v1/lag", &v); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "lag: %d (checkpoint %d, upstream last %d)\n", v.Lag, v.Checkpoint, v.UpstreamLast)
			return err
		},
	}
	cmd.Flags().Bool("offline", false, "Read the local data directory instead of the HTTP API (bridge must be stopped)")
	return cmd
}

func offlineLag(ctx context.Context, cfg config.Config) (lagView, error) {
	rt, err := runtime.Open(ctx, runtime.Options{Config: cfg})
	if err != nil {
		return lagView{}, err
	}
	defer rt.Close()
	cp, err := rt.Checkpoints().Load(ctx)
	if err != nil {
		return lagView{}, err
	}
	last := rt.Changelog().LastSeq()
	v := lagView{UpstreamLast: last}
	if cp != nil {
		v.Checkpoint = uint64(cp.Position)
	}
	v.Lag = bridge.Lag(mutation.Position(last), cp)
	return v, nil
}
