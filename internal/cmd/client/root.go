package client

import (
	"github.com/spf13/cobra"

	"github.com/rzbill/kvbridge/internal/config"
)

// BaseURLFunc provides the base HTTP URL of a running bridge.
type BaseURLFunc func() string

// ConfigFunc resolves the effective configuration for a command, typically
// from --config, the environment and flag overrides.
type ConfigFunc func(cmd *cobra.Command) (config.Config, error)

// NewRoot constructs a root command carrying every client command.
func NewRoot(cfg ConfigFunc, baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "kvbridge",
		Short: "kvbridge client commands",
	}
	AddCommands(root, cfg, baseURL)
	return root
}

// AddCommands registers the client commands on parent.
func AddCommands(parent *cobra.Command, cfg ConfigFunc, baseURL BaseURLFunc) {
	parent.AddCommand(
		NewStatusCommand(baseURL),
		NewLagCommand(cfg, baseURL),
		NewSeedCommand(cfg),
		NewCheckpointCommand(cfg),
		NewNamespaceCommand(baseURL),
	)
}
