package main

import (
	"github.com/spf13/cobra"

	"github.com/rmax-ai/catalogctl/pkg/mcp"
)

func newMCPCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve lineage and job tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := a.client(cmd.Context())
			if err != nil {
				return err
			}
			a.logger.Info("serving MCP on stdio", "version", version)
			return mcp.NewServer(cat, a.history, a.cfg.Lineage.MaxDepth, version, a.logger).Serve()
		},
	}
}
