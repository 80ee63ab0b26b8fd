package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JaysonAlbert/log-search-mcp/pkg/render"
)

func newServersCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List configured servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(g)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck
			targets, err := cfg.Targets()
			if err != nil {
				return err
			}
			if targets.Len() == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No servers configured")
				return nil
			}
			return render.ServerTable(cmd.OutOrStdout(), targets.All())
		},
	}
}
