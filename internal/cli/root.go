// Package cli wires configuration, sessions and the search core into the
// log-search-mcp command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/JaysonAlbert/log-search-mcp/pkg/config"
)

type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

// NewRootCmd builds the command tree. Running the root without a
// subcommand starts the MCP server.
func NewRootCmd(version string) *cobra.Command {
	g := &globalOptions{}
	root := &cobra.Command{
		Use:   "log-search-mcp",
		Short: "Search application logs on remote servers over SSH",
		Long: `log-search-mcp runs grep on configured servers over SSH and returns the
matching lines. It serves the Model Context Protocol on stdin/stdout, and the
same searches can be run from the command line.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, g, &serveOptions{version: version})
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", config.DefaultPath, "Path to the TOML or YAML config file")
	pf.StringVar(&g.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&g.logFormat, "log-format", "console", "Log format (console, json)")

	root.AddCommand(
		newServeCmd(g, version),
		newSearchCmd(g),
		newServersCmd(g),
		newHistoryCmd(g),
	)
	return root
}
