package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JaysonAlbert/log-search-mcp/internal/domain"
	"github.com/JaysonAlbert/log-search-mcp/pkg/render"
)

type searchOptions struct {
	timeRange  string
	maxResults int
	timeout    time.Duration
	output     string
}

func newSearchCmd(g *globalOptions) *cobra.Command {
	o := &searchOptions{}
	cmd := &cobra.Command{
		Use:   "search <server|all> <pattern>",
		Short: "Run one search and print the results",
		Example: `  log-search-mcp search web-1 'ERROR|FATAL' --time-range 1h
  log-search-mcp search all 'timeout' --max-results 20 --output json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := render.ParseFormat(o.output)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(g)
			if err != nil {
				return err
			}
			defer a.Close()

			agg, err := a.search.Search(ctx, domain.SearchRequest{
				Server:     args[0],
				Pattern:    args[1],
				TimeRange:  o.timeRange,
				MaxResults: o.maxResults,
				Timeout:    o.timeout,
			}, a.targets)
			if err != nil {
				return err
			}
			if err := render.Write(cmd.OutOrStdout(), format, agg); err != nil {
				return err
			}
			if agg.HostsFailed > 0 {
				return fmt.Errorf("%d of %d hosts failed", agg.HostsFailed, agg.HostsQueried)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.timeRange, "time-range", "t", "", `Time window: "30m", "1h", "2d" or "<start> to <end>"`)
	f.IntVarP(&o.maxResults, "max-results", "n", 0, "Maximum lines per server (default from config)")
	f.DurationVar(&o.timeout, "timeout", 0, "Per-server timeout, capped by the server's own timeout")
	f.StringVarP(&o.output, "output", "o", "text", "Output format (text, json, csv)")
	return cmd
}
