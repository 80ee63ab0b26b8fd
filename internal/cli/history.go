package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JaysonAlbert/log-search-mcp/internal/domain"
)

type historyOptions struct {
	limit   int
	server  string
	pattern string
}

func newHistoryCmd(g *globalOptions) *cobra.Command {
	o := &historyOptions{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent searches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(g)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck
			if !cfg.HistoryEnabled() {
				return errors.New("search history is disabled (history_db = \"off\")")
			}
			db, repo, err := openHistory(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			var rows []domain.SearchHistory
			if o.server == "" && o.pattern == "" {
				rows, err = repo.ListRecent(o.limit)
			} else {
				rows, err = repo.ListFiltered(o.limit, o.server, o.pattern)
			}
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No searches recorded")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tSERVER\tPATTERN\tRANGE\tSTATUS\tLINES\tDURATION")
			for _, h := range rows {
				lines := fmt.Sprint(h.LineCount)
				if h.Truncated {
					lines += "+"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%dms\n",
					h.StartedAt.Local().Format("2006-01-02 15:04:05"), h.Server, h.Pattern, h.TimeRange, h.Status, lines, h.DurationMs)
			}
			return w.Flush()
		},
	}
	f := cmd.Flags()
	f.IntVarP(&o.limit, "limit", "n", 20, "Number of entries")
	f.StringVar(&o.server, "server", "", "Only this server")
	f.StringVar(&o.pattern, "pattern", "", "Only patterns containing this text")
	return cmd
}
