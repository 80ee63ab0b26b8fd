// Package render formats search results for people (text) and programs (JSON, CSV).
package render

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/JaysonAlbert/log-search-mcp/internal/domain"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatCSV:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text, json or csv)", s)
}

// Write renders agg to w in format f.
func Write(w io.Writer, f Format, agg *domain.AggregateSearchResult) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(agg)
	case FormatCSV:
		return writeCSV(w, agg)
	default:
		_, err := io.WriteString(w, Text(agg))
		return err
	}
}

// Text 每行以 [server] 前缀输出，失败主机给出状态与原因，末尾附汇总
func Text(agg *domain.AggregateSearchResult) string {
	var b strings.Builder
	if len(agg.Outcomes) == 0 {
		b.WriteString("No servers configured\n")
	}
	for _, o := range agg.Outcomes {
		switch {
		case !o.OK():
			fmt.Fprintf(&b, "[%s] Error (%s): %s\n", o.Server, o.Status, o.Error)
		case o.Count == 0:
			fmt.Fprintf(&b, "[%s] No results found for pattern '%s'\n", o.Server, agg.Pattern)
		default:
			for _, line := range o.Lines {
				fmt.Fprintf(&b, "[%s] %s\n", o.Server, line)
			}
			if o.Truncated {
				fmt.Fprintf(&b, "[%s] (limited to %d lines)\n", o.Server, o.Count)
			}
		}
	}
	fmt.Fprintf(&b, "-- %d hosts queried, %d succeeded, %d failed, %d lines",
		agg.HostsQueried, agg.HostsSucceeded, agg.HostsFailed, agg.TotalLines)
	if f := agg.Filter; f != nil {
		if f.Kind == domain.FilterRelative {
			fmt.Fprintf(&b, " (since %s)", f.Start.Format("2006-01-02 15:04:05"))
		} else {
			fmt.Fprintf(&b, " (%s to %s)", f.Start.Format("2006-01-02 15:04:05"), f.End.Format("2006-01-02 15:04:05"))
		}
	}
	b.WriteString("\n")
	return b.String()
}

// writeCSV 输出 CSV (含 header)，每个匹配行一条记录；无结果或失败的主机各占一条
func writeCSV(w io.Writer, agg *domain.AggregateSearchResult) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"request_id", "server", "status", "line", "error"})
	for _, o := range agg.Outcomes {
		if len(o.Lines) == 0 {
			_ = cw.Write([]string{agg.RequestID, o.Server, string(o.Status), "", o.Error})
			continue
		}
		for _, line := range o.Lines {
			_ = cw.Write([]string{agg.RequestID, o.Server, string(o.Status), line, ""})
		}
	}
	cw.Flush()
	return cw.Error()
}

// ServerTable lists targets in configuration order; secrets are never printed.
func ServerTable(w io.Writer, targets []domain.ServerTarget) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tUSER\tAUTH\tLOGS")
	for _, t := range targets {
		logs := strings.Join(t.LogPaths, ",")
		if logs == "" {
			logs = "app:" + t.AppName
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.Name, t.Addr(), t.Username, t.AuthMethod(), logs)
	}
	return tw.Flush()
}
