package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JaysonAlbert/log-search-mcp/internal/domain"
	"github.com/JaysonAlbert/log-search-mcp/pkg/render"
)

const (
	toolSearchLogs       = "search_logs"
	toolListServers      = "list_servers"
	toolConnectionStatus = "connection_status"
	toolRecentSearches   = "recent_searches"
)

func (s *Server) tools() []Tool {
	tools := []Tool{
		{
			Name: toolSearchLogs,
			Description: "Search application logs on one configured server, or on every server with server_name \"all\". " +
				"The pattern is an extended regular expression. Results are capped per host.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"server_name": map[string]any{"type": "string", "description": "Configured server name, or \"all\""},
					"pattern":     map[string]any{"type": "string", "description": "Extended regular expression to search for"},
					"time_range": map[string]any{
						"type":        "string",
						"description": "Optional window: \"30m\", \"1h\", \"2d\", or \"2024-01-01 10:00:00 to 2024-01-01 12:00:00\"",
					},
					"max_results":     map[string]any{"type": "integer", "description": "Maximum lines per server"},
					"timeout_seconds": map[string]any{"type": "integer", "description": "Per-server timeout, capped by the server's own timeout"},
				},
				"required": []string{"server_name", "pattern"},
			},
		},
		{
			Name:        toolListServers,
			Description: "List the configured servers with their hosts and log locations",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		},
	}
	if s.sessions != nil {
		tools = append(tools, Tool{
			Name:        toolConnectionStatus,
			Description: "Show which servers have a live SSH session and their last error",
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		})
	}
	if s.history != nil {
		tools = append(tools, Tool{
			Name:        toolRecentSearches,
			Description: "Show recent searches recorded in the local history",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"limit":       map[string]any{"type": "integer", "description": "Number of entries, default 20"},
					"server_name": map[string]any{"type": "string", "description": "Only this server"},
					"pattern":     map[string]any{"type": "string", "description": "Only patterns containing this text"},
				},
			},
		})
	}
	return tools
}

type searchArgs struct {
	ServerName     string `json:"server_name"`
	Pattern        string `json:"pattern"`
	TimeRange      string `json:"time_range"`
	MaxResults     *int   `json:"max_results"`
	TimeoutSeconds *int   `json:"timeout_seconds"`
}

func (s *Server) handleToolCall(ctx context.Context, call CallToolRequest) CallToolResult {
	switch call.Name {
	case toolSearchLogs:
		return s.searchLogs(ctx, call.Arguments)
	case toolListServers:
		return s.listServers()
	case toolConnectionStatus:
		if s.sessions == nil {
			break
		}
		return s.connectionStatus()
	case toolRecentSearches:
		if s.history == nil {
			break
		}
		return s.recentSearches(call.Arguments)
	}
	return errorResult(fmt.Sprintf("Unknown tool: %s", call.Name))
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func (s *Server) searchLogs(ctx context.Context, raw json.RawMessage) CallToolResult {
	var args searchArgs
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult(fmt.Sprintf("Invalid arguments: %v", err))
	}
	if strings.TrimSpace(args.ServerName) == "" {
		return errorResult("server_name is required")
	}
	req := domain.SearchRequest{Server: args.ServerName, Pattern: args.Pattern, TimeRange: args.TimeRange}
	if args.MaxResults != nil {
		if *args.MaxResults <= 0 {
			return errorResult("max_results must be positive")
		}
		req.MaxResults = *args.MaxResults
	}
	if args.TimeoutSeconds != nil {
		if *args.TimeoutSeconds <= 0 {
			return errorResult("timeout_seconds must be positive")
		}
		req.Timeout = time.Duration(*args.TimeoutSeconds) * time.Second
	}

	agg, err := s.searcher.Search(ctx, req, s.targets)
	if err != nil {
		s.log.Info("search rejected", zap.String("server", args.ServerName), zap.Error(err))
		return errorResult(fmt.Sprintf("Search failed: %v", err))
	}
	return textResult(render.Text(agg))
}

func (s *Server) listServers() CallToolResult {
	if s.targets.Len() == 0 {
		return textResult("No servers configured")
	}
	var buf bytes.Buffer
	if err := render.ServerTable(&buf, s.targets.All()); err != nil {
		return errorResult(err.Error())
	}
	return textResult(buf.String())
}

type statusEntry struct {
	Server    string     `json:"server"`
	Connected bool       `json:"connected"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// connectionStatus lists configured servers first, in order, then any
// session the manager still knows about for a server no longer configured.
func (s *Server) connectionStatus() CallToolResult {
	st := s.sessions.Status()
	out := make([]statusEntry, 0, len(st)+s.targets.Len())
	seen := map[string]bool{}
	add := func(name string) {
		seen[name] = true
		e := statusEntry{Server: name}
		if ss, ok := st[name]; ok {
			e.Connected, e.LastError = ss.Connected, ss.LastError
			if !ss.LastUsed.IsZero() {
				lu := ss.LastUsed
				e.LastUsed = &lu
			}
		}
		out = append(out, e)
	}
	for _, n := range s.targets.Names() {
		add(n)
	}
	var extra []string
	for n := range st {
		if !seen[n] {
			extra = append(extra, n)
		}
	}
	sort.Strings(extra)
	for _, n := range extra {
		add(n)
	}
	body, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return errorResult(err.Error())
	}
	return textResult(string(body))
}

func (s *Server) recentSearches(raw json.RawMessage) CallToolResult {
	var args struct {
		Limit      int    `json:"limit"`
		ServerName string `json:"server_name"`
		Pattern    string `json:"pattern"`
	}
	if err := decodeArgs(raw, &args); err != nil {
		return errorResult(fmt.Sprintf("Invalid arguments: %v", err))
	}
	if args.Limit <= 0 {
		args.Limit = 20
	}
	var (
		rows []domain.SearchHistory
		err  error
	)
	if args.ServerName == "" && args.Pattern == "" {
		rows, err = s.history.ListRecent(args.Limit)
	} else {
		rows, err = s.history.ListFiltered(args.Limit, args.ServerName, args.Pattern)
	}
	if err != nil {
		return errorResult(fmt.Sprintf("History unavailable: %v", err))
	}
	if len(rows) == 0 {
		return textResult("No searches recorded")
	}
	var b strings.Builder
	for _, h := range rows {
		fmt.Fprintf(&b, "%s [%s] %q %s lines=%d", h.StartedAt.Local().Format("2006-01-02 15:04:05"), h.Server, h.Pattern, h.Status, h.LineCount)
		if h.TimeRange != "" {
			fmt.Fprintf(&b, " range=%q", h.TimeRange)
		}
		if h.Truncated {
			b.WriteString(" (truncated)")
		}
		if h.ErrorText != "" {
			fmt.Fprintf(&b, " error=%q", h.ErrorText)
		}
		b.WriteByte('\n')
	}
	return textResult(b.String())
}
