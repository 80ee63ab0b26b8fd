// Package mcp exposes log search as Model Context Protocol tools over a
// newline-delimited JSON-RPC 2.0 stream (the stdio transport).
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JaysonAlbert/log-search-mcp/internal/domain"
	"github.com/JaysonAlbert/log-search-mcp/internal/repository"
	"github.com/JaysonAlbert/log-search-mcp/internal/ssh"
)

const maxLineBytes = 4 << 20

// Searcher runs one logical search.
type Searcher interface {
	Search(ctx context.Context, req domain.SearchRequest, targets *domain.TargetSet) (*domain.AggregateSearchResult, error)
}

// SessionReporter reports cached session state.
type SessionReporter interface {
	Status() map[string]ssh.SessionStatus
}

type Server struct {
	name     string
	version  string
	searcher Searcher
	targets  *domain.TargetSet
	sessions SessionReporter
	history  repository.HistoryRepoIface
	log      *zap.Logger
}

type Option func(*Server)

func WithSessions(r SessionReporter) Option { return func(s *Server) { s.sessions = r } }

func WithHistory(h repository.HistoryRepoIface) Option { return func(s *Server) { s.history = h } }

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

func WithVersion(v string) Option { return func(s *Server) { s.version = v } }

func NewServer(searcher Searcher, targets *domain.TargetSet, opts ...Option) *Server {
	s := &Server{name: "log-search-mcp", version: "dev", searcher: searcher, targets: targets, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Serve reads requests from in and writes responses to out until in is
// exhausted or ctx is cancelled. Requests are handled concurrently so a slow
// search never blocks a ping; responses are written one JSON object per line.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	var (
		wg  sync.WaitGroup
		wmu sync.Mutex
		enc = json.NewEncoder(out)
	)
	write := func(resp Response) {
		wmu.Lock()
		defer wmu.Unlock()
		if err := enc.Encode(resp); err != nil {
			s.log.Warn("write response failed", zap.Error(err))
		}
	}
	defer wg.Wait()

	s.log.Info("mcp server started", zap.Int("servers", s.targets.Len()))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				wg.Wait()
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if len(strings.TrimSpace(string(line))) == 0 {
				continue
			}
			var req Request
			if err := json.Unmarshal(line, &req); err != nil {
				s.log.Warn("failed to parse request", zap.Error(err))
				write(Response{JSONRPC: "2.0", Error: &ResponseError{Code: codeParseError, Message: "Parse error"}})
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp := s.handleRequest(ctx, req)
				// notifications get no response
				if req.ID == nil {
					return
				}
				write(resp)
			}()
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}
	s.log.Debug("received method", zap.String("method", req.Method), zap.Any("id", req.ID))

	switch req.Method {
	case "initialize":
		resp.Result = map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities": map[string]any{
				"tools":     map[string]any{},
				"resources": map[string]any{},
			},
			"serverInfo": map[string]any{"name": s.name, "version": s.version},
		}

	case "notifications/initialized", "notifications/cancelled":

	case "ping":
		resp.Result = map[string]any{}

	case "tools/list":
		resp.Result = map[string]any{"tools": s.tools()}

	case "tools/call":
		var call CallToolRequest
		if err := json.Unmarshal(req.Params, &call); err != nil || call.Name == "" {
			resp.Error = &ResponseError{Code: codeInvalidParams, Message: "Invalid params"}
			return resp
		}
		resp.Result = s.handleToolCall(ctx, call)

	case "resources/list":
		resp.Result = map[string]any{"resources": s.resources()}

	case "resources/read":
		var p struct {
			URI string `json:"uri"`
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			resp.Error = &ResponseError{Code: codeInvalidParams, Message: "Invalid params"}
			return resp
		}
		contents, err := s.readResource(p.URI)
		if err != nil {
			resp.Error = &ResponseError{Code: codeInvalidParams, Message: err.Error()}
			return resp
		}
		resp.Result = map[string]any{"contents": contents}

	case "":
		resp.Error = &ResponseError{Code: codeInvalidRequest, Message: "Invalid request"}

	default:
		s.log.Debug("unknown method", zap.String("method", req.Method))
		resp.Error = &ResponseError{Code: codeMethodNotFound, Message: "Method not found"}
	}
	return resp
}

func (s *Server) resources() []Resource {
	names := s.targets.Names()
	out := make([]Resource, 0, len(names))
	for _, n := range names {
		out = append(out, Resource{
			URI:         "server://" + n,
			Name:        n,
			Description: "Server configuration for " + n,
			MimeType:    "application/json",
		})
	}
	return out
}

var errUnknownResource = errors.New("unknown resource")

func (s *Server) readResource(uri string) ([]ResourceContents, error) {
	name, ok := strings.CutPrefix(uri, "server://")
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownResource, uri)
	}
	t, ok := s.targets.Get(name)
	if !ok {
		return nil, fmt.Errorf("Server not found: %s", name)
	}
	body, err := json.MarshalIndent(redact(t), "", "  ")
	if err != nil {
		return nil, err
	}
	return []ResourceContents{{URI: uri, MimeType: "application/json", Text: string(body)}}, nil
}

const redacted = "********"

// serverView is a target as shown to clients: timeout in seconds, secrets masked.
type serverView struct {
	domain.ServerTarget
	Timeout       int    `json:"timeout"`
	Port          int    `json:"port"`
	Auth          string `json:"auth"`
	Password      string `json:"password,omitempty"`
	KeyPassphrase string `json:"key_passphrase,omitempty"`
}

func redact(t domain.ServerTarget) serverView {
	v := serverView{ServerTarget: t, Timeout: int(t.Timeout.Seconds()), Port: t.Port, Auth: t.AuthMethod()}
	if v.Port == 0 {
		v.Port = 22
	}
	if t.Password != "" {
		v.Password = redacted
	}
	if t.KeyPassphrase != "" {
		v.KeyPassphrase = redacted
	}
	return v
}
