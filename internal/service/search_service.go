package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JaysonAlbert/log-search-mcp/internal/command"
	"github.com/JaysonAlbert/log-search-mcp/internal/domain"
	"github.com/JaysonAlbert/log-search-mcp/internal/metrics"
	"github.com/JaysonAlbert/log-search-mcp/internal/ssh"
	"github.com/JaysonAlbert/log-search-mcp/internal/timerange"
)

const (
	defaultHostTimeout = 30 * time.Second
	defaultMaxResults  = 100
)

// RemoteExecutor 抽象远程执行接口，便于替换真实 SSH / Mock
type RemoteExecutor interface {
	Exec(ctx context.Context, t domain.ServerTarget, cmd string, timeout time.Duration) (ssh.ExecResult, error)
}

var (
	_ RemoteExecutor = (*ssh.Manager)(nil)
	_ RemoteExecutor = (*ssh.MockExecutor)(nil)
)

// Options are the request defaults applied when a request or target leaves them unset.
type Options struct {
	DefaultTimeout    time.Duration // per-host ceiling for targets without their own timeout
	DefaultMaxResults int           // per-host cap when the request has none
	MaxParallel       int           // <=0 means unbounded
}

// SearchService 负责多主机搜索编排
type SearchService struct {
	executor RemoteExecutor
	builder  *command.Builder
	resolver *timerange.Resolver
	hWriter  *HistoryWriter
	metrics  *metrics.Metrics
	log      *zap.Logger
	opts     Options
	newID    func() string
}

func NewSearchService(executor RemoteExecutor, builder *command.Builder, resolver *timerange.Resolver, writer *HistoryWriter, opts Options) *SearchService {
	if builder == nil {
		builder = command.NewBuilder("", "", "")
	}
	if resolver == nil {
		resolver = timerange.NewResolver()
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = defaultHostTimeout
	}
	if opts.DefaultMaxResults <= 0 {
		opts.DefaultMaxResults = defaultMaxResults
	}
	return &SearchService{
		executor: executor,
		builder:  builder,
		resolver: resolver,
		hWriter:  writer,
		log:      zap.NewNop(),
		opts:     opts,
		newID:    uuid.NewString,
	}
}

func (s *SearchService) SetLogger(l *zap.Logger) {
	if l != nil {
		s.log = l
	}
}

func (s *SearchService) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// Search runs req against the selected targets concurrently. Only
// request-level problems (empty pattern, unknown server, bad time range)
// return an error; every host failure is reported in its outcome.
func (s *SearchService) Search(ctx context.Context, req domain.SearchRequest, targets *domain.TargetSet) (*domain.AggregateSearchResult, error) {
	selected, filter, err := s.prepare(req, targets)
	if err != nil {
		s.metrics.RequestDone(true)
		s.log.Warn("search rejected", zap.String("server", req.Server), zap.String("pattern", req.Pattern), zap.Error(err))
		return nil, err
	}
	limit := req.MaxResults
	if limit <= 0 {
		limit = s.opts.DefaultMaxResults
	}

	agg := &domain.AggregateSearchResult{
		RequestID: s.newID(),
		Pattern:   req.Pattern,
		Filter:    filter,
		Outcomes:  make([]domain.HostSearchOutcome, len(selected)),
	}
	log := s.log.With(zap.String("request_id", agg.RequestID))

	var g errgroup.Group
	if s.opts.MaxParallel > 0 {
		g.SetLimit(s.opts.MaxParallel)
	}
	for i, t := range selected {
		g.Go(func() error {
			done := s.metrics.HostStarted()
			defer done()
			started := time.Now()
			o := s.SearchOne(ctx, t, req.Pattern, filter, limit, req.Timeout)
			agg.Outcomes[i] = o
			s.record(log, agg.RequestID, req, o, started)
			return nil
		})
	}
	_ = g.Wait()

	agg.Tally()
	s.metrics.RequestDone(false)
	log.Info("search finished",
		zap.String("pattern", req.Pattern),
		zap.Int("hosts", agg.HostsQueried),
		zap.Int("succeeded", agg.HostsSucceeded),
		zap.Int("failed", agg.HostsFailed),
		zap.Int("lines", agg.TotalLines))
	return agg, nil
}

func (s *SearchService) prepare(req domain.SearchRequest, targets *domain.TargetSet) ([]domain.ServerTarget, *domain.TimeFilter, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	var selected []domain.ServerTarget
	if req.IsFanOut() {
		selected = targets.All()
	} else {
		name := strings.TrimSpace(req.Server)
		t, ok := targets.Get(name)
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q (configured: %s)", domain.ErrNoSuchHost, name, strings.Join(targets.Names(), ", "))
		}
		selected = []domain.ServerTarget{t}
	}
	// resolved once so every host filters against the same window
	filter, err := s.resolver.Resolve(req.TimeRange)
	if err != nil {
		return nil, nil, err
	}
	return selected, filter, nil
}

// SearchOne searches a single target. It never returns an error: every
// failure is folded into the outcome's Status and Error.
func (s *SearchService) SearchOne(ctx context.Context, t domain.ServerTarget, pattern string, filter *domain.TimeFilter, limit int, timeout time.Duration) domain.HostSearchOutcome {
	start := time.Now()
	out := domain.HostSearchOutcome{Server: t.Name, Lines: []string{}}
	fail := func(err error) domain.HostSearchOutcome {
		out.Status = domain.StatusOf(err)
		out.Error = err.Error()
		out.Elapsed = time.Since(start)
		return out
	}

	cmd, err := s.builder.Build(t, pattern, filter, limit)
	if err != nil {
		return fail(fmt.Errorf("%w: %s: %w", domain.ErrExecution, t.Name, err))
	}

	budget := s.hostTimeout(t, timeout)
	hctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	res, err := s.executor.Exec(hctx, t, cmd, budget)
	if err != nil {
		return fail(err)
	}

	lines := splitLines(res.Stdout)
	stderr := strings.TrimSpace(res.Stderr)
	// grep exits 1 on no match; the pipeline reports head's status otherwise
	normalExit := res.ExitStatus == 0 || res.ExitStatus == 1
	switch {
	case normalExit && len(lines) > 0:
	case normalExit && stderr == "":
		lines = nil
	default:
		msg := stderr
		if msg == "" {
			msg = fmt.Sprintf("remote command exited with status %d", res.ExitStatus)
		}
		return fail(fmt.Errorf("%w: %s: %s", domain.ErrExecution, t.Name, msg))
	}

	if limit > 0 && len(lines) > limit {
		lines = lines[:limit]
	}
	if lines != nil {
		out.Lines = lines
	}
	out.Count = len(out.Lines)
	out.Truncated = limit > 0 && out.Count == limit
	out.Status = domain.StatusSuccess
	out.Elapsed = time.Since(start)
	return out
}

// hostTimeout is min(override, target timeout), falling back to the default.
func (s *SearchService) hostTimeout(t domain.ServerTarget, override time.Duration) time.Duration {
	d := t.Timeout
	if d <= 0 {
		d = s.opts.DefaultTimeout
	}
	if override > 0 && override < d {
		d = override
	}
	return d
}

func (s *SearchService) record(log *zap.Logger, requestID string, req domain.SearchRequest, o domain.HostSearchOutcome, started time.Time) {
	s.metrics.HostDone(o.Server, string(o.Status), o.Count, o.Elapsed)
	fields := []zap.Field{
		zap.String("server", o.Server),
		zap.String("status", string(o.Status)),
		zap.Int("lines", o.Count),
		zap.Bool("truncated", o.Truncated),
		zap.Duration("elapsed", o.Elapsed),
	}
	if o.OK() {
		log.Debug("host search done", fields...)
	} else {
		log.Warn("host search failed", append(fields, zap.String("error", o.Error))...)
	}
	if s.hWriter != nil {
		s.hWriter.Write(domain.SearchHistory{
			RequestID:  requestID,
			Server:     o.Server,
			Pattern:    req.Pattern,
			TimeRange:  req.TimeRange,
			Status:     string(o.Status),
			LineCount:  o.Count,
			Truncated:  o.Truncated,
			ErrorText:  o.Error,
			StartedAt:  started,
			FinishedAt: started.Add(o.Elapsed),
			DurationMs: o.Elapsed.Milliseconds(),
		})
	}
}

func splitLines(stdout string) []string {
	stdout = strings.TrimRight(stdout, "\n")
	if stdout == "" {
		return nil
	}
	return strings.Split(stdout, "\n")
}
