package cli

import (
	"database/sql"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JaysonAlbert/log-search-mcp/internal/command"
	"github.com/JaysonAlbert/log-search-mcp/internal/domain"
	"github.com/JaysonAlbert/log-search-mcp/internal/logging"
	"github.com/JaysonAlbert/log-search-mcp/internal/metrics"
	"github.com/JaysonAlbert/log-search-mcp/internal/repository"
	"github.com/JaysonAlbert/log-search-mcp/internal/service"
	"github.com/JaysonAlbert/log-search-mcp/internal/ssh"
	"github.com/JaysonAlbert/log-search-mcp/pkg/config"
)

// app holds the process-wide collaborators built from one configuration.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	targets  *domain.TargetSet
	sessions *ssh.Manager
	db       *sql.DB
	repo     *repository.HistoryRepo
	writer   *service.HistoryWriter
	metrics  *metrics.Metrics
	search   *service.SearchService

	closeOnce sync.Once
}

// loadConfig builds the logger first so a bad config can still be reported through it.
func loadConfig(g *globalOptions) (*config.Config, *zap.Logger, error) {
	log, err := logging.New(logging.Options{Level: g.logLevel, Format: g.logFormat})
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, log, err
	}
	if cfg.Path == "" {
		log.Warn("no config file found, using defaults", zap.String("path", defaultStr(g.configPath, config.DefaultPath)))
	} else {
		log.Info("config loaded", zap.String("path", cfg.Path), zap.Int("servers", len(cfg.Servers)))
	}
	return cfg, log, nil
}

func openHistory(cfg *config.Config) (*sql.DB, *repository.HistoryRepo, error) {
	db, err := repository.Open(cfg.DBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("open history %s: %w", cfg.DBPath(), err)
	}
	return db, repository.NewHistoryRepo(db), nil
}

func newApp(g *globalOptions) (*app, error) {
	cfg, log, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	targets, err := cfg.Targets()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, targets: targets, metrics: metrics.New()}

	if cfg.HistoryEnabled() {
		db, repo, err := openHistory(cfg)
		if err != nil {
			// search still works without history
			log.Warn("history disabled", zap.Error(err))
		} else {
			a.db, a.repo = db, repo
			a.writer = service.NewHistoryWriter(repo, cfg.HistoryFlushInterval, cfg.HistoryBatchSize, logging.For(log, logging.ComponentHistory))
		}
	}

	a.sessions = ssh.NewManager(logging.For(log, logging.ComponentSSH))
	builder := command.NewBuilder(cfg.LogBaseDir, cfg.TimestampPattern, cfg.TimestampLayout)
	a.search = service.NewSearchService(a.sessions, builder, nil, a.writer, service.Options{
		DefaultTimeout:    cfg.DefaultTimeoutDuration(),
		DefaultMaxResults: cfg.MaxResults,
		MaxParallel:       cfg.MaxParallel,
	})
	a.search.SetLogger(logging.For(log, logging.ComponentSearch))
	a.search.SetMetrics(a.metrics)
	return a, nil
}

// historyRepo returns nil as an untyped interface when history is off.
func (a *app) historyRepo() repository.HistoryRepoIface {
	if a.repo == nil {
		return nil
	}
	return a.repo
}

// Close releases every session, then flushes history. Safe to call more than once.
func (a *app) Close() {
	a.closeOnce.Do(func() {
		a.sessions.ReleaseAll()
		if a.writer != nil {
			a.writer.Close()
		}
		if a.db != nil {
			_ = a.db.Close()
		}
		_ = a.log.Sync()
	})
}

func defaultStr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
