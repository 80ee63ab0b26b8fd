package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JaysonAlbert/log-search-mcp/internal/logging"
	"github.com/JaysonAlbert/log-search-mcp/internal/mcp"
	"github.com/JaysonAlbert/log-search-mcp/internal/service"
)

const cleanupInterval = time.Hour

type serveOptions struct {
	version     string
	metricsAddr string
}

func newServeCmd(g *globalOptions, version string) *cobra.Command {
	o := &serveOptions{version: version}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve MCP over stdin/stdout (the default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, g, o)
		},
	}
	cmd.Flags().StringVar(&o.metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address (e.g. 127.0.0.1:9464)")
	return cmd
}

func runServe(cmd *cobra.Command, g *globalOptions, o *serveOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(g)
	if err != nil {
		return err
	}
	defer a.Close()
	log := logging.For(a.log, logging.ComponentMCP)

	if a.repo != nil {
		go service.RunCleanup(ctx, a.repo, a.cfg.HistoryRetentionDays, a.cfg.HistoryMaxRows, cleanupInterval,
			logging.For(a.log, logging.ComponentHistory))
	}
	if o.metricsAddr != "" {
		srv, err := startMetrics(o.metricsAddr, a)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	opts := []mcp.Option{mcp.WithLogger(log), mcp.WithVersion(o.version), mcp.WithSessions(a.sessions)}
	if h := a.historyRepo(); h != nil {
		opts = append(opts, mcp.WithHistory(h))
	}
	server := mcp.NewServer(a.search, a.targets, opts...)

	err = server.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	if errors.Is(err, context.Canceled) {
		log.Info("shutting down")
		return nil
	}
	return err
}

func startMetrics(addr string, a *app) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	a.log.Info("metrics listening", zap.String("addr", ln.Addr().String()))
	return srv, nil
}
