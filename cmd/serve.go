package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Benny93/timegraph/internal/config"
	"github.com/Benny93/timegraph/internal/engine"
	"github.com/Benny93/timegraph/internal/ingestion"
	"github.com/Benny93/timegraph/internal/logging"
	"github.com/Benny93/timegraph/mcp"
)

// ImportCmd replays a git repository.
type ImportCmd struct {
	Path      string        `arg:"" optional:"" default:"." help:"Path to the git repository"`
	Ref       string        `help:"Branch, tag or revision to replay (default HEAD)"`
	Exclude   []string      `short:"x" help:"Gitignore-style pattern of paths to skip (repeatable)"`
	Component string        `help:"Group the final tree into a component with this name"`
	Follow    bool          `help:"Keep running and apply new commits as they land"`
	Debounce  time.Duration `default:"2s" help:"How long ref changes settle before a follow sync"`
}

// Run executes the import command.
func (c *ImportCmd) Run(rt *Runtime) error {
	ctx := context.Background()
	repoPath, err := filepath.Abs(c.Path)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}

	eng, err := rt.Engine(ctx)
	if err != nil {
		return err
	}
	opts := ingestion.Options{
		Ref:       c.Ref,
		Exclude:   c.Exclude,
		Component: c.Component,
		Debounce:  c.Debounce,
		Logger:    rt.Logger,
	}

	green.Fprintf(rt.Out, "Importing %s\n", repoPath)
	if c.Follow {
		return c.follow(rt, eng, repoPath, opts)
	}

	start := time.Now()
	res, err := ingestion.Import(ctx, eng, repoPath, opts)
	if err != nil {
		return fmt.Errorf("importing %s: %w", repoPath, err)
	}

	rt.success("\n✓ Import complete")
	fmt.Fprintf(rt.Out, "  Head:      %s\n", res.Head)
	fmt.Fprintf(rt.Out, "  Commits:   %d\n", res.Commits)
	fmt.Fprintf(rt.Out, "  Added:     %d\n", res.Added)
	fmt.Fprintf(rt.Out, "  Modified:  %d\n", res.Modified)
	fmt.Fprintf(rt.Out, "  Deleted:   %d\n", res.Deleted)
	if res.Component != nil {
		fmt.Fprintf(rt.Out, "  Component: %s\n", res.Component.Loc)
	}
	fmt.Fprintf(rt.Out, "  Duration:  %.2fs\n", time.Since(start).Seconds())
	return nil
}

func (c *ImportCmd) follow(rt *Runtime, eng *engine.Engine, repoPath string, opts ingestion.Options) error {
	ctx, stop := signalContext()
	defer stop()

	first := true
	err := ingestion.Follow(ctx, eng, repoPath, opts, func(res *ingestion.Result) {
		if first {
			rt.success("✓ Imported %d commits, following %s (Ctrl+C to stop)", res.Commits, repoPath)
			first = false
		} else {
			fmt.Fprintf(rt.Out, "  %s  commits %d, files %d\n", res.Head[:min(12, len(res.Head))], res.Commits, len(res.Files))
		}
		_ = rt.FlushMirror(ctx)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("following %s: %w", repoPath, err)
	}
	return nil
}

// MCPCmd starts the MCP server.
type MCPCmd struct{}

// Run executes the mcp command.
func (c *MCPCmd) Run(rt *Runtime) error {
	ctx, stop := signalContext()
	defer stop()

	eng, err := rt.Engine(ctx)
	if err != nil {
		return err
	}

	// Stdout carries JSON-RPC only; logs go to stderr.
	server := mcp.NewServer(eng, Version, rt.Logger)
	return server.Run(ctx, rt.In, rt.Out)
}

// ServeCmd starts the MCP server together with config reloading, mirror
// flushing and an optional metrics endpoint.
type ServeCmd struct {
	Metrics    bool          `help:"Expose Prometheus metrics (overrides the config file)"`
	FlushEvery time.Duration `default:"5s" help:"How often buffered changes are flushed to the mirror"`
	NoWatch    bool          `help:"Do not reload the config file on change"`
}

// Run executes the serve command.
func (c *ServeCmd) Run(rt *Runtime) error {
	ctx, stop := signalContext()
	defer stop()

	mc := rt.Config.Metrics
	if c.Metrics || mc.Enabled {
		rt.Metrics = engine.NewMetrics(mc.Namespace)
	}
	eng, err := rt.Engine(ctx)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	bg, cancel := context.WithCancel(ctx)
	defer cancel()

	if !c.NoWatch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := config.Watch(bg, rt.ConfigPath, rt.Logger, rt.applyReload)
			if err != nil && !errors.Is(err, context.Canceled) {
				rt.Logger.Warn("config watch stopped", zap.Error(err))
			}
		}()
	}

	if rt.batch != nil && c.FlushEvery > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(c.FlushEvery)
			defer ticker.Stop()
			for {
				select {
				case <-bg.Done():
					return
				case <-ticker.C:
					_ = rt.FlushMirror(bg)
				}
			}
		}()
	}

	if rt.Metrics != nil {
		srv := metricsServer(mc.Addr, rt.Metrics, eng)
		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.Logger.Info("metrics listening", zap.String("addr", mc.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				rt.Logger.Error("metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	fmt.Fprintln(os.Stderr, "Starting MCP server...")
	server := mcp.NewServer(eng, Version, rt.Logger)
	err = server.Run(ctx, rt.In, rt.Out)
	cancel()
	return err
}

// applyReload applies the settings that can change without a restart.
// Storage changes need a restart and are only reported.
func (rt *Runtime) applyReload(cfg *config.Config) {
	if rt.globals != nil {
		rt.globals.apply(cfg)
	}
	if err := logging.SetLevel(rt.Level, cfg.Log.Level); err != nil {
		rt.Logger.Warn("log level not applied", zap.Error(err))
	} else {
		rt.Logger.Info("log level applied", zap.String("level", cfg.Log.Level))
	}
	if cfg.Storage != rt.Config.Storage {
		rt.Logger.Warn("storage settings changed; restart to apply")
	}
	rt.Config.Log = cfg.Log
}

// metricsServer serves /metrics and a /healthz probe reporting engine
// counts. Request logging stays off: stdout carries JSON-RPC.
func metricsServer(addr string, m *engine.Metrics, eng *engine.Engine) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		st, err := eng.Stats(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	})

	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
