// Package cmd provides the timegraph command line interface.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/Benny93/timegraph/internal/config"
	"github.com/Benny93/timegraph/internal/engine"
	"github.com/Benny93/timegraph/internal/graph"
	"github.com/Benny93/timegraph/internal/logging"
	"github.com/Benny93/timegraph/internal/storage"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Globals are the flags shared by every command.
type Globals struct {
	Config    string `help:"Path to the config file" default:".timegraph/config.yaml" type:"path"`
	Data      string `help:"Badger data directory; overrides the config file" type:"path"`
	Backend   string `help:"Storage backend: memory or badger; overrides the config file"`
	Mirror    string `help:"Second Badger directory that receives every committed change" type:"path"`
	ReadOnly  bool   `help:"Open the store read-only"`
	LogLevel  string `help:"Log level: debug, info, warn or error"`
	LogFormat string `help:"Log format: console or json"`
}

// CLI is the root Kong command structure.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Show version information"`

	Node      NodeCmd      `cmd:"" help:"Create, update, expire and inspect nodes"`
	Edge      EdgeCmd      `cmd:"" help:"Create, update, expire and inspect edges"`
	Component ComponentCmd `cmd:"" help:"Create, update, expire and inspect components"`
	Path      PathCmd      `cmd:"" help:"Query paths between active nodes"`
	Stats     StatsCmd     `cmd:"" help:"Show counts of active elements"`
	Import    ImportCmd    `cmd:"" help:"Replay the history of a git repository into the graph"`
	MCP       MCPCmd       `cmd:"" name:"mcp" help:"Start MCP server (stdio transport)"`
	Serve     ServeCmd     `cmd:"" help:"Start MCP server with config reload and metrics"`
}

// NewCLI creates a new CLI instance.
func NewCLI() *CLI {
	return &CLI{}
}

// Execute parses command-line arguments and executes the selected command
// against the process streams.
func (c *CLI) Execute(args []string) error {
	return c.ExecuteWith(args, os.Stdin, os.Stdout)
}

// ExecuteWith is Execute with explicit streams.
// Errors from closing the runtime, including a failed final mirror flush,
// are joined into the returned error.
func (c *CLI) ExecuteWith(args []string, in io.Reader, out io.Writer) (err error) {
	parser, err := kong.New(c,
		kong.Name("timegraph"),
		kong.Description("Versioned graph store with time travel"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"version": Version,
		},
		kong.Writers(out, os.Stderr),
	)
	if err != nil {
		return err
	}
	kongCtx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	rt, err := newRuntime(&c.Globals, in, out)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("closing: %w", cerr))
		}
	}()

	return kongCtx.Run(rt)
}

// Runtime carries the resolved settings and lazily opened engine of one
// invocation.
type Runtime struct {
	Config     *config.Config
	ConfigPath string
	Logger     *zap.Logger
	Level      zap.AtomicLevel
	Metrics    *engine.Metrics

	In  io.Reader
	Out io.Writer

	globals *Globals
	eng     *engine.Engine
	batch   *engine.BatchListener
	breaker *gobreaker.CircuitBreaker
	mirror  storage.Store
}

func newRuntime(g *Globals, in io.Reader, out io.Writer) (*Runtime, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	g.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, level, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	return &Runtime{
		Config:     cfg,
		ConfigPath: g.Config,
		Logger:     logger,
		Level:      level,
		In:         in,
		Out:        out,
		globals:    g,
	}, nil
}

// apply lays the flags over the loaded config.
func (g *Globals) apply(cfg *config.Config) {
	if g.Data != "" {
		cfg.Storage.Path = g.Data
	}
	if g.Backend != "" {
		cfg.Storage.Backend = g.Backend
	}
	if g.Mirror != "" {
		cfg.Storage.Mirror = g.Mirror
	}
	if g.ReadOnly {
		cfg.Storage.ReadOnly = true
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	if g.LogFormat != "" {
		cfg.Log.Format = g.LogFormat
	}
}

// Engine opens the store and hydrates the engine on first use.
func (rt *Runtime) Engine(ctx context.Context) (*engine.Engine, error) {
	if rt.eng != nil {
		return rt.eng, nil
	}

	sc := rt.Config.Storage
	if sc.Backend == storage.BackendBadger && !sc.ReadOnly {
		if err := os.MkdirAll(sc.Path, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	store, err := storage.Open(sc.Backend, sc.Path, sc.ReadOnly)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", sc.Backend, err)
	}

	opts := []engine.Option{engine.WithLogger(rt.Logger)}
	if rt.Metrics != nil {
		opts = append(opts, engine.WithMetrics(rt.Metrics))
	}
	if sc.Mirror != "" {
		if err := os.MkdirAll(sc.Mirror, 0o755); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("creating mirror directory: %w", err)
		}
		mirror, err := storage.Open(storage.BackendBadger, sc.Mirror, false)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("opening mirror: %w", err)
		}
		rt.mirror = mirror
		rt.batch = engine.NewBatchListener(engine.StoreFlusher{Store: mirror})
		rt.breaker = newMirrorBreaker(rt.Logger)
		opts = append(opts, engine.WithListener(rt.batch))
	}

	eng, err := engine.Open(ctx, store, opts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	rt.eng = eng
	return eng, nil
}

// FlushMirror writes buffered changes to the mirror, if one is configured.
// After repeated failures the breaker opens and flushes are skipped, with
// the batch kept, until the mirror has had time to recover.
func (rt *Runtime) FlushMirror(ctx context.Context) error {
	if rt.batch == nil || rt.batch.Pending() == 0 {
		return nil
	}
	var id uuid.UUID
	_, err := rt.breaker.Execute(func() (any, error) {
		var err error
		id, err = rt.batch.Flush(ctx)
		return nil, err
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState):
		rt.Logger.Debug("mirror flush skipped", zap.Int("pending", rt.batch.Pending()))
		return err
	case err != nil:
		rt.Logger.Warn("mirror flush failed", zap.Stringer("batch", id), zap.Error(err))
		return err
	}
	rt.Logger.Debug("mirror flushed", zap.Stringer("batch", id))
	return nil
}

func newMirrorBreaker(logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mirror",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("mirror breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// Close flushes the mirror and closes every store.
func (rt *Runtime) Close() error {
	var errs []error
	if err := rt.FlushMirror(context.Background()); err != nil {
		errs = append(errs, err)
	}
	if rt.eng != nil {
		errs = append(errs, rt.eng.Close())
	}
	if rt.mirror != nil {
		errs = append(errs, rt.mirror.Close())
	}
	_ = rt.Logger.Sync()
	return errors.Join(errs...)
}

// Helper functions

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	faint  = color.New(color.Faint)
)

func (rt *Runtime) success(format string, args ...any) {
	green.Fprintf(rt.Out, format+"\n", args...)
}

func (rt *Runtime) printJSON(v any) error {
	enc := json.NewEncoder(rt.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printHistory lists versions one per line with their active interval.
func (rt *Runtime) printHistory(versions []graph.Versioned) {
	for _, v := range versions {
		expired := "active"
		if exp := v.ExpiredAt(); exp != nil {
			expired = exp.UTC().Format(time.RFC3339Nano)
		}
		line := fmt.Sprintf("%-32s %-35s %s", v.Locator(), v.CreatedAt().UTC().Format(time.RFC3339Nano), expired)
		if v.IsActive() {
			green.Fprintln(rt.Out, line)
		} else {
			faint.Fprintln(rt.Out, line)
		}
	}
}

// parseData builds a payload from a JSON literal. An empty literal yields
// nil.
func parseData(typ graph.Type, raw string) (*graph.Data, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return &graph.Data{Type: typ, Payload: json.RawMessage(raw)}, nil
}

func parseLocators(raw []string) (graph.LocatorSet, error) {
	locs := make([]graph.Locator, 0, len(raw))
	for _, s := range raw {
		loc, err := graph.ParseLocator(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		locs = append(locs, loc)
	}
	return graph.NewLocatorSet(locs...), nil
}
