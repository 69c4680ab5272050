// Package app wires memoryd's cobra command, mirroring cmd/rag/app's
// NewApp/run/setupSignalContext shape but driving cobra directly instead
// of through pkg/infra/app.App (see options.ServerOptions's doc comment
// for why that indirection is unusable in this tree).
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/kart-io/logger"

	"github.com/kart-io/memoryd/cmd/memoryd/app/options"
	"github.com/kart-io/memoryd/internal/orchestrator"
	surfacehttp "github.com/kart-io/memoryd/internal/surface/http"
	"github.com/kart-io/memoryd/internal/surface/mcp"
	redisclient "github.com/kart-io/memoryd/pkg/component/redis"
)

const (
	// Name is the binary's name, used as the cobra command name and the
	// environment variable prefix viper binds flags under.
	Name = "memoryd"

	commandDesc = `memoryd is the long-term conversation memory service for an LLM CLI.

It captures conversations, compresses them into retrievable memory units
(summary, keywords, embedding), and serves hybrid vector+keyword search and
prompt injection back to the CLI — over an MCP stdio surface, an HTTP
surface, or both.`
)

// NewCommand builds the root cobra command. Flag binding follows
// pkg/infra/config/doc.go's documented pattern (viper.New, SetConfigFile,
// ReadInConfig, Unmarshal) plus pflag/viper's standard BindPFlags bridge,
// rather than pkg/infra/app.App's (broken) flavor of the same idea.
func NewCommand() *cobra.Command {
	opts := options.NewServerOptions()
	var configFile string

	cmd := &cobra.Command{
		Use:          Name,
		Short:        "Long-term conversation memory service",
		Long:         commandDesc,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			v.SetEnvPrefix(strings.ToUpper(Name))
			v.AutomaticEnv()
			v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
			if configFile != "" {
				v.SetConfigFile(configFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("reading config file: %w", err)
				}
			}
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return fmt.Errorf("binding flags: %w", err)
			}
			if err := v.Unmarshal(opts); err != nil {
				return fmt.Errorf("unmarshalling configuration: %w", err)
			}

			if err := opts.Complete(); err != nil {
				return fmt.Errorf("completing options: %w", err)
			}
			if errs := opts.Validate(); len(errs) > 0 {
				msgs := make([]string, len(errs))
				for i, e := range errs {
					msgs[i] = e.Error()
				}
				return fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
			}

			return run(opts)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "Path to a YAML/JSON/TOML config file.")
	opts.AddFlags(cmd.Flags())

	return cmd
}

// run builds every component through orchestrator.Init, starts whichever
// surfaces opts selected, and blocks until a signal or a fatal surface
// error, tearing everything down on the way out.
func run(opts *options.ServerOptions) error {
	if err := opts.Log.Init(); err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	logger.Infow("starting memoryd", "http_enabled", opts.HTTPEnabled, "mcp_enabled", opts.MCPEnabled)

	ctx := setupSignalContext()

	orch, err := orchestrator.Init(ctx, opts.OrchestratorConfig())
	if err != nil {
		return fmt.Errorf("initializing orchestrator: %w", err)
	}
	defer orch.Close()

	g, gctx := errgroup.WithContext(ctx)

	var httpServer *surfacehttp.Server
	if opts.HTTPEnabled {
		if client := newIdempotencyRedisClient(opts); client != nil {
			httpServer = surfacehttp.New(opts.HTTPConfig(), orch, surfacehttp.NewRedisIdempotencyStore(client.Client()))
		} else {
			httpServer = surfacehttp.New(opts.HTTPConfig(), orch, nil)
		}
		g.Go(func() error {
			if err := httpServer.Start(); err != nil {
				return fmt.Errorf("http surface: %w", err)
			}
			return nil
		})
	}

	if opts.MCPEnabled {
		mcpServer := mcp.New(orch)
		g.Go(func() error {
			if err := mcpServer.Serve(gctx); err != nil && gctx.Err() == nil {
				return fmt.Errorf("mcp surface: %w", err)
			}
			return nil
		})
	}

	<-gctx.Done()
	logger.Infow("memoryd shutting down")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Errorw("http surface: shutdown error", "error", err)
		}
	}

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return err
	}
	return nil
}

// newIdempotencyRedisClient dials the redis client backing the HTTP
// surface's idempotency-key dedup store. A nil return (cache disabled, or
// a dial failure) means /conversation/store performs no deduplication.
func newIdempotencyRedisClient(opts *options.ServerOptions) *redisclient.Client {
	if !opts.CacheEnabled {
		return nil
	}
	client, err := redisclient.New(opts.Redis)
	if err != nil {
		logger.Errorw("idempotency store: redis connection failed, continuing without deduplication", "error", err)
		return nil
	}
	return client
}

// setupSignalContext returns a context cancelled on SIGINT or SIGTERM,
// the same shape cmd/rag/app/server.go uses for graceful shutdown.
func setupSignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
		<-c
		os.Exit(1)
	}()
	return ctx
}
