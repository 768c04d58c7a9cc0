// Command inferedge is the CLI entrypoint for the edge inference
// gateway.
//
// Usage:
//
//	inferedge serve
//	inferedge version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	hclog "github.com/hashicorp/go-hclog"

	"github.com/edgerun/inferedge/internal/config"
	"github.com/edgerun/inferedge/internal/httpapi"
	"github.com/edgerun/inferedge/internal/identity"
	"github.com/edgerun/inferedge/internal/inference"
	"github.com/edgerun/inferedge/internal/logging"
	"github.com/edgerun/inferedge/internal/pipeline"
	"github.com/edgerun/inferedge/internal/plugin"
	"github.com/edgerun/inferedge/internal/store"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve   ServeCmd   `cmd:"" help:"Start the gateway HTTP server."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("inferedge %s\n", buildVersion())
	return nil
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return "dev"
}

// ServeCmd starts the gateway.
type ServeCmd struct{}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.Init(logging.ParseLevel(cfg.LogLevel), os.Stderr, cfg.LogFormat)
	logger.Info("starting inferedge", "version", buildVersion(), "addr", cfg.Addr())

	pluginLog := hclog.New(&hclog.LoggerOptions{Name: "plugin", Level: hclog.Info})

	id, err := identity.LoadOrGenerate(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("failed to load device identity: %w", err)
	}
	logger.Info("device identity loaded", "device_id", id.PublicKeyHex())

	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}
	defer st.Close()

	registry := plugin.LoadRegistry(cfg.PluginDir, pluginLog)
	runner := plugin.NewRunner(cfg.PluginDir, pluginLog)

	actor := inference.Spawn(cfg.ModelPath, cfg.LLMThreads, logger)
	defer actor.Shutdown()

	p := pipeline.New(actor, registry, runner, st, logger)

	srv := httpapi.New(cfg.Addr(), p, actor, st, buildVersion(), id.PublicKeyHex(), cfg.InferenceTimeout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server exited: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining in-flight requests")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	}
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("inferedge"),
		kong.Description("Edge-deployed inference gateway"),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	if err != nil {
		slog.Error("inferedge exited with error", "error", err)
	}
	ctx.FatalIfErrorf(err)
}
