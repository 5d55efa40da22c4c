// Command chatsg is the process entrypoint for the ChatSG orchestration
// core: it loads configuration, wires the C1-C11 components together,
// and exposes an illustrative SSE transport for the event stream.
//
// Usage:
//
//	chatsg serve --config chatsg.yaml
//	chatsg doctor --config chatsg.yaml
//	chatsg agents list --config chatsg.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/chatsg/chatsg/config"
	"github.com/chatsg/chatsg/pkg/logger"
)

// CLI defines the command-line interface (the teacher's kong-subcommand
// shape, pared down to ChatSG's three entrypoints).
type CLI struct {
	Serve  ServeCmd  `cmd:"" help:"Start the orchestration server."`
	Doctor DoctorCmd `cmd:"" help:"Validate configuration and report readiness."`
	Agents AgentsCmd `cmd:"" help:"Agent registry inspection."`

	Config   string `short:"c" help:"Path to config file." type:"path" default:"chatsg.yaml"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

type AgentsCmd struct {
	List AgentsListCmd `cmd:"" help:"List configured agents."`
}

func main() {
	var cli CLI
	parser := kong.Parse(&cli, kong.Name("chatsg"), kong.Description("ChatSG multi-agent orchestration core"))
	ctx := &runContext{cliConfig: cli.Config, logLevel: cli.LogLevel}
	err := parser.Run(ctx)
	parser.FatalIfErrorf(err)
}

// runContext is kong's bound-method receiver argument, carrying the
// top-level flags every subcommand needs.
type runContext struct {
	cliConfig string
	logLevel  string
}

func loadConfig(rc *runContext) (*config.Config, error) {
	level, levelErr := logger.ParseLevel(rc.logLevel)
	if levelErr != nil {
		level = slog.LevelInfo
	}
	logger.Init(level, os.Stderr, "simple")

	cfg, err := config.LoadConfig(rc.cliConfig)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", rc.cliConfig, err)
	}
	return cfg, nil
}

// DoctorCmd validates configuration and the reachability of its
// dependent stores without starting the server.
type DoctorCmd struct{}

func (c *DoctorCmd) Run(rc *runContext) error {
	cfg, err := loadConfig(rc)
	if err != nil {
		return err
	}

	app, err := buildApp(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("doctor: %w", err)
	}
	defer app.supervisor.Shutdown(context.Background())
	defer app.obsManager.Shutdown(context.Background())

	if err := app.store.Ping(context.Background()); err != nil {
		return fmt.Errorf("session store unreachable: %w", err)
	}

	fmt.Printf("config OK, session store reachable, %d agent(s) registered: %v\n",
		app.registry.Count(), app.registry.Names())
	return nil
}

// AgentsListCmd prints the configured agent roster and their keyword
// affinities without starting the server.
type AgentsListCmd struct{}

func (c *AgentsListCmd) Run(rc *runContext) error {
	cfg, err := loadConfig(rc)
	if err != nil {
		return err
	}

	app, err := buildApp(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer app.supervisor.Shutdown(context.Background())
	defer app.obsManager.Shutdown(context.Background())

	for _, caps := range app.registry.ListAgents() {
		fmt.Printf("%-20s features=%v tools=%v stateSharing=%v\n",
			caps.Name, caps.Features, caps.SupportsTools, caps.SupportsStateSharing)
	}
	return nil
}

// ServeCmd starts the HTTP/SSE transport and runs until an interrupt.
type ServeCmd struct {
	Addr  string `help:"HTTP listen address." default:":8090"`
	Watch bool   `help:"Hot-reload configuration on change." default:"true"`
}

func (c *ServeCmd) Run(rc *runContext) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.GetLogger().Info("received shutdown signal")
		cancel()
	}()

	cfg, err := loadConfig(rc)
	if err != nil {
		return err
	}

	app, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}

	if c.Watch {
		stopWatch, err := watchConfig(rc.cliConfig, app)
		if err != nil {
			logger.GetLogger().Warn("config watch disabled", "err", err)
		} else {
			defer stopWatch()
		}
	}

	srv := newHTTPServer(c.Addr, app)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			logger.GetLogger().Warn("http server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	logger.GetLogger().Info("shutting down")

	grace := time.Duration(app.cfg.Orchestrator.ShutdownGraceSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), grace)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := app.supervisor.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return app.obsManager.Shutdown(shutdownCtx)
}
