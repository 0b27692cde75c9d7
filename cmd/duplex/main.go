package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ovelia/duplex/pkg/duplex"
	"github.com/ovelia/duplex/pkg/logging"
	"github.com/ovelia/duplex/pkg/runner"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := duplex.LoadConfig(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := logging.InitLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	slog.SetDefault(log)

	registry := duplex.NewProviderRegistry()
	duplex.RegisterDefaults(registry)

	engine, err := duplex.NewEngine(duplex.EngineOptions{
		Config:    cfg,
		Providers: registry,
		Logger:    log,
	})
	if err != nil {
		log.Error("build engine", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	lr := runner.NewLifecycleRunner(engine, runner.Hooks{
		OnStart: func() {
			if err := engine.Start(ctx); err != nil {
				log.Error("start session", "error", err)
				cancel()
			}
		},
	}, 10*time.Second)

	if err := lr.Run(ctx); err != nil {
		log.Error("shutdown", "error", err)
		os.Exit(1)
	}
	log.Info("goodbye")
}
