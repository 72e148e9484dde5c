package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"astroreg/internal/cli"
	"astroreg/internal/config"
	"astroreg/internal/logging"
	"astroreg/internal/pipeline"
	"astroreg/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		log.Error("failed to open database", "path", cfg.Paths.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipe := pipeline.New(ctx, cfg.Processing.ParallelFrames, log, store, cfg)
	defer pipe.Stop()

	rootCmd := cli.NewRootCmd(cfg, log, store, pipe)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error("command failed", "error", err)
		os.Exit(1)
	}
}
