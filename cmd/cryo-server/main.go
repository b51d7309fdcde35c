// Command cryo-server runs a standalone Cryo storage process: it opens
// a page file and write-ahead log under a data directory and serves
// the wire protocol over TCP until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/DavisRayM/cryo/config"
	"github.com/DavisRayM/cryo/pager"
	"github.com/DavisRayM/cryo/server"
	"github.com/DavisRayM/cryo/wal"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		bindAddr   string
		dataDir    string
	)

	cmd := &cobra.Command{
		Use:   "cryo-server",
		Short: "Serve a Cryo storage engine over TCP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if bindAddr != "" {
				cfg.BindAddr = bindAddr
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "cryo.yaml", "path to a YAML config file")
	cmd.Flags().StringVar(&bindAddr, "addr", "", "override the configured bind address")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "override the configured data directory")
	return cmd
}

func run(cfg config.Config) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("cryo-server: build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("cryo-server: create data dir %s: %w", cfg.DataDir, err)
	}

	p, err := pager.Open(filepath.Join(cfg.DataDir, "cryo.db"), cfg.CacheSize)
	if err != nil {
		return fmt.Errorf("cryo-server: open pager: %w", err)
	}
	l, err := wal.Open(filepath.Join(cfg.DataDir, "cryo.wal"), p, cfg.CheckpointEvery)
	if err != nil {
		return fmt.Errorf("cryo-server: open log: %w", err)
	}

	srv := server.New(l, log, cfg.WorkerPoolSize)
	if err := srv.Listen(cfg.BindAddr); err != nil {
		return err
	}
	log.Info("cryo-server starting", zap.String("data_dir", cfg.DataDir), zap.String("addr", cfg.BindAddr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Serve(ctx)
}
