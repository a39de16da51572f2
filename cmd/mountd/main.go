// Command mountd stores uploaded blobs and assembles them into mounts.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tqbf/automount/pkg/config"
	"github.com/tqbf/automount/pkg/logging"
	"github.com/tqbf/automount/pkg/mountserver"
)

const version = "0.1.0"

func main() {
	app := &cli.App{
		Name:    "mountd",
		Usage:   "content-addressed mount server",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				EnvVars: []string{"AUTOMOUNT_CONFIG"},
				Usage:   "config file",
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "listen address (default: server.listen)",
			},
			&cli.StringFlag{
				Name:  "store",
				Usage: "blob store: memory, disk or s3 (default: store.kind)",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "verbose output",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, file, err := config.Load(config.LoadOptions{File: c.String("config")})
	if err != nil {
		return err
	}
	if c.IsSet("listen") {
		cfg.Server.Listen = c.String("listen")
	}
	if c.IsSet("store") {
		cfg.Store.Kind = c.String("store")
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if c.Bool("verbose") {
		cfg.Log.Level = "debug"
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	log, closer, err := logging.Init(logging.Options{
		Level:      level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		return err
	}
	defer closer.Close()
	if file != "" {
		log.Info("loaded config", "file", file)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := mountserver.OpenStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if cfg.Server.Token == "" {
		log.Warn("no server.token set, accepting unauthenticated requests")
	}
	srv := mountserver.New(store, mountserver.Options{
		Token:  cfg.Server.Token,
		Logger: logging.Sub("mountd"),
	})

	hs := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", hs.Addr, "store", cfg.Store.Kind, "version", version)
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down", "mounts", srv.MountCount())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "err", err)
		return err
	}
	return nil
}
