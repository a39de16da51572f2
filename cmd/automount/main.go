package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/tqbf/automount/pkg/config"
	"github.com/tqbf/automount/pkg/logging"
	"github.com/tqbf/automount/pkg/mountapi"
	"github.com/tqbf/automount/pkg/pack"
)

const appVersion = "0.1.0"

var (
	cfg       *config.Config
	logCloser io.Closer
)

func main() {
	app := &cli.App{
		Name:   "automount",
		Usage:  "ship a Python entrypoint with the local code it imports",
		Before: setup,
		After: func(c *cli.Context) error {
			if logCloser == nil {
				return nil
			}
			return logCloser.Close()
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				EnvVars: []string{"AUTOMOUNT_CONFIG"},
				Usage:   "config file (default: ./automount.yaml or ~/.config/automount)",
			},
			&cli.StringFlag{
				Name:  "server",
				Usage: "mount server URL",
			},
			&cli.StringFlag{
				Name:  "token",
				Usage: "mount server token",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "operation timeout",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "also log to a rotating file",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "verbose output",
			},
		},
		Commands: []*cli.Command{
			planCmd(),
			manifestCmd(),
			deployCmd(),
			serveCmd(),
			doctorCmd(),
			{
				Name:  "version",
				Usage: "print version",
				Action: func(c *cli.Context) error {
					fmt.Println(appVersion)
					return nil
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration, lets global flags override it and
// configures logging.
func setup(c *cli.Context) error {
	loaded, file, err := config.Load(config.LoadOptions{File: c.String("config")})
	if err != nil {
		return err
	}
	if c.IsSet("server") {
		loaded.Server.URL = c.String("server")
	}
	if c.IsSet("token") {
		loaded.Server.Token = c.String("token")
	}
	if c.IsSet("timeout") {
		loaded.Server.Timeout = c.Duration("timeout")
	}
	if c.IsSet("log-file") {
		loaded.Log.File = c.String("log-file")
	}
	if c.Bool("verbose") {
		loaded.Log.Level = "debug"
	}

	level, err := logging.ParseLevel(loaded.Log.Level)
	if err != nil {
		return err
	}
	_, closer, err := logging.Init(logging.Options{
		Level:      level,
		File:       loaded.Log.File,
		MaxSizeMB:  loaded.Log.MaxSizeMB,
		MaxBackups: loaded.Log.MaxBackups,
	})
	if err != nil {
		return err
	}
	logCloser = closer
	cfg = loaded
	if file != "" {
		slog.Debug("loaded config", "file", file)
	}
	return nil
}

func contextWithTimeout() (context.Context, context.CancelFunc) {
	if cfg.Server.Timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), cfg.Server.Timeout)
}

func newClient(ctx context.Context) (*mountapi.Client, error) {
	token, err := mountapi.ResolveToken(ctx, cfg.Server)
	if err != nil {
		return nil, fmt.Errorf(
			"no token: set AUTOMOUNT_SERVER_TOKEN, use --token, "+
				"or configure server.token_command: %w",
			err,
		)
	}
	return mountapi.New(cfg.Server.URL, token), nil
}

func newUploader(client *mountapi.Client) *mountapi.Uploader {
	up := mountapi.NewUploader(client, cfg.Server.Retries)
	up.Logger = logging.Sub("upload")
	return up
}

func humanBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func printChanges(uploads, deletes []string, local, remote pack.Manifest) {
	var b strings.Builder
	for _, p := range uploads {
		prefix := "+"
		if _, ok := remote[p]; ok {
			prefix = "~"
		}
		if e, ok := local[p]; ok {
			fmt.Fprintf(&b, "  %s %s (%s)\n", prefix, p, humanBytes(e.Size))
		}
	}
	for _, p := range deletes {
		fmt.Fprintf(&b, "  - %s\n", p)
	}
	fmt.Print(b.String())
}

func manifestSize(m pack.Manifest) int64 {
	var total int64
	for _, e := range m {
		total += e.Size
	}
	return total
}
