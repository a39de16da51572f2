package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tqbf/automount/pkg/app"
	"github.com/tqbf/automount/pkg/logging"
	"github.com/tqbf/automount/pkg/watch"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:      "serve",
		Usage:     "deploy, then redeploy whenever mounted code changes",
		ArgsUsage: "<script.py|module>",
		Flags: append(entryFlags(), &cli.DurationFlag{
			Name:  "debounce",
			Value: watch.DefaultDebounce,
			Usage: "quiet period before redeploying",
		}),
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newProject(ctx, c)
	if err != nil {
		return err
	}
	client, err := newClient(ctx)
	if err != nil {
		return err
	}
	up := newUploader(client)
	log := logging.Sub("serve")

	deploy := func(ctx context.Context) (*app.Deployment, error) {
		dctx := ctx
		if cfg.Server.Timeout > 0 {
			var cancel context.CancelFunc
			dctx, cancel = context.WithTimeout(ctx, cfg.Server.Timeout)
			defer cancel()
		}
		start := time.Now()
		d, err := p.app.Deploy(dctx, up)
		if err != nil {
			return nil, err
		}
		if err := d.Err(); err != nil {
			log.Error("deployment incomplete", "deployment", d.ID, "err", err)
		}
		fmt.Printf("%s deployed %s: %v (%s)\n",
			time.Now().Format(time.TimeOnly), d.ID, d.MountsFor(p.tag),
			time.Since(start).Round(time.Millisecond))
		return d, nil
	}

	d, err := deploy(ctx)
	if err != nil {
		return err
	}
	roots := localRoots(d)

	// A redeploy that reaches new local roots restarts the watcher
	// over the new set.
	for {
		wctx, cancel := context.WithCancel(ctx)
		w, err := watch.New(watch.Config{
			Roots:      roots,
			Classifier: p.classifier,
			Debounce:   c.Duration("debounce"),
			Logger:     logging.Sub("watch"),
			OnChange: func(_ context.Context, changed []string) error {
				log.Info("change detected", "files", len(changed), "first", changed[0])
				d, err := deploy(ctx)
				if err != nil {
					return err
				}
				if next := localRoots(d); !sameRoots(next, roots) {
					roots = next
					cancel()
				}
				return nil
			},
		})
		if err != nil {
			cancel()
			return err
		}
		fmt.Printf("watching %d roots, ctrl-c to stop\n", len(roots))
		err = w.Run(wctx)
		cancel()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			slog.Debug("serve stopped")
			return nil
		}
	}
}

func sameRoots(a, b []string) bool {
	a = slices.Sorted(slices.Values(a))
	b = slices.Sorted(slices.Values(b))
	return slices.Equal(a, b)
}
