package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tqbf/automount/pkg/app"
	"github.com/tqbf/automount/pkg/pack"
)

func deployCmd() *cli.Command {
	return &cli.Command{
		Name:      "deploy",
		Usage:     "build, deduplicate and upload an entrypoint's mounts",
		ArgsUsage: "<script.py|module>",
		Flags: append(entryFlags(),
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "show what would happen",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "output as JSON",
			},
		),
		Action: deployAction,
	}
}

func deployAction(c *cli.Context) error {
	ctx, cancel := contextWithTimeout()
	defer cancel()

	p, err := newProject(ctx, c)
	if err != nil {
		return err
	}

	var up app.Uploader
	if !c.Bool("dry-run") {
		client, err := newClient(ctx)
		if err != nil {
			return err
		}
		up = newUploader(client)
	}

	start := time.Now()
	d, err := p.app.Deploy(ctx, up)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return printDeploymentJSON(d)
	}
	printDeployment(d, up != nil)
	if up != nil {
		fmt.Printf("\nUploaded %d mounts in %s\n",
			len(d.MountIDs), time.Since(start).Round(time.Millisecond))
	}
	return d.Err()
}

func canonicalByID(d *app.Deployment) map[string]*pack.Built {
	out := make(map[string]*pack.Built, len(d.Canonical))
	for _, b := range d.Canonical {
		out[b.ID()] = b
	}
	return out
}
