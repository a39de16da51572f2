package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/tqbf/automount/pkg/classify"
	"github.com/tqbf/automount/pkg/logging"
	"github.com/tqbf/automount/pkg/mount"
	"github.com/tqbf/automount/pkg/pack"
)

func manifestCmd() *cli.Command {
	return &cli.Command{
		Name:      "manifest",
		Usage:     "hash a directory the way a mount would ship it",
		ArgsUsage: "<dir>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "remote",
				Usage: "remote prefix (default: remote_root)",
			},
			&cli.StringSliceFlag{
				Name:  "exclude",
				Usage: "exclude pattern (repeatable)",
			},
			&cli.StringFlag{
				Name:  "against",
				Usage: "compare with an uploaded mount ID",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "output as JSON",
			},
		},
		Action: manifestAction,
	}
}

type diffJSON struct {
	Digest    string         `json:"digest"`
	Files     int            `json:"files"`
	Bytes     int64          `json:"bytes"`
	Uploads   []diffTransfer `json:"uploads,omitempty"`
	Deletes   []string       `json:"deletes,omitempty"`
	Unchanged int            `json:"unchanged,omitempty"`
}

type diffTransfer struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Reason string `json:"reason"`
}

func manifestAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: automount manifest [options] <dir>")
	}
	dir, err := filepath.Abs(c.Args().Get(0))
	if err != nil {
		return err
	}
	remote := c.String("remote")
	if remote == "" {
		remote = cfg.RemoteRoot
	}

	ctx, cancel := contextWithTimeout()
	defer cancel()

	excludes := append(append([]string(nil), cfg.Exclude...), c.StringSlice("exclude")...)
	spec := mount.NewDirMount(dir, remote, classify.New(excludes))
	spec.ID = "manifest:" + dir
	b, err := pack.Build(ctx, spec, pack.Options{
		Workers: cfg.HashWorkers,
		Logger:  logging.Sub("pack"),
	})
	if err != nil {
		return err
	}
	for _, w := range b.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %v\n", w)
	}

	var (
		remoteM pack.Manifest
		diff    pack.DiffResult
		against = c.String("against")
	)
	if against != "" {
		client, err := newClient(ctx)
		if err != nil {
			return err
		}
		info, err := client.GetMount(ctx, against)
		if err != nil {
			return fmt.Errorf("get mount %s: %w", against, err)
		}
		remoteM = info.Manifest()
		diff = pack.ComputeDiff(b.Manifest, remoteM, true)
	}

	if c.Bool("json") {
		out := diffJSON{
			Digest:    b.Manifest.Digest(),
			Files:     len(b.Manifest),
			Bytes:     manifestSize(b.Manifest),
			Deletes:   diff.Deletes,
			Unchanged: diff.Unchanged,
		}
		for _, p := range diff.Uploads {
			reason := "new"
			if _, ok := remoteM[p]; ok {
				reason = "changed"
			}
			out.Uploads = append(out.Uploads, diffTransfer{
				Path: p, Size: b.Manifest[p].Size, Reason: reason,
			})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if against == "" {
		for _, p := range b.Manifest.Paths() {
			e := b.Manifest[p]
			fmt.Printf("%s %04o %10d %s\n", e.Hash, e.Mode, e.Size, p)
		}
		fmt.Printf("\n%d files, %s, digest %s\n",
			len(b.Manifest), humanBytes(manifestSize(b.Manifest)), b.Manifest.Digest())
		return nil
	}

	if diff.Empty() {
		fmt.Printf("%s is up to date (%d files)\n", against, diff.Unchanged)
		return nil
	}
	printChanges(diff.Uploads, diff.Deletes, b.Manifest, remoteM)
	fmt.Printf("\n%d to upload, %d to delete, %d unchanged\n",
		len(diff.Uploads), len(diff.Deletes), diff.Unchanged)
	return nil
}
