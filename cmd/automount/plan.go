package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/urfave/cli/v2"

	"github.com/tqbf/automount/pkg/app"
)

func planCmd() *cli.Command {
	return &cli.Command{
		Name:      "plan",
		Usage:     "show the closure and mounts without uploading",
		ArgsUsage: "<script.py|module>",
		Flags: append(entryFlags(), &cli.BoolFlag{
			Name:  "json",
			Usage: "output as JSON",
		}),
		Action: planAction,
	}
}

func planAction(c *cli.Context) error {
	ctx, cancel := contextWithTimeout()
	defer cancel()

	p, err := newProject(ctx, c)
	if err != nil {
		return err
	}
	d, err := p.app.Plan(ctx)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return printDeploymentJSON(d)
	}
	printDeployment(d, false)
	return d.Err()
}

type deploymentJSON struct {
	ID        string              `json:"id"`
	Functions map[string][]string `json:"functions"`
	Mounts    []mountJSON         `json:"mounts"`
	Closures  map[string][]string `json:"closures,omitempty"`
	Warnings  []string            `json:"warnings,omitempty"`
	Failures  []string            `json:"failures,omitempty"`
}

type mountJSON struct {
	ID        string `json:"id"`
	Origin    string `json:"origin"`
	Canonical string `json:"canonical,omitempty"`
	MountID   string `json:"mount_id,omitempty"`
	Files     int    `json:"files"`
	Bytes     int64  `json:"bytes"`
	Digest    string `json:"digest,omitempty"`
}

func printDeploymentJSON(d *app.Deployment) error {
	out := deploymentJSON{
		ID:        d.ID,
		Functions: make(map[string][]string, len(d.Tags)),
		Mounts:    []mountJSON{},
	}
	for tag := range d.Tags {
		out.Functions[tag] = d.MountsFor(tag)
	}
	if len(d.Closures) > 0 {
		out.Closures = make(map[string][]string, len(d.Closures))
		for tag, res := range d.Closures {
			names := make([]string, 0, len(res.Modules))
			for _, m := range res.Modules {
				names = append(names, m.Name)
			}
			out.Closures[tag] = names
		}
	}

	built := canonicalByID(d)
	for _, s := range d.Specs {
		mj := mountJSON{ID: s.ID, Origin: string(s.Origin)}
		if canon, ok := d.Mapping[s.ID]; ok {
			mj.Canonical = canon
			mj.MountID = d.MountIDs[canon]
			if b := built[canon]; b != nil {
				mj.Files = len(b.Manifest)
				mj.Bytes = manifestSize(b.Manifest)
				mj.Digest = b.Manifest.Digest()
			}
		}
		out.Mounts = append(out.Mounts, mj)
	}
	for _, w := range d.Warnings {
		out.Warnings = append(out.Warnings, w.Error())
	}
	for _, f := range d.Failures {
		out.Failures = append(out.Failures, f.Error())
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	return d.Err()
}

func printDeployment(d *app.Deployment, uploaded bool) {
	fmt.Printf("Deployment: %s\n", d.ID)

	tags := make([]string, 0, len(d.Tags))
	for tag := range d.Tags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		if res, ok := d.Closures[tag]; ok {
			fmt.Printf("\n[%s]\n%s", tag, res.Describe())
		}
	}

	built := canonicalByID(d)
	fmt.Printf("\nMounts (%d considered, %d after dedupe):\n",
		len(d.Specs), len(d.Canonical))
	for _, s := range d.Specs {
		canon, ok := d.Mapping[s.ID]
		switch {
		case !ok:
			fmt.Printf("  ! %s (%s) failed\n", s.ID, s.Origin)
		case canon != s.ID:
			fmt.Printf("  = %s (%s) same as %s\n", s.ID, s.Origin, canon)
		default:
			b := built[canon]
			line := fmt.Sprintf("  + %s (%s) %d files, %s",
				s.ID, s.Origin, len(b.Manifest),
				humanBytes(manifestSize(b.Manifest)))
			if mid, ok := d.MountIDs[canon]; ok {
				line += " -> " + mid
			}
			fmt.Println(line)
			if !uploaded {
				for _, p := range b.Manifest.Paths() {
					fmt.Printf("      %s\n", p)
				}
			}
		}
	}

	for _, tag := range tags {
		fmt.Printf("\n%s runs with: %v\n", tag, d.MountsFor(tag))
	}
	for _, w := range d.Warnings {
		fmt.Printf("warning: %v\n", w)
	}
	for _, f := range d.Failures {
		fmt.Printf("failed: %v\n", f)
	}
}
