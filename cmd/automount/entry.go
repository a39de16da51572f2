package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/tqbf/automount/pkg/app"
	"github.com/tqbf/automount/pkg/classify"
	"github.com/tqbf/automount/pkg/closure"
	"github.com/tqbf/automount/pkg/config"
	"github.com/tqbf/automount/pkg/logging"
	"github.com/tqbf/automount/pkg/mount"
	"github.com/tqbf/automount/pkg/pack"
	"github.com/tqbf/automount/pkg/pyenv"
)

func entryFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "module",
			Aliases: []string{"m"},
			Usage:   "treat the entrypoint as a dotted module name",
		},
		&cli.BoolFlag{
			Name:  "serialized",
			Usage: "treat the entrypoint as the origin file of a serialized callable",
		},
		&cli.StringFlag{
			Name:  "name",
			Value: "app",
			Usage: "app name",
		},
		&cli.StringFlag{
			Name:  "function",
			Value: "main",
			Usage: "qualified name the entrypoint is registered under",
		},
		&cli.StringSliceFlag{
			Name:  "mount",
			Usage: "explicit mount local:remote (repeatable)",
		},
		&cli.StringFlag{
			Name:  "automount",
			Usage: "override the automount setting (on/off)",
		},
		&cli.StringSliceFlag{
			Name:  "exclude",
			Usage: "exclude pattern (repeatable)",
		},
	}
}

// project is an app with one registered entrypoint, plus the pieces
// serve needs to watch it.
type project struct {
	app        *app.App
	tag        string
	classifier *classify.Classifier
}

func newProject(ctx context.Context, c *cli.Context) (*project, error) {
	if c.NArg() != 1 {
		return nil, fmt.Errorf(
			"usage: automount %s [options] <script.py|module>",
			c.Command.Name,
		)
	}
	if c.IsSet("automount") {
		if _, err := config.ParseToggle(c.String("automount")); err != nil {
			return nil, fmt.Errorf("--automount: %w", err)
		}
		cfg.Automount = c.String("automount")
	}
	excludes := append(append([]string(nil), cfg.Exclude...), c.StringSlice("exclude")...)
	classifier := classify.New(excludes)

	env, err := environment(ctx, true)
	if err != nil {
		return nil, err
	}
	py := installResolver(env)

	policy := closure.IncludeOrigin
	if !cfg.IncludeSerializedOrigin {
		policy = closure.OmitOrigin
	}
	resolver := closure.NewResolver(py, closure.Options{
		ExtraPath:        cfg.PythonPath,
		RemoteRoot:       cfg.RemoteRoot,
		SerializedOrigin: policy,
		Classifier:       classifier,
		Logger:           logging.Sub("closure"),
	})

	a := app.New(c.String("name"), resolver, app.Options{
		Automount: cfg.AutomountEnabled(),
		Workers:   cfg.Workers,
		Pack: pack.Options{
			Workers: cfg.HashWorkers,
			Logger:  logging.Sub("pack"),
		},
		FailFast: cfg.FailFast,
		Logger:   logging.Sub("app"),
	})

	arg := c.Args().Get(0)
	var ep closure.Entrypoint
	if c.Bool("serialized") {
		ep = closure.Serialized(arg)
	} else {
		ep, err = closure.ParseEntrypoint(arg, c.Bool("module"))
		if err != nil {
			return nil, err
		}
	}

	var explicit []*mount.Spec
	for _, m := range c.StringSlice("mount") {
		spec, err := parseMount(m, classifier)
		if err != nil {
			return nil, err
		}
		explicit = append(explicit, spec)
	}

	tag, err := a.Function(c.String("function"), ep, explicit...)
	if err != nil {
		return nil, err
	}
	return &project{app: a, tag: tag, classifier: classifier}, nil
}

// environment queries the configured interpreter and adds the
// configured external package directories. With fallback, a failed
// query is logged and the environment is read from VIRTUAL_ENV and
// PYTHONPATH instead.
func environment(ctx context.Context, fallback bool) (*pyenv.Environment, error) {
	env, err := pyenv.Probe(ctx, cfg.Interpreter)
	if err != nil {
		if !fallback {
			return nil, err
		}
		slog.Warn("interpreter query failed, falling back to environment",
			"interpreter", cfg.Interpreter, "err", err)
		env = pyenv.FromEnv()
	}
	env.ExternalPackages = append(env.ExternalPackages, cfg.ExternalPackages...)
	return env, nil
}

func installResolver(env *pyenv.Environment) *pyenv.Resolver {
	return pyenv.NewResolver(env, pyenv.Overrides{
		Allow: cfg.AllowPackages,
		Deny:  cfg.DeniedPackages(),
	})
}

// parseMount reads local:remote. A directory is mounted at remote,
// a file is mounted as remote; local is not looked at until the mount
// is enumerated.
func parseMount(s string, c *classify.Classifier) (*mount.Spec, error) {
	local, remote, ok := strings.Cut(s, ":")
	if !ok || local == "" || !strings.HasPrefix(remote, "/") {
		return nil, fmt.Errorf(
			"invalid mount %q (want local:/remote/path)", s,
		)
	}
	abs, err := filepath.Abs(local)
	if err != nil {
		return nil, err
	}
	return mount.NewPathMount(abs, remote, c), nil
}

// localRoots are the distinct local roots of every spec considered
// by d.
func localRoots(d *app.Deployment) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range d.Specs {
		for _, src := range s.Sources {
			root := src.LocalRoot()
			if !seen[root] {
				seen[root] = true
				out = append(out, root)
			}
		}
	}
	return out
}
