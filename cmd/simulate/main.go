// Command simulate deploys the example project against an in-process
// mount server and a fake interpreter installation, printing what
// each deployment ships.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/tqbf/automount/pkg/app"
	"github.com/tqbf/automount/pkg/closure"
	"github.com/tqbf/automount/pkg/harness"
	"github.com/tqbf/automount/pkg/logging"
	"github.com/tqbf/automount/pkg/pyenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

type scenario struct {
	name      string
	automount bool
	workDir   string
	ep        closure.Entrypoint
	want      []string
}

func run() error {
	if _, _, err := logging.Init(logging.Options{Level: slog.LevelWarn}); err != nil {
		return err
	}

	tmp, err := os.MkdirTemp("", "automount-sim-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)
	// Resolve symlinked temp dirs up front so printed paths match
	// what the resolver reports.
	if tmp, err = filepath.EvalSymlinks(tmp); err != nil {
		return err
	}

	fmt.Println("=== Building project and installation ===")
	proj, err := harness.WriteProject(filepath.Join(tmp, "project"))
	if err != nil {
		return err
	}
	inst, err := harness.WriteInstallation(tmp, true)
	if err != nil {
		return err
	}
	fmt.Printf("Project:      %s\n", proj.Root)
	fmt.Printf("Installation: %s -> %s\n\n", inst.Link, inst.Real)

	srv := harness.StartServer("simulate")
	defer srv.Close()
	fmt.Printf("Mount server: %s\n", srv.URL())

	scenarios := []scenario{
		{
			name:      "script",
			automount: true,
			workDir:   proj.Root,
			ep:        closure.Script(proj.Script),
			want:      harness.ScriptFiles,
		},
		{
			name:      "module",
			automount: true,
			workDir:   proj.Root,
			ep:        closure.ModuleEntry(proj.Package),
			want:      harness.PackageFiles,
		},
		{
			name:    "script, automount off",
			workDir: proj.Root,
			ep:      closure.Script(proj.Script),
			want:    []string{"/root/script.py"},
		},
		{
			name:      "imports stdlib only",
			automount: true,
			workDir:   proj.Root,
			ep:        closure.Script(proj.ImportsAST),
			want:      []string{"/root/imports_ast.py"},
		},
	}

	ctx := context.Background()
	failed := 0
	for _, sc := range scenarios {
		fmt.Printf("\n=== Deploying %s (%s) ===\n", sc.name, sc.ep)
		files, d, err := deploy(ctx, srv, inst.Env, sc)
		if err != nil {
			return fmt.Errorf("%s: %w", sc.name, err)
		}
		fmt.Printf("deployment=%s specs=%d canonical=%d uploads=%d\n",
			d.ID, len(d.Specs), len(d.Canonical), len(d.MountIDs))
		for _, p := range files {
			fmt.Printf("  %s\n", p)
		}
		if slices.Equal(files, sc.want) {
			fmt.Println("  OK: matches expected file set")
		} else {
			failed++
			fmt.Printf("  MISMATCH: want %v\n", sc.want)
		}
	}

	fmt.Printf("\n=== Summary ===\n")
	fmt.Printf("  Scenarios: %d (%d mismatched)\n", len(scenarios), failed)
	fmt.Printf("  Mounts:    %d\n", srv.MountCount())
	fmt.Printf("  Blobs:     %d uploaded\n", srv.BlobUploads())
	if failed > 0 {
		return fmt.Errorf("%d scenarios mismatched", failed)
	}
	return nil
}

// deploy runs sc and pulls every resulting mount back, returning the
// sorted remote paths the function would see.
func deploy(
	ctx context.Context,
	srv *harness.Server,
	env *pyenv.Environment,
	sc scenario,
) ([]string, *app.Deployment, error) {
	resolver := closure.NewResolver(
		pyenv.NewResolver(env, pyenv.Overrides{}),
		closure.Options{WorkDir: sc.workDir},
	)
	a := app.New("simulate", resolver, app.Options{Automount: sc.automount})
	tag, err := a.Function("main", sc.ep)
	if err != nil {
		return nil, nil, err
	}
	d, err := a.Deploy(ctx, srv.Uploader)
	if err != nil {
		return nil, nil, err
	}
	if err := d.Err(); err != nil {
		return nil, nil, err
	}

	seen := make(map[string]bool)
	for _, id := range d.MountsFor(tag) {
		info, err := srv.Client.GetMount(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		for _, e := range info.Files {
			seen[e.Path] = true
		}
	}
	files := make([]string, 0, len(seen))
	for p := range seen {
		files = append(files, p)
	}
	sort.Strings(files)
	return files, d, nil
}
