package app

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tqbf/automount/pkg/closure"
	"github.com/tqbf/automount/pkg/dedupe"
	"github.com/tqbf/automount/pkg/mount"
	"github.com/tqbf/automount/pkg/pack"
)

// Uploader ships one built mount and returns its remote identifier.
// It receives only canonical mounts.
type Uploader interface {
	Upload(ctx context.Context, deployment string, b *pack.Built) (string, error)
}

// Failure is a mount that could not be built or uploaded.
type Failure struct {
	SpecID string
	Stage  string
	Err    error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %s: %v", f.Stage, f.SpecID, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Deployment is the outcome of one Deploy. Nothing in it is reused by
// later deployments.
type Deployment struct {
	ID string
	// Specs are every mount considered, in registration order.
	Specs []*mount.Spec
	// Canonical are the built mounts left after deduplication,
	// sorted by ID.
	Canonical []*pack.Built
	// Mapping sends every successfully built spec ID to its
	// canonical spec ID.
	Mapping map[string]string
	// MountIDs sends canonical spec IDs to uploaded mount IDs.
	MountIDs map[string]string
	// Tags lists the spec IDs used by each registered tag.
	Tags     map[string][]string
	Closures map[string]*closure.Result
	Warnings []*mount.Warning
	Failures []Failure
}

// MountsFor returns the mounts a tag runs with: uploaded mount IDs
// where available, canonical spec IDs otherwise.
func (d *Deployment) MountsFor(tag string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range d.Tags[tag] {
		canon, ok := d.Mapping[id]
		if !ok {
			continue
		}
		ref := canon
		if mid, ok := d.MountIDs[canon]; ok {
			ref = mid
		}
		if !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	return out
}

// Err joins every failure, or returns nil.
func (d *Deployment) Err() error {
	errs := make([]error, 0, len(d.Failures))
	for _, f := range d.Failures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

func (a *App) workers() int {
	if a.opts.Workers > 0 {
		return a.opts.Workers
	}
	return runtime.NumCPU()
}

// Plan runs everything Deploy does except uploading.
func (a *App) Plan(ctx context.Context) (*Deployment, error) {
	return a.Deploy(ctx, nil)
}

// Deploy resolves, builds, deduplicates and uploads the app's
// mounts. Configuration errors about an entrypoint abort the
// deployment. A mount that fails to build or upload is recorded in
// Failures and does not stop its siblings unless FailFast is set.
// Cancelling ctx abandons the deployment before anything is
// uploaded, or stops uploads in flight.
func (a *App) Deploy(ctx context.Context, up Uploader) (*Deployment, error) {
	d := &Deployment{
		ID:       uuid.NewString(),
		Mapping:  make(map[string]string),
		MountIDs: make(map[string]string),
		Tags:     make(map[string][]string),
		Closures: make(map[string]*closure.Result),
	}
	log := a.log.With("deployment", d.ID)

	if err := a.collect(ctx, d); err != nil {
		return nil, err
	}
	log.Info("deploying", "functions", len(d.Tags), "mounts", len(d.Specs),
		"automount", a.opts.Automount)

	built := a.build(ctx, d)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, w := range d.Warnings {
		log.Warn("mount warning", "kind", w.Kind, "path", w.Path, "err", w.Err)
	}

	res := dedupe.Dedupe(built)
	d.Canonical = res.Canonical
	d.Mapping = res.Mapping
	if n := len(built) - len(res.Canonical); n > 0 {
		log.Info("deduplicated mounts", "suppressed", n)
	}

	if a.opts.FailFast && len(d.Failures) > 0 {
		return d, d.Err()
	}
	if up != nil {
		a.upload(ctx, d, up)
		if err := ctx.Err(); err != nil {
			return d, err
		}
	}

	for _, f := range d.Failures {
		log.Error("mount failed", "mount", f.SpecID, "stage", f.Stage, "err", f.Err)
	}
	if a.opts.FailFast && len(d.Failures) > 0 {
		return d, d.Err()
	}
	log.Info("deployed", "canonical", len(d.Canonical), "uploaded", len(d.MountIDs),
		"failed", len(d.Failures))
	return d, nil
}

// collect derives every spec for every registered function.
func (a *App) collect(ctx context.Context, d *Deployment) error {
	seen := make(map[string]bool)
	for _, fn := range a.Functions() {
		var derived []*mount.Spec
		if a.opts.Automount {
			res, err := a.resolver.ClosureOf(ctx, fn.Entrypoint)
			if err != nil {
				return fmt.Errorf("%s: %w", fn.Tag, err)
			}
			d.Closures[fn.Tag] = res
			derived = a.resolver.Mounts(res)
		} else {
			spec, err := a.resolver.EntrypointMount(fn.Entrypoint)
			if err != nil {
				return fmt.Errorf("%s: %w", fn.Tag, err)
			}
			if spec != nil {
				derived = append(derived, spec)
			}
		}

		d.Tags[fn.Tag] = []string{}
		for _, s := range append(derived, fn.Mounts...) {
			if s.Tag == "" {
				s.Tag = fn.Tag
			}
			d.Tags[fn.Tag] = append(d.Tags[fn.Tag], s.ID)
			if !seen[s.ID] {
				seen[s.ID] = true
				d.Specs = append(d.Specs, s)
			}
		}
	}
	return nil
}

// build enumerates and hashes each spec on its own worker. Results
// are merged in spec order once every worker is done.
func (a *App) build(ctx context.Context, d *Deployment) []*pack.Built {
	bctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]*pack.Built, len(d.Specs))
	errs := make([]error, len(d.Specs))

	var g errgroup.Group
	g.SetLimit(a.workers())
	for i, s := range d.Specs {
		g.Go(func() error {
			if err := bctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			b, err := pack.Build(bctx, s, a.opts.Pack)
			if err != nil {
				errs[i] = err
				if a.opts.FailFast {
					cancel()
				}
				return nil
			}
			results[i] = b
			return nil
		})
	}
	g.Wait()

	// Siblings cancelled by FailFast are not failures of their own.
	tripped := a.opts.FailFast && ctx.Err() == nil && bctx.Err() != nil

	var built []*pack.Built
	for i, s := range d.Specs {
		if err := errs[i]; err != nil {
			if tripped && errors.Is(err, context.Canceled) {
				continue
			}
			d.Failures = append(d.Failures, Failure{SpecID: s.ID, Stage: "build", Err: err})
			continue
		}
		d.Warnings = append(d.Warnings, results[i].Warnings...)
		built = append(built, results[i])
	}
	return built
}

func (a *App) upload(ctx context.Context, d *Deployment, up Uploader) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(a.workers())
	for _, b := range d.Canonical {
		g.Go(func() error {
			id, err := up.Upload(ctx, d.ID, b)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if !(errors.Is(err, context.Canceled) && len(d.Failures) > 0) {
					d.Failures = append(d.Failures, Failure{SpecID: b.ID(), Stage: "upload", Err: err})
				}
				if a.opts.FailFast {
					cancel()
				}
				return nil
			}
			d.MountIDs[b.ID()] = id
			return nil
		})
	}
	g.Wait()
}
