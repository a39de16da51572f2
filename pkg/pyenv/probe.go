package pyenv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// probeProgram prints the interpreter layout as a single JSON object.
const probeProgram = `
import json, site, sys, sysconfig
paths = sysconfig.get_paths()
sp = []
try:
    sp.extend(site.getsitepackages())
except AttributeError:
    pass
try:
    sp.append(site.getusersitepackages())
except AttributeError:
    pass
for key in ("purelib", "platlib"):
    if paths.get(key):
        sp.append(paths[key])
print(json.dumps({
    "executable": sys.executable,
    "version": "%d.%d.%d" % sys.version_info[:3],
    "prefix": sys.prefix,
    "base_prefix": getattr(sys, "base_prefix", sys.prefix),
    "exec_prefix": sys.exec_prefix,
    "stdlib": [p for p in (paths.get("stdlib"), paths.get("platstdlib")) if p],
    "site_packages": sp,
    "path": [p for p in sys.path if p],
    "builtin_modules": sorted(sys.builtin_module_names),
}))
`

// Probe runs interpreter and reads its layout. The interpreter is
// started with -I so user site customizations cannot change the
// answer.
func Probe(ctx context.Context, interpreter string) (*Environment, error) {
	bin, err := exec.LookPath(interpreter)
	if err != nil {
		return nil, fmt.Errorf(
			"python interpreter not found: %w", err,
		)
	}

	cmd := exec.CommandContext(ctx, bin, "-I", "-c", probeProgram)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf(
			"probe %s: %w (%s)",
			bin, err, strings.TrimSpace(stderr.String()),
		)
	}

	env, err := parseProbe(out)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", bin, err)
	}
	slog.Debug("probed interpreter",
		"executable", env.Executable,
		"version", env.Version,
		"prefix", env.Prefix,
	)
	return env, nil
}

func parseProbe(out []byte) (*Environment, error) {
	// Only the last non-empty line is the JSON payload; anything
	// before it came from sitecustomize or similar.
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return nil, fmt.Errorf("empty probe output")
	}
	var env Environment
	if err := json.Unmarshal([]byte(last), &env); err != nil {
		return nil, fmt.Errorf("parse probe output: %w", err)
	}
	if env.Prefix == "" {
		return nil, fmt.Errorf("probe output missing prefix")
	}
	env.SitePackages = dedupeStrings(env.SitePackages)
	return &env, nil
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
