package mountapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/tqbf/automount/pkg/config"
)

// ResolveToken returns the configured token, or runs the configured
// token command. The command may print the bare token, a JSON object
// with a "token" field, or an "authorization: Bearer" header line.
func ResolveToken(ctx context.Context, cfg config.Server) (string, error) {
	if cfg.Token != "" {
		return cfg.Token, nil
	}
	if cfg.TokenCommand == "" {
		return "", nil
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", cfg.TokenCommand)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("token command: %w: %s",
			err, strings.TrimSpace(stderr.String()))
	}

	token, err := parseToken(out)
	if err != nil {
		return "", err
	}
	slog.Debug("resolved token from command", "command", cfg.TokenCommand)
	return token, nil
}

func parseToken(out []byte) (string, error) {
	var obj struct {
		Token string `json:"token"`
	}
	if json.Unmarshal(out, &obj) == nil && obj.Token != "" {
		return obj.Token, nil
	}

	var last string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if _, after, ok := strings.Cut(line, "authorization: Bearer "); ok {
			return strings.TrimSpace(after), nil
		}
		if t := strings.TrimSpace(line); t != "" {
			last = t
		}
	}
	if last == "" {
		return "", fmt.Errorf("token command printed no token")
	}
	return last, nil
}
