package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tqbf/automount/pkg/protocol"
)

func doctorCmd() *cli.Command {
	return &cli.Command{
		Name:   "doctor",
		Usage:  "check the interpreter and the mount server",
		Action: doctorAction,
	}
}

func doctorAction(c *cli.Context) error {
	ctx, cancel := contextWithTimeout()
	defer cancel()

	fmt.Printf("Interpreter: %s\n", cfg.Interpreter)
	t := time.Now()
	env, err := environment(ctx, false)
	if err != nil {
		fmt.Printf("  Probe: FAIL (%v)\n", err)
		return fmt.Errorf("interpreter check failed")
	}
	fmt.Printf("  Probe: ok (%s %s, %dms)\n",
		env.Executable, env.Version, time.Since(t).Milliseconds())

	py := installResolver(env)
	fmt.Println("  Installation roots:")
	for _, r := range py.Roots() {
		fmt.Printf("    %s\n", r)
	}
	if len(env.ExternalPackages) > 0 {
		fmt.Println("  External packages:")
		for _, p := range env.ExternalPackages {
			fmt.Printf("    %s\n", p)
		}
	}
	fmt.Printf("  Automount: %v\n", cfg.AutomountEnabled())

	fmt.Printf("Server: %s\n", cfg.Server.URL)
	client, err := newClient(ctx)
	if err != nil {
		fmt.Printf("  Token: FAIL (%v)\n", err)
		return fmt.Errorf("token check failed")
	}
	if client.Token == "" {
		fmt.Printf("  Token: none\n")
	} else {
		fmt.Printf("  Token: ok\n")
	}

	t = time.Now()
	info, err := client.Ping(ctx)
	if err != nil {
		fmt.Printf("  API: FAIL (%v)\n", err)
		return fmt.Errorf("server check failed")
	}
	fmt.Printf("  API: ok (protocol %s, %d mounts, %dms)\n",
		info.Version, info.Mounts, time.Since(t).Milliseconds())
	if info.Version != protocol.Version {
		fmt.Printf("  Protocol: FAIL (client %s, server %s)\n",
			protocol.Version, info.Version)
		return fmt.Errorf("protocol mismatch")
	}

	t = time.Now()
	sess, err := client.BuildSession(ctx)
	if err != nil {
		fmt.Printf("  Session: FAIL (%v)\n", err)
		return fmt.Errorf("session check failed")
	}
	sess.Close()
	fmt.Printf("  Session: ok (ready in %dms)\n", time.Since(t).Milliseconds())

	fmt.Println("\nAll checks passed.")
	return nil
}
