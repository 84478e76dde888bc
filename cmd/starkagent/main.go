// Command starkagent runs the agent orchestration runtime and its admin
// surface. `starkagent serve` is the long-running daemon; every other
// subcommand constructs the runtime locally for one-shot inspection or
// maintenance.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"starkagent/internal/kernel"
	"starkagent/internal/orch"
	"starkagent/pkg/config"
	"starkagent/pkg/metrics"
	"starkagent/pkg/proto"
)

// Exit codes. Scripts depend on these staying stable.
const (
	exitOK          = 0
	exitUsage       = 2
	exitRuntime     = 3
	exitRateLimited = 4
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitUsage)
	}

	var code int
	switch os.Args[1] {
	case "serve":
		code = cmdServe()
	case "status":
		code = cmdStatus()
	case "ask":
		code = cmdAsk(os.Args[2:])
	case "route":
		code = cmdRoute(os.Args[2:])
	case "agents":
		code = cmdAgents(os.Args[2:])
	case "schedules":
		code = cmdSchedules(os.Args[2:])
	case "state":
		code = cmdState(os.Args[2:])
	case "secrets":
		code = cmdSecrets(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printUsage()
		code = exitUsage
	}
	os.Exit(code)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `starkagent - agent orchestration runtime

Usage:
  starkagent serve                      Run the daemon until interrupted
  starkagent status                     Print agents, schedules, and metrics
  starkagent ask <text>                 Route one message and print the response
  starkagent route --test <text>        Print the routing decision without executing
  starkagent agents list                List supervised agents
  starkagent agents start|stop|pause|resume <name>
  starkagent schedules list             List report schedules
  starkagent state save|load|clear      Manage the state snapshot
  starkagent secrets init               Create the encrypted secrets file

Configuration comes from the environment (STATE_FILE, RATE_LIMIT_PER_MINUTE,
LLM_ENDPOINT, LLM_MODEL, SKILLS_FILE, ...). LLM_API_KEY resolves through the
encrypted secrets file first, the environment second.
`)
}

// buildRuntime loads configuration, unlocks secrets when the encrypted file
// exists, and assembles the orchestrator.
func buildRuntime() (*orch.Orchestrator, *kernel.Kernel, error) {
	if err := maybeUnlockSecrets(); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	k, err := kernel.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	o, err := orch.New(k)
	if err != nil {
		k.Close()
		return nil, nil, err
	}
	// Restore the snapshot up front so one-shot commands see real data and
	// their shutdown flush never clobbers it with an empty store.
	if err := k.State.Load(); err != nil {
		o.Shutdown(0)
		return nil, nil, err
	}
	return o, k, nil
}

// maybeUnlockSecrets prompts for the secrets password when an encrypted file
// exists and no key is already in the environment.
func maybeUnlockSecrets() error {
	home, err := os.UserHomeDir()
	if err != nil || !config.SecretsFileExists(home) {
		return nil
	}
	if os.Getenv(config.EnvLLMAPIKey) != "" {
		return nil
	}

	password, err := promptPassword("secrets password: ")
	if err != nil {
		return err
	}
	return config.UnlockSecrets(home, password)
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(raw), nil
	}
	// Piped input, e.g. in scripts.
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func cmdServe() int {
	o, _, err := buildRuntime()
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		return exitRuntime
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := o.RunForever(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "runtime failed: %v\n", err)
		return exitRuntime
	}
	return exitOK
}

func cmdStatus() int {
	o, _, err := buildRuntime()
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		return exitRuntime
	}
	defer o.Shutdown(0)

	fmt.Println("agents:")
	for _, st := range o.Agents() {
		line := fmt.Sprintf("  %-16s %-8s restarts=%d", st.Name, st.State, st.Restarts)
		if st.LastError != "" {
			line += " last_error=" + st.LastError
		}
		fmt.Println(line)
	}

	fmt.Println("schedules:")
	for _, st := range o.Schedules() {
		fmt.Printf("  %-16s every %-8s runs=%d failures=%d\n", st.Name, st.Interval, st.Runs, st.Failures)
	}

	rendered, err := metrics.Render()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to render metrics: %v\n", err)
		return exitRuntime
	}
	fmt.Println("metrics:")
	fmt.Print(rendered)
	return exitOK
}

func cmdAsk(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: starkagent ask <text>")
		return exitUsage
	}
	o, _, err := buildRuntime()
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		return exitRuntime
	}
	defer o.Shutdown(0)

	msg := proto.NewMessage(strings.Join(args, " "), os.Getenv("USER"), "cli")
	env := o.Handle(context.Background(), msg)

	fmt.Println(env.Body)
	fmt.Fprintf(os.Stderr, "[%s via %s, %.2f confidence, %dms]\n",
		env.Status, env.Diagnostics.Skill, env.Diagnostics.Confidence, env.Diagnostics.LatencyMS)

	switch env.Status {
	case proto.StatusOK:
		return exitOK
	case proto.StatusRateLimited:
		return exitRateLimited
	default:
		return exitRuntime
	}
}

func cmdRoute(args []string) int {
	var text string
	switch {
	case len(args) >= 2 && args[0] == "--test":
		text = strings.Join(args[1:], " ")
	default:
		fmt.Fprintln(os.Stderr, "usage: starkagent route --test <text>")
		return exitUsage
	}

	_, k, err := buildRuntime()
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		return exitRuntime
	}
	defer k.Close()

	decision := k.Router.Route(proto.NewMessage(text, "route-test", "cli"))
	out, err := json.MarshalIndent(decision, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode decision: %v\n", err)
		return exitRuntime
	}
	fmt.Println(string(out))
	return exitOK
}

func cmdAgents(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: starkagent agents list|start|stop|pause|resume [name]")
		return exitUsage
	}

	o, _, err := buildRuntime()
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		return exitRuntime
	}
	defer o.Shutdown(0)

	switch args[0] {
	case "list":
		for _, st := range o.Agents() {
			fmt.Printf("%-16s %s\n", st.Name, st.State)
		}
		return exitOK
	case "start", "stop", "pause", "resume":
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "usage: starkagent agents %s <name>\n", args[0])
			return exitUsage
		}
		var opErr error
		switch args[0] {
		case "start":
			opErr = o.StartAgent(args[1])
		case "stop":
			opErr = o.StopAgent(args[1])
		case "pause":
			opErr = o.PauseAgent(args[1])
		case "resume":
			opErr = o.ResumeAgent(args[1])
		}
		if opErr != nil {
			fmt.Fprintf(os.Stderr, "%v\n", opErr)
			return exitRuntime
		}
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown agents subcommand %q\n", args[0])
		return exitUsage
	}
}

func cmdSchedules(args []string) int {
	if len(args) == 0 || args[0] != "list" {
		fmt.Fprintln(os.Stderr, "usage: starkagent schedules list")
		return exitUsage
	}

	o, _, err := buildRuntime()
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		return exitRuntime
	}
	defer o.Shutdown(0)

	for _, st := range o.Schedules() {
		fmt.Printf("%-16s every %s\n", st.Name, st.Interval)
	}
	return exitOK
}

func cmdState(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: starkagent state save|load|clear")
		return exitUsage
	}

	_, k, err := buildRuntime()
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		return exitRuntime
	}
	defer k.Close()

	switch args[0] {
	case "save":
		if err := k.State.Save(); err != nil {
			fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			return exitRuntime
		}
		fmt.Printf("saved snapshot to %s\n", k.State.Path())
		return exitOK
	case "load":
		if err := k.State.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "load failed: %v\n", err)
			return exitRuntime
		}
		fmt.Printf("market=%d arbitrage=%d whales=%d research=%d content=%d alerts=%d\n",
			k.State.Market.Len(), k.State.Arbitrage.Len(), k.State.Whales.Len(),
			k.State.Research.Len(), k.State.Content.Len(), k.State.Alerts.Len())
		return exitOK
	case "clear":
		fmt.Fprintf(os.Stderr, "delete snapshot %s? [y/N] ", k.State.Path())
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
			fmt.Fprintln(os.Stderr, "aborted")
			return exitOK
		}
		if err := os.Remove(k.State.Path()); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "clear failed: %v\n", err)
			return exitRuntime
		}
		fmt.Println("snapshot cleared")
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown state subcommand %q\n", args[0])
		return exitUsage
	}
}

func cmdSecrets(args []string) int {
	if len(args) == 0 || args[0] != "init" {
		fmt.Fprintln(os.Stderr, "usage: starkagent secrets init")
		return exitUsage
	}

	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot locate home directory: %v\n", err)
		return exitRuntime
	}
	if config.SecretsFileExists(home) {
		fmt.Fprintf(os.Stderr, "secrets file already exists under %s\n", filepath.Join(home, ".starkagent"))
		return exitRuntime
	}

	apiKey, err := promptPassword("LLM API key: ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitRuntime
	}
	password, err := promptPassword("encryption password: ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitRuntime
	}
	confirm, err := promptPassword("confirm password: ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitRuntime
	}
	if password != confirm {
		fmt.Fprintln(os.Stderr, "passwords do not match")
		return exitUsage
	}

	secrets := map[string]string{config.EnvLLMAPIKey: apiKey}
	if err := config.EncryptSecretsFile(home, password, secrets); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write secrets file: %v\n", err)
		return exitRuntime
	}
	fmt.Println("secrets file created")
	return exitOK
}
