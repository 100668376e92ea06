// Vibe-reachout brokers coding-assistant permission prompts through
// Telegram.
//
// Invoked with no command it runs as a permission hook: it reads the
// assistant's request from stdin, forwards it to the broker daemon over
// a Unix socket, and writes the human's decision to stdout. The broker
// daemon itself is started with "vibe-reachout bot".
//
// Usage:
//
//	vibe-reachout                Run as a permission hook (stdin/stdout)
//	vibe-reachout bot            Start the broker daemon
//	vibe-reachout install        Register the hook in the assistant settings
//	vibe-reachout version        Print version and build information
//	vibe-reachout -o json version  Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nugget/vibe-reachout/internal/buildinfo"
	"github.com/nugget/vibe-reachout/internal/config"
	"github.com/nugget/vibe-reachout/internal/hook"
	"github.com/nugget/vibe-reachout/internal/install"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the vibe-reachout command. All
// OS-level dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the broker daemon.
//   - stdin carries the hook input in hook mode.
//   - stdout receives the hook's decision JSON and subcommand output.
//     All logging goes to stderr so stdout stays machine-parseable.
//   - args is os.Args[1:] — the command-line arguments after the
//     program name. We parse these manually rather than using the flag
//     package to avoid global state that interferes with parallel tests.
//
// run returns nil on success and a non-nil error for any failure. The
// caller (main) is responsible for printing the error and exiting.
func run(ctx context.Context, stdin io.Reader, stdout io.Writer, stderr io.Writer, args []string) error {
	// Parse arguments by hand. The flag package relies on package-level
	// globals (flag.CommandLine), which makes it impossible to call run()
	// concurrently from tests. Our argument surface is small enough that
	// manual parsing is clearer than bringing in a CLI framework.
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	// Default to human-readable text output.
	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "bot":
		return runBot(ctx, stderr, configPath)
	case "install":
		return install.Run(stdout)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return runHook(stdin, stdout, stderr, configPath)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runHook handles the default no-command invocation: the short-lived
// permission hook. stdout carries exactly one JSON decision line on
// success; a timeout or transport failure exits non-zero with nothing
// on stdout so the assistant falls back to its terminal prompt.
func runHook(stdin io.Reader, stdout io.Writer, stderr io.Writer, configPath string) error {
	// Hooks run on every tool call, so default to warnings only.
	logger := newLogger(stderr, slog.LevelWarn)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	return hook.Run(cfg, stdin, stdout, logger)
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// vibe-reachout is invoked with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "vibe-reachout - Telegram permission broker for coding assistants")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: vibe-reachout [flags] [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  bot          Start the broker daemon")
	fmt.Fprintln(w, "  install      Register the permission hook in assistant settings")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "With no command, runs as a permission hook: reads a request on")
	fmt.Fprintln(w, "stdin and writes the decision to stdout.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: ~/.config/vibe-reachout/config.toml)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment:")
	fmt.Fprintln(w, "  "+config.LogLevelEnv+"   Log level: debug, info, warn, error")
	return nil
}

// newLogger creates a structured text logger writing to w at the given
// level, raised or lowered by the log-level environment variable. All
// log output goes through slog; this helper standardizes the handler
// configuration across subcommands.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	if env := os.Getenv(config.LogLevelEnv); env != "" {
		if parsed, err := config.ParseLogLevel(env); err == nil {
			level = parsed
		}
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

// loadConfig parses the TOML configuration file. If explicit is
// non-empty, that exact path is used; otherwise the default location
// under ~/.config is loaded.
func loadConfig(explicit string) (*config.Config, error) {
	if explicit != "" {
		return config.LoadPath(explicit)
	}
	return config.Load()
}
