// Package main is the site-side plughub agent. It runs the license heartbeat
// and offers one-shot commands for activation and diagnostics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"plughub/internal/app"
	"plughub/internal/config"
	"plughub/internal/infrastructure"
	"plughub/pkg/contracts"
)

const usage = `usage: plughub-agent [-dir path] <command> [args]

commands:
  run                     run the heartbeat until interrupted
  activate <api-key>      bind the key to the configured site domain
  deactivate              release this site's activation
  verify <slug>...        license decision, cached when fresh
  force-check <slug>      license decision from the server
  status <slug>           local cache, last-valid and grace state
  info                    account usage for this activation
  version                 print build information
`

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		slog.Error("plughub-agent failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("plughub-agent", flag.ContinueOnError)
	fs.SetOutput(stdout)
	fs.Usage = func() { fmt.Fprint(stdout, usage) }
	dir := fs.String("dir", "", "base directory for state and logs (defaults to the executable directory)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}
	command, rest := fs.Arg(0), fs.Args()[1:]
	if command == "version" {
		_, err := fmt.Fprintln(stdout, contracts.GetFullVersionString())
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	baseDir := *dir
	if baseDir == "" {
		if baseDir, err = config.ExecutableDir(); err != nil {
			return err
		}
	}

	paths := cfg.ResolvePaths(baseDir)
	if err := paths.EnsureDirectories(); err != nil {
		return err
	}

	// one-shot commands print JSON on stdout, so logs go to the file only
	logging := cfg.Logging
	logging.FilePath = paths.LogFile
	if command != "run" {
		logging.Output = "file"
	}
	logger, closer, err := infrastructure.NewLogger(logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer closer.Close()

	agent, err := app.NewAgent(cfg, logger, baseDir)
	if err != nil {
		return err
	}
	defer agent.Close()

	switch command {
	case "run":
		return agent.Run(ctx)

	case "activate":
		if len(rest) != 1 {
			return errors.New("activate takes exactly one api key")
		}
		resp, err := agent.Client.Activate(ctx, rest[0])
		if err != nil {
			return err
		}
		return printJSON(stdout, resp)

	case "deactivate":
		found, err := agent.Client.Deactivate(ctx, agent.Scheduler.Plugins())
		if err != nil {
			return err
		}
		return printJSON(stdout, map[string]bool{"deactivated": found})

	case "verify":
		if len(rest) == 0 {
			return errors.New("verify needs at least one plugin slug")
		}
		if len(rest) == 1 {
			return printJSON(stdout, agent.Client.Verify(ctx, rest[0], false))
		}
		return printJSON(stdout, agent.Client.VerifyBatch(ctx, rest))

	case "force-check":
		if len(rest) != 1 {
			return errors.New("force-check takes exactly one plugin slug")
		}
		return printJSON(stdout, agent.Client.ForceCheck(ctx, rest[0]))

	case "status":
		if len(rest) != 1 {
			return errors.New("status takes exactly one plugin slug")
		}
		status, err := agent.Client.Status(ctx, rest[0])
		if err != nil {
			return err
		}
		return printJSON(stdout, status)

	case "info":
		info, err := agent.Client.Info(ctx)
		if err != nil {
			return err
		}
		return printJSON(stdout, info)

	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
