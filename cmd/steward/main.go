// Steward is a proactive personal assistant reachable over WhatsApp.
//
// It receives messages through an Evolution API webhook (and a small
// HTTP/WebSocket API), runs a bounded tool-calling loop against the
// configured model, keeps per-session history, and can schedule itself
// to come back to the user later. Configuration is loaded from a single
// YAML file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	steward serve                     Start the API server and scheduler
//	steward ask <message>             Handle a single message (for testing)
//	steward schedule <HH:MM> <msg>    Schedule an interaction for today or tomorrow
//	steward tasks [run|delete <id>]   List, trigger or remove scheduled tasks
//	steward version                   Print version and build information
//	steward -o json version           Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/stewardhq/steward/internal/api"
	"github.com/stewardhq/steward/internal/buildinfo"
	"github.com/stewardhq/steward/internal/chat"
	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/scheduler"
)

// main constructs the OS-level environment and delegates to [run], which
// keeps os.Exit, os.Stdout and os.Args out of the application logic.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand so that run
// can be called concurrently from tests without the flag package's
// global state.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case command != "":
			cmdArgs = append(cmdArgs, args[i])
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
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
		case !strings.HasPrefix(args[i], "-"):
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: steward ask <message>")
		}
		return runAsk(ctx, stdout, stderr, configPath, outputFmt, cmdArgs)
	case "schedule":
		if len(cmdArgs) < 2 {
			return fmt.Errorf("usage: steward schedule <HH:MM> <message>")
		}
		return runSchedule(ctx, stdout, configPath, outputFmt, cmdArgs[0], strings.Join(cmdArgs[1:], " "))
	case "tasks":
		return runTasks(ctx, stdout, stderr, configPath, outputFmt, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
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
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Steward - proactive personal assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: steward [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                   Start the API server and scheduler")
	fmt.Fprintln(w, "  ask <message>           Handle a single message (for testing)")
	fmt.Fprintln(w, "  schedule <HH:MM> <msg>  Schedule an interaction (tomorrow if the time has passed)")
	fmt.Fprintln(w, "  tasks [run|delete <id>] List, trigger or remove scheduled tasks")
	fmt.Fprintln(w, "  version                 Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runAsk handles "steward ask". History is kept in memory and replies
// are printed rather than delivered.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string, args []string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	reply, err := a.chat.Handle(ctx, chat.Inbound{
		SessionID: cfg.Assistant.DefaultSession,
		Text:      strings.Join(args, " "),
		Source:    chat.SourceCLI,
	})
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reply)
	}
	fmt.Fprintln(stdout, reply.Content)
	return nil
}

// runSchedule handles "steward schedule". The task is persisted; a
// running server arms it on its next start, and missed one-shots less
// than a day old still run then.
func runSchedule(ctx context.Context, stdout io.Writer, configPath, outputFmt, clock, message string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	hour, minute, err := scheduler.ParseClock(clock)
	if err != nil {
		return err
	}
	sched, closeStore, err := openScheduler(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	res, err := sched.ScheduleInteraction(ctx, scheduler.InteractionRequest{
		Message:   message,
		Hour:      &hour,
		Minute:    &minute,
		SessionID: cfg.Assistant.DefaultSession,
	})
	if err != nil {
		return err
	}
	if !res.Success {
		return errors.New(res.Message)
	}

	if outputFmt == "json" {
		return json.NewEncoder(stdout).Encode(res)
	}
	fmt.Fprintln(stdout, res.Message)
	return nil
}

// runServe handles "steward serve". It blocks until SIGINT or SIGTERM.
//
// The shutdown sequence is:
//  1. the signal cancels the context
//  2. the HTTP server drains in-flight requests
//  3. the scheduler waits for running tasks
//  4. MQTT publishes offline and databases close via a.Close
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	logger.Info("starting Steward", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Models.Default,
		"memory", cfg.Assistant.Memory,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger, appOptions{serving: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.start(ctx); err != nil {
		return err
	}

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, a.chat, api.WebhookConfig{
		TargetNumber: cfg.WhatsApp.TargetNumber,
		Key:          cfg.WhatsApp.WebhookKey,
	}, logger)
	server.SetHealth(a.watch)
	if cfg.Metrics.Enabled {
		server.SetMetricsHandler(a.metrics.Handler())
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Steward stopped")
	return nil
}

// loadConfig locates and parses the YAML configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
