package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/scheduler"
)

// taskView is one row of "steward tasks".
type taskView struct {
	*scheduler.Task
	LastRun *scheduler.Execution `json:"last_run,omitempty"`
}

// runTasks handles "steward tasks [list|run <id>|delete <id>]".
func runTasks(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string, args []string) error {
	sub := "list"
	if len(args) > 0 {
		sub = args[0]
	}
	if sub != "list" && len(args) != 2 {
		return fmt.Errorf("usage: steward tasks [list | run <id> | delete <id>]")
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	switch sub {
	case "list":
		sched, closeStore, err := openScheduler(cfg)
		if err != nil {
			return err
		}
		defer closeStore()
		return listTasks(ctx, stdout, sched, outputFmt)

	case "delete":
		sched, closeStore, err := openScheduler(cfg)
		if err != nil {
			return err
		}
		defer closeStore()
		if err := sched.DeleteTask(ctx, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Deleted task %s\n", args[1])
		return nil

	case "run":
		logger, err := config.NewLogger(stderr, cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}
		a, err := newApp(ctx, cfg, logger, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		exec, err := a.sched.TriggerTask(ctx, args[1])
		if exec == nil {
			return err
		}
		if outputFmt == "json" {
			if encErr := json.NewEncoder(stdout).Encode(exec); encErr != nil {
				return encErr
			}
			return err
		}
		fmt.Fprintln(stdout, exec.Result)
		return err

	default:
		return fmt.Errorf("unknown tasks command: %s", sub)
	}
}

// openScheduler opens the task store without arming any timers.
func openScheduler(cfg *config.Config) (*scheduler.Scheduler, func(), error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}
	logger, err := config.NewLogger(io.Discard, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	store, err := openSchedulerStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return scheduler.New(logger, store, nil, scheduler.WithLocation(loc)), func() { store.Close() }, nil
}

func listTasks(ctx context.Context, w io.Writer, sched *scheduler.Scheduler, outputFmt string) error {
	tasks, err := sched.ListTasks(ctx, false)
	if err != nil {
		return err
	}
	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		v := taskView{Task: t}
		if execs, err := sched.TaskExecutions(ctx, t.ID, 1); err == nil && len(execs) > 0 {
			v.LastRun = execs[0]
		}
		views = append(views, v)
	}

	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"tasks": views, "stats": sched.Stats(ctx)})
	}

	if len(views) == 0 {
		fmt.Fprintln(w, "No scheduled tasks.")
		return nil
	}
	now := time.Now()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tENABLED\tNEXT\tLAST")
	for _, v := range views {
		next := "-"
		if v.Enabled {
			if at, ok := v.NextRun(now); ok {
				next = at.In(sched.Location()).Format("2006-01-02 15:04")
			}
		}
		last := "-"
		if v.LastRun != nil {
			last = string(v.LastRun.Status)
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", v.ID, v.Name, v.Enabled, next, last)
	}
	return tw.Flush()
}
