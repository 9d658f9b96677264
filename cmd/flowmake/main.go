package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jethrojohnson/flowmake/internal/config"
	"github.com/jethrojohnson/flowmake/internal/drm"
	"github.com/jethrojohnson/flowmake/internal/events"
	"github.com/jethrojohnson/flowmake/internal/executor"
	"github.com/jethrojohnson/flowmake/internal/history"
	"github.com/jethrojohnson/flowmake/internal/orchestrator"
	"github.com/jethrojohnson/flowmake/internal/report"
	"github.com/jethrojohnson/flowmake/internal/scheduler"
)

// Exit codes, one per failure category.
const (
	exitOK         = 0
	exitUsage      = 1
	exitConfig     = 2 // cycle, duplicate output, missing substitution key
	exitTaskFailed = 3
	exitSubmission = 4 // submission, timeout, or session failure
)

// exitError carries a process exit code up through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(ctx)
	if err := root.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			fmt.Fprintf(os.Stderr, "flowmake: %v\n", ee.err)
			stop()
			os.Exit(ee.code)
		}
		stop()
		os.Exit(exitUsage)
	}
}

func newRootCmd(ctx context.Context) *cobra.Command {
	root := &cobra.Command{
		Use:           "flowmake",
		Short:         "Dependency-driven task runner with cluster-style job submission",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(ctx), newShowCmd(), newHistoryCmd(ctx))
	return root
}

func newRunCmd(ctx context.Context) *cobra.Command {
	var (
		concurrency int
		dryRun      bool
		force       bool
		timeout     time.Duration
		configPath  string
		ledgerPath  string
	)

	cmd := &cobra.Command{
		Use:   "run <target>",
		Short: "Execute all stale tasks the target depends on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]

			params, err := config.Load("pipeline.yml", configPath)
			if err != nil {
				return &exitError{code: exitConfig, err: err}
			}

			graph, err := buildPipeline()
			if err != nil {
				return &exitError{code: exitConfig, err: err}
			}

			oracle := scheduler.NewOracle()

			if dryRun {
				runner := orchestrator.NewRunner(graph, oracle, nil, nil, params)
				plan, err := runner.Plan(target)
				if err != nil {
					return &exitError{code: exitConfig, err: err}
				}
				fmt.Print(report.RenderPlan(plan))
				return nil
			}

			client := &drm.LocalClient{}
			session, sessionErr := client.Open(ctx)
			if sessionErr != nil {
				// Remote tasks will fail with a session error; local tasks
				// may still proceed.
				log.Printf("WARNING: resource manager session unavailable: %v", sessionErr)
				session = nil
			}
			if session != nil {
				defer session.Close()
			}

			waiter := drm.NewWaiter(drm.WaitConfig{Timeout: timeout})
			exec := executor.New(session, waiter, params)

			bus := events.NewBus()
			defer bus.Close()
			progress := bus.SubscribeAll(0)
			printerDone := make(chan struct{})
			go func() {
				defer close(printerDone)
				printProgress(progress)
			}()

			runner := orchestrator.NewRunner(graph, oracle, exec, bus, params)
			rep, runErr := runner.Run(ctx, target, orchestrator.Options{
				Concurrency: concurrency,
				Force:       force,
			})
			bus.Close()
			<-printerDone

			if runErr != nil {
				if errors.Is(runErr, scheduler.ErrConfig) {
					return &exitError{code: exitConfig, err: runErr}
				}
				return &exitError{code: exitTaskFailed, err: runErr}
			}

			fmt.Print(report.RenderReport(rep))
			recordRun(ctx, ledgerPath, rep)

			if !rep.Success {
				code := exitTaskFailed
				if hasSubmissionFailure(rep) {
					code = exitSubmission
				}
				return &exitError{code: code, err: fmt.Errorf("run %q finished with failures", target)}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "maximum tasks in flight per batch")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the planned batches without executing")
	cmd.Flags().BoolVar(&force, "force", false, "rerun all tasks regardless of freshness")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Hour, "per-job wait timeout")
	cmd.Flags().StringVar(&configPath, "config", "", "extra parameter file (overrides pipeline.yml)")
	cmd.Flags().StringVar(&ledgerPath, "history-db", defaultLedgerPath(), "run ledger database path")
	return cmd
}

func newShowCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "show <target>",
		Short: "Print the resolved batches and per-task freshness for a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := config.Load("pipeline.yml", configPath)
			if err != nil {
				return &exitError{code: exitConfig, err: err}
			}
			graph, err := buildPipeline()
			if err != nil {
				return &exitError{code: exitConfig, err: err}
			}
			runner := orchestrator.NewRunner(graph, scheduler.NewOracle(), nil, nil, params)
			plan, err := runner.Plan(args[0])
			if err != nil {
				return &exitError{code: exitConfig, err: err}
			}
			fmt.Print(report.RenderPlan(plan))
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "extra parameter file (overrides pipeline.yml)")
	return cmd
}

func newHistoryCmd(ctx context.Context) *cobra.Command {
	var (
		limit      int
		ledgerPath string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the run ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := history.Open(ctx, ledgerPath)
			if err != nil {
				return &exitError{code: exitUsage, err: err}
			}
			defer store.Close()

			runs, err := store.ListRuns(ctx, limit)
			if err != nil {
				return &exitError{code: exitUsage, err: err}
			}
			for _, r := range runs {
				status := "ok"
				if !r.Success {
					status = "FAILED"
				}
				fmt.Printf("%-6d %-8s %-20s %s\n", r.ID, status, r.Target, r.Started.Local().Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to list")
	cmd.Flags().StringVar(&ledgerPath, "history-db", defaultLedgerPath(), "run ledger database path")
	return cmd
}

// printProgress consumes bus events and prints one line per transition.
func printProgress(ch <-chan events.Event) {
	for ev := range ch {
		switch e := ev.(type) {
		case events.BatchStartedEvent:
			fmt.Printf("batch %d (%d tasks)\n", e.Index+1, e.Size)
		case events.TaskStartedEvent:
			if e.Remote {
				fmt.Printf("  -> %s (submit: %s)\n", e.Name, e.Command)
			} else {
				fmt.Printf("  -> %s\n", e.Name)
			}
		case events.TaskFailedEvent:
			fmt.Printf("  !! %s: %v\n", e.Name, e.Err)
		}
	}
}

// recordRun appends the report to the run ledger; ledger problems are
// warnings, never run failures.
func recordRun(ctx context.Context, ledgerPath string, rep *orchestrator.RunReport) {
	store, err := history.Open(ctx, ledgerPath)
	if err != nil {
		log.Printf("WARNING: run ledger unavailable: %v", err)
		return
	}
	defer store.Close()
	if _, err := store.RecordRun(ctx, rep); err != nil {
		log.Printf("WARNING: failed to record run: %v", err)
	}
}

func hasSubmissionFailure(rep *orchestrator.RunReport) bool {
	for _, res := range rep.Failed() {
		var ee *executor.ExecutionError
		if errors.As(res.Err, &ee) {
			if ee.Kind == executor.KindSubmissionFailed || ee.Kind == executor.KindTimeout {
				return true
			}
		}
		if errors.Is(res.Err, drm.ErrSession) {
			return true
		}
	}
	return false
}

func defaultLedgerPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".flowmake", "history.db")
	}
	return filepath.Join(home, ".flowmake", "history.db")
}
