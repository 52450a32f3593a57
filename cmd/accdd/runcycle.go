package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/accdd/internal/cycle"
	statushttp "github.com/fyrsmithlabs/accdd/internal/http"
)

var (
	runCycleID  string
	runResume   bool
	runAuto     bool
	runStartIt  int
	runSession  string
	runParallel int
	metricsFile string
	statusAddr  string
)

func init() {
	rootCmd.AddCommand(runCycleCmd)
	runCycleCmd.Flags().StringVar(&runCycleID, "id", "all", "cycle id, or 'all' for every pending cycle")
	runCycleCmd.Flags().BoolVar(&runResume, "resume", false, "wait on the agent session recorded in the manifest instead of starting a new one")
	runCycleCmd.Flags().BoolVar(&runAuto, "auto", false, "apply agent changes without asking")
	runCycleCmd.Flags().IntVar(&runStartIt, "start-iter", 1, "iteration number of the first coder session")
	runCycleCmd.Flags().StringVar(&runSession, "session", "", "project session id used when no manifest exists")
	runCycleCmd.Flags().IntVar(&runParallel, "parallel", 1, "cycles run at once with --id all")
	runCycleCmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile on exit")
	runCycleCmd.Flags().StringVar(&statusAddr, "status-addr", "", "serve the status API on this address while running")
}

// runCycleCmd drives cycles through the coder graph
var runCycleCmd = &cobra.Command{
	Use:   "run-cycle",
	Short: "Implement, test, audit and merge development cycles",
	Long: `Run one cycle, or every pending cycle, through the coder graph.

Each cycle gets a feature branch off the integration branch. The coder agent
implements SPEC.md, the test command runs, a committee of auditors reviews
the change and UAT.md is evaluated before the branch is merged. A cycle that
exhausts its iteration budget is re-planned.

Examples:
  # Run every pending cycle
  accdd run-cycle

  # Run cycle 02 without confirmation prompts
  accdd run-cycle --id 02 --auto

  # Pick up an agent session that was interrupted
  accdd run-cycle --id 02 --resume`,
	Args: cobra.NoArgs,
	RunE: runRunCycle,
}

func runRunCycle(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	out := cmd.OutOrStdout()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := a.runner(ctx, depsOptions{needAgent: true, interactive: !runAuto})
	if err != nil {
		return err
	}
	r.OnProgress(progressPrinter(cmd.ErrOrStderr()))

	addr := statusAddr
	if addr == "" {
		addr = a.cfg.Status.Addr
	}
	if addr != "" {
		shutdown, err := startStatusServer(a, addr)
		if err != nil {
			return err
		}
		defer shutdown()
	}
	if metricsFile != "" {
		defer func() {
			if err := a.metrics.WriteTextfile(metricsFile); err != nil {
				a.logger.Warn(ctx, "failed to write metrics textfile", zap.Error(err))
			}
		}()
	}

	opts := cycle.Options{
		Resume:         runResume,
		StartIteration: runStartIt,
		SessionID:      runSession,
		Parallel:       runParallel,
	}

	if runCycleID != "all" {
		printHeader(out, "Coder phase: cycle %s", runCycleID)
		if _, err := r.RunCycle(ctx, runCycleID, opts); err != nil {
			printFailure(out, "Cycle %s failed: %v", runCycleID, err)
			return errReported
		}
		printSuccess(out, "Cycle %s completed and merged", runCycleID)
		return nil
	}

	printHeader(out, "Running all pending cycles")
	results, err := r.RunAll(ctx, opts)
	for _, res := range results {
		if res.Err != nil {
			printFailure(out, "Cycle %s: %v", res.CycleID, res.Err)
			continue
		}
		printSuccess(out, "Cycle %s completed", res.CycleID)
	}
	if err != nil {
		if len(results) == 0 {
			return err
		}
		return errReported
	}
	if len(results) == 0 {
		cmd.Println("All cycles are completed.")
	}
	cmd.Println()
	cmd.Println("Next: accdd finalize-session")
	return nil
}

// startStatusServer serves the status API in the background and returns its
// shutdown func.
func startStatusServer(a *app, addr string) (func(), error) {
	srv, err := statushttp.NewServer(a.store, a.logger, &statushttp.Config{Addr: addr, Version: version},
		statushttp.WithMetricsHandler(a.metrics.Handler()),
		statushttp.WithHTTPMetrics(statushttp.NewHTTPMetrics(a.tel.Meter("accdd/http"), a.logger)),
		statushttp.WithHealthChecker(func() string {
			h := a.tel.Health()
			switch {
			case !a.tel.IsEnabled() && !h.Degraded:
				return "disabled"
			case h.Degraded:
				return "degraded"
			default:
				return "ok"
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("creating status server: %w", err)
	}

	go func() {
		if err := srv.Start(); err != nil {
			a.logger.Error(context.Background(), "status server stopped", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.logger.Warn(ctx, "status server shutdown failed", zap.Error(err))
		}
	}, nil
}
