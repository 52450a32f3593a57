package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/accdd/internal/cycle"
)

var (
	sessionAudit    bool
	sessionRetries  int
	finalizeSession string
)

func init() {
	rootCmd.AddCommand(startSessionCmd)
	rootCmd.AddCommand(finalizeSessionCmd)

	startSessionCmd.Flags().BoolVar(&sessionAudit, "audit", true, "review the result with the auditor committee and retry rejections")
	startSessionCmd.Flags().IntVar(&sessionRetries, "retries", 3, "rejected results sent back before giving up")

	finalizeSessionCmd.Flags().StringVar(&finalizeSession, "session", "", "session id used in the pull request title")
}

// startSessionCmd dispatches a one-off agent session
var startSessionCmd = &cobra.Command{
	Use:   "start-session PROMPT",
	Short: "Run a single agent session outside the cycle plan",
	Long: `Send one request to the coding agent with ALL_SPEC.md and
SYSTEM_ARCHITECTURE.md as context and apply the result.

With --audit (the default) the changed files are reviewed by the auditor
committee and rejections are sent back with the issues.

Examples:
  accdd start-session "Change greeting to Hello World"

  # Apply the first result without review
  accdd start-session --audit=false "Add a --name flag"`,
	Args: cobra.ExactArgs(1),
	RunE: runStartSession,
}

// finalizeSessionCmd opens the final pull request
var finalizeSessionCmd = &cobra.Command{
	Use:   "finalize-session",
	Short: "Open the pull request merging the integration branch into main",
	Long: `Push the integration branch, open a pull request against the base
branch and clear the project session.

Examples:
  accdd finalize-session`,
	Args: cobra.NoArgs,
	RunE: runFinalizeSession,
}

func runStartSession(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := a.runner(ctx, depsOptions{needAgent: true, interactive: true})
	if err != nil {
		return err
	}
	r.OnProgress(progressPrinter(cmd.ErrOrStderr()))

	printHeader(out, "Starting agent session")
	res, err := r.StartSession(ctx, cycle.SessionOptions{
		Prompt:  args[0],
		Audit:   sessionAudit,
		Retries: sessionRetries,
	})
	if err != nil {
		printFailure(out, "Session failed: %v", err)
		return errReported
	}

	switch {
	case res.Audit != nil:
		printSuccess(out, "Audit and implementation complete after %d attempt(s)", res.Attempts)
	default:
		printSuccess(out, "Implementation applied")
	}
	if res.Report != nil && res.Report.PRURL != "" {
		cmd.Printf("PR: %s\n", res.Report.PRURL)
	}
	return nil
}

func runFinalizeSession(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	printHeader(out, "Finalizing development session")
	m, err := a.store.Load(ctx)
	if err != nil {
		return err
	}
	if m == nil || m.IntegrationBranch == "" {
		printFailure(out, "No active session found to finalize.")
		return errReported
	}

	r, err := a.runner(ctx, depsOptions{})
	if err != nil {
		return err
	}
	pr, err := r.FinalizeSession(ctx, finalizeSession)
	if err != nil {
		if errors.Is(err, cycle.ErrNoSession) {
			printFailure(out, "No active session found to finalize.")
			return errReported
		}
		printFailure(out, "Finalization failed: %v", err)
		return errReported
	}
	printSuccess(out, "Development session finalized")
	cmd.Printf("PR: %s\n", pr.URL)
	return nil
}
