package main

import (
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/accdd/internal/sandbox"
)

// lookPath resolves tools for doctor and init. Tests replace it.
var lookPath sandbox.LookupFunc = exec.LookPath

func init() {
	rootCmd.AddCommand(listActionsCmd)
	rootCmd.AddCommand(doctorCmd)
}

// listActionsCmd prints the recommended next steps
var listActionsCmd = &cobra.Command{
	Use:   "list-actions",
	Short: "List recommended next actions",
	Args:  cobra.NoArgs,
	RunE:  runListActions,
}

// doctorCmd checks the development environment
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check required tools and credentials",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

func runListActions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	m, err := a.store.Load(ctx)
	if err != nil {
		return err
	}

	printHeader(out, "Recommended Actions")
	if m == nil || m.ProjectSessionID == "" {
		fmt.Fprint(out, "No active session found.\n\ne.g.,\n"+
			"accdd start-session 'Change greeting to Hello World'\n"+
			"or\n"+
			"accdd gen-cycles\n")
		return nil
	}
	fmt.Fprintf(out, "Active Session: %s\n\n"+
		"Next steps:\n"+
		"1. Run a specific cycle:\n"+
		"   accdd run-cycle --id 01\n"+
		"2. Finalize the session when all cycles are done:\n"+
		"   accdd finalize-session\n", m.ProjectSessionID)
	return nil
}

func runDoctor(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Checking development environment...")
	fmt.Fprintln(out)
	statuses := sandbox.CheckTools(sandbox.DefaultTools(), lookPath)
	for _, s := range statuses {
		switch {
		case s.Found:
			printSuccess(out, "%-10s: Found at %s", s.Name, s.Path)
		case s.Required:
			printFailure(out, "%-10s: MISSING", s.Name)
			fmt.Fprintf(out, "   Action: %s\n", s.Hint)
		default:
			printWarn(out, "%-10s: missing (optional). %s", s.Name, s.Hint)
		}
	}

	a, err := loadApp(cmd.Context())
	if err != nil {
		printFailure(out, "config: %v", err)
		return errReported
	}
	defer a.Close()
	if !a.cfg.Jules.APIKey.IsSet() {
		printWarn(out, "JULES_API_KEY is not set; gen-cycles, run-cycle and start-session need it")
	}
	if !a.cfg.GitHub.Token.IsSet() {
		printWarn(out, "GITHUB_TOKEN is not set; pull requests will not be opened")
	}
	if !a.cfg.LLM.APIKey.IsSet() {
		printWarn(out, "LLM API key is not set; the auditor committee and UAT analysis are skipped")
	}

	fmt.Fprintln(out)
	if missing := sandbox.MissingRequired(statuses); len(missing) > 0 {
		printWarn(out, "Please install missing tools to proceed.")
		return errReported
	}
	printSuccess(out, "System is ready for AI-Native Development.")
	return nil
}
