package main

import (
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/accdd/internal/cycle"
)

var (
	plannedCycles int
	cycleCount    int
	genSessionID  string
)

func init() {
	rootCmd.AddCommand(genCyclesCmd)
	genCyclesCmd.Flags().IntVar(&plannedCycles, "cycles", cycle.DefaultPlannedCycles, "approximate number of cycles to plan")
	genCyclesCmd.Flags().IntVar(&cycleCount, "count", 0, "create exactly this many cycles")
	genCyclesCmd.Flags().StringVar(&genSessionID, "session", "", "project session id (generated when empty)")
}

// genCyclesCmd runs the architect session
var genCyclesCmd = &cobra.Command{
	Use:   "gen-cycles",
	Short: "Plan the project into development cycles",
	Long: `Run the architect agent on ALL_SPEC.md.

The architect writes SYSTEM_ARCHITECTURE.md and one SPEC.md and UAT.md per
cycle on a design branch. The result becomes the base of a new integration
branch and the project manifest lists the planned cycles.

Examples:
  # Let the architect size the plan
  accdd gen-cycles

  # Force three cycles
  accdd gen-cycles --count 3`,
	Args: cobra.NoArgs,
	RunE: runGenCycles,
}

func runGenCycles(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := a.runner(ctx, depsOptions{needAgent: true})
	if err != nil {
		return err
	}
	r.OnProgress(progressPrinter(cmd.ErrOrStderr()))

	printHeader(out, "Architect phase")
	m, err := r.GenerateCycles(ctx, cycle.ArchitectOptions{
		Planned:   plannedCycles,
		Count:     cycleCount,
		SessionID: genSessionID,
	})
	if err != nil {
		return err
	}

	printSuccess(out, "Session %s planned %d cycle(s)", m.ProjectSessionID, len(m.Cycles))
	cmd.Printf("Integration branch: %s\n", m.IntegrationBranch)
	for _, c := range m.Cycles {
		cmd.Printf("  CYCLE%s  %s\n", c.ID, c.Status)
	}
	cmd.Println()
	cmd.Println("Next: accdd run-cycle --id all")
	return nil
}
