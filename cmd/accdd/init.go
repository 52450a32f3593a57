package main

import (
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/accdd/internal/sandbox"
	"github.com/fyrsmithlabs/accdd/internal/scaffold"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

// initCmd scaffolds the project layout
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold the documents directory, prompts and contracts",
	Long: `Initialize a project for accdd.

Writes the ALL_SPEC.md template, the editable system prompts, the contracts
package and .env.example, and adds accdd state files to .gitignore.
Existing files are never overwritten.

Examples:
  # Initialize the current directory
  accdd init

  # Initialize another checkout
  accdd init --dir ../service`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	for _, s := range sandbox.CheckTools(sandbox.DefaultTools(), lookPath) {
		if !s.Found {
			printWarn(out, "%s not found. %s", s.Name, s.Hint)
		}
	}

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := scaffold.Init(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}

	printHeader(out, "Initialized %s", a.cfg.Paths.ProjectDir)
	for _, p := range res.Created {
		printSuccess(out, "created %s", p)
	}
	for _, p := range res.Skipped {
		printMuted(out, "  exists %s", p)
	}
	cmd.Println()
	cmd.Printf("Next: describe the project in %s, then run 'accdd gen-cycles'.\n", a.cfg.DocumentsPath("ALL_SPEC.md"))
	return nil
}
