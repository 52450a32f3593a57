package sandbox

import (
	"os/exec"
)

// Tool is an external program the workflow depends on.
type Tool struct {
	Name     string
	Hint     string
	Required bool
}

// ToolStatus is the lookup result for one tool.
type ToolStatus struct {
	Tool
	Path  string
	Found bool
}

// DefaultTools lists the programs checked by init and doctor.
func DefaultTools() []Tool {
	return []Tool{
		{Name: "git", Hint: "Install Git from https://git-scm.com/", Required: true},
		{Name: "uv", Hint: "Install uv: curl -LsSf https://astral.sh/uv/install.sh | sh", Required: true},
		{Name: "gh", Hint: "Install GitHub CLI: https://cli.github.com/"},
		{Name: "bandit", Hint: "Install bandit: uv tool install bandit"},
	}
}

// LookupFunc resolves a program name to a path.
type LookupFunc func(name string) (string, error)

// CheckTools resolves every tool on PATH. A nil lookup uses exec.LookPath.
func CheckTools(tools []Tool, lookup LookupFunc) []ToolStatus {
	if lookup == nil {
		lookup = exec.LookPath
	}
	statuses := make([]ToolStatus, 0, len(tools))
	for _, t := range tools {
		path, err := lookup(t.Name)
		statuses = append(statuses, ToolStatus{Tool: t, Path: path, Found: err == nil})
	}
	return statuses
}

// MissingRequired returns the required tools that were not found.
func MissingRequired(statuses []ToolStatus) []ToolStatus {
	var missing []ToolStatus
	for _, s := range statuses {
		if s.Required && !s.Found {
			missing = append(missing, s)
		}
	}
	return missing
}
