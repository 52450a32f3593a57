package cycle

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/accdd/internal/sandbox"
)

const cycleIDPlaceholder = "{{cycle_id}}"

// coderSessionName labels one coder dispatch.
func coderSessionName(cycleID string, iteration int) string {
	return fmt.Sprintf("coder-%s-iter%d", cycleID, iteration)
}

func plannerSessionName(cycleID string, attempt int) string {
	return fmt.Sprintf("planner-%s-attempt%d", cycleID, attempt)
}

// coderInstruction builds the prompt for the current iteration. The first
// iteration uses the cycle template; later ones carry fix instructions, the
// open issues, or a request to optimize.
func coderInstruction(template string, s *State) string {
	if s.IterationCount <= 1 {
		return strings.ReplaceAll(template, cycleIDPlaceholder, s.CycleID)
	}
	if s.FixInstructions != "" {
		return s.FixInstructions
	}
	if len(s.Feedback) > 0 {
		var b strings.Builder
		fmt.Fprintf(&b, "Your previous implementation (Iteration %d) was audited.\n", s.IterationCount-1)
		b.WriteString("You must fix the following ISSUES immediately:\n\n")
		for _, issue := range s.Feedback {
			b.WriteString("- ")
			b.WriteString(issue)
			b.WriteString("\n")
		}
		b.WriteString("\nCheck the existing code, apply fixes, and verify with tests.")
		return b.String()
	}
	return "Your previous implementation passed the audit, but you must now OPTIMIZE it.\n" +
		"Refactor the code for better readability, performance, and robustness.\n" +
		"Add more comprehensive tests (property-based tests, edge cases).\n" +
		"Ensure docstrings are perfect."
}

// testFixInstruction asks the coder to repair a failing test run.
func testFixInstruction(logs string) string {
	return fmt.Sprintf("Test Failed.\nHere is the captured log (last %d chars):\n---\n%s\n---\n"+
		"Please analyze the stack trace and fix the implementation in src/.",
		sandbox.TailSize, sandbox.TailLog(logs))
}

// uatFeedback turns a failed UAT analysis into coder issues.
func uatFeedback(summary, behavior string) []string {
	issues := []string{"User acceptance testing failed: " + summary}
	if behavior != "" {
		issues = append(issues, "Observed behavior: "+behavior)
	}
	return issues
}

// plannerInstruction asks the architect agent to re-plan one cycle.
func plannerInstruction(cycleID string, attempt int, feedback []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cycle %s could not converge within its iteration budget (plan attempt %d).\n", cycleID, attempt)
	b.WriteString("Rewrite the plan for this cycle so it can be implemented and verified:\n")
	fmt.Fprintf(&b, "- CYCLE%s/SPEC.md\n- CYCLE%s/schema.py\n- CYCLE%s/UAT.md\n", cycleID, cycleID, cycleID)
	if len(feedback) > 0 {
		b.WriteString("\nThe last attempt failed with:\n")
		for _, f := range feedback {
			b.WriteString("- ")
			b.WriteString(f)
			b.WriteString("\n")
		}
	}
	b.WriteString("\nKeep the scope of the cycle. Split or simplify requirements that caused repeated failures.")
	return b.String()
}
