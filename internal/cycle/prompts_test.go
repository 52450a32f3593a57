package cycle

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCoderInstruction(t *testing.T) {
	s := NewState("03", 1, 3)
	assert.Equal(t, "Implement cycle 03 now.", coderInstruction("Implement cycle {{cycle_id}} now.", s))

	s.IterationCount = 2
	s.Feedback = []string{"a", "b"}
	got := coderInstruction("ignored", s)
	assert.True(t, strings.HasPrefix(got, "Your previous implementation (Iteration 1) was audited."))
	assert.Contains(t, got, "- a\n- b\n")

	s.FixInstructions = "Test Failed."
	assert.Equal(t, "Test Failed.", coderInstruction("ignored", s))

	s.FixInstructions = ""
	s.Feedback = nil
	assert.Contains(t, coderInstruction("ignored", s), "OPTIMIZE")
}

func TestTestFixInstruction_TailsLog(t *testing.T) {
	logs := strings.Repeat("x", 5000) + "AssertionError: expected hello"
	got := testFixInstruction(logs)
	assert.Contains(t, got, "AssertionError: expected hello")
	assert.Less(t, len(got), 2500)
}

func TestPlannerInstruction(t *testing.T) {
	got := plannerInstruction("02", 1, []string{"tests never passed"})
	assert.Contains(t, got, "Cycle 02 could not converge")
	assert.Contains(t, got, "CYCLE02/SPEC.md")
	assert.Contains(t, got, "- tests never passed")
}

func TestFailureFeedback(t *testing.T) {
	s := NewState("01", 3, 3)
	s.Err = budgetError(NodeTester, s)
	s.TestExitCode = 1
	s.TestLogs = "FAILED test_greet"

	got := failureFeedback(s)
	assert.Len(t, got, 2)
	assert.Contains(t, got[1], "FAILED test_greet")
}

func TestSessionNames(t *testing.T) {
	assert.Equal(t, "coder-01-iter2", coderSessionName("01", 2))
	assert.Equal(t, "planner-01-attempt1", plannerSessionName("01", 1))
	assert.Equal(t, "feat/cycle01", cycleBranch("01"))
	assert.Equal(t, "dev/int-abc", IntegrationBranch("abc"))
}
