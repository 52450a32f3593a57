// Package cycle runs one development cycle as a graph of phases.
//
// The coder graph is
//
//	init_branch -> align_contracts -> coder_session -> tester -> auditor -> uat_evaluate -> commit
//
// with conditional edges looping back to coder_session while the iteration
// budget lasts. Runner wraps the graph in an outer re-planning loop.
package cycle

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/accdd/internal/agents"
)

// Node names a graph phase.
type Node string

const (
	NodeInitBranch       Node = "init_branch"
	NodePlanner          Node = "planner"
	NodeAlignContracts   Node = "align_contracts"
	NodeCoderSession     Node = "coder_session"
	NodeTester           Node = "tester"
	NodeAuditor          Node = "auditor"
	NodeUATEvaluate      Node = "uat_evaluate"
	NodeCommit           Node = "commit"
	NodeArchitectSession Node = "architect_session"

	// Terminal nodes.
	NodeEnd    Node = "end"
	NodeFailed Node = "failed"
)

// IsTerminal reports whether n ends a graph run.
func (n Node) IsTerminal() bool {
	return n == NodeEnd || n == NodeFailed
}

// Sentinel errors for routing decisions.
var (
	// ErrBudgetExhausted means the iteration budget ran out. The runner
	// answers it with a re-plan.
	ErrBudgetExhausted = errors.New("iteration budget exhausted")

	// ErrAuditorBudget means one auditor kept rejecting after all of its
	// reviews were used. It is terminal: the cycle fails without a re-plan.
	ErrAuditorBudget = errors.New("auditor review budget exhausted")

	// ErrMissingSpec means the cycle has no SPEC.md to implement.
	ErrMissingSpec = errors.New("cycle specification not found")

	// ErrNoSession means no project session exists in the manifest.
	ErrNoSession = errors.New("no active project session")

	// ErrStepLimit means a graph run exceeded its step cap.
	ErrStepLimit = errors.New("graph step limit exceeded")
)

// ErrorKind classifies a phase failure.
type ErrorKind string

const (
	KindConfig    ErrorKind = "config"
	KindTransient ErrorKind = "transient"
	KindTask      ErrorKind = "task"
	KindTimeout   ErrorKind = "timeout"
	KindBudget    ErrorKind = "budget"
	KindMerge     ErrorKind = "merge"
	KindInternal  ErrorKind = "internal"
)

// PhaseError is a failure raised by a graph node.
type PhaseError struct {
	Phase   Node
	Kind    ErrorKind
	Err     error
	Context string
}

func (e *PhaseError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s failed (%s): %v: %s", e.Phase, e.Kind, e.Err, e.Context)
	}
	return fmt.Sprintf("%s failed (%s): %v", e.Phase, e.Kind, e.Err)
}

// Unwrap allows errors.Is and errors.As on the cause.
func (e *PhaseError) Unwrap() error {
	return e.Err
}

func phaseError(phase Node, kind ErrorKind, err error, context string) *PhaseError {
	return &PhaseError{Phase: phase, Kind: kind, Err: err, Context: context}
}

// KindOf returns the kind of the first PhaseError in err's chain, or
// KindInternal.
func KindOf(err error) ErrorKind {
	var pe *PhaseError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// Replannable reports whether err should trigger the outer re-plan loop.
// An exhausted auditor is never re-planned.
func Replannable(err error) bool {
	return errors.Is(err, ErrBudgetExhausted) && !errors.Is(err, ErrAuditorBudget)
}

// State is the in-memory state of one graph run.
//
// Err is non-nil iff the last executed node failed. Routing reads only Err
// and the counters.
type State struct {
	CycleID string

	// IterationCount is the number of the current coder session, from 1.
	IterationCount int
	MaxIterations  int

	// CurrentAuditorIndex is 1-based and only moves forward.
	CurrentAuditorIndex       int
	CurrentAuditorReviewCount int

	AuditResult  *agents.AuditResult
	AuditOutcome Outcome
	TestLogs     string
	TestExitCode int
	UATAnalysis  *agents.UatAnalysis

	// Feedback holds the issues for the next coder prompt.
	Feedback []string
	// FixInstructions replaces the coder prompt after a failed test run.
	FixInstructions string

	Err          error
	CurrentPhase string
	PlanAttempt  int

	SessionID         string
	IntegrationBranch string
	ActiveBranch      string
	// RemoteBranch is the pushed branch agent sessions start from. Empty
	// when the push failed and sessions use the configured default.
	RemoteBranch  string
	PlannedCycles []string
}

// NewState returns the initial state of a cycle run.
func NewState(cycleID string, startIteration, maxIterations int) *State {
	if startIteration < 1 {
		startIteration = 1
	}
	return &State{
		CycleID:                   cycleID,
		IterationCount:            startIteration,
		MaxIterations:             maxIterations,
		CurrentAuditorIndex:       1,
		CurrentAuditorReviewCount: 1,
		TestExitCode:              -1,
	}
}

// BudgetLeft reports whether another coder iteration is allowed.
func (s *State) BudgetLeft() bool {
	return s.IterationCount < s.MaxIterations
}

// nextIteration moves to the next coder session and replaces its inputs.
func (s *State) nextIteration(feedback []string, fix string) {
	s.IterationCount++
	s.Feedback = feedback
	s.FixInstructions = fix
}

func budgetError(phase Node, s *State) *PhaseError {
	return phaseError(phase, KindBudget, ErrBudgetExhausted,
		fmt.Sprintf("iteration %d of %d", s.IterationCount, s.MaxIterations))
}
