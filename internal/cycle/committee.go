package cycle

import (
	"fmt"

	"github.com/fyrsmithlabs/accdd/internal/agents"
)

// Outcome is the committee decision after one review.
type Outcome string

const (
	OutcomeNextAuditor   Outcome = "next_auditor"
	OutcomeCycleApproved Outcome = "cycle_approved"
	OutcomeRetryFix      Outcome = "retry_fix"
	// OutcomeOptimize sends an approved implementation back to the coder
	// while iterations remain. Single-auditor form only.
	OutcomeOptimize Outcome = "optimize"
	OutcomeFailed   Outcome = "failed"
)

// Committee is the ordered auditor roster and its review allowance.
type Committee struct {
	Auditors          []string
	ReviewsPerAuditor int
}

// Size returns the number of auditors.
func (c Committee) Size() int {
	return len(c.Auditors)
}

// Single reports whether the committee is one auditor with one review. That
// form loops on iterations instead of auditor reviews.
func (c Committee) Single() bool {
	return len(c.Auditors) == 1 && c.ReviewsPerAuditor <= 1
}

// Current returns the auditor at s.CurrentAuditorIndex.
func (c Committee) Current(s *State) string {
	i := s.CurrentAuditorIndex - 1
	if i < 0 || i >= len(c.Auditors) {
		return ""
	}
	return c.Auditors[i]
}

// Decide applies one audit result to the counters in s and returns the
// outcome. A failed outcome comes with the error to record.
//
// The auditor index only advances on approval and the review count resets
// when it does. A same-auditor retry consumes a review and a global
// iteration.
func (c Committee) Decide(s *State, result agents.AuditResult) (Outcome, error) {
	if c.Single() {
		return c.decideSingle(s, result)
	}

	if result.IsApproved {
		if s.CurrentAuditorIndex < c.Size() {
			s.CurrentAuditorIndex++
			s.CurrentAuditorReviewCount = 1
			return OutcomeNextAuditor, nil
		}
		return OutcomeCycleApproved, nil
	}

	if s.CurrentAuditorReviewCount >= c.ReviewsPerAuditor {
		return OutcomeFailed, phaseError(NodeAuditor, KindBudget, ErrAuditorBudget,
			fmt.Sprintf("auditor %s rejected %d times", c.Current(s), s.CurrentAuditorReviewCount))
	}
	if !s.BudgetLeft() {
		return OutcomeFailed, budgetError(NodeAuditor, s)
	}
	s.CurrentAuditorReviewCount++
	s.nextIteration(result.CriticalIssues, "")
	return OutcomeRetryFix, nil
}

func (c Committee) decideSingle(s *State, result agents.AuditResult) (Outcome, error) {
	switch {
	case result.IsApproved && s.BudgetLeft():
		s.nextIteration(nil, "")
		return OutcomeOptimize, nil
	case result.IsApproved:
		return OutcomeCycleApproved, nil
	case s.BudgetLeft():
		s.nextIteration(result.CriticalIssues, "")
		return OutcomeRetryFix, nil
	default:
		return OutcomeFailed, budgetError(NodeAuditor, s)
	}
}
