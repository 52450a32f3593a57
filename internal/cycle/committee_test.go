package cycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/accdd/internal/agents"
)

var approve = agents.AuditResult{IsApproved: true}

func TestCommittee_ApprovalAdvancesAuditor(t *testing.T) {
	c := Committee{Auditors: []string{"security", "architecture", "quality"}, ReviewsPerAuditor: 2}
	s := NewState("01", 1, 10)

	assert.Equal(t, "security", c.Current(s))
	out, err := c.Decide(s, approve)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNextAuditor, out)
	assert.Equal(t, 2, s.CurrentAuditorIndex)
	assert.Equal(t, 1, s.CurrentAuditorReviewCount)
	assert.Equal(t, 1, s.IterationCount, "approval does not consume an iteration")

	out, _ = c.Decide(s, approve)
	assert.Equal(t, OutcomeNextAuditor, out)
	out, err = c.Decide(s, approve)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCycleApproved, out)
	assert.Equal(t, 3, s.CurrentAuditorIndex)
}

func TestCommittee_RejectionRetriesSameAuditor(t *testing.T) {
	c := Committee{Auditors: []string{"security", "architecture"}, ReviewsPerAuditor: 2}
	s := NewState("01", 1, 10)

	out, err := c.Decide(s, agents.Rejected("SQL injection in login"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetryFix, out)
	assert.Equal(t, 1, s.CurrentAuditorIndex, "index never moves on rejection")
	assert.Equal(t, 2, s.CurrentAuditorReviewCount)
	assert.Equal(t, 2, s.IterationCount)
	assert.Equal(t, []string{"SQL injection in login"}, s.Feedback)

	out, err = c.Decide(s, agents.Rejected("still injectable"))
	assert.Equal(t, OutcomeFailed, out)
	assert.ErrorIs(t, err, ErrAuditorBudget)
	assert.NotErrorIs(t, err, ErrBudgetExhausted)
	assert.False(t, Replannable(err), "an exhausted auditor is terminal")
	assert.Equal(t, KindBudget, KindOf(err))
	assert.Equal(t, 1, s.CurrentAuditorIndex)
}

func TestCommittee_ReviewCountResetsOnAdvance(t *testing.T) {
	c := Committee{Auditors: []string{"a", "b"}, ReviewsPerAuditor: 3}
	s := NewState("01", 1, 10)

	_, _ = c.Decide(s, agents.Rejected("x"))
	_, _ = c.Decide(s, agents.Rejected("y"))
	require.Equal(t, 3, s.CurrentAuditorReviewCount)

	out, err := c.Decide(s, approve)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNextAuditor, out)
	assert.Equal(t, 1, s.CurrentAuditorReviewCount)
	assert.Equal(t, "b", c.Current(s))
}

func TestCommittee_GlobalBudgetBoundsRetries(t *testing.T) {
	c := Committee{Auditors: []string{"a", "b"}, ReviewsPerAuditor: 5}
	s := NewState("01", 2, 2)

	out, err := c.Decide(s, agents.Rejected("x"))
	assert.Equal(t, OutcomeFailed, out)
	assert.ErrorIs(t, err, ErrBudgetExhausted)
	assert.NotErrorIs(t, err, ErrAuditorBudget)
	assert.Equal(t, 2, s.IterationCount)
}

func TestCommittee_Single(t *testing.T) {
	c := Committee{Auditors: []string{"security"}, ReviewsPerAuditor: 1}
	require.True(t, c.Single())

	tests := []struct {
		name      string
		iteration int
		result    agents.AuditResult
		want      Outcome
		wantIter  int
		wantErr   error
	}{
		{name: "approved with budget optimizes", iteration: 1, result: approve, want: OutcomeOptimize, wantIter: 2},
		{name: "approved at budget", iteration: 3, result: approve, want: OutcomeCycleApproved, wantIter: 3},
		{name: "rejected with budget retries", iteration: 2, result: agents.Rejected("bug"), want: OutcomeRetryFix, wantIter: 3},
		{name: "rejected at budget fails", iteration: 3, result: agents.Rejected("bug"), want: OutcomeFailed, wantIter: 3, wantErr: ErrBudgetExhausted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState("01", tt.iteration, 3)
			out, err := c.Decide(s, tt.result)
			assert.Equal(t, tt.want, out)
			assert.Equal(t, tt.wantIter, s.IterationCount)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCommittee_OptimizeClearsFeedback(t *testing.T) {
	c := Committee{Auditors: []string{"security"}, ReviewsPerAuditor: 1}
	s := NewState("01", 1, 3)
	s.Feedback = []string{"old issue"}
	s.FixInstructions = "old fix"

	out, err := c.Decide(s, approve)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOptimize, out)
	assert.Empty(t, s.Feedback)
	assert.Empty(t, s.FixInstructions)
	assert.Contains(t, coderInstruction("", s), "OPTIMIZE")
}

func TestCommittee_Current(t *testing.T) {
	c := Committee{Auditors: []string{"a"}}
	s := NewState("01", 1, 1)
	s.CurrentAuditorIndex = 5
	assert.Empty(t, c.Current(s))
}
