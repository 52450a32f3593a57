// Package agents holds the LLM-backed reviewers of the cycle workflow: the
// committee auditors and the UAT analyst. Both talk to any langchaingo
// llms.Model and expect a JSON object in the reply.
package agents

import (
	"errors"
	"strings"
)

var (
	// ErrMissingAPIKey is returned when no LLM API key is configured.
	ErrMissingAPIKey = errors.New("LLM API key not set")

	// ErrInvalidResponse is returned when the model reply has no usable JSON.
	ErrInvalidResponse = errors.New("invalid model response")
)

// AuditResult is one auditor's verdict. CriticalIssues are passed verbatim
// to the next coder prompt.
type AuditResult struct {
	IsApproved     bool     `json:"is_approved"`
	CriticalIssues []string `json:"critical_issues"`
	Suggestions    []string `json:"suggestions"`
}

// Rejected builds a failing result from issues.
func Rejected(issues ...string) AuditResult {
	return AuditResult{IsApproved: false, CriticalIssues: issues}
}

// IssueList renders the critical issues as a bullet list.
func (r AuditResult) IssueList() string {
	var b strings.Builder
	for _, issue := range r.CriticalIssues {
		b.WriteString("- ")
		b.WriteString(issue)
		b.WriteString("\n")
	}
	return b.String()
}

// Verdict is the UAT outcome.
type Verdict string

const (
	VerdictPass Verdict = "PASS"
	VerdictFail Verdict = "FAIL"
)

// UatAnalysis is the narrative evaluation of a UAT run.
type UatAnalysis struct {
	Verdict          Verdict `json:"verdict"`
	Summary          string  `json:"summary"`
	BehaviorAnalysis string  `json:"behavior_analysis"`
}

// Passed reports whether the verdict is PASS.
func (u UatAnalysis) Passed() bool {
	return u.Verdict == VerdictPass
}

// ComposeVerdict is PASS only when the run exited 0 and the narrative agrees.
func ComposeVerdict(exitCode int, narrative Verdict) Verdict {
	if exitCode == 0 && narrative == VerdictPass {
		return VerdictPass
	}
	return VerdictFail
}
