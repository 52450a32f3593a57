package cycle

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/accdd/internal/agents"
	"github.com/fyrsmithlabs/accdd/internal/gitops"
	"github.com/fyrsmithlabs/accdd/internal/jules"
)

// SessionOptions control a one-off agent session.
type SessionOptions struct {
	Prompt string
	// Audit reviews the result with the committee and re-dispatches
	// rejections.
	Audit   bool
	Retries int
}

// SessionResult is the outcome of StartSession.
type SessionResult struct {
	Report   *jules.Report
	Audit    *agents.AuditResult
	Attempts int
}

// StartSession dispatches prompt with the project specs as context. With
// Audit set, rejected results are sent back with the issues up to Retries
// more times.
func (r *Runner) StartSession(ctx context.Context, opts SessionOptions) (*SessionResult, error) {
	n := newCoderNodes(&r.deps)
	cfg := r.deps.Config
	files := existing(cfg.DocumentsPath("ALL_SPEC.md"), cfg.DocumentsPath("SYSTEM_ARCHITECTURE.md"))

	res := &SessionResult{}
	prompt := opts.Prompt
	for attempt := 1; ; attempt++ {
		report, err := runAgent(ctx, r.deps.Gateway, jules.Request{
			Name:             fmt.Sprintf("session-attempt%d", attempt),
			Prompt:           prompt,
			ContextFiles:     files,
			CompletionSignal: cfg.DocumentsPath("session_report.json"),
		})
		if err != nil {
			return res, agentError(NodeCoderSession, err, "")
		}
		applyReport(ctx, n.deps, n.logger, report)
		res.Report = report
		res.Attempts = attempt

		if !opts.Audit {
			return res, nil
		}
		audit, err := r.auditAll(ctx, n)
		if err != nil {
			return res, err
		}
		res.Audit = &audit
		if audit.IsApproved {
			r.logger.Info(ctx, "session approved", zap.Int("attempts", attempt))
			return res, nil
		}
		if attempt > opts.Retries {
			return res, phaseError(NodeAuditor, KindBudget, ErrBudgetExhausted,
				fmt.Sprintf("rejected after %d attempt(s)", attempt))
		}

		r.logger.Warn(ctx, "session rejected, retrying",
			zap.Int("attempt", attempt),
			zap.Int("critical_issues", len(audit.CriticalIssues)),
		)
		retry := &State{IterationCount: attempt + 1, Feedback: audit.CriticalIssues}
		prompt = coderInstruction("", retry)
	}
}

// auditAll runs every committee member over the uncommitted changes and
// returns the first rejection, or an approval.
func (r *Runner) auditAll(ctx context.Context, n *coderNodes) (agents.AuditResult, error) {
	files, err := r.deps.Git.ChangedFiles(ctx, "")
	if err != nil {
		return agents.AuditResult{}, phaseError(NodeAuditor, KindTransient, err, "listing changed files")
	}
	for _, name := range n.committee.Auditors {
		result, err := n.review(ctx, "session", "", name, files)
		if err != nil {
			return agents.AuditResult{}, err
		}
		r.deps.Recorder.RecordAudit(name, decisionLabel(result))
		if !result.IsApproved {
			return result, nil
		}
	}
	return agents.AuditResult{IsApproved: true}, nil
}

// FinalizeSession opens the pull request merging the integration branch
// into the base branch, then clears the project session.
func (r *Runner) FinalizeSession(ctx context.Context, sessionID string) (*gitops.PullRequest, error) {
	m, err := r.deps.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}
	if m == nil || m.IntegrationBranch == "" {
		return nil, ErrNoSession
	}
	sid := sessionID
	if sid == "" {
		sid = m.ProjectSessionID
	}
	if r.deps.PullRequests == nil {
		return nil, gitops.ErrNoToken
	}

	if err := r.deps.Git.Push(ctx, m.IntegrationBranch); err != nil {
		return nil, phaseError(NodeCommit, KindMerge, err, "push "+m.IntegrationBranch)
	}
	pr, err := r.deps.PullRequests.CreatePullRequest(ctx, m.IntegrationBranch, r.deps.Config.GitHub.BaseBranch,
		fmt.Sprintf("Finalize Development Session: %s", sid),
		fmt.Sprintf("This PR merges all implemented cycles from session %s into main.", sid),
	)
	if err != nil {
		return nil, phaseError(NodeCommit, KindMerge, err, "final pull request")
	}
	if err := r.deps.Store.Clear(ctx); err != nil {
		return pr, fmt.Errorf("clearing session: %w", err)
	}
	r.logger.Info(ctx, "session finalized", zap.String("session", sid), zap.String("pr", pr.URL))
	return pr, nil
}

func decisionLabel(r agents.AuditResult) string {
	if r.IsApproved {
		return "approved"
	}
	return "rejected"
}
