package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/accdd/internal/logging"
)

// maxReviewChars bounds the source text sent in one review.
const maxReviewChars = 50000

var roleFocus = map[string]string{
	"security":     "Look for injection, unsafe deserialization, secrets in code, missing input validation and insecure defaults.",
	"architecture": "Check that the code follows the cycle specification and the contracts, with clean module boundaries and no duplicated responsibilities.",
	"quality":      "Check readability, error handling, test coverage of the specified behavior, and type annotations.",
}

// SourceFile is one file under review.
type SourceFile struct {
	Path    string
	Content string
}

// ReviewRequest is the input of one auditor review.
type ReviewRequest struct {
	Auditor string
	CycleID string
	Spec    string
	Files   []SourceFile
}

// Auditor reviews code changes with an LLM.
type Auditor struct {
	model  llms.Model
	logger *logging.Logger
}

// NewAuditor creates an Auditor backed by model.
func NewAuditor(model llms.Model, logger *logging.Logger) *Auditor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Auditor{model: model, logger: logger.Named("auditor")}
}

// Review asks the model for a verdict on req. An approval that still lists
// critical issues is treated as a rejection.
func (a *Auditor) Review(ctx context.Context, req ReviewRequest) (AuditResult, error) {
	if len(req.Files) == 0 {
		a.logger.Info(ctx, "no changes to audit", zap.String("auditor", req.Auditor))
		return AuditResult{IsApproved: true}, nil
	}

	var result AuditResult
	if err := generateJSON(ctx, a.model, buildAuditPrompt(req), &result); err != nil {
		return AuditResult{}, fmt.Errorf("auditor %s: %w", req.Auditor, err)
	}
	if result.IsApproved && len(result.CriticalIssues) > 0 {
		result.IsApproved = false
	}

	a.logger.Info(ctx, "audit finished",
		zap.String("auditor", req.Auditor),
		zap.Bool("approved", result.IsApproved),
		zap.Int("critical_issues", len(result.CriticalIssues)),
		zap.Int("suggestions", len(result.Suggestions)),
	)
	return result, nil
}

func buildAuditPrompt(req ReviewRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s auditor for development cycle %s.\n", req.Auditor, req.CycleID)
	if focus, ok := roleFocus[req.Auditor]; ok {
		b.WriteString(focus)
		b.WriteString("\n")
	}
	b.WriteString("Review the files below for critical issues. Approve only if there are none.\n")
	b.WriteString(`Reply with a single JSON object: {"is_approved": bool, "critical_issues": [string], "suggestions": [string]}` + "\n\n")

	if req.Spec != "" {
		b.WriteString("SPECIFICATION:\n")
		b.WriteString(req.Spec)
		b.WriteString("\n\n")
	}

	budget := maxReviewChars
	for _, f := range req.Files {
		if budget <= 0 {
			b.WriteString("(remaining files omitted)\n")
			break
		}
		content := f.Content
		if len(content) > budget {
			content = content[:budget]
		}
		budget -= len(content)
		fmt.Fprintf(&b, "FILE: %s\n```\n%s\n```\n\n", f.Path, content)
	}
	return b.String()
}
