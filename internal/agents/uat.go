package agents

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/accdd/internal/logging"
)

// maxUATLog is how much of the UAT log tail the analyst sees.
const maxUATLog = 5000

// UATRequest is the input of a UAT analysis.
type UATRequest struct {
	CycleID  string
	Scenario string
	Logs     string
	ExitCode int
}

// Analyst interprets UAT runs.
type Analyst struct {
	model  llms.Model
	logger *logging.Logger
}

// NewAnalyst creates an Analyst backed by model.
func NewAnalyst(model llms.Model, logger *logging.Logger) *Analyst {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Analyst{model: model, logger: logger.Named("uat")}
}

// Analyze asks the model for a narrative verdict and composes it with the
// exit code. A non-zero exit is FAIL whatever the narrative says.
func (a *Analyst) Analyze(ctx context.Context, req UATRequest) (UatAnalysis, error) {
	var analysis UatAnalysis
	if err := generateJSON(ctx, a.model, buildUATPrompt(req), &analysis); err != nil {
		return UatAnalysis{}, fmt.Errorf("uat analysis: %w", err)
	}

	narrative := analysis.Verdict
	analysis.Verdict = ComposeVerdict(req.ExitCode, narrative)

	a.logger.Info(ctx, "uat analyzed",
		zap.Int("exit_code", req.ExitCode),
		zap.String("narrative_verdict", string(narrative)),
		zap.String("verdict", string(analysis.Verdict)),
	)
	return analysis, nil
}

func buildUATPrompt(req UATRequest) string {
	status := VerdictPass
	if req.ExitCode != 0 {
		status = VerdictFail
	}
	return fmt.Sprintf(`You are the QA analyst for development cycle %s.
Decide whether the observed behavior satisfies the acceptance scenarios.
The test command exited with code %d (%s).
Reply with a single JSON object: {"verdict": "PASS" or "FAIL", "summary": string, "behavior_analysis": string}

ACCEPTANCE SCENARIOS:
%s

LOGS:
%s
`, req.CycleID, req.ExitCode, status, req.Scenario, truncate(req.Logs, maxUATLog))
}
