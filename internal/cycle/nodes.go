package cycle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/accdd/internal/agents"
	"github.com/fyrsmithlabs/accdd/internal/changes"
	"github.com/fyrsmithlabs/accdd/internal/jules"
	"github.com/fyrsmithlabs/accdd/internal/logging"
	"github.com/fyrsmithlabs/accdd/internal/manifest"
	"github.com/fyrsmithlabs/accdd/internal/scaffold"
)

const noUATDefinition = "No UAT Definition."

// maxReviewFileBytes skips files too large to send to an auditor.
const maxReviewFileBytes = 256 << 10

// coderNodes implements the coder graph phases.
type coderNodes struct {
	deps      *Deps
	committee Committee
	logger    *logging.Logger
}

func newCoderNodes(d *Deps) *coderNodes {
	return &coderNodes{
		deps: d,
		committee: Committee{
			Auditors:          d.Config.Cycle.Auditors,
			ReviewsPerAuditor: d.Config.Cycle.ReviewsPerAuditor,
		},
		logger: d.Logger.Named("cycle"),
	}
}

func (n *coderNodes) cyclePath(s *State, elem ...string) string {
	return n.deps.Config.DocumentsPath(append([]string{"CYCLE" + s.CycleID}, elem...)...)
}

// cycleBranch is the working branch of a cycle.
func cycleBranch(id string) string {
	return "feat/cycle" + id
}

// integrationBase is the branch cycle work merges into.
func (n *coderNodes) integrationBase(s *State) string {
	if s.IntegrationBranch != "" {
		return s.IntegrationBranch
	}
	return n.deps.Config.GitHub.BaseBranch
}

func (n *coderNodes) initBranch(ctx context.Context, s *State) error {
	branch := cycleBranch(s.CycleID)
	if err := n.deps.Git.EnsureBranch(ctx, branch, s.IntegrationBranch); err != nil {
		return phaseError(NodeInitBranch, KindConfig, err, "branch "+branch)
	}
	s.ActiveBranch = branch

	// Agent sessions clone the remote, so they only see this branch once it
	// is pushed.
	s.RemoteBranch = ""
	if err := n.deps.Git.Push(ctx, branch); err != nil {
		n.logger.Warn(ctx, "cycle branch not pushed, sessions start from the default branch",
			zap.String("branch", branch), zap.Error(err))
		return nil
	}
	s.RemoteBranch = branch
	return nil
}

// planner regenerates the cycle documents after a budget failure.
func (n *coderNodes) planner(ctx context.Context, s *State) error {
	n.deps.Recorder.RecordPlanRetry(s.CycleID)
	n.logger.Warn(ctx, "re-planning cycle",
		zap.Int("plan_attempt", s.PlanAttempt),
		zap.Strings("feedback", s.Feedback),
	)

	req := jules.Request{
		Name:             plannerSessionName(s.CycleID, s.PlanAttempt),
		Prompt:           plannerInstruction(s.CycleID, s.PlanAttempt, s.Feedback),
		ContextFiles:     existing(n.deps.Config.DocumentsPath("ALL_SPEC.md"), n.deps.Config.DocumentsPath("SYSTEM_ARCHITECTURE.md"), n.cyclePath(s, "SPEC.md"), n.cyclePath(s, "UAT.md")),
		CompletionSignal: n.cyclePath(s, "plan_report.json"),
		StartingBranch:   s.RemoteBranch,
	}
	report, err := runAgent(ctx, n.deps.Gateway, req)
	if err != nil {
		return agentError(NodePlanner, err, "")
	}
	applyReport(ctx, n.deps, n.logger, report)
	return nil
}

// alignContracts publishes the cycle schema into the shared contracts package.
func (n *coderNodes) alignContracts(ctx context.Context, s *State) error {
	src := n.cyclePath(s, "schema.py")
	if _, err := os.Stat(src); errors.Is(err, fs.ErrNotExist) {
		n.logger.Warn(ctx, "cycle schema not found, skipping contract alignment", zap.String("path", src))
		return nil
	}

	module := "schema_cycle" + s.CycleID
	dst := n.deps.Config.ContractsPath(module + ".py")
	if err := alignSchema(src, dst); err != nil {
		return phaseError(NodeAlignContracts, KindConfig, err, "")
	}
	added, err := ensureImport(n.deps.Config.ContractsPath("__init__.py"), fmt.Sprintf("from .%s import *", module))
	if err != nil {
		return phaseError(NodeAlignContracts, KindConfig, err, "")
	}
	n.logger.Info(ctx, "contracts aligned", zap.String("contract", dst), zap.Bool("import_added", added))
	return nil
}

// coderSession dispatches or resumes the agent session of this iteration.
// A new handle is persisted before waiting so a crash can resume it.
func (n *coderNodes) coderSession(ctx context.Context, s *State) error {
	spec := n.cyclePath(s, "SPEC.md")
	if _, err := os.Stat(spec); err != nil {
		return phaseError(NodeCoderSession, KindConfig, ErrMissingSpec, spec)
	}

	cyc, err := n.deps.Store.GetCycle(ctx, s.CycleID)
	if err != nil {
		return phaseError(NodeCoderSession, KindInternal, err, "reading manifest")
	}

	signal := n.cyclePath(s, "session_report.json")
	n.deps.Recorder.RecordIteration(s.CycleID)

	var handle string
	if cyc != nil && cyc.JulesSessionID != "" {
		handle = cyc.JulesSessionID
		n.logger.Info(ctx, "resuming agent session",
			zap.String("session", handle),
			zap.Int("iteration", s.IterationCount),
		)
	} else {
		template, err := scaffold.Prompt(n.deps.Config, scaffold.CoderInstruction)
		if err != nil {
			return phaseError(NodeCoderSession, KindConfig, err, "")
		}
		req := jules.Request{
			Name:   coderSessionName(s.CycleID, s.IterationCount),
			Prompt: coderInstruction(template, s),
			ContextFiles: existing(
				n.deps.Config.DocumentsPath(scaffold.PromptsDir, scaffold.CoderInstruction),
				n.deps.Config.DocumentsPath("SYSTEM_ARCHITECTURE.md"),
				spec,
				n.cyclePath(s, "UAT.md"),
			),
			CompletionSignal: signal,
			StartingBranch:   s.RemoteBranch,
		}
		handle, err = n.deps.Gateway.StartSession(ctx, req)
		if err != nil {
			return agentError(NodeCoderSession, err, "")
		}
		update := manifest.CycleUpdate{
			Status:         manifest.Ptr(manifest.StatusInProgress),
			JulesSessionID: manifest.Ptr(handle),
		}
		if err := n.deps.Store.UpdateCycleState(ctx, s.CycleID, update); err != nil {
			return phaseError(NodeCoderSession, KindInternal, err, "session "+handle+" started but not recorded")
		}
		n.logger.Info(ctx, "coder session started",
			zap.String("session", handle),
			zap.Int("iteration", s.IterationCount),
			zap.Int("max_iterations", s.MaxIterations),
		)
	}

	report, err := n.deps.Gateway.WaitForCompletion(ctx, handle, signal)
	if err == nil && report.Status != jules.StatusSuccess {
		err = jules.ErrSessionFailed
	}
	if err != nil {
		return n.sessionFailed(ctx, s, handle, err)
	}

	done := manifest.CycleUpdate{
		Status:         manifest.Ptr(manifest.StatusAwaitingAudit),
		JulesSessionID: manifest.Ptr(""),
		LastError:      manifest.Ptr(""),
	}
	if err := n.deps.Store.UpdateCycleState(ctx, s.CycleID, done); err != nil {
		return phaseError(NodeCoderSession, KindInternal, err, "recording finished session")
	}

	applyReport(ctx, n.deps, n.logger, report)
	return nil
}

// sessionFailed records a failed wait. Only a terminal agent failure drops
// the handle; a timeout keeps it so --resume can wait again.
func (n *coderNodes) sessionFailed(ctx context.Context, s *State, handle string, err error) error {
	perr := agentError(NodeCoderSession, err, handle)
	update := manifest.CycleUpdate{LastError: manifest.Ptr(perr.Error())}
	if errors.Is(err, jules.ErrSessionFailed) {
		update.JulesSessionID = manifest.Ptr("")
	}
	if uerr := n.deps.Store.UpdateCycleState(ctx, s.CycleID, update); uerr != nil {
		n.logger.Error(ctx, "failed to record session failure", zap.Error(uerr))
	}
	return perr
}

// applyReport writes the file operations of a finished session.
func applyReport(ctx context.Context, d *Deps, logger *logging.Logger, report *jules.Report) {
	if report == nil || len(report.Operations) == 0 {
		return
	}
	res := d.Applier.Apply(ctx, report.Operations, changes.Options{Interactive: d.Interactive})
	logger.Info(ctx, "agent changes applied",
		zap.Int("applied", len(res.Applied)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int("errors", len(res.Errors)),
	)
}

// tester runs the test command. A failing run loops back to the coder with
// the log tail while the budget lasts.
func (n *coderNodes) tester(ctx context.Context, s *State) error {
	res, err := n.deps.Commands.Run(ctx, n.deps.Config.Cycle.TestCommand)
	if err != nil {
		return phaseError(NodeTester, KindTransient, err, "running tests")
	}
	s.TestLogs = res.Output
	s.TestExitCode = res.ExitCode

	if res.Passed() {
		n.deps.Recorder.RecordTestRun("pass")
		n.logger.Info(ctx, "tests passed", zap.Duration("duration", res.Duration))
		return nil
	}

	n.deps.Recorder.RecordTestRun("fail")
	n.logger.Warn(ctx, "tests failed",
		zap.Int("exit_code", res.ExitCode),
		zap.Bool("timed_out", res.TimedOut),
		zap.Int("iteration", s.IterationCount),
	)
	if s.TestExitCode == 0 {
		// timed out without an exit status
		s.TestExitCode = -1
	}
	if !s.BudgetLeft() {
		return budgetError(NodeTester, s)
	}
	s.nextIteration(nil, testFixInstruction(res.Output))
	return nil
}

// auditor runs the current committee member over the cycle's changes.
// Secrets found by the static scan reject without asking the model.
func (n *coderNodes) auditor(ctx context.Context, s *State) error {
	if n.committee.Size() == 0 {
		s.AuditOutcome = OutcomeCycleApproved
		return nil
	}
	name := n.committee.Current(s)

	files, err := n.deps.Git.ChangedFiles(ctx, n.integrationBase(s))
	if err != nil {
		return phaseError(NodeAuditor, KindTransient, err, "listing changed files")
	}

	spec, _ := os.ReadFile(n.cyclePath(s, "SPEC.md"))
	result, err := n.review(ctx, s.CycleID, string(spec), name, files)
	if err != nil {
		return err
	}
	s.AuditResult = &result

	decision := "approved"
	if !result.IsApproved {
		decision = "rejected"
	}
	n.deps.Recorder.RecordAudit(name, decision)

	outcome, err := n.committee.Decide(s, result)
	s.AuditOutcome = outcome
	n.logger.Info(ctx, "audit decision",
		zap.String("auditor", name),
		zap.String("decision", decision),
		zap.String("outcome", string(outcome)),
		zap.Int("auditor_index", s.CurrentAuditorIndex),
		zap.Int("review", s.CurrentAuditorReviewCount),
		zap.Int("iteration", s.IterationCount),
	)
	return err
}

// review scans files for secrets, then asks the auditor called name.
func (n *coderNodes) review(ctx context.Context, cycleID, spec, name string, files []string) (agents.AuditResult, error) {
	root := n.deps.Git.Root()

	if n.deps.Scanner != nil {
		findings, err := n.deps.Scanner.ScanFiles(root, files)
		if err != nil {
			return agents.AuditResult{}, phaseError(NodeAuditor, KindInternal, err, "secret scan")
		}
		if len(findings) > 0 {
			issues := make([]string, len(findings))
			for i, f := range findings {
				issues[i] = "Remove hardcoded secret: " + f.String()
			}
			n.logger.Warn(ctx, "secrets detected in changes", zap.Int("findings", len(findings)))
			return agents.Rejected(issues...), nil
		}
	}

	if n.deps.Reviewer == nil {
		n.logger.Warn(ctx, "no LLM reviewer configured, approving", zap.String("auditor", name))
		return agents.AuditResult{IsApproved: true}, nil
	}

	req := agents.ReviewRequest{
		Auditor: name,
		CycleID: cycleID,
		Spec:    spec,
		Files:   readSources(root, files),
	}
	result, err := n.deps.Reviewer.Review(ctx, req)
	if err != nil {
		return agents.AuditResult{}, phaseError(NodeAuditor, KindTransient, err, "auditor "+name)
	}
	return result, nil
}

// uatEvaluate runs the acceptance command and asks the analyst for a
// verdict. A FAIL loops back to the coder with the analysis as issues.
func (n *coderNodes) uatEvaluate(ctx context.Context, s *State) error {
	res, err := n.deps.Commands.Run(ctx, n.deps.Config.Cycle.UATCommand)
	if err != nil {
		return phaseError(NodeUATEvaluate, KindTransient, err, "running acceptance tests")
	}
	exitCode := res.ExitCode
	if res.TimedOut {
		exitCode = -1
	}

	scenario := noUATDefinition
	if data, err := os.ReadFile(n.cyclePath(s, "UAT.md")); err == nil {
		scenario = string(data)
	}

	var analysis agents.UatAnalysis
	if n.deps.Analyst != nil {
		analysis, err = n.deps.Analyst.Analyze(ctx, agents.UATRequest{
			CycleID:  s.CycleID,
			Scenario: scenario,
			Logs:     res.Output,
			ExitCode: exitCode,
		})
		if err != nil {
			return phaseError(NodeUATEvaluate, KindTransient, err, "uat analysis")
		}
	} else {
		analysis = agents.UatAnalysis{
			Verdict: agents.ComposeVerdict(exitCode, agents.VerdictPass),
			Summary: fmt.Sprintf("Acceptance command exited with code %d.", exitCode),
		}
	}
	s.UATAnalysis = &analysis

	if err := writeUATResult(n.cyclePath(s, "UAT_RESULT.md"), analysis); err != nil {
		n.logger.Warn(ctx, "failed to write UAT result", zap.Error(err))
	}

	if analysis.Passed() {
		n.deps.Recorder.RecordTestRun("uat_pass")
		n.logger.Info(ctx, "UAT passed", zap.String("summary", analysis.Summary))
		return nil
	}

	n.deps.Recorder.RecordTestRun("uat_fail")
	n.logger.Warn(ctx, "UAT failed",
		zap.String("summary", analysis.Summary),
		zap.Int("iteration", s.IterationCount),
	)
	if !s.BudgetLeft() {
		return budgetError(NodeUATEvaluate, s)
	}
	s.nextIteration(uatFeedback(analysis.Summary, analysis.BehaviorAnalysis), "")
	return nil
}

// commit records the cycle on its branch and, with a hosting client,
// merges it into the integration branch through a pull request.
func (n *coderNodes) commit(ctx context.Context, s *State) error {
	msg := fmt.Sprintf("feat(cycle%s): implement features", s.CycleID)
	committed, err := n.deps.Git.CommitAll(ctx, msg)
	if err != nil {
		return phaseError(NodeCommit, KindMerge, err, "")
	}
	if !committed {
		n.logger.Info(ctx, "nothing to commit")
	}

	base := n.integrationBase(s)
	if n.deps.PullRequests == nil {
		if err := n.deps.Git.FastForward(ctx, base, s.ActiveBranch); err != nil {
			return phaseError(NodeCommit, KindMerge, err, "fast-forward "+base)
		}
		n.logger.Info(ctx, "no GitHub client configured, fast-forwarded locally",
			zap.String("branch", s.ActiveBranch), zap.String("base", base))
		return nil
	}

	if err := n.deps.Git.Push(ctx, s.ActiveBranch); err != nil {
		return phaseError(NodeCommit, KindMerge, err, "push "+s.ActiveBranch)
	}
	pr, err := n.deps.PullRequests.CreatePullRequest(ctx, s.ActiveBranch, base,
		fmt.Sprintf("Cycle %s implementation", s.CycleID),
		fmt.Sprintf("Implements development cycle %s after %d iteration(s).", s.CycleID, s.IterationCount),
	)
	if err != nil {
		return phaseError(NodeCommit, KindMerge, err, "pull request")
	}
	if err := n.deps.PullRequests.MergePullRequest(ctx, pr.Number, msg); err != nil {
		return phaseError(NodeCommit, KindMerge, err, pr.URL)
	}
	if err := n.deps.Git.SyncBranch(ctx, base); err != nil {
		return phaseError(NodeCommit, KindMerge, err, "sync "+base)
	}
	n.logger.Info(ctx, "cycle merged", zap.String("pr", pr.URL), zap.String("base", base))
	return nil
}

// runAgent dispatches req and waits for it. A gateway with RunSession does
// both in one call; otherwise the handle is not kept.
func runAgent(ctx context.Context, gw Gateway, req jules.Request) (*jules.Report, error) {
	var report *jules.Report
	var err error
	if rs, ok := gw.(SessionRunner); ok {
		report, err = rs.RunSession(ctx, req)
	} else {
		var handle string
		if handle, err = gw.StartSession(ctx, req); err == nil {
			report, err = gw.WaitForCompletion(ctx, handle, req.CompletionSignal)
		}
	}
	if err != nil {
		return nil, err
	}
	if report.Status != jules.StatusSuccess {
		return nil, fmt.Errorf("%w: %s", jules.ErrSessionFailed, req.Name)
	}
	return report, nil
}

// agentError classifies a gateway failure.
func agentError(phase Node, err error, handle string) *PhaseError {
	switch {
	case errors.Is(err, jules.ErrTimeout):
		return phaseError(phase, KindTimeout, err,
			fmt.Sprintf("manual intervention required: session %s is still running, rerun with --resume to keep waiting", handle))
	case errors.Is(err, jules.ErrSessionFailed):
		return phaseError(phase, KindTask, err, handle)
	case jules.IsRetryable(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return phaseError(phase, KindTransient, err, handle)
	default:
		return phaseError(phase, KindConfig, err, handle)
	}
}

// existing filters paths down to the files present on disk.
func existing(paths ...string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}

func readSources(root string, files []string) []agents.SourceFile {
	out := make([]agents.SourceFile, 0, len(files))
	for _, f := range files {
		path := filepath.Join(root, f)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || info.Size() > maxReviewFileBytes {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		out = append(out, agents.SourceFile{Path: f, Content: string(data)})
	}
	return out
}

// alignSchema copies src over dst, keeping the previous dst as dst.bak.
func alignSchema(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading schema: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating contracts dir: %w", err)
	}
	if _, err := os.Stat(dst); err == nil {
		if err := os.Rename(dst, dst+".bak"); err != nil {
			return fmt.Errorf("backing up %s: %w", dst, err)
		}
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("writing contract: %w", err)
	}
	return nil
}

// ensureImport appends line to the package init file unless present.
func ensureImport(initPath, line string) (bool, error) {
	data, err := os.ReadFile(initPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("reading %s: %w", initPath, err)
	}
	for _, l := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(l) == line {
			return false, nil
		}
	}

	content := string(data)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += line + "\n"
	if err := os.WriteFile(initPath, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("writing %s: %w", initPath, err)
	}
	return true, nil
}

func writeUATResult(path string, a agents.UatAnalysis) error {
	body := fmt.Sprintf("# UAT %s\n\n%s\n%s\n", a.Verdict, a.Summary, a.BehaviorAnalysis)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(body), 0o644)
}
