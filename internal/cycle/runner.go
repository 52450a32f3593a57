package cycle

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/accdd/internal/logging"
	"github.com/fyrsmithlabs/accdd/internal/manifest"
	"github.com/fyrsmithlabs/accdd/internal/sandbox"
)

// Options control a run-cycle invocation.
type Options struct {
	// Resume waits on an unfinished agent session recorded in the manifest.
	// Without it a stale handle is discarded and a new session is started.
	Resume bool
	// StartIteration is the iteration count of the first coder session.
	StartIteration int
	// SessionID names the project session created when none exists.
	SessionID string
	// Parallel bounds concurrent cycles in RunAll.
	Parallel int
}

// Result is the outcome of one cycle run.
type Result struct {
	CycleID string
	State   *State
	Err     error
}

// Runner drives cycles through the coder graph with re-planning.
type Runner struct {
	deps     Deps
	logger   *logging.Logger
	progress ProgressCallback
}

// NewRunner validates deps and returns a Runner.
func NewRunner(deps Deps) (*Runner, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &Runner{deps: deps, logger: deps.Logger.Named("runner")}, nil
}

// OnProgress sets the callback for node transitions.
func (r *Runner) OnProgress(cb ProgressCallback) {
	r.progress = cb
}

// CoderGraph builds the per-cycle graph.
func (r *Runner) CoderGraph() *Graph {
	n := newCoderNodes(&r.deps)
	g := NewGraph("coder", NodeInitBranch, r.deps.Logger, WithObserver(r.deps.Recorder))
	g.AddNode(NodeInitBranch, n.initBranch, routeAfterInitBranch)
	g.AddNode(NodePlanner, n.planner, routeOrFail(NodeAlignContracts))
	g.AddNode(NodeAlignContracts, n.alignContracts, routeOrFail(NodeCoderSession))
	g.AddNode(NodeCoderSession, n.coderSession, routeOrFail(NodeTester))
	g.AddNode(NodeTester, n.tester, routeAfterTester)
	g.AddNode(NodeAuditor, n.auditor, routeAfterAuditor)
	g.AddNode(NodeUATEvaluate, n.uatEvaluate, routeAfterUAT)
	g.AddNode(NodeCommit, n.commit, routeOrFail(NodeEnd))
	g.OnProgress(r.progress)
	return g
}

// RunCycle runs cycle id to completion. When the graph fails on its
// iteration budget the cycle is re-planned, up to max_plan_retries times.
func (r *Runner) RunCycle(ctx context.Context, id string, opts Options) (*State, error) {
	ctx = logging.WithCycleID(ctx, id)

	m, err := r.ensureCycle(ctx, id, opts)
	if err != nil {
		return nil, err
	}
	ctx = logging.WithSessionID(ctx, m.ProjectSessionID)

	cfg := r.deps.Config.Cycle
	graph := r.CoderGraph()
	var feedback []string

	for attempt := 0; ; attempt++ {
		start := 1
		if attempt == 0 {
			start = opts.StartIteration
		}
		s := NewState(id, start, cfg.MaxIterations)
		s.PlanAttempt = attempt
		s.Feedback = feedback
		s.SessionID = m.ProjectSessionID
		s.IntegrationBranch = m.IntegrationBranch

		r.logger.Info(ctx, "running cycle",
			zap.Int("plan_attempt", attempt),
			zap.Int("start_iteration", s.IterationCount),
			zap.Int("max_iterations", s.MaxIterations),
		)
		end, err := graph.Run(ctx, s)
		if end == NodeEnd {
			r.completed(ctx, id)
			return s, nil
		}

		if Replannable(err) && attempt < cfg.MaxPlanRetries {
			feedback = failureFeedback(s)
			continue
		}

		r.failed(ctx, id, err)
		return s, err
	}
}

// ensureCycle loads the manifest, creating the project or the cycle entry
// when missing, and drops a stale session handle unless resuming.
func (r *Runner) ensureCycle(ctx context.Context, id string, opts Options) (*manifest.ProjectManifest, error) {
	m, err := r.deps.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}
	if m == nil {
		sid := opts.SessionID
		if sid == "" {
			sid = uuid.NewString()
		}
		r.logger.Info(ctx, "no project session found, creating one", zap.String("session", sid))
		return r.deps.Store.CreateProject(ctx, sid, "", []string{id})
	}

	c := m.Cycle(id)
	if c == nil {
		if err := r.deps.Store.AddCycle(ctx, id); err != nil {
			return nil, fmt.Errorf("adding cycle %s: %w", id, err)
		}
		return m, nil
	}

	if c.JulesSessionID != "" && !opts.Resume {
		r.logger.Warn(ctx, "discarding unfinished agent session, use --resume to wait on it",
			zap.String("session", c.JulesSessionID))
		if err := r.deps.Store.UpdateCycleState(ctx, id, manifest.CycleUpdate{JulesSessionID: manifest.Ptr("")}); err != nil {
			return nil, fmt.Errorf("clearing session of cycle %s: %w", id, err)
		}
	}
	return m, nil
}

func (r *Runner) completed(ctx context.Context, id string) {
	r.deps.Recorder.RecordCycle(string(manifest.StatusCompleted))
	update := manifest.CycleUpdate{
		Status:    manifest.Ptr(manifest.StatusCompleted),
		LastError: manifest.Ptr(""),
	}
	if err := r.deps.Store.UpdateCycleState(ctx, id, update); err != nil {
		r.logger.Error(ctx, "failed to mark cycle completed", zap.Error(err))
		return
	}
	r.mirrorPlanStatus(ctx)
	r.logger.Info(ctx, "cycle completed")
}

func (r *Runner) failed(ctx context.Context, id string, cause error) {
	r.deps.Recorder.RecordCycle(string(manifest.StatusFailed))
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	update := manifest.CycleUpdate{
		Status:    manifest.Ptr(manifest.StatusFailed),
		LastError: manifest.Ptr(msg),
	}
	if err := r.deps.Store.UpdateCycleState(ctx, id, update); err != nil {
		r.logger.Error(ctx, "failed to mark cycle failed", zap.Error(err))
	}
	r.logger.Error(ctx, "cycle failed", zap.String("kind", string(KindOf(cause))), zap.Error(cause))
}

// mirrorPlanStatus rewrites the legacy plan_status.json from the manifest.
func (r *Runner) mirrorPlanStatus(ctx context.Context) {
	m, err := r.deps.Store.Load(ctx)
	if err != nil || m == nil {
		return
	}
	path := r.deps.Config.DocumentsPath(manifest.PlanStatusFile)
	if err := manifest.WritePlanStatus(path, m); err != nil {
		r.logger.Warn(ctx, "failed to write plan status", zap.Error(err))
	}
}

// RunAll runs every cycle not yet completed, in planned order. The first
// failure stops cycles that have not started.
func (r *Runner) RunAll(ctx context.Context, opts Options) ([]Result, error) {
	m, err := r.deps.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}
	if m == nil {
		return nil, ErrNoSession
	}
	pending := m.Pending()
	if len(pending) == 0 {
		r.logger.Info(ctx, "all cycles completed")
		return nil, nil
	}

	limit := opts.Parallel
	if limit < 1 {
		limit = 1
	}
	results := make([]Result, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, c := range pending {
		if gctx.Err() != nil {
			break
		}
		i, id := i, c.ID
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			s, err := r.RunCycle(gctx, id, opts)
			results[i] = Result{CycleID: id, State: s, Err: err}
			if err != nil {
				return fmt.Errorf("cycle %s: %w", id, err)
			}
			return nil
		})
	}
	err = g.Wait()

	out := results[:0]
	for _, res := range results {
		if res.CycleID != "" {
			out = append(out, res)
		}
	}
	return out, err
}

// failureFeedback summarizes why an attempt ran out of budget, for the
// planner.
func failureFeedback(s *State) []string {
	var out []string
	if s.Err != nil {
		out = append(out, s.Err.Error())
	}
	if s.AuditResult != nil && !s.AuditResult.IsApproved {
		out = append(out, s.AuditResult.CriticalIssues...)
	}
	if s.UATAnalysis != nil && !s.UATAnalysis.Passed() {
		out = append(out, uatFeedback(s.UATAnalysis.Summary, s.UATAnalysis.BehaviorAnalysis)...)
	}
	if s.TestExitCode > 0 && s.TestLogs != "" {
		out = append(out, "Tests still failing:\n"+sandbox.TailLog(s.TestLogs))
	}
	return out
}
