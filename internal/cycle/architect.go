package cycle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/accdd/internal/jules"
	"github.com/fyrsmithlabs/accdd/internal/logging"
	"github.com/fyrsmithlabs/accdd/internal/manifest"
	"github.com/fyrsmithlabs/accdd/internal/scaffold"
)

// ArchitectBranch holds the generated design documents.
const ArchitectBranch = "design/architecture"

// DefaultPlannedCycles is the cycle count hint given to the architect.
const DefaultPlannedCycles = 5

var cycleDirPattern = regexp.MustCompile(`^CYCLE([0-9]+)$`)

// ArchitectOptions control gen-cycles.
type ArchitectOptions struct {
	// Planned is a hint for the number of cycles.
	Planned int
	// Count forces exactly this many cycles.
	Count int
	// SessionID overrides the generated project session id.
	SessionID string
}

// IntegrationBranch is the branch cycles of session sid merge into.
func IntegrationBranch(sid string) string {
	return "dev/int-" + sid
}

type architectNodes struct {
	deps   *Deps
	opts   ArchitectOptions
	logger *logging.Logger
}

// GenerateCycles runs the architect graph: a design branch, one architect
// session over ALL_SPEC.md, and a commit that starts the project session.
func (r *Runner) GenerateCycles(ctx context.Context, opts ArchitectOptions) (*manifest.ProjectManifest, error) {
	if opts.Planned <= 0 {
		opts.Planned = DefaultPlannedCycles
	}
	n := &architectNodes{deps: &r.deps, opts: opts, logger: r.deps.Logger.Named("architect")}

	g := NewGraph("architect", NodeInitBranch, r.deps.Logger, WithObserver(r.deps.Recorder))
	g.AddNode(NodeInitBranch, n.initBranch, routeOrFail(NodeArchitectSession))
	g.AddNode(NodeArchitectSession, n.session, routeOrFail(NodeCommit))
	g.AddNode(NodeCommit, n.commit, routeOrFail(NodeEnd))
	g.OnProgress(r.progress)

	s := NewState("", 1, 1)
	s.SessionID = opts.SessionID
	if s.SessionID == "" {
		s.SessionID = uuid.NewString()
	}
	s.IntegrationBranch = IntegrationBranch(s.SessionID)
	ctx = logging.WithSessionID(ctx, s.SessionID)

	if _, err := g.Run(ctx, s); err != nil {
		return nil, err
	}
	return r.deps.Store.Load(ctx)
}

func (n *architectNodes) initBranch(ctx context.Context, s *State) error {
	spec := n.deps.Config.DocumentsPath("ALL_SPEC.md")
	if _, err := os.Stat(spec); err != nil {
		return phaseError(NodeInitBranch, KindConfig, fmt.Errorf("ALL_SPEC.md not found: %w", err), spec)
	}
	if err := n.deps.Git.EnsureBranch(ctx, ArchitectBranch, ""); err != nil {
		return phaseError(NodeInitBranch, KindConfig, err, "branch "+ArchitectBranch)
	}
	s.ActiveBranch = ArchitectBranch
	return nil
}

func (n *architectNodes) session(ctx context.Context, s *State) error {
	template, err := scaffold.Prompt(n.deps.Config, scaffold.ArchitectInstruction)
	if err != nil {
		return phaseError(NodeArchitectSession, KindConfig, err, "")
	}
	prompt := template
	if n.opts.Count > 0 {
		prompt += fmt.Sprintf("\n\nCreate exactly %d development cycles.", n.opts.Count)
	} else {
		prompt += fmt.Sprintf("\n\nPlan about %d development cycles.", n.opts.Planned)
	}

	req := jules.Request{
		Name:             "architect-session",
		Prompt:           prompt,
		ContextFiles:     existing(n.deps.Config.DocumentsPath("ALL_SPEC.md")),
		CompletionSignal: n.deps.Config.DocumentsPath("architect_report.json"),
	}
	report, err := runAgent(ctx, n.deps.Gateway, req)
	if err != nil {
		return agentError(NodeArchitectSession, err, "")
	}
	applyReport(ctx, n.deps, n.logger, report)

	s.PlannedCycles = n.plannedCycles(report)
	if len(s.PlannedCycles) == 0 {
		return phaseError(NodeArchitectSession, KindTask, fmt.Errorf("architect produced no cycles"), report.SessionName)
	}
	n.logger.Info(ctx, "architecture generated",
		zap.Strings("cycles", s.PlannedCycles),
		zap.String("pr", report.PRURL),
	)
	return nil
}

// plannedCycles picks the cycle ids: the forced count, then the signal
// payload, then the CYCLEnn directories on disk.
func (n *architectNodes) plannedCycles(report *jules.Report) []string {
	if n.opts.Count > 0 {
		return manifest.CycleIDs(n.opts.Count)
	}

	var payload struct {
		Cycles []string `json:"cycles"`
	}
	if len(report.Signal) > 0 && json.Unmarshal(report.Signal, &payload) == nil && len(payload.Cycles) > 0 {
		return payload.Cycles
	}

	entries, err := os.ReadDir(n.deps.Config.DocumentsPath())
	if err != nil {
		return nil
	}
	var ids []string
	for _, e := range entries {
		if m := cycleDirPattern.FindStringSubmatch(e.Name()); e.IsDir() && m != nil {
			ids = append(ids, m[1])
		}
	}
	sort.Strings(ids)
	return ids
}

// commit records the design documents, cuts the integration branch from
// them and starts the project session.
func (n *architectNodes) commit(ctx context.Context, s *State) error {
	if _, err := n.deps.Git.CommitAll(ctx, "docs: generate system architecture and specs"); err != nil {
		return phaseError(NodeCommit, KindMerge, err, "")
	}
	if err := n.deps.Git.EnsureBranch(ctx, s.IntegrationBranch, ArchitectBranch); err != nil {
		return phaseError(NodeCommit, KindMerge, err, "branch "+s.IntegrationBranch)
	}
	if n.deps.PullRequests != nil {
		if err := n.deps.Git.Push(ctx, s.IntegrationBranch); err != nil {
			return phaseError(NodeCommit, KindMerge, err, "push "+s.IntegrationBranch)
		}
	}

	m, err := n.deps.Store.CreateProject(ctx, s.SessionID, s.IntegrationBranch, s.PlannedCycles)
	if err != nil {
		return phaseError(NodeCommit, KindInternal, err, "creating project manifest")
	}
	path := n.deps.Config.DocumentsPath(manifest.PlanStatusFile)
	if err := manifest.WritePlanStatus(path, m); err != nil {
		n.logger.Warn(ctx, "failed to write plan status", zap.String("path", filepath.Base(path)), zap.Error(err))
	}

	n.logger.Info(ctx, "project session started",
		zap.String("integration_branch", s.IntegrationBranch),
		zap.Int("cycles", len(s.PlannedCycles)),
	)
	return nil
}
