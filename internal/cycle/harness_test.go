package cycle

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/accdd/internal/agents"
	"github.com/fyrsmithlabs/accdd/internal/changes"
	"github.com/fyrsmithlabs/accdd/internal/config"
	"github.com/fyrsmithlabs/accdd/internal/gitops"
	"github.com/fyrsmithlabs/accdd/internal/jules"
	"github.com/fyrsmithlabs/accdd/internal/logging"
	"github.com/fyrsmithlabs/accdd/internal/manifest"
	"github.com/fyrsmithlabs/accdd/internal/sandbox"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) StartSession(ctx context.Context, req jules.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) WaitForCompletion(ctx context.Context, handle, signalPath string) (*jules.Report, error) {
	args := m.Called(ctx, handle, signalPath)
	report, _ := args.Get(0).(*jules.Report)
	return report, args.Error(1)
}

type mockPullRequests struct {
	mock.Mock
}

func (m *mockPullRequests) CreatePullRequest(ctx context.Context, head, base, title, body string) (*gitops.PullRequest, error) {
	args := m.Called(ctx, head, base, title, body)
	pr, _ := args.Get(0).(*gitops.PullRequest)
	return pr, args.Error(1)
}

func (m *mockPullRequests) MergePullRequest(ctx context.Context, number int, message string) error {
	args := m.Called(ctx, number, message)
	return args.Error(0)
}

// fakeGit records branch and commit calls.
type fakeGit struct {
	mu       sync.Mutex
	root     string
	branches []string
	bases    []string
	commits  []string
	pushed   []string
	changed  []string
	synced   []string
	// forwarded holds "branch<-from" pairs.
	forwarded []string

	branchErr error
	commitErr error
	pushErr   error
}

func (g *fakeGit) Root() string { return g.root }

func (g *fakeGit) EnsureBranch(_ context.Context, name, base string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.branchErr != nil {
		return g.branchErr
	}
	g.branches = append(g.branches, name)
	g.bases = append(g.bases, base)
	return nil
}

func (g *fakeGit) CommitAll(_ context.Context, message string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.commitErr != nil {
		return false, g.commitErr
	}
	g.commits = append(g.commits, message)
	return true, nil
}

func (g *fakeGit) ChangedFiles(context.Context, string) ([]string, error) {
	return g.changed, nil
}

func (g *fakeGit) Push(_ context.Context, branch string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pushErr != nil {
		return g.pushErr
	}
	g.pushed = append(g.pushed, branch)
	return nil
}

func (g *fakeGit) SyncBranch(_ context.Context, branch string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.synced = append(g.synced, branch)
	return nil
}

func (g *fakeGit) FastForward(_ context.Context, branch, from string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.forwarded = append(g.forwarded, branch+"<-"+from)
	return nil
}

// scriptedCommands returns exit codes in order, repeating the last one.
type scriptedCommands struct {
	mu    sync.Mutex
	exits []int
	calls int
}

func (c *scriptedCommands) Run(_ context.Context, command []string) (sandbox.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	code := 0
	if len(c.exits) > 0 {
		i := c.calls
		if i >= len(c.exits) {
			i = len(c.exits) - 1
		}
		code = c.exits[i]
	}
	c.calls++
	return sandbox.Result{Command: command, ExitCode: code, Output: "collected 3 items"}, nil
}

// scriptedReviewer answers reviews in order, repeating the last answer.
type scriptedReviewer struct {
	mu      sync.Mutex
	results []agents.AuditResult
	names   []string
}

func (r *scriptedReviewer) Review(_ context.Context, req agents.ReviewRequest) (agents.AuditResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, req.Auditor)
	i := len(r.names) - 1
	if i >= len(r.results) {
		i = len(r.results) - 1
	}
	return r.results[i], nil
}

type nopApplier struct{}

func (nopApplier) Apply(context.Context, []changes.FileOperation, changes.Options) changes.ApplyResult {
	return changes.ApplyResult{}
}

// countingRecorder counts workflow events.
type countingRecorder struct {
	mu         sync.Mutex
	cycles     []string
	iterations int
	replans    int
	audits     []string
	testRuns   []string
	nodes      []string
}

func (r *countingRecorder) ObserveNode(node string, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes = append(r.nodes, node)
}

func (r *countingRecorder) RecordCycle(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles = append(r.cycles, outcome)
}

func (r *countingRecorder) RecordIteration(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.iterations++
}

func (r *countingRecorder) RecordPlanRetry(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replans++
}

func (r *countingRecorder) RecordAudit(auditor, decision string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, auditor+":"+decision)
}

func (r *countingRecorder) RecordTestRun(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.testRuns = append(r.testRuns, result)
}

type harness struct {
	dir      string
	cfg      *config.Config
	store    *manifest.Store
	gateway  *mockGateway
	git      *fakeGit
	commands *scriptedCommands
	reviewer *scriptedReviewer
	recorder *countingRecorder
	logs     *logging.TestLogger
}

// newHarness builds a project in a temp dir with one auditor and
// maxIterations, and cycle 01 documents on disk.
func newHarness(t *testing.T, maxIterations int, auditors ...string) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.ProjectDir = dir
	cfg.Cycle.MaxIterations = maxIterations
	cfg.Cycle.MaxPlanRetries = 1
	cfg.Cycle.Auditors = auditors
	cfg.Cycle.ReviewsPerAuditor = 1
	if len(auditors) > 1 {
		cfg.Cycle.ReviewsPerAuditor = 2
	}

	writeDoc(t, cfg, "# Cycle 01\nImplement greeting.", "CYCLE01", "SPEC.md")
	writeDoc(t, cfg, "Given a user\nWhen they greet\nThen hello", "CYCLE01", "UAT.md")

	tl := logging.NewTestLogger()
	return &harness{
		dir:      dir,
		cfg:      cfg,
		store:    manifest.NewStore(cfg.StatePath(), tl.Logger),
		gateway:  &mockGateway{},
		git:      &fakeGit{root: dir},
		commands: &scriptedCommands{},
		reviewer: &scriptedReviewer{results: []agents.AuditResult{{IsApproved: true}}},
		recorder: &countingRecorder{},
		logs:     tl,
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Config:   h.cfg,
		Store:    h.store,
		Gateway:  h.gateway,
		Applier:  nopApplier{},
		Commands: h.commands,
		Git:      h.git,
		Reviewer: h.reviewer,
		Recorder: h.recorder,
		Logger:   h.logs.Logger,
	}
}

func (h *harness) runner(t *testing.T) *Runner {
	t.Helper()
	r, err := NewRunner(h.deps())
	require.NoError(t, err)
	return r
}

// succeedSessions makes every dispatched session finish successfully.
func (h *harness) succeedSessions() {
	h.gateway.On("StartSession", mock.Anything, mock.Anything).Return("sessions/1", nil)
	h.gateway.On("WaitForCompletion", mock.Anything, "sessions/1", mock.Anything).
		Return(&jules.Report{Status: jules.StatusSuccess, SessionName: "sessions/1"}, nil)
}

func (h *harness) project(t *testing.T, ids ...string) {
	t.Helper()
	_, err := h.store.CreateProject(context.Background(), "sess-1", "dev/int-sess-1", ids)
	require.NoError(t, err)
}

func writeDoc(t *testing.T, cfg *config.Config, content string, elem ...string) {
	t.Helper()
	path := cfg.DocumentsPath(elem...)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// coderRequest matches StartSession calls for the given session label.
func coderRequest(name string) interface{} {
	return mock.MatchedBy(func(req jules.Request) bool { return req.Name == name })
}
