package cycle

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/accdd/internal/agents"
	"github.com/fyrsmithlabs/accdd/internal/changes"
	"github.com/fyrsmithlabs/accdd/internal/config"
	"github.com/fyrsmithlabs/accdd/internal/gitops"
	"github.com/fyrsmithlabs/accdd/internal/jules"
	"github.com/fyrsmithlabs/accdd/internal/logging"
	"github.com/fyrsmithlabs/accdd/internal/manifest"
	"github.com/fyrsmithlabs/accdd/internal/sandbox"
	"github.com/fyrsmithlabs/accdd/internal/secrets"
)

// ManifestStore persists project and cycle state.
type ManifestStore interface {
	Load(ctx context.Context) (*manifest.ProjectManifest, error)
	GetCycle(ctx context.Context, id string) (*manifest.CycleManifest, error)
	UpdateCycleState(ctx context.Context, id string, u manifest.CycleUpdate) error
	CreateProject(ctx context.Context, sessionID, integrationBranch string, cycleIDs []string) (*manifest.ProjectManifest, error)
	AddCycle(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// Gateway dispatches agent sessions and waits on them by handle.
type Gateway interface {
	StartSession(ctx context.Context, req jules.Request) (string, error)
	WaitForCompletion(ctx context.Context, handle, signalPath string) (*jules.Report, error)
}

// SessionRunner is implemented by gateways that dispatch and wait in one
// call. *jules.Gateway implements it.
type SessionRunner interface {
	RunSession(ctx context.Context, req jules.Request) (*jules.Report, error)
}

// Applier materializes file operations.
type Applier interface {
	Apply(ctx context.Context, ops []changes.FileOperation, opts changes.Options) changes.ApplyResult
}

// CommandRunner executes test commands.
type CommandRunner interface {
	Run(ctx context.Context, command []string) (sandbox.Result, error)
}

// Git is the local repository.
type Git interface {
	Root() string
	EnsureBranch(ctx context.Context, name, base string) error
	CommitAll(ctx context.Context, message string) (bool, error)
	ChangedFiles(ctx context.Context, base string) ([]string, error)
	Push(ctx context.Context, branch string) error
	// SyncBranch fetches branch from the remote and fast-forwards the local ref.
	SyncBranch(ctx context.Context, branch string) error
	// FastForward moves branch to the head of from.
	FastForward(ctx context.Context, branch, from string) error
}

// PullRequests opens and merges pull requests on the hosting service.
type PullRequests interface {
	CreatePullRequest(ctx context.Context, head, base, title, body string) (*gitops.PullRequest, error)
	MergePullRequest(ctx context.Context, number int, message string) error
}

// Reviewer is one committee auditor.
type Reviewer interface {
	Review(ctx context.Context, req agents.ReviewRequest) (agents.AuditResult, error)
}

// UATAnalyzer judges a UAT run.
type UATAnalyzer interface {
	Analyze(ctx context.Context, req agents.UATRequest) (agents.UatAnalysis, error)
}

// SecretScanner finds secrets in files under root.
type SecretScanner interface {
	ScanFiles(root string, paths []string) ([]secrets.Finding, error)
}

// Recorder receives workflow counters. *metrics.Metrics implements it.
type Recorder interface {
	NodeObserver
	RecordCycle(outcome string)
	RecordIteration(cycleID string)
	RecordPlanRetry(cycleID string)
	RecordAudit(auditor, decision string)
	RecordTestRun(result string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveNode(string, float64) {}
func (nopRecorder) RecordCycle(string)          {}
func (nopRecorder) RecordIteration(string)      {}
func (nopRecorder) RecordPlanRetry(string)      {}
func (nopRecorder) RecordAudit(string, string)  {}
func (nopRecorder) RecordTestRun(string)        {}

// Deps are the collaborators of the cycle graphs. PullRequests, Reviewer,
// Analyst, Scanner and Recorder are optional.
type Deps struct {
	Config   *config.Config
	Store    ManifestStore
	Gateway  Gateway
	Applier  Applier
	Commands CommandRunner
	Git      Git

	PullRequests PullRequests
	Reviewer     Reviewer
	Analyst      UATAnalyzer
	Scanner      SecretScanner
	Recorder     Recorder
	Logger       *logging.Logger

	// Interactive asks before writing each agent change.
	Interactive bool
}

func (d *Deps) validate() error {
	var missing []error
	if d.Config == nil {
		missing = append(missing, errors.New("config is required"))
	}
	if d.Store == nil {
		missing = append(missing, errors.New("manifest store is required"))
	}
	if d.Gateway == nil {
		missing = append(missing, errors.New("agent gateway is required"))
	}
	if d.Applier == nil {
		missing = append(missing, errors.New("change applier is required"))
	}
	if d.Commands == nil {
		missing = append(missing, errors.New("command runner is required"))
	}
	if d.Git == nil {
		missing = append(missing, errors.New("git repository is required"))
	}
	if err := errors.Join(missing...); err != nil {
		return errors.Join(config.ErrInvalidConfig, err)
	}

	if d.Recorder == nil {
		d.Recorder = nopRecorder{}
	}
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	return nil
}
