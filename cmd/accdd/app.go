package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/accdd/internal/agents"
	"github.com/fyrsmithlabs/accdd/internal/changes"
	"github.com/fyrsmithlabs/accdd/internal/config"
	"github.com/fyrsmithlabs/accdd/internal/cycle"
	"github.com/fyrsmithlabs/accdd/internal/gitops"
	"github.com/fyrsmithlabs/accdd/internal/jules"
	"github.com/fyrsmithlabs/accdd/internal/logging"
	"github.com/fyrsmithlabs/accdd/internal/manifest"
	"github.com/fyrsmithlabs/accdd/internal/metrics"
	"github.com/fyrsmithlabs/accdd/internal/sandbox"
	"github.com/fyrsmithlabs/accdd/internal/secrets"
	"github.com/fyrsmithlabs/accdd/internal/telemetry"
)

// app holds the process-wide collaborators built from config.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	store   *manifest.Store
	metrics *metrics.Metrics
	tel     *telemetry.Telemetry

	// repo is nil outside a git checkout; repoErr says why.
	repo    *gitops.Repo
	repoErr error
}

func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(projectDir, configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	lcfg, err := logging.NewConfig(level, cfg.Logging.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	logger, err := logging.NewLogger(lcfg)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(ctx, cfg.Telemetry, logger)
	if err != nil {
		return nil, err
	}
	if lp := tel.LoggerProvider(); lp != nil {
		if logger, err = logging.NewLoggerWithProvider(lcfg, lp); err != nil {
			return nil, err
		}
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.Default(),
		tel:     tel,
	}

	// Manifest saves are committed when the state file is tracked; the
	// committer skips git-ignored paths.
	var storeOpts []manifest.StoreOption
	a.repo, a.repoErr = gitops.Open(cfg.Paths.ProjectDir, logger,
		gitops.WithRemote(cfg.GitHub.Remote),
		gitops.WithToken(cfg.GitHub.Token),
	)
	if a.repoErr == nil {
		storeOpts = append(storeOpts, manifest.WithCommitter(a.repo))
	}
	a.store = manifest.NewStore(cfg.StatePath(), logger, storeOpts...)
	return a, nil
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tel.Shutdown(ctx); err != nil {
		a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// depsOptions select the optional parts of the cycle wiring.
type depsOptions struct {
	// needAgent fails when no agent API key is configured.
	needAgent   bool
	interactive bool
}

// buildDeps wires the cycle collaborators. Optional collaborators are only
// assigned when they were built, so no interface holds a nil pointer.
func (a *app) buildDeps(ctx context.Context, opts depsOptions) (cycle.Deps, error) {
	cfg := a.cfg
	log := a.logger

	if a.repoErr != nil {
		return cycle.Deps{}, a.repoErr
	}
	repo := a.repo

	deps := cycle.Deps{
		Config:      cfg,
		Store:       a.store,
		Git:         repo,
		Recorder:    a.metrics,
		Logger:      log,
		Interactive: opts.interactive,
		Commands:    sandbox.NewRunner(repo.Root(), log, sandbox.WithTimeout(cfg.Cycle.TestTimeout.Duration())),
		Applier: changes.NewApplier(repo.Root(), log,
			changes.WithConfirmer(changes.NewTerminalConfirmer(os.Stdin, os.Stderr)),
			changes.WithRecorder(a.metrics),
		),
	}

	owner, name := cfg.GitHub.Owner, cfg.GitHub.Repo
	if owner == "" || name == "" {
		if o, n, err := repo.RemoteRepository(); err == nil {
			owner, name = o, n
		}
	}

	client, err := jules.NewClient(cfg.Jules.BaseURL, cfg.Jules.APIKey.Value(),
		jules.WithRateLimit(cfg.Jules.RequestsPerSecond))
	switch {
	case err == nil:
		deps.Gateway = jules.NewGateway(client, jules.GatewayConfig{
			Source:         cfg.Jules.Source,
			RepoHint:       owner + "/" + name,
			StartingBranch: cfg.Jules.StartingBranch,
			PollInterval:   cfg.Jules.PollInterval.Duration(),
			Timeout:        cfg.Jules.Timeout.Duration(),
		}, log, jules.WithRecorder(a.metrics))
	case opts.needAgent:
		return cycle.Deps{}, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	default:
		deps.Gateway = noAgent{}
	}

	if gh, err := gitops.NewGitHub(ctx, cfg.GitHub.Token, owner, name, log); err == nil {
		deps.PullRequests = gh
	} else {
		log.Warn(ctx, "GitHub integration disabled", zap.Error(err))
	}

	if model, err := agents.NewModel(cfg.LLM); err == nil {
		deps.Reviewer = agents.NewAuditor(model, log)
		deps.Analyst = agents.NewAnalyst(model, log)
	} else {
		log.Warn(ctx, "LLM reviewers disabled", zap.Error(err))
	}

	allow, err := secrets.LoadAllowlists(repo.Root(), cfg.Paths.SecretsAllowlist)
	if err != nil {
		return cycle.Deps{}, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	scanner, err := secrets.NewScanner(allow)
	if err != nil {
		return cycle.Deps{}, fmt.Errorf("creating secret scanner: %w", err)
	}
	deps.Scanner = scanner

	return deps, nil
}

func (a *app) runner(ctx context.Context, opts depsOptions) (*cycle.Runner, error) {
	deps, err := a.buildDeps(ctx, opts)
	if err != nil {
		return nil, err
	}
	return cycle.NewRunner(deps)
}

// noAgent stands in for the gateway in commands that never dispatch.
type noAgent struct{}

func (noAgent) StartSession(context.Context, jules.Request) (string, error) {
	return "", jules.ErrMissingAPIKey
}

func (noAgent) WaitForCompletion(context.Context, string, string) (*jules.Report, error) {
	return nil, jules.ErrMissingAPIKey
}
