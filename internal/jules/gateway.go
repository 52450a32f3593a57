// Package jules drives long-running sessions on the Jules coding agent.
//
// A session is started once and its handle (the session name) is returned
// immediately so callers can persist it. WaitForCompletion needs only that
// handle, so a crashed run can resume waiting on the same remote session.
package jules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/accdd/internal/changes"
	"github.com/fyrsmithlabs/accdd/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/accdd/internal/jules"

var tracer = otel.Tracer(instrumentationName)

// Session states reported by the API.
const (
	StateSucceeded = "SUCCEEDED"
	StateCompleted = "COMPLETED"
	StateFailed    = "FAILED"
)

// API is the subset of the agent API the gateway uses.
type API interface {
	ListSources(ctx context.Context) ([]Source, error)
	CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error)
	GetSession(ctx context.Context, name string) (*Session, error)
	ListActivities(ctx context.Context, name string) ([]Activity, error)
}

// Recorder receives session lifecycle events.
type Recorder interface {
	RecordSession(kind string)
}

// Status is the outcome of a session.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Report is the result of a finished session.
type Report struct {
	Status      Status
	SessionName string
	PRURL       string
	Output      string
	Operations  []changes.FileOperation
	Signal      json.RawMessage
}

// Request describes a session to start.
type Request struct {
	// Name is a local label such as "coder-01-iter2".
	Name             string
	Prompt           string
	ContextFiles     []string
	CompletionSignal string
	// StartingBranch is the remote branch the agent works from. Empty uses
	// the configured default.
	StartingBranch string
}

// GatewayConfig holds polling and repository settings.
type GatewayConfig struct {
	Source         string
	RepoHint       string
	StartingBranch string
	PollInterval   time.Duration
	Timeout        time.Duration
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithRecorder reports session events to r.
func WithRecorder(r Recorder) GatewayOption {
	return func(g *Gateway) { g.recorder = r }
}

// Gateway starts and waits on agent sessions.
type Gateway struct {
	api      API
	cfg      GatewayConfig
	logger   *logging.Logger
	recorder Recorder

	mu     sync.Mutex
	source string
}

// NewGateway creates a Gateway over api.
func NewGateway(api API, cfg GatewayConfig, logger *logging.Logger, opts ...GatewayOption) *Gateway {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 20 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Hour
	}
	if cfg.StartingBranch == "" {
		cfg.StartingBranch = "main"
	}
	g := &Gateway{
		api:    api,
		cfg:    cfg,
		logger: logger.Named("jules"),
		source: cfg.Source,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RunSession starts a session and waits for it to finish. Planner, architect
// and start-session dispatches go through it.
func (g *Gateway) RunSession(ctx context.Context, req Request) (*Report, error) {
	handle, err := g.StartSession(ctx, req)
	if err != nil {
		return nil, err
	}
	return g.WaitForCompletion(ctx, handle, req.CompletionSignal)
}

// StartSession creates a remote session and returns its handle without
// waiting. A stale completion signal from an earlier run is removed first.
func (g *Gateway) StartSession(ctx context.Context, req Request) (string, error) {
	ctx, span := tracer.Start(ctx, "jules.start_session")
	defer span.End()
	span.SetAttributes(attribute.String("session.label", req.Name))

	if req.CompletionSignal != "" {
		if err := os.Remove(req.CompletionSignal); err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("failed to clear completion signal: %w", err)
		}
	}

	source, err := g.resolveSource(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "source resolution failed")
		return "", err
	}

	branch := req.StartingBranch
	if branch == "" {
		branch = g.cfg.StartingBranch
	}
	span.SetAttributes(attribute.String("session.starting_branch", branch))

	sess, err := g.api.CreateSession(ctx, CreateSessionRequest{
		Prompt: g.buildPrompt(ctx, req.Prompt, req.ContextFiles),
		Title:  req.Name,
		SourceContext: SourceContext{
			Source:            source,
			GithubRepoContext: GithubRepoContext{StartingBranch: branch},
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create session failed")
		return "", fmt.Errorf("failed to create session %s: %w", req.Name, err)
	}

	g.record("new")
	span.SetAttributes(attribute.String("session.name", sess.Name))
	g.logger.Info(ctx, "agent session created",
		zap.String("label", req.Name),
		zap.String("session", sess.Name),
		zap.String("branch", branch),
		zap.String("url", SessionURL(sess.Name)))
	return sess.Name, nil
}

// WaitForCompletion polls handle until it succeeds, fails, the completion
// signal appears, or the timeout elapses. Transient API errors are retried
// until the timeout.
func (g *Gateway) WaitForCompletion(ctx context.Context, handle, signalPath string) (*Report, error) {
	ctx, span := tracer.Start(ctx, "jules.wait_for_completion")
	defer span.End()
	span.SetAttributes(attribute.String("session.name", handle))

	var signalC <-chan struct{}
	if signalPath != "" {
		sw, err := WatchSignal(ctx, signalPath, g.logger)
		if err != nil {
			g.logger.Warn(ctx, "completion signal watch unavailable", zap.Error(err))
		} else {
			defer sw.Close()
			signalC = sw.C()
		}
	}

	deadline := time.NewTimer(g.cfg.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()

	log := newActivityLog()
	g.logger.Info(ctx, "waiting for agent session",
		zap.String("session", handle), zap.Duration("timeout", g.cfg.Timeout))

	for {
		report, done, err := g.poll(ctx, handle, signalPath, log)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "session failed")
			return report, err
		}
		if done {
			span.SetAttributes(attribute.String("session.pr_url", report.PRURL))
			return report, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			g.record("timeout")
			err := fmt.Errorf("%w: %s after %s", ErrTimeout, handle, g.cfg.Timeout)
			span.RecordError(err)
			span.SetStatus(codes.Error, "timeout")
			return nil, err
		case <-signalC:
			g.logger.Info(ctx, "completion signal found", zap.String("session", handle), zap.String("path", signalPath))
			g.record("succeeded")
			return g.report(handle, StatusSuccess, "", log), nil
		case <-ticker.C:
		}
	}
}

// poll performs one status and activity check.
func (g *Gateway) poll(ctx context.Context, handle, signalPath string, log *activityLog) (*Report, bool, error) {
	sess, err := g.api.GetSession(ctx, handle)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		if IsRetryable(err) {
			g.logger.Warn(ctx, "transient polling error", zap.String("session", handle), zap.Error(err))
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to poll session %s: %w", handle, err)
	}

	acts, err := g.api.ListActivities(ctx, handle)
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, false, ctx.Err()
	case err != nil:
		g.logger.Warn(ctx, "failed to list activities", zap.String("session", handle), zap.Error(err))
	default:
		if n := log.add(acts); n > 0 {
			g.logger.Debug(ctx, "activities received", zap.String("session", handle), zap.Int("new", n))
		}
	}

	if log.signal != nil && signalPath != "" && !SignalExists(signalPath) {
		if err := WriteSignal(signalPath, log.signal); err != nil {
			g.logger.Warn(ctx, "failed to write completion signal", zap.Error(err))
		} else {
			g.logger.Info(ctx, "completion signal received", zap.String("session", handle))
			g.record("succeeded")
			return g.report(handle, StatusSuccess, sess.PRURL(), log), true, nil
		}
	}

	switch {
	case sess.State == StateFailed:
		msg := "unknown error"
		if sess.Error != nil && sess.Error.Message != "" {
			msg = sess.Error.Message
		}
		g.record("failed")
		g.logger.Error(ctx, "agent session failed", zap.String("session", handle), zap.String("reason", msg))
		return g.report(handle, StatusFailure, sess.PRURL(), log), false, fmt.Errorf("%w: %s: %s", ErrSessionFailed, handle, msg)
	case sess.State == StateSucceeded || sess.State == StateCompleted || sess.PRURL() != "":
		g.record("succeeded")
		g.logger.Info(ctx, "agent session completed",
			zap.String("session", handle), zap.String("state", sess.State), zap.String("pr_url", sess.PRURL()))
		return g.report(handle, StatusSuccess, sess.PRURL(), log), true, nil
	}

	g.logger.Trace(ctx, "agent session still running", zap.String("session", handle), zap.String("state", sess.State))
	return nil, false, nil
}

func (g *Gateway) report(handle string, status Status, prURL string, log *activityLog) *Report {
	return &Report{
		Status:      status,
		SessionName: handle,
		PRURL:       prURL,
		Output:      log.output.String(),
		Operations:  log.ops,
		Signal:      log.signal,
	}
}

// resolveSource returns the configured source, or the listed source whose
// name contains the repo hint, or the first listed source.
func (g *Gateway) resolveSource(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.source != "" {
		return g.source, nil
	}

	sources, err := g.api.ListSources(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list sources: %w", err)
	}
	if len(sources) == 0 {
		return "", ErrNoSource
	}

	g.source = sources[0].Name
	if g.cfg.RepoHint != "" {
		for _, s := range sources {
			if strings.Contains(s.Name, g.cfg.RepoHint) {
				g.source = s.Name
				break
			}
		}
	}
	g.logger.Info(ctx, "using agent source", zap.String("source", g.source))
	return g.source, nil
}

// buildPrompt appends context files and output-format instructions.
func (g *Gateway) buildPrompt(ctx context.Context, prompt string, files []string) string {
	var b strings.Builder
	b.WriteString(prompt)

	if len(files) > 0 {
		b.WriteString("\n\n=== CONTEXT FILES (Current Local State) ===\n")
		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				g.logger.Warn(ctx, "skipping context file", zap.String("path", f), zap.Error(err))
				continue
			}
			fmt.Fprintf(&b, "\n=== FILE: %s ===\n%s\n", filepath.Base(f), data)
		}
	}

	b.WriteString("\n\n=== IMPORTANT INSTRUCTION ===\n")
	b.WriteString("Output the full content of every new or rewritten file in Markdown code blocks.\n")
	b.WriteString("Format:\nFILENAME: path/to/file\n```ext\ncontent\n```\n")
	b.WriteString("For a small edit of an existing file, output a patch block instead. SEARCH must copy the current lines exactly:\n")
	b.WriteString("PATCH: path/to/file\n<<<<<<< SEARCH\nlines to find\n=======\nreplacement lines\n>>>>>>> REPLACE\n")
	b.WriteString("Finally, output the SIGNAL JSON {\"status\": \"completed\"} in a block labelled 'SIGNAL'.")
	return b.String()
}

func (g *Gateway) record(kind string) {
	if g.recorder != nil {
		g.recorder.RecordSession(kind)
	}
}

// SessionURL returns the web URL for a session name.
func SessionURL(name string) string {
	return "https://jules.google/sessions/" + name[strings.LastIndex(name, "/")+1:]
}
