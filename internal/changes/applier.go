package changes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/accdd/internal/logging"
)

// Options controls a single Apply call.
type Options struct {
	DryRun      bool
	Interactive bool
}

// FileError pairs a target path with the reason it was not applied.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e FileError) Unwrap() error {
	return e.Err
}

// ApplyResult summarizes a batch. In dry-run mode Applied lists the files
// that would have been written.
type ApplyResult struct {
	Applied []string
	Skipped []string
	Errors  []FileError
}

// Err joins the per-file errors, or returns nil.
func (r ApplyResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// Confirmer asks the user whether to apply a diff.
type Confirmer interface {
	Confirm(ctx context.Context, path, diff string) (bool, error)
}

// Recorder receives per-operation outcomes.
type Recorder interface {
	RecordChange(op, result string)
}

// Option configures an Applier.
type Option func(*Applier)

// WithConfirmer sets the prompt used in interactive mode.
func WithConfirmer(c Confirmer) Option {
	return func(a *Applier) { a.confirmer = c }
}

// WithTTYCheck overrides terminal detection.
func WithTTYCheck(isTTY func() bool) Option {
	return func(a *Applier) { a.isTTY = isTTY }
}

// WithRecorder reports outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(a *Applier) { a.recorder = r }
}

// Applier writes file operations under a project root.
type Applier struct {
	root      string
	logger    *logging.Logger
	confirmer Confirmer
	isTTY     func() bool
	recorder  Recorder
}

// NewApplier creates an Applier rooted at root.
func NewApplier(root string, logger *logging.Logger, opts ...Option) *Applier {
	if logger == nil {
		logger = logging.NewNop()
	}
	a := &Applier{
		root:   root,
		logger: logger.Named("changes"),
		isTTY:  StdinIsTerminal,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.confirmer == nil {
		a.confirmer = NewTerminalConfirmer(os.Stdin, os.Stdout)
	}
	return a
}

// Apply processes ops in order. Each op is consumed once; failures are
// collected and the batch continues. Interactive prompting only happens on a
// terminal and never in dry-run mode.
func (a *Applier) Apply(ctx context.Context, ops []FileOperation, opts Options) ApplyResult {
	interactive := opts.Interactive && !opts.DryRun && a.isTTY()
	var res ApplyResult

	for _, op := range ops {
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, FileError{Path: op.Target(), Err: ctx.Err()})
			continue
		}

		kind := Kind(op)
		outcome, err := a.applyOne(ctx, op, opts.DryRun, interactive)
		switch {
		case err != nil:
			a.logger.Error(ctx, "file operation failed",
				zap.String("op", kind), zap.String("path", op.Target()), zap.Error(err))
			res.Errors = append(res.Errors, FileError{Path: op.Target(), Err: err})
			a.record(kind, "failed")
		case outcome == outcomeApplied:
			res.Applied = append(res.Applied, op.Target())
			a.record(kind, "applied")
		default:
			res.Skipped = append(res.Skipped, op.Target())
			a.record(kind, "skipped")
		}
	}

	a.logger.Info(ctx, "file operations processed",
		zap.Int("applied", len(res.Applied)),
		zap.Int("skipped", len(res.Skipped)),
		zap.Int("failed", len(res.Errors)),
		zap.Bool("dry_run", opts.DryRun))
	return res
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeApplied
)

func (a *Applier) applyOne(ctx context.Context, op FileOperation, dryRun, interactive bool) (outcome, error) {
	path, err := a.resolve(op.Target())
	if err != nil {
		return outcomeSkipped, err
	}

	var p plan
	switch o := op.(type) {
	case Create:
		p, err = planCreate(path, o.Content)
	case *Create:
		p, err = planCreate(path, o.Content)
	case Patch:
		p, err = planPatch(path, o.Search, o.Replace)
	case *Patch:
		p, err = planPatch(path, o.Search, o.Replace)
	default:
		err = fmt.Errorf("unsupported operation %T", op)
	}
	if err != nil {
		return outcomeSkipped, err
	}

	if p.exists && p.before == p.after {
		a.logger.Info(ctx, "no changes", zap.String("path", op.Target()))
		return outcomeSkipped, nil
	}

	diff := UnifiedDiff(op.Target(), p.before, p.after)
	if dryRun {
		a.logger.Info(ctx, "dry run: would update file", zap.String("path", op.Target()))
		a.logger.Debug(ctx, "dry run diff", zap.String("path", op.Target()), zap.String("diff", diff))
		return outcomeApplied, nil
	}

	if interactive {
		ok, err := a.confirmer.Confirm(ctx, op.Target(), diff)
		if err != nil {
			return outcomeSkipped, fmt.Errorf("confirm: %w", err)
		}
		if !ok {
			a.logger.Info(ctx, "change declined", zap.String("path", op.Target()))
			return outcomeSkipped, nil
		}
	}

	if err := writeFile(path, p.after); err != nil {
		return outcomeSkipped, err
	}
	a.logger.Debug(ctx, "file written", zap.String("path", op.Target()), zap.Int("bytes", len(p.after)))
	return outcomeApplied, nil
}

// plan is the computed effect of one operation.
type plan struct {
	before string
	after  string
	exists bool
}

func planCreate(path, content string) (plan, error) {
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		return plan{before: string(data), after: content, exists: true}, nil
	case errors.Is(err, os.ErrNotExist):
		return plan{after: content}, nil
	default:
		return plan{}, fmt.Errorf("read %s: %w", path, err)
	}
}

func planPatch(path, search, replace string) (plan, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return plan{}, ErrFileNotFound
	}
	if err != nil {
		return plan{}, fmt.Errorf("read %s: %w", path, err)
	}
	patched, ok := applyPatch(string(data), search, replace)
	if !ok {
		return plan{}, ErrNoMatch
	}
	return plan{before: string(data), after: patched, exists: true}, nil
}

// resolve maps a relative target onto root and rejects escapes.
func (a *Applier) resolve(target string) (string, error) {
	if target == "" || filepath.IsAbs(target) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, target)
	}
	clean := filepath.Clean(target)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, target)
	}
	return filepath.Join(a.root, clean), nil
}

func (a *Applier) record(op, result string) {
	if a.recorder != nil {
		a.recorder.RecordChange(op, result)
	}
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dirs: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// UnifiedDiff renders a unified diff between two versions of path.
func UnifiedDiff(path, before, after string) string {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return diff
}
