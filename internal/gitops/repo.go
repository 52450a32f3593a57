// Package gitops wraps the git and GitHub operations of the cycle workflow:
// branch management, commits of generated files, pushes, and pull requests
// into the integration branch.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/accdd/internal/config"
	"github.com/fyrsmithlabs/accdd/internal/logging"
)

var (
	// ErrNotGitRepo indicates the project directory is not inside a repository.
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrBranchNotFound indicates a named branch does not exist.
	ErrBranchNotFound = errors.New("branch not found")

	// ErrMerge is returned when a pull request cannot be created or merged.
	ErrMerge = errors.New("merge failed")
)

const (
	defaultAuthorName  = "accdd"
	defaultAuthorEmail = "accdd@localhost"
)

// Repo is a git working tree opened with go-git. Methods are safe for
// concurrent use.
type Repo struct {
	mu     sync.Mutex
	repo   *git.Repository
	root   string
	remote string
	token  config.Secret
	logger *logging.Logger
	now    func() time.Time
}

// RepoOption configures a Repo.
type RepoOption func(*Repo)

// WithRemote sets the remote used by Push. Defaults to "origin".
func WithRemote(name string) RepoOption {
	return func(r *Repo) { r.remote = name }
}

// WithToken sets the token used for HTTPS pushes.
func WithToken(token config.Secret) RepoOption {
	return func(r *Repo) { r.token = token }
}

// Open opens the repository containing dir.
func Open(dir string, logger *logging.Logger, opts ...RepoOption) (*Repo, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotGitRepo, dir)
		}
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("opening worktree: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	r := &Repo{
		repo:   repo,
		root:   wt.Filesystem.Root(),
		remote: "origin",
		logger: logger.Named("git"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Root returns the worktree root directory.
func (r *Repo) Root() string {
	return r.root
}

// CurrentBranch returns the checked-out branch, or "" for a detached HEAD.
func (r *Repo) CurrentBranch() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", nil
	}
	return head.Name().Short(), nil
}

// BranchExists reports whether a local branch exists.
func (r *Repo) BranchExists(name string) bool {
	_, err := r.repo.Reference(plumbing.NewBranchReferenceName(name), true)
	return err == nil
}

// EnsureBranch checks out name, creating it from base when it does not exist.
// An empty base creates the branch from HEAD. Uncommitted changes are kept.
func (r *Repo) EnsureBranch(ctx context.Context, name, base string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}

	ref := plumbing.NewBranchReferenceName(name)
	opts := &git.CheckoutOptions{Branch: ref, Keep: true}

	if _, err := r.repo.Reference(ref, true); err != nil {
		opts.Create = true
		if base != "" {
			baseRef, err := r.repo.Reference(plumbing.NewBranchReferenceName(base), true)
			if err != nil {
				return fmt.Errorf("%w: %s", ErrBranchNotFound, base)
			}
			opts.Hash = baseRef.Hash()
		}
	}

	if err := wt.Checkout(opts); err != nil {
		return fmt.Errorf("checking out %s: %w", name, err)
	}

	r.logger.Info(ctx, "branch ready", zap.String("branch", name), zap.Bool("created", opts.Create))
	return nil
}

// CommitFiles stages the given paths and commits them. Paths may be absolute
// or relative to the worktree root. Paths matched by .gitignore are skipped,
// and nothing is committed when no tracked content changed.
func (r *Repo) CommitFiles(ctx context.Context, message string, paths ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}

	patterns, err := gitignore.ReadPatterns(wt.Filesystem, nil)
	if err != nil {
		return fmt.Errorf("reading .gitignore: %w", err)
	}
	matcher := gitignore.NewMatcher(patterns)

	staged := 0
	for _, p := range paths {
		rel, err := r.relative(p)
		if err != nil {
			return err
		}
		if matcher.Match(strings.Split(rel, "/"), false) {
			r.logger.Debug(ctx, "skipping ignored path", zap.String("path", rel))
			continue
		}
		if _, err := wt.Add(rel); err != nil {
			return fmt.Errorf("staging %s: %w", rel, err)
		}
		staged++
	}
	if staged == 0 {
		return nil
	}
	return r.commit(ctx, wt, message)
}

// CommitAll stages every change in the worktree, honoring .gitignore, and
// commits it. It returns false when the tree was already clean.
func (r *Repo) CommitAll(ctx context.Context, message string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wt, err := r.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("opening worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return false, fmt.Errorf("staging changes: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("reading status: %w", err)
	}
	if status.IsClean() {
		return false, nil
	}
	return true, r.commit(ctx, wt, message)
}

func (r *Repo) commit(ctx context.Context, wt *git.Worktree, message string) error {
	status, err := wt.Status()
	if err != nil {
		return fmt.Errorf("reading status: %w", err)
	}
	changed := 0
	for _, s := range status {
		if s.Staging != git.Unmodified && s.Staging != git.Untracked {
			changed++
		}
	}
	if changed == 0 {
		return nil
	}

	hash, err := wt.Commit(message, &git.CommitOptions{Author: r.signature()})
	if err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	r.logger.Info(ctx, "committed changes",
		zap.String("commit", hash.String()[:8]),
		zap.String("message", message),
		zap.Int("files", changed),
	)
	return nil
}

// ChangedFiles lists files that differ between the base branch and the
// worktree: committed changes since base plus uncommitted edits. Deleted
// files are omitted.
func (r *Repo) ChangedFiles(ctx context.Context, base string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := map[string]bool{}

	if base != "" {
		baseRef, err := r.repo.Reference(plumbing.NewBranchReferenceName(base), true)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrBranchNotFound, base)
		}
		head, err := r.repo.Head()
		if err != nil {
			return nil, fmt.Errorf("reading HEAD: %w", err)
		}
		if baseRef.Hash() != head.Hash() {
			baseTree, err := r.treeAt(baseRef.Hash())
			if err != nil {
				return nil, err
			}
			headTree, err := r.treeAt(head.Hash())
			if err != nil {
				return nil, err
			}
			changes, err := baseTree.DiffContext(ctx, headTree)
			if err != nil {
				return nil, fmt.Errorf("diffing %s..HEAD: %w", base, err)
			}
			for _, c := range changes {
				if c.To.Name != "" {
					seen[c.To.Name] = true
				}
			}
		}
	}

	wt, err := r.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("opening worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("reading status: %w", err)
	}
	for path, s := range status {
		if s.Worktree == git.Deleted || s.Staging == git.Deleted {
			delete(seen, path)
			continue
		}
		if s.Worktree != git.Unmodified || s.Staging != git.Unmodified {
			seen[path] = true
		}
	}

	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

func (r *Repo) treeAt(hash plumbing.Hash) (*object.Tree, error) {
	commit, err := r.repo.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("loading commit %s: %w", hash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("loading tree of %s: %w", hash, err)
	}
	return tree, nil
}

// Push pushes branch to the configured remote. An up-to-date remote is not
// an error.
func (r *Repo) Push(ctx context.Context, branch string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref := plumbing.NewBranchReferenceName(branch)
	opts := &git.PushOptions{
		RemoteName: r.remote,
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec(ref + ":" + ref)},
	}
	if r.token.IsSet() {
		opts.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: r.token.Value()}
	}

	err := r.repo.PushContext(ctx, opts)
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		r.logger.Debug(ctx, "remote already up to date", zap.String("branch", branch))
		return nil
	}
	if err != nil {
		return fmt.Errorf("pushing %s to %s: %w", branch, r.remote, err)
	}
	r.logger.Info(ctx, "pushed branch", zap.String("branch", branch), zap.String("remote", r.remote))
	return nil
}

// SyncBranch fetches branch from the remote and fast-forwards the local
// branch to it. A missing local branch is created at the remote head.
func (r *Repo) SyncBranch(ctx context.Context, branch string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	local := plumbing.NewBranchReferenceName(branch)
	tracking := plumbing.NewRemoteReferenceName(r.remote, branch)
	opts := &git.FetchOptions{
		RemoteName: r.remote,
		RefSpecs:   []gitconfig.RefSpec{gitconfig.RefSpec("+" + local + ":" + tracking)},
	}
	if r.token.IsSet() {
		opts.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: r.token.Value()}
	}
	if err := r.repo.FetchContext(ctx, opts); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetching %s from %s: %w", branch, r.remote, err)
	}

	ref, err := r.repo.Reference(tracking, true)
	if err != nil {
		return fmt.Errorf("%w: %s/%s", ErrBranchNotFound, r.remote, branch)
	}
	if _, err := r.repo.Reference(local, true); err != nil {
		if err := r.repo.Storer.SetReference(plumbing.NewHashReference(local, ref.Hash())); err != nil {
			return fmt.Errorf("creating %s: %w", branch, err)
		}
	} else if err := r.fastForward(branch, ref.Hash()); err != nil {
		return err
	}
	r.logger.Info(ctx, "branch synced", zap.String("branch", branch), zap.String("head", ref.Hash().String()))
	return nil
}

// FastForward moves branch to the head of from. It fails with ErrMerge when
// branch has commits that from does not contain.
func (r *Repo) FastForward(ctx context.Context, branch, from string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, err := r.repo.Reference(plumbing.NewBranchReferenceName(from), true)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBranchNotFound, from)
	}
	if err := r.fastForward(branch, src.Hash()); err != nil {
		return err
	}
	r.logger.Info(ctx, "branch fast-forwarded", zap.String("branch", branch), zap.String("from", from))
	return nil
}

// fastForward moves the local branch to target. A checked-out branch also
// has its index and worktree updated. Callers hold r.mu.
func (r *Repo) fastForward(branch string, target plumbing.Hash) error {
	name := plumbing.NewBranchReferenceName(branch)
	cur, err := r.repo.Reference(name, true)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBranchNotFound, branch)
	}
	if cur.Hash() == target {
		return nil
	}

	curCommit, err := r.repo.CommitObject(cur.Hash())
	if err != nil {
		return fmt.Errorf("loading commit %s: %w", cur.Hash(), err)
	}
	targetCommit, err := r.repo.CommitObject(target)
	if err != nil {
		return fmt.Errorf("loading commit %s: %w", target, err)
	}
	ok, err := curCommit.IsAncestor(targetCommit)
	if err != nil {
		return fmt.Errorf("walking history of %s: %w", branch, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s has diverged from %s", ErrMerge, branch, target)
	}

	if head, err := r.repo.Head(); err == nil && head.Name() == name {
		wt, err := r.repo.Worktree()
		if err != nil {
			return fmt.Errorf("opening worktree: %w", err)
		}
		if err := wt.Reset(&git.ResetOptions{Commit: target, Mode: git.MergeReset}); err != nil {
			return fmt.Errorf("fast-forwarding %s: %w", branch, err)
		}
		return nil
	}
	if err := r.repo.Storer.SetReference(plumbing.NewHashReference(name, target)); err != nil {
		return fmt.Errorf("fast-forwarding %s: %w", branch, err)
	}
	return nil
}

// RemoteRepository returns the GitHub owner and repository parsed from the
// configured remote URL.
func (r *Repo) RemoteRepository() (owner, name string, err error) {
	remote, err := r.repo.Remote(r.remote)
	if err != nil {
		return "", "", fmt.Errorf("remote %s: %w", r.remote, err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", "", fmt.Errorf("remote %s has no URL", r.remote)
	}
	owner, name, ok := ParseGitHubRemote(urls[0])
	if !ok {
		return "", "", fmt.Errorf("remote %s is not a GitHub URL: %s", r.remote, urls[0])
	}
	return owner, name, nil
}

func (r *Repo) relative(p string) (string, error) {
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(r.root, p)
		if err != nil || strings.HasPrefix(rel, "..") {
			return "", fmt.Errorf("path %s is outside the repository", p)
		}
		p = rel
	}
	return filepath.ToSlash(filepath.Clean(p)), nil
}

func (r *Repo) signature() *object.Signature {
	sig := &object.Signature{Name: defaultAuthorName, Email: defaultAuthorEmail, When: r.now()}
	cfg, err := r.repo.ConfigScoped(gitconfig.GlobalScope)
	if err != nil {
		return sig
	}
	if cfg.User.Name != "" {
		sig.Name = cfg.User.Name
	}
	if cfg.User.Email != "" {
		sig.Email = cfg.User.Email
	}
	return sig
}

var (
	sshRemote   = regexp.MustCompile(`^git@github\.com:([^/]+)/(.+?)(?:\.git)?/?$`)
	httpsRemote = regexp.MustCompile(`^(?:https?|ssh)://(?:[^@/]+@)?github\.com(?::\d+)?/([^/]+)/(.+?)(?:\.git)?/?$`)
)

// ParseGitHubRemote extracts owner and repository from a GitHub SSH or HTTPS
// remote URL.
func ParseGitHubRemote(url string) (owner, repo string, ok bool) {
	for _, re := range []*regexp.Regexp{sshRemote, httpsRemote} {
		if m := re.FindStringSubmatch(strings.TrimSpace(url)); len(m) == 3 {
			return m[1], m[2], true
		}
	}
	return "", "", false
}
