package gitops

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/accdd/internal/config"
	"github.com/fyrsmithlabs/accdd/internal/logging"
)

// ErrNoToken is returned when a GitHub client is requested without a token.
var ErrNoToken = errors.New("GitHub token not set")

// PullRequest identifies an opened pull request.
type PullRequest struct {
	Number int
	URL    string
	Head   string
	Base   string
}

// GitHub opens and merges pull requests for one repository.
type GitHub struct {
	client *github.Client
	owner  string
	repo   string
	retry  *RetryConfig
	logger *logging.Logger
}

// GitHubOption configures a GitHub client.
type GitHubOption func(*GitHub) error

// WithBaseURL points the client at a different API root, such as GitHub
// Enterprise or a test server.
func WithBaseURL(base string) GitHubOption {
	return func(g *GitHub) error {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return fmt.Errorf("parsing GitHub base URL: %w", err)
		}
		g.client.BaseURL = u
		return nil
	}
}

// WithRetryConfig overrides the retry policy for API calls.
func WithRetryConfig(cfg *RetryConfig) GitHubOption {
	return func(g *GitHub) error {
		g.retry = cfg
		return nil
	}
}

// NewGitHub creates an authenticated client for owner/repo.
func NewGitHub(ctx context.Context, token config.Secret, owner, repo string, logger *logging.Logger, opts ...GitHubOption) (*GitHub, error) {
	if !token.IsSet() {
		return nil, ErrNoToken
	}
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("GitHub owner and repository are required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	g := &GitHub{
		client: github.NewClient(oauth2.NewClient(ctx, ts)),
		owner:  owner,
		repo:   repo,
		retry:  DefaultRetryConfig(),
		logger: logger.Named("github"),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// CreatePullRequest opens a pull request from head into base. When one is
// already open for the same branches it is returned instead.
func (g *GitHub) CreatePullRequest(ctx context.Context, head, base, title, body string) (*PullRequest, error) {
	var pr *github.PullRequest
	resp, err := retryGitHubOperation(ctx, g.retry, g.logger, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		pr, resp, err = g.client.PullRequests.Create(ctx, g.owner, g.repo, &github.NewPullRequest{
			Title: github.String(title),
			Head:  github.String(head),
			Base:  github.String(base),
			Body:  github.String(body),
		})
		return resp, err
	})
	if err != nil {
		if getStatusCode(resp) == http.StatusUnprocessableEntity {
			if existing, findErr := g.findOpen(ctx, head, base); findErr == nil && existing != nil {
				g.logger.Info(ctx, "pull request already open", zap.Int("number", existing.Number))
				return existing, nil
			}
		}
		return nil, fmt.Errorf("%w: creating pull request %s -> %s: %v", ErrMerge, head, base, err)
	}

	out := toPullRequest(pr)
	g.logger.Info(ctx, "pull request created",
		zap.Int("number", out.Number), zap.String("url", out.URL),
		zap.String("head", head), zap.String("base", base))
	return out, nil
}

func (g *GitHub) findOpen(ctx context.Context, head, base string) (*PullRequest, error) {
	var prs []*github.PullRequest
	_, err := retryGitHubOperation(ctx, g.retry, g.logger, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		prs, resp, err = g.client.PullRequests.List(ctx, g.owner, g.repo, &github.PullRequestListOptions{
			State: "open",
			Head:  g.owner + ":" + head,
			Base:  base,
		})
		return resp, err
	})
	if err != nil || len(prs) == 0 {
		return nil, err
	}
	return toPullRequest(prs[0]), nil
}

// MergePullRequest merges the pull request with a merge commit.
func (g *GitHub) MergePullRequest(ctx context.Context, number int, message string) error {
	var result *github.PullRequestMergeResult
	_, err := retryGitHubOperation(ctx, g.retry, g.logger, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		result, resp, err = g.client.PullRequests.Merge(ctx, g.owner, g.repo, number, message,
			&github.PullRequestOptions{MergeMethod: "merge"})
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("%w: pull request #%d: %v", ErrMerge, number, err)
	}
	if !result.GetMerged() {
		return fmt.Errorf("%w: pull request #%d: %s", ErrMerge, number, result.GetMessage())
	}
	g.logger.Info(ctx, "pull request merged", zap.Int("number", number), zap.String("sha", result.GetSHA()))
	return nil
}

func toPullRequest(pr *github.PullRequest) *PullRequest {
	return &PullRequest{
		Number: pr.GetNumber(),
		URL:    pr.GetHTMLURL(),
		Head:   pr.GetHead().GetRef(),
		Base:   pr.GetBase().GetRef(),
	}
}
