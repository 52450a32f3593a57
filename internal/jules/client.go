package jules

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public agent API endpoint.
	DefaultBaseURL = "https://jules.googleapis.com/v1alpha"

	defaultHTTPTimeout = 30 * time.Second
	activityPageSize   = 50
	maxResponseBytes   = 16 << 20
)

// Source is a repository connected to the agent.
type Source struct {
	Name string `json:"name"`
	ID   string `json:"id,omitempty"`
}

// SourceContext selects the repository and branch a session starts from.
type SourceContext struct {
	Source            string            `json:"source"`
	GithubRepoContext GithubRepoContext `json:"githubRepoContext"`
}

// GithubRepoContext names the starting branch.
type GithubRepoContext struct {
	StartingBranch string `json:"startingBranch"`
}

// CreateSessionRequest is the POST sessions body.
type CreateSessionRequest struct {
	Prompt        string        `json:"prompt"`
	Title         string        `json:"title,omitempty"`
	SourceContext SourceContext `json:"sourceContext"`
}

// PullRequest is the PR opened by a session.
type PullRequest struct {
	HTMLURL string `json:"htmlUrl,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Link returns whichever URL field is set.
func (p *PullRequest) Link() string {
	if p == nil {
		return ""
	}
	if p.HTMLURL != "" {
		return p.HTMLURL
	}
	return p.URL
}

// SessionOutput is one entry of a session's outputs.
type SessionOutput struct {
	PullRequest *PullRequest `json:"pullRequest,omitempty"`
}

// SessionError carries the failure message of a session.
type SessionError struct {
	Message string `json:"message"`
}

// Session is the GET {name} response.
type Session struct {
	Name        string          `json:"name"`
	State       string          `json:"state,omitempty"`
	PullRequest *PullRequest    `json:"pullRequest,omitempty"`
	Outputs     []SessionOutput `json:"outputs,omitempty"`
	Error       *SessionError   `json:"error,omitempty"`
}

// PRURL returns the pull request URL reported by the session, if any.
func (s *Session) PRURL() string {
	if link := s.PullRequest.Link(); link != "" {
		return link
	}
	for _, o := range s.Outputs {
		if link := o.PullRequest.Link(); link != "" {
			return link
		}
	}
	return ""
}

// Activity is one event in a session's activity feed.
type Activity struct {
	Name    string          `json:"name"`
	Text    string          `json:"text,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
}

// Content returns the activity text, falling back to the raw message.
func (a Activity) Content() string {
	if a.Text != "" {
		return a.Text
	}
	if len(a.Message) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(a.Message, &s); err == nil {
		return s
	}
	return string(a.Message)
}

// Client is a rate-limited HTTP client for the agent API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit sets the sustained request rate.
func WithRateLimit(rps float64) ClientOption {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// NewClient creates a client for baseURL authenticated with apiKey.
func NewClient(baseURL, apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		limiter:    rate.NewLimiter(rate.Limit(1), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListSources returns the repositories connected to the agent.
func (c *Client) ListSources(ctx context.Context) ([]Source, error) {
	var resp struct {
		Sources []Source `json:"sources"`
	}
	if err := c.do(ctx, http.MethodGet, "sources", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sources, nil
}

// CreateSession starts a new agent session.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodPost, "sessions", req, &s); err != nil {
		return nil, err
	}
	if s.Name == "" {
		return nil, &APIError{Message: "create session response has no name"}
	}
	return &s, nil
}

// GetSession fetches the session named name (e.g. "sessions/123").
func (c *Client) GetSession(ctx context.Context, name string) (*Session, error) {
	var s Session
	if err := c.do(ctx, http.MethodGet, name, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListActivities returns the first page of activities. A session without
// activities yet may answer 404, which is reported as an empty list.
func (c *Client) ListActivities(ctx context.Context, name string) ([]Activity, error) {
	var resp struct {
		Activities []Activity `json:"activities"`
	}
	path := fmt.Sprintf("%s/activities?pageSize=%d", name, activityPageSize)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return resp.Activities, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+strings.TrimPrefix(path, "/"), reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &APIError{Message: "request failed", Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: "failed to read response", Retryable: true, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data),
			Retryable:  isRetryableStatus(resp.StatusCode),
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: "failed to parse response", Err: err}
	}
	return nil
}

// errorMessage extracts error.message from a Google API error body.
func errorMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512] + "..."
	}
	return msg
}
