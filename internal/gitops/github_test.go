package gitops

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/accdd/internal/config"
	"github.com/fyrsmithlabs/accdd/internal/logging"
)

func fastRetry() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        2,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func newTestGitHub(t *testing.T, handler http.Handler) *GitHub {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g, err := NewGitHub(context.Background(), config.Secret("ghp_test"), "acme", "widgets",
		logging.NewNop(), WithBaseURL(srv.URL), WithRetryConfig(fastRetry()))
	require.NoError(t, err)
	return g
}

func TestNewGitHub_Validation(t *testing.T) {
	_, err := NewGitHub(context.Background(), "", "acme", "widgets", nil)
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = NewGitHub(context.Background(), config.Secret("t"), "", "widgets", nil)
	assert.Error(t, err)
}

func TestCreatePullRequest(t *testing.T) {
	var got map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer ghp_test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"number":7,"html_url":"https://github.com/acme/widgets/pull/7","head":{"ref":"dev/int-s1"},"base":{"ref":"main"}}`))
	})

	g := newTestGitHub(t, mux)
	pr, err := g.CreatePullRequest(context.Background(), "dev/int-s1", "main",
		"Finalize Development Session: s1", "This PR merges all implemented cycles from session s1 into main.")
	require.NoError(t, err)
	assert.Equal(t, 7, pr.Number)
	assert.Equal(t, "https://github.com/acme/widgets/pull/7", pr.URL)
	assert.Equal(t, "dev/int-s1", got["head"])
	assert.Equal(t, "main", got["base"])
	assert.Equal(t, "Finalize Development Session: s1", got["title"])
}

func TestCreatePullRequest_ReturnsExisting(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"Validation Failed","errors":[{"message":"A pull request already exists"}]}`))
			return
		}
		assert.Equal(t, "acme:feat/cycle01", r.URL.Query().Get("head"))
		_, _ = w.Write([]byte(`[{"number":3,"html_url":"https://github.com/acme/widgets/pull/3"}]`))
	})

	g := newTestGitHub(t, mux)
	pr, err := g.CreatePullRequest(context.Background(), "feat/cycle01", "dev/int-s1", "t", "b")
	require.NoError(t, err)
	assert.Equal(t, 3, pr.Number)
}

func TestMergePullRequest(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/pulls/7/merge", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"merged":true,"sha":"abc123","message":"Pull Request successfully merged"}`))
	})

	g := newTestGitHub(t, mux)
	require.NoError(t, g.MergePullRequest(context.Background(), 7, "Merge cycle 01"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestMergePullRequest_NotMergeable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets/pulls/9/merge", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
		_, _ = w.Write([]byte(`{"message":"Pull Request is not mergeable"}`))
	})

	g := newTestGitHub(t, mux)
	err := g.MergePullRequest(context.Background(), 9, "")
	assert.ErrorIs(t, err, ErrMerge)
}

func TestRetryGitHubOperation(t *testing.T) {
	ctx := context.Background()
	resp := func(code int) *github.Response {
		return &github.Response{Response: &http.Response{StatusCode: code}}
	}

	t.Run("recovers from transient errors", func(t *testing.T) {
		attempts := 0
		_, err := retryGitHubOperation(ctx, fastRetry(), logging.NewNop(), func() (*github.Response, error) {
			attempts++
			if attempts < 3 {
				return resp(http.StatusServiceUnavailable), assert.AnError
			}
			return resp(http.StatusOK), nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		attempts := 0
		_, err := retryGitHubOperation(ctx, fastRetry(), logging.NewNop(), func() (*github.Response, error) {
			attempts++
			return resp(http.StatusTooManyRequests), assert.AnError
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, 3, attempts)
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		attempts := 0
		_, err := retryGitHubOperation(ctx, fastRetry(), logging.NewNop(), func() (*github.Response, error) {
			attempts++
			return resp(http.StatusNotFound), assert.AnError
		})
		require.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		cfg := &RetryConfig{MaxRetries: 3, InitialBackoff: time.Hour, MaxBackoff: time.Hour}
		_, err := retryGitHubOperation(cctx, cfg, logging.NewNop(), func() (*github.Response, error) {
			return nil, assert.AnError
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestIsGitHubRetryableError(t *testing.T) {
	resp := func(code int, limit, remaining int) *github.Response {
		return &github.Response{
			Response: &http.Response{StatusCode: code},
			Rate:     github.Rate{Limit: limit, Remaining: remaining},
		}
	}

	assert.False(t, isGitHubRetryableError(nil, nil))
	assert.True(t, isGitHubRetryableError(assert.AnError, nil))
	assert.True(t, isGitHubRetryableError(assert.AnError, resp(500, 0, 0)))
	assert.True(t, isGitHubRetryableError(assert.AnError, resp(429, 0, 0)))
	assert.True(t, isGitHubRetryableError(assert.AnError, resp(403, 5000, 0)))
	assert.False(t, isGitHubRetryableError(assert.AnError, resp(403, 0, 0)))
	assert.False(t, isGitHubRetryableError(assert.AnError, resp(422, 0, 0)))
}

func TestGetRateLimitBackoff(t *testing.T) {
	limit := 10 * time.Second
	assert.Equal(t, limit, getRateLimitBackoff(nil, limit))

	r := &github.Response{Rate: github.Rate{Reset: github.Timestamp{Time: time.Now().Add(time.Hour)}}}
	assert.Equal(t, limit, getRateLimitBackoff(r, limit))

	r = &github.Response{Rate: github.Rate{Reset: github.Timestamp{Time: time.Now().Add(-time.Minute)}}}
	assert.Equal(t, time.Second, getRateLimitBackoff(r, limit))
}
