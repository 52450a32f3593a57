package jules

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, "test-key", WithRateLimit(1000))
	require.NoError(t, err)
	return c
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient("", "")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestClient_ListSources(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/sources", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))
		_, _ = w.Write([]byte(`{"sources":[{"name":"sources/github/acme/app"}]}`))
	})

	sources, err := c.ListSources(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "sources/github/acme/app", sources[0].Name)
}

func TestClient_CreateSession(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/sessions", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "do it", body["prompt"])
		sc := body["sourceContext"].(map[string]interface{})
		assert.Equal(t, "sources/x", sc["source"])
		assert.Equal(t, "dev", sc["githubRepoContext"].(map[string]interface{})["startingBranch"])

		_, _ = w.Write([]byte(`{"name":"sessions/42"}`))
	})

	s, err := c.CreateSession(context.Background(), CreateSessionRequest{
		Prompt: "do it",
		SourceContext: SourceContext{
			Source:            "sources/x",
			GithubRepoContext: GithubRepoContext{StartingBranch: "dev"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "sessions/42", s.Name)
}

func TestClient_CreateSessionWithoutName(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	_, err := c.CreateSession(context.Background(), CreateSessionRequest{})
	assert.Error(t, err)
}

func TestClient_GetSessionPRURL(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sessions/42", r.URL.Path)
		_, _ = w.Write([]byte(`{"name":"sessions/42","state":"SUCCEEDED","pullRequest":{"htmlUrl":"https://github.com/acme/app/pull/7"}}`))
	})

	s, err := c.GetSession(context.Background(), "sessions/42")
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, s.State)
	assert.Equal(t, "https://github.com/acme/app/pull/7", s.PRURL())
}

func TestSession_PRURLFromOutputs(t *testing.T) {
	s := &Session{Outputs: []SessionOutput{{}, {PullRequest: &PullRequest{URL: "https://x/pull/1"}}}}
	assert.Equal(t, "https://x/pull/1", s.PRURL())
	assert.Equal(t, "", (&Session{}).PRURL())
}

func TestClient_ListActivities(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sessions/42/activities", r.URL.Path)
		assert.Equal(t, "50", r.URL.Query().Get("pageSize"))
		_, _ = w.Write([]byte(`{"activities":[{"name":"a1","text":"hello"},{"name":"a2","message":"plain"},{"name":"a3","message":{"k":"v"}}]}`))
	})

	acts, err := c.ListActivities(context.Background(), "sessions/42")
	require.NoError(t, err)
	require.Len(t, acts, 3)
	assert.Equal(t, "hello", acts[0].Content())
	assert.Equal(t, "plain", acts[1].Content())
	assert.JSONEq(t, `{"k":"v"}`, acts[2].Content())
}

func TestClient_ListActivities404IsEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	acts, err := c.ListActivities(context.Background(), "sessions/42")
	require.NoError(t, err)
	assert.Empty(t, acts)
}

func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
		message   string
	}{
		{"server error", http.StatusBadGateway, "bad gateway", true, "bad gateway"},
		{"rate limited", http.StatusTooManyRequests, "", true, ""},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"API key not valid"}}`, false, "API key not valid"},
		{"bad request", http.StatusBadRequest, "nope", false, "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := c.GetSession(context.Background(), "sessions/1")
			require.Error(t, err)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.retryable, apiErr.Retryable)
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.Equal(t, tt.message, apiErr.Message)
		})
	}
}

func TestClient_TransportErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, err := NewClient(url, "k", WithRateLimit(1000))
	require.NoError(t, err)
	_, err = c.GetSession(context.Background(), "sessions/1")
	assert.True(t, IsRetryable(err))
}

func TestClient_ContextCancelled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.ListSources(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
