package ci

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/mendd/internal/run"
)

// fakeActionsService serves the workflow-runs listing endpoint.
func fakeActionsService(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/widgets/actions/runs" {
			http.NotFound(w, r)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	svc := NewService(&Config{
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  250 * time.Millisecond,
		AbsenceGrace: 50 * time.Millisecond,
	}, nil)
	svc.newClient = func(ctx context.Context, token string) *github.Client {
		client := github.NewClient(nil)
		base, err := url.Parse(srv.URL + "/")
		require.NoError(t, err)
		client.BaseURL = base
		return client
	}
	return svc
}

func runsBody(status, conclusion string) string {
	return fmt.Sprintf(`{"total_count":1,"workflow_runs":[{"id":1,"status":%q,"conclusion":%q,"html_url":"https://github.com/acme/widgets/actions/runs/1"}]}`,
		status, conclusion)
}

func TestPoll(t *testing.T) {
	ctx := context.Background()

	t.Run("successful conclusion passes", func(t *testing.T) {
		svc := fakeActionsService(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, runsBody("completed", "success"))
		})

		res, err := svc.Poll(ctx, "https://github.com/acme/widgets", "mendd/x-abc123", "tok")
		require.NoError(t, err)
		assert.Equal(t, run.CIPassed, res.Status)
	})

	t.Run("failed conclusion fails", func(t *testing.T) {
		svc := fakeActionsService(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, runsBody("completed", "failure"))
		})

		res, err := svc.Poll(ctx, "https://github.com/acme/widgets", "mendd/x-abc123", "tok")
		require.NoError(t, err)
		assert.Equal(t, run.CIFailed, res.Status)
		assert.Contains(t, res.Message, "failure")
	})

	t.Run("cancelled conclusion is skipped", func(t *testing.T) {
		svc := fakeActionsService(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, runsBody("completed", "cancelled"))
		})

		res, err := svc.Poll(ctx, "https://github.com/acme/widgets", "mendd/x-abc123", "tok")
		require.NoError(t, err)
		assert.Equal(t, run.CISkipped, res.Status)
	})

	t.Run("no workflow runs within grace is skipped", func(t *testing.T) {
		svc := fakeActionsService(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"total_count":0,"workflow_runs":[]}`)
		})

		res, err := svc.Poll(ctx, "https://github.com/acme/widgets", "mendd/x-abc123", "tok")
		require.NoError(t, err)
		assert.Equal(t, run.CISkipped, res.Status)
	})

	t.Run("persistent server errors time out instead of reporting absence", func(t *testing.T) {
		svc := fakeActionsService(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"message":"upstream broke"}`)
		})

		res, err := svc.Poll(ctx, "https://github.com/acme/widgets", "mendd/x-abc123", "tok")
		require.NoError(t, err)
		assert.Equal(t, run.CITimeout, res.Status)
	})

	t.Run("run stuck in progress times out", func(t *testing.T) {
		svc := fakeActionsService(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, runsBody("in_progress", ""))
		})

		res, err := svc.Poll(ctx, "https://github.com/acme/widgets", "mendd/x-abc123", "tok")
		require.NoError(t, err)
		assert.Equal(t, run.CITimeout, res.Status)
	})

	t.Run("unauthorized is unrecoverable", func(t *testing.T) {
		svc := fakeActionsService(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"message":"Bad credentials"}`)
		})

		_, err := svc.Poll(ctx, "https://github.com/acme/widgets", "mendd/x-abc123", "tok")
		require.Error(t, err)
	})

	t.Run("malformed repo url", func(t *testing.T) {
		svc := NewService(nil, nil)
		_, err := svc.Poll(ctx, "not-a-url", "branch", "tok")
		assert.Error(t, err)
	})
}
