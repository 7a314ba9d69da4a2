package ci

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/mendd/internal/controller"
	"github.com/fyrsmithlabs/mendd/internal/run"
)

// Config configures the CI polling service.
type Config struct {
	// PollInterval between workflow status checks (default: 15 seconds).
	PollInterval time.Duration

	// PollTimeout bounds one poll-to-completion call (default: 5 minutes).
	PollTimeout time.Duration

	// AbsenceGrace is how long to wait for a workflow run to appear before
	// concluding the repo has no CI configured (default: 30 seconds).
	AbsenceGrace time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PollInterval: 15 * time.Second,
		PollTimeout:  5 * time.Minute,
		AbsenceGrace: 30 * time.Second,
	}
}

// Service implements controller.CIAdapter against the GitHub Actions API.
type Service struct {
	config *Config
	logger *zap.Logger

	// newClient is swappable for tests.
	newClient func(ctx context.Context, token string) *github.Client
}

// NewService creates a CI polling service.
func NewService(cfg *Config, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		config: cfg,
		logger: logger,
		newClient: func(ctx context.Context, token string) *github.Client {
			ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
			return github.NewClient(oauth2.NewClient(ctx, ts))
		},
	}
}

// Poll waits for the latest workflow run on the branch to complete.
// Outcomes: PASSED/FAILED from the workflow conclusion, SKIPPED when no run
// appears within the grace window (repo has no Actions), TIMEOUT when the
// poll budget elapses first.
func (s *Service) Poll(ctx context.Context, repoURL, branch, token string) (*controller.CIResult, error) {
	owner, repo, err := SplitRepoURL(repoURL)
	if err != nil {
		return nil, err
	}

	client := s.newClient(ctx, token)
	deadline := time.Now().Add(s.config.PollTimeout)
	graceEnd := time.Now().Add(s.config.AbsenceGrace)

	for {
		wr, resp, err := s.latestRun(ctx, client, owner, repo, branch)
		if err != nil {
			if !isRetryable(resp, err) {
				return nil, controller.Unrecoverable("ci-poll", err)
			}
			s.logger.Warn("workflow poll failed, retrying",
				zap.String("repo", owner+"/"+repo),
				zap.Error(err),
			)
		} else if wr == nil && time.Now().After(graceEnd) {
			// Absence means a confirmed empty listing, not a failed lookup;
			// an API outage keeps polling until the budget runs out.
			return &controller.CIResult{
				Status:  run.CISkipped,
				Message: "no workflow runs for branch " + branch,
			}, nil
		}

		if wr != nil && wr.GetStatus() == "completed" {
			switch wr.GetConclusion() {
			case "success":
				return &controller.CIResult{Status: run.CIPassed, Message: wr.GetHTMLURL()}, nil
			case "skipped", "cancelled":
				return &controller.CIResult{Status: run.CISkipped, Message: wr.GetConclusion()}, nil
			default:
				return &controller.CIResult{
					Status:  run.CIFailed,
					Message: fmt.Sprintf("conclusion %s: %s", wr.GetConclusion(), wr.GetHTMLURL()),
				}, nil
			}
		}

		if time.Now().After(deadline) {
			return &controller.CIResult{
				Status:  run.CITimeout,
				Message: fmt.Sprintf("pipeline did not complete within %s", s.config.PollTimeout),
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, controller.Transient(fmt.Errorf("ci poll interrupted: %w", ctx.Err()))
		case <-time.After(s.config.PollInterval):
		}
	}
}

func (s *Service) latestRun(ctx context.Context, client *github.Client, owner, repo, branch string) (*github.WorkflowRun, *github.Response, error) {
	runs, resp, err := client.Actions.ListRepositoryWorkflowRuns(ctx, owner, repo, &github.ListWorkflowRunsOptions{
		Branch:      branch,
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return nil, resp, err
	}
	if runs.GetTotalCount() == 0 || len(runs.WorkflowRuns) == 0 {
		return nil, resp, nil
	}
	return runs.WorkflowRuns[0], resp, nil
}

// SplitRepoURL extracts owner and repository name from a GitHub URL,
// tolerating trailing slashes and a .git suffix.
func SplitRepoURL(repoURL string) (owner, repo string, err error) {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(repoURL, "/"), ".git")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("cannot parse repository URL: %q", repoURL)
	}
	owner, repo = parts[len(parts)-2], parts[len(parts)-1]
	if owner == "" || repo == "" {
		return "", "", fmt.Errorf("cannot parse repository URL: %q", repoURL)
	}
	return owner, repo, nil
}

// isRetryable classifies a GitHub API failure. Rate limits and server
// errors are retryable; auth and client errors are not. Errors with no
// response at all (network) are assumed retryable.
func isRetryable(resp *github.Response, err error) bool {
	if err == nil {
		return false
	}
	if resp == nil || resp.Response == nil {
		return true
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	case http.StatusForbidden:
		// Secondary rate limits arrive as 403 with rate info attached.
		return resp.Rate.Limit > 0
	case http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusNotFound,
		http.StatusUnprocessableEntity:
		return false
	default:
		return resp.StatusCode >= 500 && resp.StatusCode < 600
	}
}
