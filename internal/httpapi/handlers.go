package httpapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mendd/internal/controller"
	"github.com/fyrsmithlabs/mendd/internal/run"
)

// StartRunRequest is the request body for POST /api/v1/runs.
type StartRunRequest struct {
	RepoURL    string `json:"repo_url"`
	Token      string `json:"token"`
	AutoCommit bool   `json:"auto_commit"`
}

// StartRunResponse is the response body for POST /api/v1/runs.
type StartRunResponse struct {
	RunID  string     `json:"run_id"`
	Status run.Status `json:"status"`
}

// StatusResponse is the polling projection for GET /api/v1/runs/:id/status.
// It carries the append-only log timeline so pollers can stream progress;
// fixes, CI timeline, and score are on the result endpoint.
type StatusResponse struct {
	RunID          string         `json:"run_id"`
	Status         run.Status     `json:"status"`
	Stage          run.Stage      `json:"stage"`
	CurrentStep    string         `json:"current_step"`
	IterationsUsed int            `json:"iterations_used"`
	CIStatus       run.CIStatus   `json:"ci_status,omitempty"`
	Logs           []run.LogEntry `json:"logs"`
}

// ResultResponse is the full run record for GET /api/v1/runs/:id/result,
// extended with the elapsed wall-clock time. For runs still in flight the
// elapsed time is measured up to the moment of the request.
type ResultResponse struct {
	*run.Run
	TimeTakenSeconds float64 `json:"time_taken_seconds"`
}

// ResumeRequest is the request body for POST /api/v1/runs/:id/resume.
type ResumeRequest struct {
	Approve bool `json:"approve"`
}

// ListRunsResponse is the response body for GET /api/v1/runs.
type ListRunsResponse struct {
	Runs []RunSummary `json:"runs"`
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	RunID     string     `json:"run_id"`
	RepoURL   string     `json:"repo_url"`
	Status    run.Status `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

func (s *Server) handleStartRun(c echo.Context) error {
	var req StartRunRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid run submission", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	id, err := s.controller.Start(c.Request().Context(), controller.StartRequest{
		RepoURL:    req.RepoURL,
		Token:      req.Token,
		AutoCommit: req.AutoCommit,
	})
	if err != nil {
		return s.httpError(err)
	}

	return c.JSON(http.StatusAccepted, StartRunResponse{
		RunID:  id,
		Status: run.StatusPending,
	})
}

func (s *Server) handleListRuns(c echo.Context) error {
	runs := s.store.List()
	resp := ListRunsResponse{Runs: make([]RunSummary, 0, len(runs))}
	for _, r := range runs {
		resp.Runs = append(resp.Runs, RunSummary{
			RunID:     r.ID,
			RepoURL:   r.RepoURL,
			Status:    r.Status,
			CreatedAt: r.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRunStatus(c echo.Context) error {
	r, err := s.store.Get(c.Param("id"))
	if err != nil {
		return s.httpError(err)
	}

	return c.JSON(http.StatusOK, StatusResponse{
		RunID:          r.ID,
		Status:         r.Status,
		Stage:          r.Stage,
		CurrentStep:    r.CurrentStep,
		IterationsUsed: r.IterationCount,
		CIStatus:       r.CIStatus,
		Logs:           r.Logs,
	})
}

func (s *Server) handleRunResult(c echo.Context) error {
	r, err := s.store.Get(c.Param("id"))
	if err != nil {
		return s.httpError(err)
	}

	end := time.Now().UTC()
	if r.FinishedAt != nil {
		end = *r.FinishedAt
	}
	return c.JSON(http.StatusOK, ResultResponse{
		Run:              r,
		TimeTakenSeconds: end.Sub(r.CreatedAt).Seconds(),
	})
}

func (s *Server) handleResume(c echo.Context) error {
	var req ResumeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	r, err := s.controller.Resume(c.Request().Context(), c.Param("id"), req.Approve)
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) handleStop(c echo.Context) error {
	r, err := s.controller.Stop(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.httpError(err)
	}
	return c.JSON(http.StatusOK, r)
}
