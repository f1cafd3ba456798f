package handler

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/haatos/simple-cd/internal/service"
	"github.com/haatos/simple-cd/internal/store"
	"github.com/haatos/simple-cd/internal/types"
	"github.com/labstack/echo/v4"
)

func SetupRunRoutes(g *echo.Group, runService RunServicer, apiKeyService APIKeyServicer) {
	h := NewRunHandler(runService)
	g.GET("/healthz", GetHealth)

	api := g.Group("", APIKeyMiddleware(apiKeyService))
	api.POST("/hooks/pull-request", h.PostPullRequestHook)
	api.POST("/pipelines/:pipeline/dispatch", h.PostDispatch)
	api.GET("/pipelines/:pipeline/runs", h.GetPipelineRuns)
	api.GET("/runs/:run_id", h.GetRun)
	api.GET("/runs/:run_id/output", h.GetRunOutput)
	api.POST("/runs/:run_id/cancel", h.PostCancelRun)
}

type RunHandler struct {
	runService RunServicer
}

func NewRunHandler(runService RunServicer) *RunHandler {
	return &RunHandler{runService: runService}
}

func GetHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// triggeringActions are the pull request actions that start runs.
var triggeringActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
	"reopened":    true,
}

func (h *RunHandler) PostPullRequestHook(c echo.Context) error {
	payload := new(PullRequestPayload)
	if err := c.Bind(payload); err != nil {
		return newError(err, http.StatusBadRequest, "invalid pull request payload")
	}
	if !triggeringActions[payload.Action] {
		return c.JSON(http.StatusAccepted, TriggeredResponse{Message: "action ignored: " + payload.Action})
	}
	if payload.PullRequest.Base.Ref == "" {
		return newError(nil, http.StatusBadRequest, "pull request has no base branch")
	}

	event := types.Event{
		Kind:        types.PullRequest,
		Branch:      payload.PullRequest.Base.Ref,
		Revision:    payload.PullRequest.Head.SHA,
		Repository:  payload.Repository.CloneURL,
		PullRequest: payload.Number,
	}
	runs, err := h.runService.TriggerPullRequest(c.Request().Context(), event)
	if errors.Is(err, service.ErrNoMatchingPipeline) {
		return c.JSON(http.StatusAccepted, TriggeredResponse{Message: "no pipeline matches " + event.Branch})
	}
	if err != nil && len(runs) == 0 {
		return serviceError(err, "unable to trigger pipelines")
	}

	resp := TriggeredResponse{}
	for _, r := range runs {
		resp.RunIDs = append(resp.RunIDs, r.RunID)
	}
	if err != nil {
		resp.Message = err.Error()
	}
	return c.JSON(http.StatusCreated, resp)
}

func (h *RunHandler) PostDispatch(c echo.Context) error {
	dp := new(DispatchParams)
	if err := c.Bind(dp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid dispatch data")
	}
	r, err := h.runService.Dispatch(c.Request().Context(), dp.Pipeline, dp.Inputs)
	if err != nil {
		return serviceError(err, "unable to dispatch pipeline")
	}
	return c.JSON(http.StatusCreated, newRunResponse(r))
}

func (h *RunHandler) GetPipelineRuns(c echo.Context) error {
	lp := new(ListRunsParams)
	if err := c.Bind(lp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid pipeline or page")
	}
	page := max(lp.Page, 1)
	runs, total, err := h.runService.ListRuns(c.Request().Context(), lp.Pipeline, page)
	if err != nil {
		return serviceError(err, "unable to list runs")
	}
	resp := RunsResponse{Runs: make([]RunResponse, 0, len(runs)), Page: page, Total: total}
	for i := range runs {
		resp.Runs = append(resp.Runs, newRunResponse(&runs[i]))
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *RunHandler) GetRun(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run id")
	}
	r, err := h.runService.GetRun(c.Request().Context(), rp.RunID)
	if err != nil {
		return serviceError(err, "unable to read run")
	}
	return c.JSON(http.StatusOK, newRunResponse(r))
}

func (h *RunHandler) GetRunOutput(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run id")
	}
	r, err := h.runService.GetRun(c.Request().Context(), rp.RunID)
	if err != nil {
		return serviceError(err, "unable to read run")
	}
	out := ""
	if r.Output != nil {
		out = *r.Output
	}
	return c.String(http.StatusOK, out)
}

func (h *RunHandler) PostCancelRun(c echo.Context) error {
	rp := new(RunParams)
	if err := c.Bind(rp); err != nil {
		return newError(err, http.StatusBadRequest, "invalid run id")
	}
	if err := h.runService.CancelRun(c.Request().Context(), rp.RunID); err != nil {
		return serviceError(err, "unable to cancel run")
	}
	return c.NoContent(http.StatusAccepted)
}

// serviceError maps service errors to HTTP statuses.
func serviceError(err error, fallback string) error {
	var full *service.ErrRunQueueFull
	var invalid *service.ErrInvalidInputs
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return newError(err, http.StatusNotFound, "run not found")
	case errors.Is(err, service.ErrPipelineNotFound):
		return newError(err, http.StatusNotFound, "pipeline not found")
	case errors.Is(err, service.ErrNotDispatchable):
		return newError(err, http.StatusBadRequest, "pipeline cannot be dispatched manually")
	case errors.As(err, &invalid):
		return newError(err, http.StatusBadRequest, invalid.Error())
	case errors.Is(err, service.ErrRunFinished):
		return newError(err, http.StatusConflict, "run has already finished")
	case errors.Is(err, service.ErrRunNotActive):
		return newError(err, http.StatusConflict, "run is not active")
	case errors.As(err, &full):
		return newError(err, http.StatusServiceUnavailable, "pipeline run queue is full")
	}
	return newError(err, http.StatusInternalServerError, fallback)
}

func newRunResponse(r *store.Run) RunResponse {
	return RunResponse{
		RunID:            r.RunID,
		Pipeline:         r.Pipeline,
		Event:            string(r.Event),
		Branch:           r.Branch,
		Revision:         r.Revision,
		Status:           string(r.Status),
		FailedStep:       r.FailedStep,
		WorkingDirectory: r.WorkingDirectory,
		CacheKey:         r.CacheKey,
		CreatedOn:        r.CreatedOn,
		StartedOn:        r.StartedOn,
		EndedOn:          r.EndedOn,
	}
}
