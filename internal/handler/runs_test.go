package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/haatos/simple-cd/internal"
	"github.com/haatos/simple-cd/internal/service"
	"github.com/haatos/simple-cd/internal/store"
	"github.com/haatos/simple-cd/internal/testutil"
	"github.com/haatos/simple-cd/internal/types"
	"github.com/haatos/simple-cd/internal/util"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testAPIKey = "5f0c2d1e-key"

func setupTestEcho(runService *testutil.MockRunService) *echo.Echo {
	apiKeyService := new(testutil.MockAPIKeyService)
	apiKeyService.On("Authenticate", mock.Anything, testAPIKey).
		Return(&store.APIKey{ID: 1}, nil)
	apiKeyService.On("Authenticate", mock.Anything, mock.Anything).Return(nil, sql.ErrNoRows)

	e := echo.New()
	e.HTTPErrorHandler = NewErrorHandler(zap.NewNop())
	SetupRunRoutes(e.Group(""), runService, apiKeyService)
	return e
}

func doRequest(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req.Header.Set(internal.WebhookTriggerKeyHeader, testAPIKey)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

const pullRequestBody = `{
	"action": "synchronize",
	"number": 7,
	"pull_request": {
		"base": {"ref": "main"},
		"head": {"ref": "feature/cache", "sha": "abc123"}
	},
	"repository": {"clone_url": "https://example.com/acme/app.git"}
}`

func TestRunHandler_PostPullRequestHook(t *testing.T) {
	t.Run("success - matching pipelines are triggered", func(t *testing.T) {
		// arrange
		runService := new(testutil.MockRunService)
		expectedEvent := types.Event{
			Kind:        types.PullRequest,
			Branch:      "main",
			Revision:    "abc123",
			Repository:  "https://example.com/acme/app.git",
			PullRequest: 7,
		}
		runService.On("TriggerPullRequest", mock.Anything, expectedEvent).
			Return([]*store.Run{{RunID: 3}, {RunID: 4}}, nil)
		e := setupTestEcho(runService)

		// act
		rec := doRequest(e, http.MethodPost, "/hooks/pull-request", pullRequestBody)

		// assert
		assert.Equal(t, http.StatusCreated, rec.Code)
		resp := new(TriggeredResponse)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), resp))
		assert.Equal(t, []int64{3, 4}, resp.RunIDs)
		runService.AssertExpectations(t)
	})

	t.Run("success - closed action is ignored", func(t *testing.T) {
		// arrange
		runService := new(testutil.MockRunService)
		e := setupTestEcho(runService)
		body := strings.Replace(pullRequestBody, "synchronize", "closed", 1)

		// act
		rec := doRequest(e, http.MethodPost, "/hooks/pull-request", body)

		// assert
		assert.Equal(t, http.StatusAccepted, rec.Code)
		runService.AssertNotCalled(t, "TriggerPullRequest", mock.Anything, mock.Anything)
	})

	t.Run("success - no matching pipeline is accepted", func(t *testing.T) {
		// arrange
		runService := new(testutil.MockRunService)
		runService.On("TriggerPullRequest", mock.Anything, mock.Anything).
			Return(nil, service.ErrNoMatchingPipeline)
		e := setupTestEcho(runService)

		// act
		rec := doRequest(e, http.MethodPost, "/hooks/pull-request", pullRequestBody)

		// assert
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("failure - invalid api key", func(t *testing.T) {
		// arrange
		runService := new(testutil.MockRunService)
		e := setupTestEcho(runService)
		req := httptest.NewRequest(http.MethodPost, "/hooks/pull-request", strings.NewReader(pullRequestBody))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set(internal.WebhookTriggerKeyHeader, "wrong")
		rec := httptest.NewRecorder()

		// act
		e.ServeHTTP(rec, req)

		// assert
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid api key")
		runService.AssertNotCalled(t, "TriggerPullRequest", mock.Anything, mock.Anything)
	})

	t.Run("failure - run queue is full", func(t *testing.T) {
		// arrange
		runService := new(testutil.MockRunService)
		runService.On("TriggerPullRequest", mock.Anything, mock.Anything).
			Return(nil, service.NewErrRunQueueFull())
		e := setupTestEcho(runService)

		// act
		rec := doRequest(e, http.MethodPost, "/hooks/pull-request", pullRequestBody)

		// assert
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestRunHandler_PostDispatch(t *testing.T) {
	t.Run("success - run is created", func(t *testing.T) {
		// arrange
		runService := new(testutil.MockRunService)
		runService.On("Dispatch", mock.Anything, "deploy", map[string]string{"version": "1.4.0"}).
			Return(&store.Run{RunID: 9, Pipeline: "deploy", Event: types.ManualDispatch, Status: types.StatusQueued}, nil)
		e := setupTestEcho(runService)

		// act
		rec := doRequest(e, http.MethodPost, "/pipelines/deploy/dispatch", `{"inputs": {"version": "1.4.0"}}`)

		// assert
		assert.Equal(t, http.StatusCreated, rec.Code)
		resp := new(RunResponse)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), resp))
		assert.Equal(t, int64(9), resp.RunID)
		assert.Equal(t, "queued", resp.Status)
	})

	t.Run("failure - invalid inputs", func(t *testing.T) {
		// arrange
		runService := new(testutil.MockRunService)
		runService.On("Dispatch", mock.Anything, "deploy", mock.Anything).
			Return(nil, &service.ErrInvalidInputs{Err: errors.New(`input "version" is required`)})
		e := setupTestEcho(runService)

		// act
		rec := doRequest(e, http.MethodPost, "/pipelines/deploy/dispatch", `{"inputs": {}}`)

		// assert
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "version")
	})

	t.Run("failure - unknown pipeline", func(t *testing.T) {
		// arrange
		runService := new(testutil.MockRunService)
		runService.On("Dispatch", mock.Anything, "nope", mock.Anything).
			Return(nil, service.ErrPipelineNotFound)
		e := setupTestEcho(runService)

		// act
		rec := doRequest(e, http.MethodPost, "/pipelines/nope/dispatch", `{}`)

		// assert
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRunHandler_GetRuns(t *testing.T) {
	t.Run("success - page of runs", func(t *testing.T) {
		// arrange
		runService := new(testutil.MockRunService)
		runs := []store.Run{
			{RunID: 2, Pipeline: "build-and-test", Status: types.StatusRunning, CreatedOn: time.Now().UTC()},
			{RunID: 1, Pipeline: "build-and-test", Status: types.StatusPassed, CacheKey: util.AsPtr("linux-h1")},
		}
		runService.On("ListRuns", mock.Anything, "build-and-test", int64(2)).Return(runs, int64(22), nil)
		e := setupTestEcho(runService)

		// act
		rec := doRequest(e, http.MethodGet, "/pipelines/build-and-test/runs?page=2", "")

		// assert
		assert.Equal(t, http.StatusOK, rec.Code)
		resp := new(RunsResponse)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), resp))
		assert.Equal(t, int64(22), resp.Total)
		assert.Equal(t, int64(2), resp.Page)
		require.Len(t, resp.Runs, 2)
		assert.Equal(t, "linux-h1", *resp.Runs[1].CacheKey)
	})

	t.Run("success - run output", func(t *testing.T) {
		// arrange
		runService := new(testutil.MockRunService)
		runService.On("GetRun", mock.Anything, int64(5)).
			Return(&store.Run{RunID: 5, Output: util.AsPtr("==> checkout\n")}, nil)
		e := setupTestEcho(runService)

		// act
		rec := doRequest(e, http.MethodGet, "/runs/5/output", "")

		// assert
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "==> checkout\n", rec.Body.String())
	})

	t.Run("failure - run not found", func(t *testing.T) {
		// arrange
		runService := new(testutil.MockRunService)
		runService.On("GetRun", mock.Anything, int64(5)).Return(nil, sql.ErrNoRows)
		e := setupTestEcho(runService)

		// act
		rec := doRequest(e, http.MethodGet, "/runs/5", "")

		// assert
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRunHandler_PostCancelRun(t *testing.T) {
	t.Run("success - cancel is accepted", func(t *testing.T) {
		// arrange
		runService := new(testutil.MockRunService)
		runService.On("CancelRun", mock.Anything, int64(5)).Return(nil)
		e := setupTestEcho(runService)

		// act
		rec := doRequest(e, http.MethodPost, "/runs/5/cancel", "")

		// assert
		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("failure - run already finished", func(t *testing.T) {
		// arrange
		runService := new(testutil.MockRunService)
		runService.On("CancelRun", mock.Anything, int64(5)).Return(service.ErrRunFinished)
		e := setupTestEcho(runService)

		// act
		rec := doRequest(e, http.MethodPost, "/runs/5/cancel", "")

		// assert
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestGetHealth(t *testing.T) {
	// arrange
	e := setupTestEcho(new(testutil.MockRunService))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	// act
	e.ServeHTTP(rec, req)

	// assert
	assert.Equal(t, http.StatusOK, rec.Code)
}
