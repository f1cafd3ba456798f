package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/haatos/simple-cd/internal/types"
	"github.com/haatos/simple-cd/internal/util"
	"github.com/stretchr/testify/suite"
)

type runSQLiteStoreSuite struct {
	runStore *RunSQLiteStore
	db       *sql.DB
	suite.Suite
}

func TestRunSQLiteStore(t *testing.T) {
	suite.Run(t, new(runSQLiteStoreSuite))
}

func (suite *runSQLiteStoreSuite) SetupTest() {
	suite.db = openTestDB()
	suite.runStore = NewRunSQLiteStore(suite.db, suite.db)
}

func (suite *runSQLiteStoreSuite) TearDownTest() {
	_ = suite.db.Close()
}

func (suite *runSQLiteStoreSuite) createRun(pipeline string) *Run {
	r, err := suite.runStore.CreateRun(context.Background(), pipeline, types.PullRequest, "main", "abc123")
	suite.Require().NoError(err)
	return r
}

func (suite *runSQLiteStoreSuite) TestCreateRun() {
	suite.Run("success - run created queued", func() {
		// act
		r, err := suite.runStore.CreateRun(context.Background(), "build-and-test", types.PullRequest, "main", "abc123")

		// assert
		suite.NoError(err)
		suite.NotZero(r.RunID)
		suite.Equal(types.StatusQueued, r.Status)
		suite.False(r.CreatedOn.IsZero())

		stored, err := suite.runStore.ReadRunByID(context.Background(), r.RunID)
		suite.NoError(err)
		suite.Equal("build-and-test", stored.Pipeline)
		suite.Equal(types.PullRequest, stored.Event)
		suite.Equal("abc123", stored.Revision)
	})
}

func (suite *runSQLiteStoreSuite) TestRunLifecycle() {
	suite.Run("success - started, output appended and ended", func() {
		// arrange
		r := suite.createRun("build-and-test")
		started := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

		// act
		startErr := suite.runStore.UpdateRunStartedOn(context.Background(), r.RunID, "/work/run", types.StatusRunning, started)
		appendErr1 := suite.runStore.AppendRunOutput(context.Background(), r.RunID, "==> checkout\n")
		appendErr2 := suite.runStore.AppendRunOutput(context.Background(), r.RunID, "==> compile\n")
		endErr := suite.runStore.UpdateRunEndedOn(context.Background(), r.RunID, types.StatusFailed,
			util.AsPtr("compile"), util.AsPtr("linux-h1"), started.Add(time.Minute))

		// assert
		suite.NoError(startErr)
		suite.NoError(appendErr1)
		suite.NoError(appendErr2)
		suite.NoError(endErr)
		stored, err := suite.runStore.ReadRunByID(context.Background(), r.RunID)
		suite.Require().NoError(err)
		suite.Equal(types.StatusFailed, stored.Status)
		suite.Equal("==> checkout\n==> compile\n", *stored.Output)
		suite.Equal("compile", *stored.FailedStep)
		suite.Equal("linux-h1", *stored.CacheKey)
		suite.Equal("/work/run", *stored.WorkingDirectory)
		suite.Require().NotNil(stored.EndedOn)
		suite.True(stored.EndedOn.Equal(started.Add(time.Minute)))
		suite.True(stored.Finished())
	})
	suite.Run("failure - output for unknown run", func() {
		// act
		err := suite.runStore.AppendRunOutput(context.Background(), 987654, "x")

		// assert
		suite.ErrorIs(err, sql.ErrNoRows)
	})
}

func (suite *runSQLiteStoreSuite) TestListPipelineRunsPaginated() {
	suite.Run("success - newest first, filtered by pipeline", func() {
		// arrange
		first := suite.createRun("paged")
		second := suite.createRun("paged")
		third := suite.createRun("paged")
		suite.createRun("other")

		// act
		page1, err1 := suite.runStore.ListPipelineRunsPaginated(context.Background(), "paged", 2, 0)
		page2, err2 := suite.runStore.ListPipelineRunsPaginated(context.Background(), "paged", 2, 2)
		count, countErr := suite.runStore.CountPipelineRuns(context.Background(), "paged")

		// assert
		suite.NoError(err1)
		suite.NoError(err2)
		suite.NoError(countErr)
		suite.Equal(int64(3), count)
		suite.Require().Len(page1, 2)
		suite.Equal(third.RunID, page1[0].RunID)
		suite.Equal(second.RunID, page1[1].RunID)
		suite.Require().Len(page2, 1)
		suite.Equal(first.RunID, page2[0].RunID)
		suite.Nil(page1[0].Output)
	})
}

func (suite *runSQLiteStoreSuite) TestDeleteRunsBefore() {
	suite.Run("success - only old finished runs are deleted", func() {
		// arrange
		old := suite.createRun("retention")
		recent := suite.createRun("retention")
		unfinished := suite.createRun("retention")
		now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
		suite.Require().NoError(suite.runStore.UpdateRunEndedOn(context.Background(), old.RunID, types.StatusPassed, nil, nil, now.Add(-40*24*time.Hour)))
		suite.Require().NoError(suite.runStore.UpdateRunEndedOn(context.Background(), recent.RunID, types.StatusPassed, nil, nil, now.Add(-time.Hour)))

		// act
		deleted, err := suite.runStore.DeleteRunsBefore(context.Background(), now.Add(-30*24*time.Hour))

		// assert
		suite.NoError(err)
		suite.Equal(int64(1), deleted)
		_, err = suite.runStore.ReadRunByID(context.Background(), old.RunID)
		suite.ErrorIs(err, sql.ErrNoRows)
		_, err = suite.runStore.ReadRunByID(context.Background(), recent.RunID)
		suite.NoError(err)
		_, err = suite.runStore.ReadRunByID(context.Background(), unfinished.RunID)
		suite.NoError(err)
	})
}

func (suite *runSQLiteStoreSuite) TestFailUnfinishedRuns() {
	suite.Run("success - queued and running runs are failed", func() {
		// arrange
		queued := suite.createRun("restart")
		running := suite.createRun("restart")
		suite.Require().NoError(suite.runStore.UpdateRunStartedOn(context.Background(), running.RunID, "/w", types.StatusRunning, time.Now()))

		// act
		n, err := suite.runStore.FailUnfinishedRuns(context.Background(), time.Now())

		// assert
		suite.NoError(err)
		suite.Equal(int64(2), n)
		r, _ := suite.runStore.ReadRunByID(context.Background(), queued.RunID)
		suite.Equal(types.StatusFailed, r.Status)
	})
}
