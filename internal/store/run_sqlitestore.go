package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/haatos/simple-cd/internal"
	"github.com/haatos/simple-cd/internal/types"
)

type RunSQLiteStore struct {
	rdb, rwdb *sql.DB
}

func NewRunSQLiteStore(rdb, rwdb *sql.DB) *RunSQLiteStore {
	return &RunSQLiteStore{rdb, rwdb}
}

func dbTime(t time.Time) string {
	return t.UTC().Format(internal.DBTimestampLayout)
}

func (store *RunSQLiteStore) CreateRun(
	ctx context.Context,
	pipeline string,
	event types.EventKind,
	branch, revision string,
) (*Run, error) {
	r := &Run{
		Pipeline: pipeline,
		Event:    event,
		Branch:   branch,
		Revision: revision,
		Status:   types.StatusQueued,
	}
	query := `insert into runs (
		pipeline,
		event,
		branch,
		revision,
		status
	)
	values ($1, $2, $3, $4, $5)
	returning run_id, created_on`
	if err := sqlscan.Get(ctx, store.rwdb, r, query, r.Pipeline, r.Event, r.Branch, r.Revision, r.Status); err != nil {
		return nil, err
	}
	return r, nil
}

func (store *RunSQLiteStore) ReadRunByID(ctx context.Context, id int64) (*Run, error) {
	r := new(Run)
	query := "select * from runs where run_id = $1"
	if err := sqlscan.Get(ctx, store.rdb, r, query, id); err != nil {
		return nil, err
	}
	return r, nil
}

func (store *RunSQLiteStore) UpdateRunStartedOn(
	ctx context.Context,
	id int64,
	workingDirectory string,
	status types.RunStatus,
	startedOn time.Time,
) error {
	query := `update runs
	set working_directory = $1,
		status = $2,
		started_on = $3
	where run_id = $4`
	_, err := store.rwdb.ExecContext(
		ctx, query,
		workingDirectory,
		status,
		dbTime(startedOn),
		id,
	)
	return err
}

func (store *RunSQLiteStore) UpdateRunEndedOn(
	ctx context.Context,
	id int64,
	status types.RunStatus,
	failedStep, cacheKey *string,
	endedOn time.Time,
) error {
	query := `update runs
	set status = $1,
		failed_step = $2,
		cache_key = $3,
		ended_on = $4
	where run_id = $5`
	_, err := store.rwdb.ExecContext(
		ctx, query,
		status,
		failedStep,
		cacheKey,
		dbTime(endedOn),
		id,
	)
	return err
}

func (store *RunSQLiteStore) AppendRunOutput(ctx context.Context, id int64, out string) error {
	query := `update runs
	set output = coalesce(output, '') || $1
	where run_id = $2`
	res, err := store.rwdb.ExecContext(ctx, query, out, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (store *RunSQLiteStore) ListPipelineRunsPaginated(
	ctx context.Context,
	pipeline string,
	limit, offset int64,
) ([]Run, error) {
	query := `select
		run_id,
		pipeline,
		event,
		branch,
		revision,
		status,
		failed_step,
		cache_key,
		created_on,
		started_on,
		ended_on
	from runs
	where pipeline = $1
	order by created_on desc, run_id desc limit $2 offset $3`
	runs := make([]Run, 0)
	err := sqlscan.Select(ctx, store.rdb, &runs, query, pipeline, limit, offset)
	return runs, err
}

func (store *RunSQLiteStore) CountPipelineRuns(
	ctx context.Context,
	pipeline string,
) (int64, error) {
	var count int64
	query := `select count(*) from runs where pipeline = $1`
	err := sqlscan.Get(ctx, store.rdb, &count, query, pipeline)
	return count, err
}

// DeleteRunsBefore removes finished runs that ended before t.
func (store *RunSQLiteStore) DeleteRunsBefore(ctx context.Context, t time.Time) (int64, error) {
	query := `delete from runs
	where ended_on is not null and ended_on < $1`
	res, err := store.rwdb.ExecContext(ctx, query, dbTime(t))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FailUnfinishedRuns marks runs left queued or running by a previous
// process as failed.
func (store *RunSQLiteStore) FailUnfinishedRuns(ctx context.Context, endedOn time.Time) (int64, error) {
	query := `update runs
	set status = $1,
		ended_on = $2
	where status in ($3, $4)`
	res, err := store.rwdb.ExecContext(
		ctx, query,
		types.StatusFailed,
		dbTime(endedOn),
		types.StatusQueued,
		types.StatusRunning,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
