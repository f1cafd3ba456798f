package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/haatos/simple-cd/internal/pipeline"
	"github.com/haatos/simple-cd/internal/store"
	"github.com/haatos/simple-cd/internal/types"
)

// fakeRunStore is an in-memory RunStore safe for use from run queue
// workers.
type fakeRunStore struct {
	mu     sync.Mutex
	nextID int64
	runs   map[int64]*store.Run
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{runs: make(map[int64]*store.Run)}
}

func (s *fakeRunStore) get(id int64) store.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return store.Run{}
	}
	return *r
}

func (s *fakeRunStore) CreateRun(
	_ context.Context,
	pipeline string,
	event types.EventKind,
	branch, revision string,
) (*store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	r := &store.Run{
		RunID:     s.nextID,
		Pipeline:  pipeline,
		Event:     event,
		Branch:    branch,
		Revision:  revision,
		Status:    types.StatusQueued,
		CreatedOn: time.Now().UTC(),
	}
	s.runs[r.RunID] = r
	cp := *r
	return &cp, nil
}

func (s *fakeRunStore) ReadRunByID(_ context.Context, id int64) (*store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *r
	return &cp, nil
}

func (s *fakeRunStore) UpdateRunStartedOn(
	_ context.Context,
	id int64,
	wd string,
	status types.RunStatus,
	startedOn time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return sql.ErrNoRows
	}
	r.WorkingDirectory = &wd
	r.Status = status
	r.StartedOn = &startedOn
	return nil
}

func (s *fakeRunStore) UpdateRunEndedOn(
	_ context.Context,
	id int64,
	status types.RunStatus,
	failedStep, cacheKey *string,
	endedOn time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return sql.ErrNoRows
	}
	r.Status = status
	r.FailedStep = failedStep
	r.CacheKey = cacheKey
	r.EndedOn = &endedOn
	return nil
}

func (s *fakeRunStore) AppendRunOutput(_ context.Context, id int64, out string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if r.Output == nil {
		r.Output = new(string)
	}
	*r.Output += out
	return nil
}

func (s *fakeRunStore) ListPipelineRunsPaginated(
	_ context.Context,
	pipeline string,
	limit, offset int64,
) ([]store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var runs []store.Run
	for _, r := range s.runs {
		if r.Pipeline == pipeline {
			runs = append(runs, *r)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].RunID > runs[j].RunID })
	if offset >= int64(len(runs)) {
		return nil, nil
	}
	return runs[offset:min(offset+limit, int64(len(runs)))], nil
}

func (s *fakeRunStore) CountPipelineRuns(_ context.Context, pipeline string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.runs {
		if r.Pipeline == pipeline {
			n++
		}
	}
	return n, nil
}

func (s *fakeRunStore) DeleteRunsBefore(_ context.Context, t time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, r := range s.runs {
		if r.EndedOn != nil && r.EndedOn.Before(t) {
			delete(s.runs, id)
			n++
		}
	}
	return n, nil
}

func (s *fakeRunStore) FailUnfinishedRuns(_ context.Context, endedOn time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.runs {
		if !r.Finished() {
			r.Status = types.StatusFailed
			r.EndedOn = &endedOn
			n++
		}
	}
	return n, nil
}

// fakeRunner runs fn for each pipeline run and records the events it saw.
type fakeRunner struct {
	mu     sync.Mutex
	events []types.Event
	fn     func(ctx context.Context, out io.Writer) (*pipeline.Result, error)
}

func (r *fakeRunner) Run(
	ctx context.Context,
	def *types.Pipeline,
	event types.Event,
	runDir string,
	out io.Writer,
) (*pipeline.Result, error) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	fmt.Fprintf(out, "running %s in %s\n", def.Name, runDir)
	return r.fn(ctx, out)
}

func (r *fakeRunner) seen() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Event(nil), r.events...)
}

func passingRunner() *fakeRunner {
	return &fakeRunner{fn: func(context.Context, io.Writer) (*pipeline.Result, error) {
		return &pipeline.Result{Status: types.StatusPassed, CacheKey: "linux-abc"}, nil
	}}
}

// blockingRunner blocks each run until it is released or its context ends.
func blockingRunner(started chan<- struct{}, release <-chan struct{}) *fakeRunner {
	return &fakeRunner{fn: func(ctx context.Context, _ io.Writer) (*pipeline.Result, error) {
		started <- struct{}{}
		select {
		case <-release:
			return &pipeline.Result{Status: types.StatusPassed}, nil
		case <-ctx.Done():
			return &pipeline.Result{Status: types.StatusCancelled, FailedStep: "cargo build"}, ctx.Err()
		}
	}}
}
