package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/haatos/simple-cd/internal/store"
	"github.com/haatos/simple-cd/internal/types"
	"go.uber.org/zap"
)

const RunsPageSize int64 = 20

type RunReader interface {
	ReadRunByID(context.Context, int64) (*store.Run, error)
	ListPipelineRunsPaginated(context.Context, string, int64, int64) ([]store.Run, error)
	CountPipelineRuns(context.Context, string) (int64, error)
}

type RunStore interface {
	RunReader
	RunWriter
	CreateRun(context.Context, string, types.EventKind, string, string) (*store.Run, error)
	DeleteRunsBefore(context.Context, time.Time) (int64, error)
	FailUnfinishedRuns(context.Context, time.Time) (int64, error)
}

type RunService struct {
	runStore  RunStore
	build     PipelineRunner
	deploy    PipelineRunner
	workspace string
	logger    *zap.Logger

	mu        sync.RWMutex
	pipelines map[string]*types.Pipeline
	queues    map[string]*RunQueue
}

func NewRunService(
	runStore RunStore,
	build, deploy PipelineRunner,
	workspace string,
	logger *zap.Logger,
) *RunService {
	return &RunService{
		runStore:  runStore,
		build:     build,
		deploy:    deploy,
		workspace: workspace,
		logger:    logger,
		pipelines: make(map[string]*types.Pipeline),
		queues:    make(map[string]*RunQueue),
	}
}

func (s *RunService) LoadPipelines(dir string) error {
	defs, err := types.LoadPipelines(dir)
	if err != nil {
		return err
	}
	s.SetPipelines(defs)
	s.logger.Info("pipelines loaded", zap.Int("count", len(defs)), zap.String("dir", dir))
	return nil
}

func (s *RunService) SetPipelines(defs []*types.Pipeline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipelines = make(map[string]*types.Pipeline, len(defs))
	for _, def := range defs {
		s.pipelines[def.Name] = def
	}
}

func (s *RunService) Pipelines() []*types.Pipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defs := make([]*types.Pipeline, 0, len(s.pipelines))
	for _, def := range s.pipelines {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func (s *RunService) GetPipeline(name string) (*types.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.pipelines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, name)
	}
	return def, nil
}

func (s *RunService) runnerFor(def *types.Pipeline) PipelineRunner {
	if def.IsDeploy() {
		return s.deploy
	}
	return s.build
}

// StartRunQueues starts one worker per loaded pipeline.
func (s *RunService) StartRunQueues() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, def := range s.pipelines {
		if _, ok := s.queues[name]; ok {
			continue
		}
		rq := NewRunQueue(def, s.runnerFor(def), s.runStore, s.workspace, s.logger)
		s.queues[name] = rq
		go rq.Run()
	}
}

// RecoverRuns fails runs a previous process left unfinished.
func (s *RunService) RecoverRuns(ctx context.Context) error {
	n, err := s.runStore.FailUnfinishedRuns(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.Warn("failed unfinished runs from a previous process", zap.Int64("count", n))
	}
	return nil
}

func (s *RunService) enqueue(ctx context.Context, def *types.Pipeline, event types.Event) (*store.Run, error) {
	s.mu.RLock()
	rq, ok := s.queues[def.Name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s has no run queue", ErrPipelineNotFound, def.Name)
	}

	r, err := s.runStore.CreateRun(ctx, def.Name, event.Kind, event.Branch, event.Revision)
	if err != nil {
		return nil, fmt.Errorf("err creating run: %w", err)
	}
	if err := rq.Enqueue(r, event); err != nil {
		if endErr := s.runStore.UpdateRunEndedOn(ctx, r.RunID, types.StatusFailed, nil, nil, time.Now().UTC()); endErr != nil {
			return nil, errors.Join(err, endErr)
		}
		return nil, err
	}
	s.logger.Info("run queued",
		zap.String("pipeline", def.Name),
		zap.Int64("run_id", r.RunID),
		zap.String("event", string(event.Kind)),
	)
	return r, nil
}

// TriggerPullRequest queues a run of every pipeline whose pull request
// trigger matches the event.
func (s *RunService) TriggerPullRequest(ctx context.Context, event types.Event) ([]*store.Run, error) {
	event.Kind = types.PullRequest
	if err := event.Validate(); err != nil {
		return nil, err
	}
	var runs []*store.Run
	var errs []error
	for _, def := range s.Pipelines() {
		if !def.Trigger.Matches(event) {
			continue
		}
		r, err := s.enqueue(ctx, def, event)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", def.Name, err))
			continue
		}
		runs = append(runs, r)
	}
	if len(runs) == 0 && len(errs) == 0 {
		return nil, ErrNoMatchingPipeline
	}
	return runs, errors.Join(errs...)
}

// Dispatch queues a manual run of the named pipeline against its default
// branch.
func (s *RunService) Dispatch(ctx context.Context, name string, inputs map[string]string) (*store.Run, error) {
	def, err := s.GetPipeline(name)
	if err != nil {
		return nil, err
	}
	if def.Trigger.ManualDispatch == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotDispatchable, name)
	}
	resolved, err := def.Trigger.ResolveInputs(inputs)
	if err != nil {
		return nil, &ErrInvalidInputs{Err: err}
	}
	event := types.Event{
		Kind:       types.ManualDispatch,
		Branch:     def.Branch(),
		Repository: def.Repository,
		Inputs:     resolved,
	}
	return s.enqueue(ctx, def, event)
}

func (s *RunService) CancelRun(ctx context.Context, runID int64) error {
	r, err := s.runStore.ReadRunByID(ctx, runID)
	if err != nil {
		return err
	}
	if r.Finished() {
		return ErrRunFinished
	}
	s.mu.RLock()
	rq, ok := s.queues[r.Pipeline]
	s.mu.RUnlock()
	if !ok || !rq.CancelRun(runID) {
		return fmt.Errorf("%w: %d", ErrRunNotActive, runID)
	}
	s.logger.Info("run cancel requested", zap.Int64("run_id", runID))
	return nil
}

func (s *RunService) GetRun(ctx context.Context, runID int64) (*store.Run, error) {
	return s.runStore.ReadRunByID(ctx, runID)
}

// ListRuns returns one page of a pipeline's runs, newest first, and the
// total number of runs.
func (s *RunService) ListRuns(ctx context.Context, pipeline string, page int64) ([]store.Run, int64, error) {
	if _, err := s.GetPipeline(pipeline); err != nil {
		return nil, 0, err
	}
	page = max(page, 1)
	runs, err := s.runStore.ListPipelineRunsPaginated(ctx, pipeline, RunsPageSize, (page-1)*RunsPageSize)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.runStore.CountPipelineRuns(ctx, pipeline)
	if err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

// CleanupRuns deletes finished runs older than maxAge.
func (s *RunService) CleanupRuns(ctx context.Context, maxAge time.Duration) (int64, error) {
	return s.runStore.DeleteRunsBefore(ctx, time.Now().UTC().Add(-maxAge))
}

func (s *RunService) Shutdown() {
	s.mu.Lock()
	queues := make([]*RunQueue, 0, len(s.queues))
	for _, rq := range s.queues {
		queues = append(queues, rq)
	}
	s.queues = make(map[string]*RunQueue)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, rq := range queues {
		rq := rq
		wg.Add(1)
		go func() {
			defer wg.Done()
			rq.Shutdown()
		}()
	}
	wg.Wait()
}
