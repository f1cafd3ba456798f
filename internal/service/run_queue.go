package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/haatos/simple-cd/internal"
	"github.com/haatos/simple-cd/internal/pipeline"
	"github.com/haatos/simple-cd/internal/store"
	"github.com/haatos/simple-cd/internal/types"
	"github.com/haatos/simple-cd/internal/util"
	"go.uber.org/zap"
)

const (
	passMessage = `
=============================================
PASS || Executed pipeline steps successfully.
=============================================
`
	failMessage = `
=============================================
FAIL || Pipeline execution failed.
=============================================
`
	cancelMessage = `
=============================================
CANCELLED || Pipeline execution cancelled.
=============================================
`
)

// PipelineRunner is implemented by *pipeline.BuildRunner and
// *pipeline.DeployRunner.
type PipelineRunner interface {
	Run(ctx context.Context, def *types.Pipeline, event types.Event, runDir string, out io.Writer) (*pipeline.Result, error)
}

type RunWriter interface {
	UpdateRunStartedOn(context.Context, int64, string, types.RunStatus, time.Time) error
	UpdateRunEndedOn(context.Context, int64, types.RunStatus, *string, *string, time.Time) error
	AppendRunOutput(context.Context, int64, string) error
}

type queuedRun struct {
	run   *store.Run
	event types.Event
}

// RunQueue executes the runs of one pipeline one at a time.
type RunQueue struct {
	def       *types.Pipeline
	runner    PipelineRunner
	store     RunWriter
	workspace string
	timeout   time.Duration
	logger    *zap.Logger

	queue        chan *queuedRun
	done         chan struct{}
	stopped      chan struct{}
	cancelRunMap *CancelMap[int64]

	mu      sync.Mutex
	pending map[int64]bool
}

func NewRunQueue(
	def *types.Pipeline,
	runner PipelineRunner,
	store RunWriter,
	workspace string,
	logger *zap.Logger,
) *RunQueue {
	return &RunQueue{
		def:          def,
		runner:       runner,
		store:        store,
		workspace:    workspace,
		timeout:      internal.Config.RunTimeoutHours.Duration(),
		logger:       logger.With(zap.String("pipeline", def.Name)),
		queue:        make(chan *queuedRun, internal.Config.QueueSize),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
		cancelRunMap: NewCancelMap[int64](),
		pending:      make(map[int64]bool),
	}
}

func (rq *RunQueue) Enqueue(r *store.Run, event types.Event) error {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	select {
	case rq.queue <- &queuedRun{run: r, event: event}:
		rq.pending[r.RunID] = false
		return nil
	default:
		return NewErrRunQueueFull()
	}
}

// CancelRun cancels a running run, or marks a queued one so that it is
// skipped. It reports whether the run belonged to this queue.
func (rq *RunQueue) CancelRun(runID int64) bool {
	rq.mu.Lock()
	if _, ok := rq.pending[runID]; ok {
		rq.pending[runID] = true
		rq.mu.Unlock()
		return true
	}
	rq.mu.Unlock()
	return rq.cancelRunMap.Call(runID)
}

// take removes runID from the pending set and reports whether it was
// cancelled while queued.
func (rq *RunQueue) take(runID int64) bool {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	cancelled := rq.pending[runID]
	delete(rq.pending, runID)
	return cancelled
}

func (rq *RunQueue) Run() {
	defer close(rq.stopped)
	for {
		select {
		case <-rq.done:
			return
		default:
		}
		select {
		case qr := <-rq.queue:
			rq.process(qr)
		case <-rq.done:
			return
		}
	}
}

// Shutdown cancels the active run and waits for the worker to stop.
func (rq *RunQueue) Shutdown() {
	rq.mu.Lock()
	select {
	case <-rq.done:
	default:
		close(rq.done)
	}
	rq.mu.Unlock()
	rq.cancelRunMap.CallAll()
	<-rq.stopped
}

// RunDir is the working directory of one run of a pipeline under
// workspace. The CLI uses it with a "local" suffix.
func RunDir(workspace, pipeline, suffix string, now time.Time) string {
	name := now.UTC().Format(internal.RunDirLayout) + "_" + suffix
	return path.Join(workspace, util.Slugify(pipeline), name)
}

// outputSink forwards writes to the run's stored output from a single
// goroutine so that slow database writes never reorder output.
type outputSink struct {
	ch   chan string
	done chan struct{}
}

func (rq *RunQueue) newOutputSink(runID int64) *outputSink {
	s := &outputSink{ch: make(chan string, 64), done: make(chan struct{})}
	go func() {
		defer close(s.done)
		for out := range s.ch {
			if err := rq.store.AppendRunOutput(context.Background(), runID, out); err != nil {
				rq.logger.Error("err appending run output", zap.Int64("run_id", runID), zap.Error(err))
			}
		}
	}()
	return s
}

func (s *outputSink) Write(p []byte) (int, error) {
	s.ch <- string(p)
	return len(p), nil
}

func (s *outputSink) Close() {
	close(s.ch)
	<-s.done
}

func (rq *RunQueue) process(qr *queuedRun) {
	runID := qr.run.RunID
	logger := rq.logger.With(zap.Int64("run_id", runID))

	ctx, cancel := context.WithTimeout(context.Background(), rq.timeout)
	defer cancel()
	rq.cancelRunMap.AddCancel(runID, cancel)
	defer rq.cancelRunMap.RemoveCancel(runID)
	select {
	case <-rq.done:
		cancel()
	default:
	}

	if rq.take(runID) {
		rq.end(runID, types.StatusCancelled, nil, nil)
		logger.Info("queued run cancelled")
		return
	}

	runDir := RunDir(rq.workspace, rq.def.Name, strconv.FormatInt(runID, 10), time.Now())
	if err := rq.store.UpdateRunStartedOn(context.Background(), runID, runDir, types.StatusRunning, time.Now().UTC()); err != nil {
		logger.Error("err updating run started on", zap.Error(err))
		rq.end(runID, types.StatusFailed, nil, nil)
		return
	}
	logger.Info("run started", zap.String("working_directory", runDir))

	sink := rq.newOutputSink(runID)
	res, err := rq.runner.Run(ctx, rq.def, qr.event, runDir, sink)
	status, failedStep, cacheKey := runOutcome(ctx, res)
	switch status {
	case types.StatusPassed:
		fmt.Fprint(sink, passMessage)
	case types.StatusCancelled:
		fmt.Fprint(sink, cancelMessage)
	default:
		if err != nil {
			fmt.Fprintf(sink, "\n%s\n", err)
		}
		fmt.Fprint(sink, failMessage)
	}
	sink.Close()

	rq.end(runID, status, failedStep, cacheKey)
	logger.Info("run ended", zap.String("status", string(status)))
}

// runOutcome maps a pipeline result to the stored run status. A run that
// hits the queue's wall-clock limit fails even if it was interrupted.
func runOutcome(ctx context.Context, res *pipeline.Result) (types.RunStatus, *string, *string) {
	var failedStep, cacheKey *string
	status := types.StatusFailed
	if res != nil {
		status = res.Status
		if res.FailedStep != "" {
			failedStep = util.AsPtr(res.FailedStep)
		}
		if res.CacheKey != "" {
			cacheKey = util.AsPtr(res.CacheKey)
		}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		status = types.StatusFailed
	}
	return status, failedStep, cacheKey
}

func (rq *RunQueue) end(runID int64, status types.RunStatus, failedStep, cacheKey *string) {
	if err := rq.store.UpdateRunEndedOn(
		context.Background(),
		runID,
		status,
		failedStep,
		cacheKey,
		time.Now().UTC(),
	); err != nil {
		rq.logger.Error("err updating run ended on", zap.Int64("run_id", runID), zap.Error(err))
	}
}
