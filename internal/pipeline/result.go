package pipeline

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/haatos/simple-cd/internal/cache"
	"github.com/haatos/simple-cd/internal/types"
	"go.uber.org/zap"
)

type StepResult struct {
	Name     string
	Status   types.RunStatus
	Duration time.Duration
	// Skipped non-fatal steps such as a cache miss carry a note.
	Note string
}

type Result struct {
	Pipeline   string
	Status     types.RunStatus
	FailedStep string
	Kind       ErrorKind
	Err        error
	CacheKey   string
	CacheHit   *cache.Hit
	// Variables lists the deploy variables applied to the target, in
	// order, including those applied before a failure.
	Variables []string
	Steps     []StepResult
}

// FailureKind reports the failure kind if err is a *StepError.
func FailureKind(err error) (ErrorKind, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// run tracks the result of one pipeline run while its steps execute.
type run struct {
	result *Result
	out    io.Writer
	logger *zap.Logger
}

func newRun(name string, out io.Writer, logger *zap.Logger) *run {
	return &run{
		result: &Result{Pipeline: name, Status: types.StatusRunning},
		out:    out,
		logger: logger.With(zap.String("pipeline", name)),
	}
}

// step runs fn as the named step. A failure ends the run with a
// *StepError of the given kind.
func (r *run) step(name string, kind ErrorKind, fn func() error) error {
	fmt.Fprintf(r.out, "==> %s\n", name)
	start := time.Now()
	err := fn()
	sr := StepResult{Name: name, Status: types.StatusPassed, Duration: time.Since(start)}
	if err != nil {
		sr.Status = types.StatusFailed
		r.result.Steps = append(r.result.Steps, sr)
		return r.fail(name, classify(err, kind), err)
	}
	r.result.Steps = append(r.result.Steps, sr)
	return nil
}

// optional runs a step whose failure is logged and noted but does not
// fail the run.
func (r *run) optional(name string, fn func() (string, error)) {
	fmt.Fprintf(r.out, "==> %s\n", name)
	start := time.Now()
	note, err := fn()
	if err != nil {
		note = err.Error()
		r.logger.Warn("non-fatal step failed", zap.String("step", name), zap.Error(err))
	}
	if note != "" {
		fmt.Fprintf(r.out, "%s\n", note)
	}
	r.result.Steps = append(r.result.Steps, StepResult{
		Name:     name,
		Status:   types.StatusPassed,
		Duration: time.Since(start),
		Note:     note,
	})
}

func (r *run) fail(step string, kind ErrorKind, err error) error {
	se := &StepError{Step: step, Kind: kind, Err: err}
	r.result.FailedStep = step
	r.result.Kind = kind
	r.result.Err = se
	r.result.Status = types.StatusFailed
	if kind == KindCancelled {
		r.result.Status = types.StatusCancelled
	}
	r.logger.Info("run failed", zap.String("step", step), zap.String("kind", string(kind)))
	return se
}

func (r *run) pass() *Result {
	r.result.Status = types.StatusPassed
	return r.result
}
