// Package pipeline runs build-and-test and deploy pipelines: ordered,
// fail-fast sequences of external commands.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/haatos/simple-cd/internal/executor"
)

var ErrNotTriggered = errors.New("event does not trigger pipeline")

// ErrorKind classifies why a run failed.
type ErrorKind string

const (
	KindConfiguration  ErrorKind = "configuration"
	KindBuild          ErrorKind = "build"
	KindTest           ErrorKind = "test"
	KindInfrastructure ErrorKind = "infrastructure"
	KindDeploy         ErrorKind = "deploy"
	KindCancelled      ErrorKind = "cancelled"
	KindTimeout        ErrorKind = "timeout"
)

type StepError struct {
	Step string
	Kind ErrorKind
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q failed (%s error): %v", e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// classify returns kind unless err is a cancellation or a timeout, which
// are reported as such whichever step they hit.
func classify(err error, kind ErrorKind) ErrorKind {
	var cancelErr executor.RunCancelError
	switch {
	case errors.As(err, &cancelErr), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, executor.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	return kind
}
