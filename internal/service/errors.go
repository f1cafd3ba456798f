package service

import "errors"

var (
	ErrNoMatchingPipeline = errors.New("no pipeline matches the event")
	ErrPipelineNotFound   = errors.New("pipeline not found")
	ErrNotDispatchable    = errors.New("pipeline has no manual_dispatch trigger")
	ErrRunFinished        = errors.New("run has already finished")
	ErrRunNotActive       = errors.New("run is not active in this process")
	ErrInvalidSecretName  = errors.New("invalid secret name")
)

type ErrRunQueueFull struct{}

func (e ErrRunQueueFull) Error() string {
	return "run queue is full"
}

func NewErrRunQueueFull() *ErrRunQueueFull {
	return &ErrRunQueueFull{}
}

// ErrInvalidInputs wraps the reasons dispatch inputs were rejected.
type ErrInvalidInputs struct {
	Err error
}

func (e *ErrInvalidInputs) Error() string {
	return "invalid dispatch inputs: " + e.Err.Error()
}

func (e *ErrInvalidInputs) Unwrap() error {
	return e.Err
}
