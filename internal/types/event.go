package types

import (
	"errors"
	"fmt"
	"path"
)

type EventKind string

const (
	PullRequest    EventKind = "pull_request"
	ManualDispatch EventKind = "manual_dispatch"
)

type RunStatus string

const (
	StatusQueued    RunStatus = "queued"
	StatusRunning   RunStatus = "running"
	StatusCancelled RunStatus = "cancelled"
	StatusFailed    RunStatus = "failed"
	StatusPassed    RunStatus = "passed"
)

// Event is the trigger a pipeline run is started from. For pull requests
// Branch is the base branch the change targets, Revision the head commit
// and PullRequest the pull request number.
type Event struct {
	Kind        EventKind
	Branch      string
	Revision    string
	Repository  string
	PullRequest int64
	Inputs      map[string]string
}

func (e Event) Validate() error {
	switch e.Kind {
	case PullRequest:
		if e.Branch == "" {
			return errors.New("pull request event requires a target branch")
		}
	case ManualDispatch:
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

// CheckoutRevision is the revision the working copy is checked out at.
func (e Event) CheckoutRevision() string {
	if e.Revision != "" {
		return e.Revision
	}
	return e.Branch
}

type Trigger struct {
	PullRequest    *PullRequestTrigger `yaml:"pull_request"`
	ManualDispatch *DispatchTrigger    `yaml:"manual_dispatch"`
}

type PullRequestTrigger struct {
	Branches []string `yaml:"branches"`
}

type DispatchTrigger struct {
	Inputs []DispatchInput `yaml:"inputs"`
}

type DispatchInput struct {
	Name     string `yaml:"name"`
	Default  string `yaml:"default"`
	Required bool   `yaml:"required"`
}

// Matches reports whether e starts a run of a pipeline with this trigger.
// Pull request branch filters are path.Match patterns.
func (t Trigger) Matches(e Event) bool {
	switch e.Kind {
	case PullRequest:
		if t.PullRequest == nil {
			return false
		}
		if len(t.PullRequest.Branches) == 0 {
			return true
		}
		for _, pattern := range t.PullRequest.Branches {
			if ok, _ := path.Match(pattern, e.Branch); ok {
				return true
			}
		}
		return false
	case ManualDispatch:
		return t.ManualDispatch != nil
	}
	return false
}

// ResolveInputs applies declared defaults to the dispatch inputs and
// reports required inputs that are still missing.
func (t Trigger) ResolveInputs(given map[string]string) (map[string]string, error) {
	inputs := make(map[string]string, len(given))
	for k, v := range given {
		inputs[k] = v
	}
	if t.ManualDispatch == nil {
		return inputs, nil
	}
	var errs []error
	for _, in := range t.ManualDispatch.Inputs {
		if inputs[in.Name] == "" && in.Default != "" {
			inputs[in.Name] = in.Default
		}
		if in.Required && inputs[in.Name] == "" {
			errs = append(errs, fmt.Errorf("input %q is required", in.Name))
		}
	}
	return inputs, errors.Join(errs...)
}
