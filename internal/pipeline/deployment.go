package pipeline

import (
	"context"
	"errors"
	"fmt"
)

var ErrInvalidTransition = errors.New("invalid deployment transition")

// Platform is the deployment platform, driven through its own CLI.
type Platform interface {
	Link(ctx context.Context, project, service string) error
	SelectService(ctx context.Context, service string) error
	SetVariable(ctx context.Context, service, name, value string) error
	Publish(ctx context.Context, service string) error
}

type DeployState int

const (
	NotLinked DeployState = iota
	Linked
	Configured
	Deployed
)

func (s DeployState) String() string {
	switch s {
	case NotLinked:
		return "not linked"
	case Linked:
		return "linked"
	case Configured:
		return "configured"
	case Deployed:
		return "deployed"
	}
	return fmt.Sprintf("DeployState(%d)", int(s))
}

// Deployment enforces the order platform calls are made in for a single
// target. Calls out of order fail with ErrInvalidTransition without
// reaching the platform.
type Deployment struct {
	platform Platform
	state    DeployState
	project  string
	service  string
	values   map[string]string
	applied  []string
}

func NewDeployment(p Platform) *Deployment {
	return &Deployment{platform: p, values: make(map[string]string)}
}

func (d *Deployment) State() DeployState {
	return d.state
}

func (d *Deployment) Target() (project, service string) {
	return d.project, d.service
}

// Applied returns the names of the variables set so far, in order.
func (d *Deployment) Applied() []string {
	return append([]string(nil), d.applied...)
}

func (d *Deployment) transitionErr(op string) error {
	return fmt.Errorf("%w: %s while %s", ErrInvalidTransition, op, d.state)
}

func (d *Deployment) Link(ctx context.Context, project, service string) error {
	if d.state != NotLinked {
		return d.transitionErr("link")
	}
	if project == "" || service == "" {
		return errors.New("link requires a project and a service")
	}
	if err := d.platform.Link(ctx, project, service); err != nil {
		return err
	}
	d.project, d.service = project, service
	d.state = Linked
	return nil
}

// SelectService makes the linked service the target of later commands.
func (d *Deployment) SelectService(ctx context.Context) error {
	if d.state != Linked {
		return d.transitionErr("select service")
	}
	return d.platform.SelectService(ctx, d.service)
}

// SetVariable sets name on the linked service. Setting a name to the value
// it already has is a no-op.
func (d *Deployment) SetVariable(ctx context.Context, name, value string) error {
	if d.state != Linked && d.state != Configured {
		return d.transitionErr("set variable")
	}
	if current, ok := d.values[name]; ok && current == value {
		return nil
	}
	if err := d.platform.SetVariable(ctx, d.service, name, value); err != nil {
		return err
	}
	if _, ok := d.values[name]; !ok {
		d.applied = append(d.applied, name)
	}
	d.values[name] = value
	d.state = Configured
	return nil
}

func (d *Deployment) Publish(ctx context.Context) error {
	if d.state != Linked && d.state != Configured {
		return d.transitionErr("publish")
	}
	if err := d.platform.Publish(ctx, d.service); err != nil {
		return err
	}
	d.state = Deployed
	return nil
}
