package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/haatos/simple-cd/internal/executor"
	"github.com/haatos/simple-cd/internal/secrets"
	"github.com/haatos/simple-cd/internal/types"
	"go.uber.org/zap"
)

const (
	StepResolveTarget = "resolve-target"
	StepLink          = "link"
	StepSelect        = "select-service"
	StepPublish       = "publish"
)

var refRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

type DeployRunner struct {
	exec        executor.Executor
	secrets     secrets.Source
	newPlatform PlatformFactory
	logger      *zap.Logger
	lookupEnv   func(string) (string, bool)
}

func NewDeployRunner(ex executor.Executor, src secrets.Source, newPlatform PlatformFactory, logger *zap.Logger) *DeployRunner {
	if newPlatform == nil {
		newPlatform = NewCLIPlatformFactory(ex)
	}
	return &DeployRunner{
		exec:        ex,
		secrets:     src,
		newPlatform: newPlatform,
		logger:      logger,
		lookupEnv:   os.LookupEnv,
	}
}

// resolveRef replaces ${NAME} references in s with the dispatch input of
// that name, falling back to the process environment.
func (r *DeployRunner) resolveRef(s string, inputs map[string]string) (string, error) {
	var missing []string
	resolved := refRe.ReplaceAllStringFunc(s, func(ref string) string {
		name := refRe.FindStringSubmatch(ref)[1]
		if v := inputs[name]; v != "" {
			return v
		}
		if v, ok := r.lookupEnv(name); ok && v != "" {
			return v
		}
		missing = append(missing, name)
		return ""
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%q references unset %v", s, missing)
	}
	if resolved == "" {
		return "", errors.New("resolved to an empty value")
	}
	return resolved, nil
}

type deployTarget struct {
	project   string
	service   string
	token     *secrets.CredentialSet
	variables *secrets.CredentialSet
}

// resolve does everything that can fail on configuration before any side
// effect: target, token and variable values.
func (r *DeployRunner) resolve(ctx context.Context, spec *types.DeploySpec, inputs map[string]string) (*deployTarget, error) {
	var errs []error
	project, err := r.resolveRef(spec.Project, inputs)
	if err != nil {
		errs = append(errs, fmt.Errorf("project: %w", err))
	}
	service, err := r.resolveRef(spec.Service, inputs)
	if err != nil {
		errs = append(errs, fmt.Errorf("service: %w", err))
	}

	var tokenBindings []types.CredentialBinding
	if spec.Token != nil {
		tokenBindings = append(tokenBindings, *spec.Token)
	}
	token, err := secrets.Resolve(ctx, r.secrets, tokenBindings)
	if err != nil {
		errs = append(errs, fmt.Errorf("token: %w", err))
	}

	varBindings := make([]types.CredentialBinding, 0, len(spec.Variables))
	for _, v := range spec.Variables {
		varBindings = append(varBindings, v.Binding())
	}
	variables, err := secrets.Resolve(ctx, r.secrets, varBindings)
	if err != nil {
		errs = append(errs, fmt.Errorf("variables: %w", err))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &deployTarget{project: project, service: service, token: token, variables: variables}, nil
}

// Run deploys the default branch of def to the target resolved from the
// event's dispatch inputs: link, select service, set each variable in
// order, publish. There is no compensation: a failure after variables
// were set leaves them applied and they are listed in the result.
func (r *DeployRunner) Run(ctx context.Context, def *types.Pipeline, event types.Event, runDir string, out io.Writer) (*Result, error) {
	if !def.IsDeploy() {
		return nil, fmt.Errorf("pipeline %s has no deploy section", def.Name)
	}
	if !def.Trigger.Matches(event) {
		return nil, ErrNotTriggered
	}
	if def.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(def.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	run := newRun(def.Name, out, r.logger)

	var target *deployTarget
	err := run.step(StepResolveTarget, KindConfiguration, func() error {
		inputs, err := def.Trigger.ResolveInputs(event.Inputs)
		if err != nil {
			return err
		}
		target, err = r.resolve(ctx, def.Deploy, inputs)
		if err != nil {
			return err
		}
		values := append(target.token.SecretValues(), target.variables.SecretValues()...)
		run.out = secrets.NewRedactor(values...).Writer(run.out)
		fmt.Fprintf(run.out, "target project %s service %s\n", target.project, target.service)
		return nil
	})
	if err != nil {
		return run.result, err
	}

	var dir string
	err = run.step(StepCheckout, KindInfrastructure, func() (err error) {
		dir, err = checkout(ctx, r.exec, repository(def.Repository, event.Repository), def.Branch(), 0, runDir, run.out)
		return err
	})
	if err != nil {
		return run.result, err
	}

	var scope *secrets.Scope
	err = run.step(StepCredentials, KindConfiguration, func() (err error) {
		scope, err = secrets.NewScope(r.exec.FS(), runDir, target.token)
		return err
	})
	if err != nil {
		return run.result, err
	}
	defer func() {
		if err := scope.Close(); err != nil {
			run.logger.Error("err removing credentials file", zap.Error(err))
		}
	}()

	d := NewDeployment(r.newPlatform(def.Deploy.Commands, dir, scope.Env(), run.out))
	defer func() { run.result.Variables = d.Applied() }()

	if err := run.step(StepLink, KindDeploy, func() error {
		return d.Link(ctx, target.project, target.service)
	}); err != nil {
		return run.result, err
	}
	if err := run.step(StepSelect, KindDeploy, func() error {
		return d.SelectService(ctx)
	}); err != nil {
		return run.result, err
	}
	for _, v := range target.variables.Credentials() {
		v := v
		if err := run.step("set-variable "+v.Env, KindDeploy, func() error {
			return d.SetVariable(ctx, v.Env, v.Value)
		}); err != nil {
			return run.result, err
		}
	}
	if err := run.step(StepPublish, KindDeploy, func() error {
		return d.Publish(ctx)
	}); err != nil {
		return run.result, err
	}
	return run.pass(), nil
}
