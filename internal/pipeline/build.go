package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/haatos/simple-cd/internal/cache"
	"github.com/haatos/simple-cd/internal/executor"
	"github.com/haatos/simple-cd/internal/secrets"
	"github.com/haatos/simple-cd/internal/types"
	"go.uber.org/zap"
)

const (
	StepCheckout    = "checkout"
	StepCredentials = "configure-credentials"
	StepRestore     = "restore-cache"
	StepSave        = "save-cache"
)

// DependencyCache is implemented by *cache.Manager.
type DependencyCache interface {
	Restore(ctx context.Context, fs executor.FileSystem, root string, key cache.Key, spec *types.CacheSpec) (*cache.Hit, error)
	Save(ctx context.Context, fs executor.FileSystem, root string, key cache.Key, spec *types.CacheSpec, hit *cache.Hit) (bool, error)
}

type BuildRunner struct {
	exec       executor.Executor
	secrets    secrets.Source
	cache      DependencyCache
	logger     *zap.Logger
	computeKey func(fs cache.Files, root string, spec *types.CacheSpec) (cache.Key, error)
}

// NewBuildRunner returns a runner for build-and-test pipelines. A nil
// cache disables the restore and save steps.
func NewBuildRunner(ex executor.Executor, src secrets.Source, c DependencyCache, logger *zap.Logger) *BuildRunner {
	return &BuildRunner{
		exec:       ex,
		secrets:    src,
		cache:      c,
		logger:     logger,
		computeKey: cache.ComputeKey,
	}
}

// Run executes def for event inside runDir: checkout, credentials, cache
// restore, build stages, test stages and cache save. The first failing
// step ends the run. The returned error is the *StepError also stored in
// the result.
func (r *BuildRunner) Run(ctx context.Context, def *types.Pipeline, event types.Event, runDir string, out io.Writer) (*Result, error) {
	if !def.Trigger.Matches(event) {
		return nil, ErrNotTriggered
	}
	if def.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(def.TimeoutSeconds)*time.Second)
		defer cancel()
	}
	run := newRun(def.Name, out, r.logger)
	fs := r.exec.FS()

	var dir string
	err := run.step(StepCheckout, KindInfrastructure, func() (err error) {
		dir, err = checkout(ctx, r.exec, repository(def.Repository, event.Repository), event.CheckoutRevision(), event.PullRequest, runDir, run.out)
		return err
	})
	if err != nil {
		return run.result, err
	}

	var scope *secrets.Scope
	err = run.step(StepCredentials, KindConfiguration, func() error {
		set, err := secrets.Resolve(ctx, r.secrets, def.Credentials)
		if err != nil {
			return err
		}
		scope, err = secrets.NewScope(fs, runDir, set)
		if err != nil {
			return err
		}
		run.out = secrets.NewRedactor(set.SecretValues()...).Writer(run.out)
		fmt.Fprintf(run.out, "%d credentials configured\n", len(set.Credentials()))
		return nil
	})
	if err != nil {
		return run.result, err
	}
	defer func() {
		if err := scope.Close(); err != nil {
			run.logger.Error("err removing credentials file", zap.Error(err))
		}
	}()

	var key cache.Key
	var hit *cache.Hit
	useCache := r.cache != nil && def.Cache != nil
	if useCache {
		run.optional(StepRestore, func() (string, error) {
			if err := cache.ValidatePaths(def.Cache); err != nil {
				return "", err
			}
			var err error
			key, err = r.computeKey(fs, dir, def.Cache)
			if err != nil {
				return "", err
			}
			run.result.CacheKey = key.String()
			hit, err = r.cache.Restore(ctx, fs, dir, key, def.Cache)
			if err != nil {
				return "", err
			}
			run.result.CacheHit = hit
			switch {
			case hit == nil:
				return fmt.Sprintf("cache miss for %s", key), nil
			case hit.Exact:
				return fmt.Sprintf("cache hit for %s", key), nil
			default:
				return fmt.Sprintf("cache restored from %s", hit.Key), nil
			}
		})
	}

	for _, kind := range []types.StageKind{types.StageBuild, types.StageTest} {
		for _, stage := range def.Stages {
			if stageKind(stage) != kind {
				continue
			}
			if err := r.runStage(ctx, run, stage, dir, scope.Env()); err != nil {
				return run.result, err
			}
		}
	}

	if useCache && !key.IsZero() {
		run.optional(StepSave, func() (string, error) {
			saved, err := r.cache.Save(ctx, fs, dir, key, def.Cache, hit)
			if err != nil {
				return "", err
			}
			if !saved {
				return fmt.Sprintf("cache %s already exists, not saved", key), nil
			}
			return fmt.Sprintf("cache saved as %s", key), nil
		})
	}

	return run.pass(), nil
}

func stageKind(s types.Stage) types.StageKind {
	if s.Kind == "" {
		return types.StageBuild
	}
	return s.Kind
}

func (r *BuildRunner) runStage(ctx context.Context, run *run, stage types.Stage, dir string, env []string) error {
	errKind := KindBuild
	if stageKind(stage) == types.StageTest {
		errKind = KindTest
	}
	for _, step := range stage.Steps {
		step := step
		name := step.Step
		if name == "" {
			name = stage.Stage
		}
		err := run.step(name, errKind, func() error {
			return r.exec.Exec(ctx, executor.Command{
				Dir:     dir,
				Script:  step.Script,
				Env:     env,
				Timeout: time.Duration(step.TimeoutSeconds) * time.Second,
			}, run.out)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// IsConfigurationError reports whether err failed a run before any
// command that depends on configuration was started.
func IsConfigurationError(err error) bool {
	var se *StepError
	return errors.As(err, &se) && se.Kind == KindConfiguration
}
