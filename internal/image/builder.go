package image

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/haatos/simple-cd/internal/executor"
	"github.com/haatos/simple-cd/internal/util"
	"go.uber.org/zap"
)

const DockerfileName = "Dockerfile.simplecd"

type BuildOptions struct {
	ContextDir string
	Tag        string
	// Push pushes Tag to its registry after a successful build.
	Push bool
	// Env carries registry credentials for the push.
	Env []string
}

// Builder renders recipes and builds them with the docker CLI through an
// executor.
type Builder struct {
	exec   executor.Executor
	logger *zap.Logger
}

func NewBuilder(ex executor.Executor, logger *zap.Logger) *Builder {
	return &Builder{exec: ex, logger: logger}
}

func (b *Builder) Build(ctx context.Context, r *Recipe, opts BuildOptions, out io.Writer) error {
	if err := r.Validate(); err != nil {
		return err
	}
	dockerfile := r.Dockerfile()
	if err := CheckIsolation(dockerfile); err != nil {
		return fmt.Errorf("rendered dockerfile is not isolated: %w", err)
	}
	if opts.Tag == "" {
		return fmt.Errorf("image tag is required")
	}

	name := path.Join(opts.ContextDir, DockerfileName)
	f, err := b.exec.FS().Create(name)
	if err != nil {
		return fmt.Errorf("err creating dockerfile: %w", err)
	}
	if _, err := io.WriteString(f, dockerfile); err != nil {
		f.Close()
		return fmt.Errorf("err writing dockerfile: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	defer b.exec.FS().Remove(name)

	build := fmt.Sprintf("docker build --file %s --tag %s .",
		util.ShellQuote(DockerfileName), util.ShellQuote(opts.Tag))
	b.logger.Info("building image", zap.String("tag", opts.Tag))
	if err := b.exec.Exec(ctx, executor.Command{Dir: opts.ContextDir, Script: build}, out); err != nil {
		return fmt.Errorf("err building image %s: %w", opts.Tag, err)
	}
	if !opts.Push {
		return nil
	}
	push := "docker push " + util.ShellQuote(opts.Tag)
	if err := b.exec.Exec(ctx, executor.Command{Dir: opts.ContextDir, Script: push, Env: opts.Env}, out); err != nil {
		return fmt.Errorf("err pushing image %s: %w", opts.Tag, err)
	}
	return nil
}
