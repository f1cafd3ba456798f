package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"time"
)

var inheritedVars = []string{"PATH", "HOME", "USER", "LANG", "TMPDIR", "SSH_AUTH_SOCK"}

type LocalExecutor struct {
	shell   string
	baseEnv []string
	fs      *LocalFS
}

func NewLocalExecutor() *LocalExecutor {
	env := make([]string, 0, len(inheritedVars))
	for _, name := range inheritedVars {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}
	return &LocalExecutor{shell: "/bin/sh", baseEnv: env, fs: &LocalFS{}}
}

func (e *LocalExecutor) Exec(ctx context.Context, c Command, out io.Writer) error {
	timeout := c.timeout()
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	lw := newLineWriter(out)
	cmd := exec.CommandContext(cmdCtx, e.shell, "-c", c.Script)
	cmd.Dir = c.Dir
	cmd.Env = append(slices.Clone(e.baseEnv), c.Env...)
	cmd.Stdout = lw
	cmd.Stderr = lw
	cmd.WaitDelay = 5 * time.Second
	setProcessGroup(cmd)

	err := cmd.Run()
	_ = lw.Flush()

	if ctxErr := contextError(ctx, cmdCtx, timeout); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return &ExitError{Code: ee.ExitCode()}
		}
		return fmt.Errorf("err running command: %w", err)
	}
	return nil
}

func (e *LocalExecutor) FS() FileSystem {
	return e.fs
}

func (e *LocalExecutor) Close() error {
	return nil
}
