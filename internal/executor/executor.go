// Package executor runs pipeline commands, either on the local machine or
// on a remote agent over SSH, and gives access to the files they work on.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

const DefaultTimeout = 30 * time.Minute

var ErrTimeout = errors.New("command timed out")

type Command struct {
	Dir    string
	Script string
	// Env is the complete set of variables added for this command. Nothing
	// is read from or written to the orchestrator's own environment.
	Env     []string
	Timeout time.Duration
}

func (c Command) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

type Executor interface {
	Exec(ctx context.Context, cmd Command, out io.Writer) error
	FS() FileSystem
	Close() error
}

type WalkFunc func(path string, info os.FileInfo) error

// FileSystem uses slash separated paths on both local and remote hosts.
type FileSystem interface {
	Open(name string) (io.ReadCloser, error)
	Create(name string) (io.WriteCloser, error)
	MkdirAll(path string, perm os.FileMode) error
	Chmod(name string, mode os.FileMode) error
	Remove(name string) error
	RemoveAll(path string) error
	Stat(name string) (os.FileInfo, error)
	Walk(root string, fn WalkFunc) error
	Glob(pattern string) ([]string, error)
}

type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with status %d", e.Code)
}

type RunCancelError struct {
	Message string
}

func (rce RunCancelError) Error() string {
	return rce.Message
}

// contextError maps an expired command context to ErrTimeout or, when the
// run itself was cancelled, to RunCancelError.
func contextError(parent, cmdCtx context.Context, timeout time.Duration) error {
	if cmdCtx.Err() == nil {
		return nil
	}
	if errors.Is(parent.Err(), context.Canceled) {
		return RunCancelError{Message: "command cancelled"}
	}
	if parent.Err() != nil {
		return fmt.Errorf("%w: run deadline exceeded", ErrTimeout)
	}
	return fmt.Errorf("%w after %s", ErrTimeout, timeout)
}

// lineWriter forwards complete lines to w so that output of concurrently
// written stdout and stderr is never interleaved mid-line.
type lineWriter struct {
	mu  sync.Mutex
	w   io.Writer
	buf bytes.Buffer
}

func newLineWriter(w io.Writer) *lineWriter {
	return &lineWriter{w: w}
}

func (lw *lineWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	lw.buf.Write(p)
	for {
		i := bytes.IndexByte(lw.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := lw.buf.Next(i + 1)
		if _, err := lw.w.Write(line); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

func (lw *lineWriter) Flush() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.buf.Len() == 0 {
		return nil
	}
	lw.buf.WriteByte('\n')
	_, err := lw.w.Write(lw.buf.Bytes())
	lw.buf.Reset()
	return err
}
