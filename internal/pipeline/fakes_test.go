package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/haatos/simple-cd/internal/cache"
	"github.com/haatos/simple-cd/internal/executor"
	"github.com/haatos/simple-cd/internal/types"
	"github.com/stretchr/testify/mock"
)

// fakeExecutor records commands and fails those whose script contains a
// configured substring. Files go to the local file system.
type fakeExecutor struct {
	mu       sync.Mutex
	commands []executor.Command
	failures map[string]error
	echoEnv  string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{failures: make(map[string]error)}
}

func (f *fakeExecutor) Exec(_ context.Context, c executor.Command, out io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, c)
	fmt.Fprintf(out, "$ %s\n", c.Script)
	if f.echoEnv != "" {
		for _, kv := range c.Env {
			if strings.HasPrefix(kv, f.echoEnv+"=") {
				fmt.Fprintf(out, "%s\n", kv)
			}
		}
	}
	for substr, err := range f.failures {
		if strings.Contains(c.Script, substr) {
			return err
		}
	}
	return nil
}

func (f *fakeExecutor) FS() executor.FileSystem {
	return executor.LocalFS{}
}

func (f *fakeExecutor) Close() error {
	return nil
}

func (f *fakeExecutor) scripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	scripts := make([]string, 0, len(f.commands))
	for _, c := range f.commands {
		scripts = append(scripts, c.Script)
	}
	return scripts
}

type fakeCache struct {
	restores   int
	saves      int
	hit        *cache.Hit
	restoreErr error
	saveErr    error
}

func (f *fakeCache) Restore(context.Context, executor.FileSystem, string, cache.Key, *types.CacheSpec) (*cache.Hit, error) {
	f.restores++
	if f.restoreErr != nil {
		return nil, f.restoreErr
	}
	return f.hit, nil
}

func (f *fakeCache) Save(_ context.Context, _ executor.FileSystem, _ string, _ cache.Key, _ *types.CacheSpec, hit *cache.Hit) (bool, error) {
	f.saves++
	if f.saveErr != nil {
		return false, f.saveErr
	}
	return hit == nil || !hit.Exact, nil
}

type mockPlatform struct {
	mock.Mock
}

func (m *mockPlatform) Link(ctx context.Context, project, service string) error {
	args := m.Called(ctx, project, service)
	return args.Error(0)
}

func (m *mockPlatform) SelectService(ctx context.Context, service string) error {
	args := m.Called(ctx, service)
	return args.Error(0)
}

func (m *mockPlatform) SetVariable(ctx context.Context, service, name, value string) error {
	args := m.Called(ctx, service, name, value)
	return args.Error(0)
}

func (m *mockPlatform) Publish(ctx context.Context, service string) error {
	args := m.Called(ctx, service)
	return args.Error(0)
}

func (m *mockPlatform) methods() []string {
	methods := make([]string, 0, len(m.Calls))
	for _, c := range m.Calls {
		methods = append(methods, c.Method)
	}
	return methods
}
