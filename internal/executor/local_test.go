package executor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLocalExecutor_Exec(t *testing.T) {
	t.Run("success - output is streamed line by line", func(t *testing.T) {
		// arrange
		ex := NewLocalExecutor()
		out := new(bytes.Buffer)

		// act
		err := ex.Exec(context.Background(), Command{
			Script: "echo first; echo second >&2; printf third",
		}, out)

		// assert
		assert.NoError(t, err)
		assert.Contains(t, out.String(), "first\n")
		assert.Contains(t, out.String(), "second\n")
		assert.Contains(t, out.String(), "third\n")
	})
	t.Run("success - command runs in dir with explicit env only", func(t *testing.T) {
		// arrange
		dir := t.TempDir()
		t.Setenv("SIMPLECD_AMBIENT_SECRET", "leaked")
		ex := NewLocalExecutor()
		out := new(bytes.Buffer)

		// act
		err := ex.Exec(context.Background(), Command{
			Dir:    dir,
			Script: `pwd; echo "token=$RUN_TOKEN"; echo "ambient=$SIMPLECD_AMBIENT_SECRET"`,
			Env:    []string{"RUN_TOKEN=abc123"},
		}, out)

		// assert
		require.NoError(t, err)
		resolved, _ := filepath.EvalSymlinks(dir)
		assert.Contains(t, out.String(), resolved)
		assert.Contains(t, out.String(), "token=abc123")
		assert.Contains(t, out.String(), "ambient=\n")
		_, ok := os.LookupEnv("RUN_TOKEN")
		assert.False(t, ok)
	})
	t.Run("failure - non-zero exit status", func(t *testing.T) {
		// arrange
		ex := NewLocalExecutor()

		// act
		err := ex.Exec(context.Background(), Command{Script: "exit 3"}, new(bytes.Buffer))

		// assert
		var exitErr *ExitError
		require.True(t, errors.As(err, &exitErr))
		assert.Equal(t, 3, exitErr.Code)
	})
	t.Run("failure - command times out", func(t *testing.T) {
		// arrange
		ex := NewLocalExecutor()
		start := time.Now()

		// act
		err := ex.Exec(context.Background(), Command{
			Script:  "sleep 10",
			Timeout: 200 * time.Millisecond,
		}, new(bytes.Buffer))

		// assert
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Less(t, time.Since(start), 8*time.Second)
	})
	t.Run("failure - command is cancelled", func(t *testing.T) {
		// arrange
		ex := NewLocalExecutor()
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(200*time.Millisecond, cancel)

		// act
		err := ex.Exec(ctx, Command{Script: "sleep 10"}, new(bytes.Buffer))

		// assert
		var cancelErr RunCancelError
		assert.True(t, errors.As(err, &cancelErr))
	})
}

func TestLocalFS(t *testing.T) {
	t.Run("success - walk and glob use slash paths", func(t *testing.T) {
		// arrange
		fsys := LocalFS{}
		root := filepath.ToSlash(t.TempDir())
		require.NoError(t, fsys.MkdirAll(root+"/a/b", 0755))
		w, err := fsys.Create(root + "/a/b/file.txt")
		require.NoError(t, err)
		_, _ = w.Write([]byte("content"))
		require.NoError(t, w.Close())
		w, err = fsys.Create(root + "/go.sum")
		require.NoError(t, err)
		require.NoError(t, w.Close())

		// act
		var walked []string
		err = fsys.Walk(root+"/a", func(p string, info os.FileInfo) error {
			if !info.IsDir() {
				walked = append(walked, p)
			}
			return nil
		})
		matches, globErr := fsys.Glob(root + "/*.sum")

		// assert
		assert.NoError(t, err)
		assert.NoError(t, globErr)
		assert.Equal(t, []string{root + "/a/b/file.txt"}, walked)
		assert.Equal(t, []string{root + "/go.sum"}, matches)
	})
}

func TestLineWriter(t *testing.T) {
	t.Run("success - partial writes are joined into lines", func(t *testing.T) {
		// arrange
		out := new(bytes.Buffer)
		lw := newLineWriter(out)

		// act
		_, _ = lw.Write([]byte("hel"))
		before := out.String()
		_, _ = lw.Write([]byte("lo\nwor"))
		_ = lw.Flush()

		// assert
		assert.Equal(t, "", before)
		assert.Equal(t, "hello\nwor\n", out.String())
	})
}
