package image

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haatos/simple-cd/internal/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func rustRecipe() *Recipe {
	return &Recipe{
		Name: "service",
		Builder: BuilderStage{
			Base:     "rust:1.81-bookworm",
			Packages: []string{"pkg-config", "libssl-dev"},
			Build:    []string{"cargo build --release"},
			Artifact: "/src/target/release/service",
		},
		Runtime: RuntimeStage{
			Base:         "debian:bookworm-slim",
			Packages:     []string{"ca-certificates"},
			ArtifactPath: "/usr/local/bin/service",
		},
	}
}

func TestRecipe_Validate(t *testing.T) {
	t.Run("success - pinned bases and minimal runtime", func(t *testing.T) {
		assert.NoError(t, rustRecipe().Validate())
	})
	t.Run("failure - unpinned builder base", func(t *testing.T) {
		for _, base := range []string{"rust", "rust:latest", "registry:5000/rust"} {
			r := rustRecipe()
			r.Builder.Base = base
			assert.Error(t, r.Validate(), base)
		}
	})
	t.Run("failure - toolchain packages in runtime", func(t *testing.T) {
		// arrange
		r := rustRecipe()
		r.Runtime.Packages = []string{"ca-certificates", "build-essential", "libssl-dev"}

		// act
		err := r.Validate()

		// assert
		assert.ErrorIs(t, err, ErrToolchainInRuntime)
		assert.Contains(t, err.Error(), "build-essential")
		assert.Contains(t, err.Error(), "libssl-dev")
	})
	t.Run("failure - relative artifact path", func(t *testing.T) {
		r := rustRecipe()
		r.Runtime.ArtifactPath = "bin/service"
		assert.Error(t, r.Validate())
	})
}

func TestRecipe_Dockerfile(t *testing.T) {
	// act
	dockerfile := rustRecipe().Dockerfile()
	stages, err := Inspect(dockerfile)

	// assert
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, "builder", stages[0].Name)
	assert.Equal(t, []string{"pkg-config", "libssl-dev"}, stages[0].Packages)
	assert.Equal(t, "debian:bookworm-slim", stages[1].Base)
	assert.Equal(t, []Copy{{From: "builder", Src: []string{"/src/target/release/service"}, Dst: "/usr/local/bin/service"}}, stages[1].Copies)
	assert.Equal(t, []string{"ca-certificates"}, stages[1].Packages)
	assert.Contains(t, dockerfile, `ENTRYPOINT ["/usr/local/bin/service"]`)
	assert.NoError(t, CheckIsolation(dockerfile))
}

func TestInspect(t *testing.T) {
	t.Run("success - platform flag and stage name", func(t *testing.T) {
		// arrange
		dockerfile := "ARG RUST=1.79\nFROM --platform=linux/amd64 rust:1.79 AS builder\nRUN apt-get -y install musl-tools && cargo build\nFROM scratch\nCOPY --from=builder /out/app /app\n"

		// act
		stages, err := Inspect(dockerfile)

		// assert
		require.NoError(t, err)
		require.Len(t, stages, 2)
		assert.Equal(t, "rust:1.79", stages[0].Base)
		assert.Equal(t, "builder", stages[0].Name)
		assert.Equal(t, "linux/amd64", stages[0].Platform)
		assert.Equal(t, []string{"musl-tools"}, stages[0].Packages)
		assert.Equal(t, "scratch", stages[1].Base)
	})
	t.Run("failure - instruction before FROM", func(t *testing.T) {
		// act
		_, err := Inspect("RUN echo hi\nFROM debian:bookworm-slim\n")

		// assert
		assert.Error(t, err)
	})
}

func TestCheckIsolation(t *testing.T) {
	t.Run("failure - runtime stage copies the source tree", func(t *testing.T) {
		dockerfile := "FROM rust:1.81 AS builder\nCOPY . .\nRUN cargo build\n\nFROM debian:bookworm-slim\nCOPY . /app\nCOPY --from=builder /src/target/release/app /app\n"
		assert.Error(t, CheckIsolation(dockerfile))
	})
	t.Run("failure - runtime stage installs a compiler", func(t *testing.T) {
		dockerfile := "FROM rust:1.81 AS builder\nRUN cargo build\nFROM debian:bookworm-slim\nRUN apt-get update && \\\n    apt-get install -y gcc\nCOPY --from=builder /a /a\n"
		assert.ErrorIs(t, CheckIsolation(dockerfile), ErrToolchainInRuntime)
	})
	t.Run("failure - exec form install of a compiler", func(t *testing.T) {
		dockerfile := "FROM rust:1.81 AS builder\nRUN cargo build\nFROM debian:bookworm-slim\nRUN [\"apt-get\", \"install\", \"-y\", \"gcc\"]\nCOPY --from=builder /a /a\n"
		assert.ErrorIs(t, CheckIsolation(dockerfile), ErrToolchainInRuntime)
	})
	t.Run("failure - heredoc install of a compiler", func(t *testing.T) {
		dockerfile := "FROM rust:1.81 AS builder\nRUN cargo build\nFROM debian:bookworm-slim\nRUN <<EOF\napt-get update\napt-get install -y clang\nEOF\nCOPY --from=builder /a /a\n"
		assert.ErrorIs(t, CheckIsolation(dockerfile), ErrToolchainInRuntime)
	})
	t.Run("failure - artifact copied from an external image", func(t *testing.T) {
		dockerfile := "FROM rust:1.81 AS builder\nRUN cargo build\nFROM debian:bookworm-slim\nCOPY --from=rust:1.81 /usr/local/cargo/bin/cargo /cargo\n"
		assert.Error(t, CheckIsolation(dockerfile))
	})
	t.Run("success - stage referenced by index", func(t *testing.T) {
		dockerfile := "FROM rust:1.81\nRUN cargo build\nFROM debian:bookworm-slim\nCOPY --from=0 /a /a\n"
		assert.NoError(t, CheckIsolation(dockerfile))
	})
	t.Run("failure - single stage", func(t *testing.T) {
		assert.Error(t, CheckIsolation("FROM rust:1.81\nCOPY . .\n"))
	})
	t.Run("success - repository Dockerfile is isolated", func(t *testing.T) {
		b, err := os.ReadFile("../../Dockerfile")
		require.NoError(t, err)
		assert.NoError(t, CheckIsolation(string(b)))
	})
}

func TestLoadRecipe(t *testing.T) {
	// act
	r, err := LoadRecipe("../../pipelines/image.yml")

	// assert
	require.NoError(t, err)
	assert.Equal(t, "golang:1.25-bookworm", r.Builder.Base)
	assert.Equal(t, "/usr/local/bin/server", r.Runtime.ArtifactPath)
	assert.NoError(t, CheckIsolation(r.Dockerfile()))
}

type recordingExecutor struct {
	scripts    []string
	dockerfile string
	fail       error
}

func (e *recordingExecutor) Exec(_ context.Context, c executor.Command, _ io.Writer) error {
	e.scripts = append(e.scripts, c.Script)
	if strings.HasPrefix(c.Script, "docker build") {
		b, _ := os.ReadFile(filepath.Join(c.Dir, DockerfileName))
		e.dockerfile = string(b)
	}
	if strings.HasPrefix(c.Script, "docker push") {
		return e.fail
	}
	return nil
}

func (e *recordingExecutor) FS() executor.FileSystem { return executor.LocalFS{} }
func (e *recordingExecutor) Close() error            { return nil }

func TestBuilder_Build(t *testing.T) {
	t.Run("success - build and push", func(t *testing.T) {
		// arrange
		ex := &recordingExecutor{}
		dir := t.TempDir()
		b := NewBuilder(ex, zap.NewNop())

		// act
		err := b.Build(context.Background(), rustRecipe(), BuildOptions{
			ContextDir: dir, Tag: "registry.example.com/service:abc123", Push: true,
		}, new(bytes.Buffer))

		// assert
		require.NoError(t, err)
		assert.Equal(t, []string{
			"docker build --file Dockerfile.simplecd --tag registry.example.com/service:abc123 .",
			"docker push registry.example.com/service:abc123",
		}, ex.scripts)
		assert.Equal(t, rustRecipe().Dockerfile(), ex.dockerfile)
		_, statErr := os.Stat(filepath.Join(dir, DockerfileName))
		assert.True(t, os.IsNotExist(statErr))
	})
	t.Run("failure - registry failure is fatal", func(t *testing.T) {
		// arrange
		ex := &recordingExecutor{fail: errors.New("denied")}
		b := NewBuilder(ex, zap.NewNop())

		// act
		err := b.Build(context.Background(), rustRecipe(), BuildOptions{
			ContextDir: t.TempDir(), Tag: "registry.example.com/service:abc123", Push: true,
		}, new(bytes.Buffer))

		// assert
		assert.ErrorContains(t, err, "denied")
	})
}
