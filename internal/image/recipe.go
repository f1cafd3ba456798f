// Package image renders and builds two-stage container images: a builder
// stage with the toolchain and a runtime stage holding only the artifact.
package image

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/goccy/go-yaml"
)

const builderStage = "builder"

var ErrToolchainInRuntime = errors.New("runtime stage installs toolchain packages")

var toolchainPackages = map[string]struct{}{
	"build-essential": {},
	"gcc":             {},
	"g++":             {},
	"clang":           {},
	"make":            {},
	"cmake":           {},
	"pkg-config":      {},
	"cargo":           {},
	"rustc":           {},
	"golang":          {},
	"go":              {},
	"musl-tools":      {},
}

// IsToolchainPackage reports whether pkg belongs in a builder stage only.
// Development headers (*-dev) count as toolchain.
func IsToolchainPackage(pkg string) bool {
	name, _, _ := strings.Cut(pkg, "=")
	if _, ok := toolchainPackages[name]; ok {
		return true
	}
	return strings.HasSuffix(name, "-dev")
}

type Recipe struct {
	Name    string       `yaml:"name"`
	Builder BuilderStage `yaml:"builder"`
	Runtime RuntimeStage `yaml:"runtime"`
}

type BuilderStage struct {
	Base     string   `yaml:"base"`
	Workdir  string   `yaml:"workdir"`
	Packages []string `yaml:"packages"`
	// Source is copied from the build context into Workdir. Defaults to
	// the whole context.
	Source   string   `yaml:"source"`
	Build    []string `yaml:"build"`
	Artifact string   `yaml:"artifact"`
}

type RuntimeStage struct {
	Base         string   `yaml:"base"`
	Packages     []string `yaml:"packages"`
	ArtifactPath string   `yaml:"artifact_path"`
	Entrypoint   []string `yaml:"entrypoint"`
}

func ParseRecipe(b []byte) (*Recipe, error) {
	r := new(Recipe)
	if err := yaml.Unmarshal(b, r); err != nil {
		return nil, fmt.Errorf("err unmarshaling image recipe: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func LoadRecipe(path string) (*Recipe, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r, err := ParseRecipe(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// pinned reports whether an image reference names a fixed tag or digest.
func pinned(ref string) bool {
	if strings.Contains(ref, "@sha256:") {
		return true
	}
	i := strings.LastIndex(ref, ":")
	if i < 0 || strings.Contains(ref[i:], "/") {
		return false
	}
	tag := ref[i+1:]
	return tag != "" && tag != "latest"
}

func (r *Recipe) Validate() error {
	var errs []error
	if !pinned(r.Builder.Base) {
		errs = append(errs, fmt.Errorf("builder base %q must be pinned to a version", r.Builder.Base))
	}
	if r.Runtime.Base == "" {
		errs = append(errs, errors.New("runtime base is required"))
	} else if !pinned(r.Runtime.Base) {
		errs = append(errs, fmt.Errorf("runtime base %q must be pinned to a version", r.Runtime.Base))
	}
	if len(r.Builder.Build) == 0 {
		errs = append(errs, errors.New("builder needs at least one build command"))
	}
	if !path.IsAbs(r.Builder.Artifact) {
		errs = append(errs, fmt.Errorf("builder artifact %q must be an absolute path", r.Builder.Artifact))
	}
	if !path.IsAbs(r.Runtime.ArtifactPath) {
		errs = append(errs, fmt.Errorf("runtime artifact_path %q must be an absolute path", r.Runtime.ArtifactPath))
	}
	for _, pkg := range r.Runtime.Packages {
		if IsToolchainPackage(pkg) {
			errs = append(errs, fmt.Errorf("%w: %s", ErrToolchainInRuntime, pkg))
		}
	}
	return errors.Join(errs...)
}

func (r *Recipe) workdir() string {
	if r.Builder.Workdir == "" {
		return "/src"
	}
	return r.Builder.Workdir
}

func (r *Recipe) entrypoint() []string {
	if len(r.Runtime.Entrypoint) == 0 {
		return []string{r.Runtime.ArtifactPath}
	}
	return r.Runtime.Entrypoint
}
