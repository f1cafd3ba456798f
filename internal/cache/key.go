// Package cache keeps dependency directories between runs, keyed by a
// digest of the dependency manifests.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"runtime"
	"sort"
	"strings"

	"github.com/haatos/simple-cd/internal/types"
)

var ErrNoManifests = errors.New("no dependency manifest matched")

// Key identifies one immutable cache entry.
type Key struct {
	Platform string
	Name     string
	Digest   string
}

// Prefix is the part of the key shared by every entry of the same platform
// and cache name. It is the default fallback restore key.
func (k Key) Prefix() string {
	if k.Name == "" {
		return k.Platform + "-"
	}
	return k.Platform + "-" + k.Name + "-"
}

func (k Key) String() string {
	return k.Prefix() + k.Digest
}

func (k Key) IsZero() bool {
	return k == Key{}
}

// Files is the read side of executor.FileSystem that key computation needs.
type Files interface {
	Open(name string) (io.ReadCloser, error)
	Glob(pattern string) ([]string, error)
}

// ComputeKey hashes the manifests matched by spec under root. Matches are
// sorted so that the key only depends on their paths and content.
func ComputeKey(fs Files, root string, spec *types.CacheSpec) (Key, error) {
	platform := spec.Platform
	if platform == "" {
		platform = runtime.GOOS
	}

	seen := make(map[string]struct{})
	var files []string
	for _, pattern := range spec.Manifests {
		matches, err := fs.Glob(path.Join(root, pattern))
		if err != nil {
			return Key{}, fmt.Errorf("err matching manifest pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			if _, ok := seen[m]; !ok {
				seen[m] = struct{}{}
				files = append(files, m)
			}
		}
	}
	if len(files) == 0 {
		return Key{}, fmt.Errorf("%w: %s", ErrNoManifests, strings.Join(spec.Manifests, ", "))
	}
	sort.Strings(files)

	h := sha256.New()
	for _, f := range files {
		digest, err := fileDigest(fs, f)
		if err != nil {
			return Key{}, err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(f, root), "/")
		fmt.Fprintf(h, "%s\x00%s\n", rel, digest)
	}
	return Key{
		Platform: platform,
		Name:     spec.Name,
		Digest:   hex.EncodeToString(h.Sum(nil)),
	}, nil
}

func fileDigest(fs Files, name string) (string, error) {
	f, err := fs.Open(name)
	if err != nil {
		return "", fmt.Errorf("err opening manifest: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("err hashing manifest %s: %w", name, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
