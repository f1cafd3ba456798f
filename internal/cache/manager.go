package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/haatos/simple-cd/internal/executor"
	"github.com/haatos/simple-cd/internal/types"
	"go.uber.org/zap"
)

// Hit describes the entry a restore was served from.
type Hit struct {
	Key   string
	Exact bool
}

type Manager struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

func NewManager(store Store, logger *zap.Logger) *Manager {
	return &Manager{store: store, logger: logger, now: time.Now}
}

func (m *Manager) Store() Store {
	return m.store
}

// Restore looks up the exact key first and then each restore key prefix
// in order, taking the most recently written entry under that prefix.
// A miss returns a nil Hit and no error.
func (m *Manager) Restore(ctx context.Context, fs executor.FileSystem, root string, key Key, spec *types.CacheSpec) (*Hit, error) {
	if _, err := m.store.Stat(ctx, key.String()); err == nil {
		if err := m.restore(ctx, fs, root, key.String(), spec); err != nil {
			return nil, err
		}
		return &Hit{Key: key.String(), Exact: true}, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("err looking up cache key %s: %w", key, err)
	}

	prefixes := spec.RestoreKeys
	if len(prefixes) == 0 {
		prefixes = []string{key.Prefix()}
	}
	for _, prefix := range prefixes {
		entry, err := m.store.Latest(ctx, prefix)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("err looking up restore key %s: %w", prefix, err)
		}
		if err := m.restore(ctx, fs, root, entry.Key, spec); err != nil {
			return nil, err
		}
		return &Hit{Key: entry.Key, Exact: false}, nil
	}
	return nil, nil
}

// restore unpacks the entry stored under key into root. When extraction
// fails partway the cache paths are removed again so the run continues
// from a clean checkout instead of a half restored one.
func (m *Manager) restore(ctx context.Context, fs executor.FileSystem, root, key string, spec *types.CacheSpec) error {
	rc, err := m.store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("err downloading cache %s: %w", key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("err downloading cache %s: %w", key, err)
	}
	if err := extractArchive(fs, root, data); err != nil {
		return errors.Join(err, discardPaths(fs, root, spec.Paths))
	}
	m.logger.Debug("cache restored", zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}

func discardPaths(fs executor.FileSystem, root string, paths []string) error {
	var errs []error
	for _, p := range paths {
		rel, err := cleanRelative(p)
		if err != nil {
			continue
		}
		if err := fs.RemoveAll(path.Join(root, rel)); err != nil {
			errs = append(errs, fmt.Errorf("err removing partial cache %s: %w", rel, err))
		}
	}
	return errors.Join(errs...)
}

// Save archives spec.Paths under key. Keys are immutable: nothing is
// written after an exact hit or when the key already exists.
func (m *Manager) Save(ctx context.Context, fs executor.FileSystem, root string, key Key, spec *types.CacheSpec, hit *Hit) (bool, error) {
	if hit != nil && hit.Exact {
		return false, nil
	}
	if _, err := m.store.Stat(ctx, key.String()); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("err looking up cache key %s: %w", key, err)
	}

	buf := new(bytes.Buffer)
	files, err := writeArchive(fs, root, spec.Paths, buf)
	if err != nil {
		return false, err
	}
	if files == 0 {
		return false, nil
	}
	if err := m.store.Put(ctx, key.String(), buf, int64(buf.Len())); err != nil {
		return false, fmt.Errorf("err uploading cache %s: %w", key, err)
	}
	m.logger.Debug("cache saved", zap.String("key", key.String()), zap.Int("files", files))
	return true, nil
}

// Prune deletes entries written more than maxAge ago.
func (m *Manager) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := m.store.List(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := m.now().Add(-maxAge)
	deleted := 0
	var errs []error
	for _, e := range entries {
		if !e.CreatedOn.Before(cutoff) {
			continue
		}
		if err := m.store.Delete(ctx, e.Key); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}

// ValidatePaths rejects cache paths outside the checkout.
func ValidatePaths(spec *types.CacheSpec) error {
	var errs []error
	for _, p := range spec.Paths {
		if _, err := cleanRelative(p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
