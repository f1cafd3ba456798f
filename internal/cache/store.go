package cache

import (
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"time"
)

var ErrNotFound = errors.New("cache entry not found")

type Entry struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	CreatedOn time.Time `json:"created_on"`
	// Sequence orders writes that share a timestamp. Backends without a
	// write counter leave it zero.
	Sequence uint64 `json:"sequence"`
}

type Store interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Stat(ctx context.Context, key string) (*Entry, error)
	// Latest returns the most recently written entry whose key starts
	// with prefix.
	Latest(ctx context.Context, prefix string) (*Entry, error)
	List(ctx context.Context) ([]Entry, error)
	Delete(ctx context.Context, key string) error
}

// newer reports whether a was written after b. Equal timestamps fall back
// to the write sequence and then to the lexicographically greater key.
func newer(a, b Entry) bool {
	if !a.CreatedOn.Equal(b.CreatedOn) {
		return a.CreatedOn.After(b.CreatedOn)
	}
	if a.Sequence != b.Sequence {
		return a.Sequence > b.Sequence
	}
	return a.Key > b.Key
}

func latest(entries []Entry, prefix string) (*Entry, error) {
	var best *Entry
	for i := range entries {
		e := entries[i]
		if !strings.HasPrefix(e.Key, prefix) {
			continue
		}
		if best == nil || newer(e, *best) {
			best = &e
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

func sortNewestFirst(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return newer(entries[i], entries[j]) })
}
