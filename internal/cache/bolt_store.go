package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.etcd.io/bbolt"
)

var (
	entriesBucket = []byte("entries")
	blobsBucket   = []byte("blobs")
)

// BoltStore keeps cache entries in a single bbolt file on the orchestrator
// host. Archives are held in memory while they are written.
type BoltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("err opening cache database: %w", err)
	}
	s, err := NewBoltStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func NewBoltStore(db *bbolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(entriesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(blobsBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("err creating cache buckets: %w", err)
	}
	return &BoltStore{db: db, now: time.Now}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var blob []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(blobsBucket).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// v is only valid for the lifetime of the transaction
		blob = bytes.Clone(v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(blob)), nil
}

func (s *BoltStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	blob, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("err reading cache archive: %w", err)
	}
	if size >= 0 && int64(len(blob)) != size {
		return fmt.Errorf("cache archive is %d bytes, expected %d", len(blob), size)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		entries := tx.Bucket(entriesBucket)
		seq, err := entries.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(Entry{
			Key:       key,
			Size:      int64(len(blob)),
			CreatedOn: s.now().UTC(),
			Sequence:  seq,
		})
		if err != nil {
			return err
		}
		if err := entries.Put([]byte(key), data); err != nil {
			return err
		}
		return tx.Bucket(blobsBucket).Put([]byte(key), blob)
	})
}

func (s *BoltStore) Stat(ctx context.Context, key string) (*Entry, error) {
	var e Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(entriesBucket).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &e)
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *BoltStore) Latest(ctx context.Context, prefix string) (*Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(entriesBucket).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return latest(entries, prefix)
}

func (s *BoltStore) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(entriesBucket).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(entries)
	return entries, nil
}

func (s *BoltStore) Delete(ctx context.Context, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(entriesBucket).Get([]byte(key)) == nil {
			return ErrNotFound
		}
		if err := tx.Bucket(entriesBucket).Delete([]byte(key)); err != nil {
			return err
		}
		return tx.Bucket(blobsBucket).Delete([]byte(key))
	})
}
