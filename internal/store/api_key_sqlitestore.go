package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
)

func NewAPIKeySQLiteStore(rdb, rwdb *sql.DB) *APIKeySQLiteStore {
	return &APIKeySQLiteStore{rdb, rwdb}
}

type APIKeySQLiteStore struct {
	rdb, rwdb *sql.DB
}

func (store *APIKeySQLiteStore) CreateAPIKey(ctx context.Context, valueHash string) (*APIKey, error) {
	key := &APIKey{ValueHash: valueHash}
	query := `insert into api_keys (value_hash) values ($1) returning id, created_on`
	if err := sqlscan.Get(ctx, store.rwdb, key, query, valueHash); err != nil {
		return nil, err
	}
	return key, nil
}

func (store *APIKeySQLiteStore) ReadAPIKeyByID(ctx context.Context, id int64) (*APIKey, error) {
	key := new(APIKey)
	query := `select * from api_keys where id = $1`
	if err := sqlscan.Get(ctx, store.rdb, key, query, id); err != nil {
		return nil, err
	}
	return key, nil
}

func (store *APIKeySQLiteStore) ReadAPIKeyByValueHash(
	ctx context.Context,
	valueHash string,
) (*APIKey, error) {
	key := new(APIKey)
	query := `select * from api_keys where value_hash = $1`
	if err := sqlscan.Get(ctx, store.rdb, key, query, valueHash); err != nil {
		return nil, err
	}
	return key, nil
}

func (store *APIKeySQLiteStore) UpdateAPIKeyLastUsedOn(ctx context.Context, id int64, t time.Time) error {
	query := `update api_keys set last_used_on = $1 where id = $2`
	_, err := store.rwdb.ExecContext(ctx, query, dbTime(t), id)
	return err
}

// DeleteAPIKey returns sql.ErrNoRows for an unknown id.
func (store *APIKeySQLiteStore) DeleteAPIKey(ctx context.Context, id int64) error {
	res, err := store.rwdb.ExecContext(ctx, `delete from api_keys where id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (store *APIKeySQLiteStore) ListAPIKeys(ctx context.Context) ([]*APIKey, error) {
	query := `select id, created_on, last_used_on from api_keys order by id`
	keys := make([]*APIKey, 0)
	err := sqlscan.Select(ctx, store.rdb, &keys, query)
	return keys, err
}
