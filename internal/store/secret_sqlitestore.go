package store

import (
	"context"
	"database/sql"

	"github.com/georgysavva/scany/v2/sqlscan"
)

type SecretSQLiteStore struct {
	rdb, rwdb *sql.DB
}

func NewSecretSQLiteStore(rdb, rwdb *sql.DB) *SecretSQLiteStore {
	return &SecretSQLiteStore{rdb, rwdb}
}

func (store *SecretSQLiteStore) UpsertSecret(ctx context.Context, name, valueHash string) (*Secret, error) {
	s := &Secret{Name: name, ValueHash: valueHash}
	query := `insert into secrets (name, value_hash)
	values ($1, $2)
	on conflict (name) do update
	set value_hash = excluded.value_hash,
		updated_on = current_timestamp
	returning secret_id, created_on, updated_on`
	if err := sqlscan.Get(ctx, store.rwdb, s, query, s.Name, s.ValueHash); err != nil {
		return nil, err
	}
	return s, nil
}

func (store *SecretSQLiteStore) ReadSecretByName(ctx context.Context, name string) (*Secret, error) {
	s := new(Secret)
	query := `select * from secrets where name = $1`
	if err := sqlscan.Get(ctx, store.rdb, s, query, name); err != nil {
		return nil, err
	}
	return s, nil
}

func (store *SecretSQLiteStore) DeleteSecret(ctx context.Context, name string) error {
	query := `delete from secrets where name = $1`
	res, err := store.rwdb.ExecContext(ctx, query, name)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListSecrets returns secret metadata without the encrypted values.
func (store *SecretSQLiteStore) ListSecrets(ctx context.Context) ([]*Secret, error) {
	query := `select secret_id, name, created_on, updated_on
	from secrets
	order by name`
	secrets := make([]*Secret, 0)
	err := sqlscan.Select(ctx, store.rdb, &secrets, query)
	return secrets, err
}
