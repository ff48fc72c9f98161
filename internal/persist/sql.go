package persist

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cenkalti/backoff/v4"
)

// sqlBackend is the shared implementation behind both the mysql and dolt
// factories: both speak database/sql against a driver that is
// MySQL-wire-compatible (go-sql-driver/mysql directly for "mysql",
// dolthub/driver's "dolt" driver name for "dolt"), so the column-family
// layout and statements are identical — only the registered driver name and
// DSN dialect differ.
type sqlBackend struct {
	db    *sql.DB
	table string
	secondary []string
}

func openSQLBackend(ctx context.Context, driverName string, opts Options) (Backend, error) {
	db, err := sql.Open(driverName, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("persist: open %s: %w", driverName, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("persist: ping %s: %w", driverName, err)
	}

	b := &sqlBackend{db: db, table: opts.Table, secondary: opts.SecondaryIndexNames}
	if err := b.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *sqlBackend) ensureSchema(ctx context.Context) error {
	primary := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS `%s_primary` (pk VARBINARY(767) PRIMARY KEY, v BLOB NOT NULL)",
		b.table)
	if _, err := b.db.ExecContext(ctx, primary); err != nil {
		return fmt.Errorf("persist: create primary column family: %w", err)
	}
	for _, idx := range b.secondary {
		stmt := fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS `%s_idx_%s` (sk VARBINARY(767), pk VARBINARY(767) NOT NULL, PRIMARY KEY (sk, pk))",
			b.table, idx)
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("persist: create secondary column family %s: %w", idx, err)
		}
	}
	meta := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS `%s_meta` (k VARCHAR(64) PRIMARY KEY, v BIGINT NOT NULL)",
		b.table)
	if _, err := b.db.ExecContext(ctx, meta); err != nil {
		return fmt.Errorf("persist: create meta column family: %w", err)
	}
	return nil
}

// withRetry wraps a write in an exponential backoff retry loop so a
// transient connection blip doesn't surface as a PersistenceError the first
// time; matches the teacher's reconnect-on-transient-failure posture
// (internal/storage/factory's IdleTimeout/LockTimeout handling) using the
// same backoff/v4 package internal/router uses for transport reconnects.
func withRetry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(op, policy)
}

func (b *sqlBackend) Put(ctx context.Context, row Row) error {
	return withRetry(ctx, func() error {
		tx, err := b.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		upsert := fmt.Sprintf(
			"INSERT INTO `%s_primary` (pk, v) VALUES (?, ?) ON DUPLICATE KEY UPDATE v = VALUES(v)", b.table)
		if _, err := tx.ExecContext(ctx, upsert, row.PrimaryKey, row.Value); err != nil {
			return err
		}
		for name, key := range row.SecondaryKeys {
			stmt := fmt.Sprintf(
				"INSERT IGNORE INTO `%s_idx_%s` (sk, pk) VALUES (?, ?)", b.table, name)
			if _, err := tx.ExecContext(ctx, stmt, key, row.PrimaryKey); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

func (b *sqlBackend) Delete(ctx context.Context, primaryKey []byte) error {
	return withRetry(ctx, func() error {
		tx, err := b.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, name := range b.secondary {
			stmt := fmt.Sprintf("DELETE FROM `%s_idx_%s` WHERE pk = ?", b.table, name)
			if _, err := tx.ExecContext(ctx, stmt, primaryKey); err != nil {
				return err
			}
		}
		stmt := fmt.Sprintf("DELETE FROM `%s_primary` WHERE pk = ?", b.table)
		if _, err := tx.ExecContext(ctx, stmt, primaryKey); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func (b *sqlBackend) Get(ctx context.Context, primaryKey []byte) ([]byte, bool, error) {
	stmt := fmt.Sprintf("SELECT v FROM `%s_primary` WHERE pk = ?", b.table)
	var v []byte
	err := b.db.QueryRowContext(ctx, stmt, primaryKey).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("persist: get: %w", err)
	}
	return v, true, nil
}

func (b *sqlBackend) GetBySecondary(ctx context.Context, index string, key []byte) ([][]byte, error) {
	stmt := fmt.Sprintf("SELECT pk FROM `%s_idx_%s` WHERE sk = ?", b.table, index)
	rows, err := b.db.QueryContext(ctx, stmt, key)
	if err != nil {
		return nil, fmt.Errorf("persist: get by secondary %s: %w", index, err)
	}
	defer rows.Close()

	var pks [][]byte
	for rows.Next() {
		var pk []byte
		if err := rows.Scan(&pk); err != nil {
			return nil, err
		}
		pks = append(pks, pk)
	}
	var out [][]byte
	for _, pk := range pks {
		if v, ok, err := b.Get(ctx, pk); err != nil {
			return nil, err
		} else if ok {
			out = append(out, v)
		}
	}
	return out, rows.Err()
}

func (b *sqlBackend) Scan(ctx context.Context, fn func(primaryKey, value []byte) error) error {
	stmt := fmt.Sprintf("SELECT pk, v FROM `%s_primary` ORDER BY pk", b.table)
	rows, err := b.db.QueryContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("persist: scan: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var pk, v []byte
		if err := rows.Scan(&pk, &v); err != nil {
			return err
		}
		if err := fn(pk, v); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (b *sqlBackend) ReplicationOffset(ctx context.Context) (uint64, error) {
	stmt := fmt.Sprintf("SELECT v FROM `%s_meta` WHERE k = 'replication_offset'", b.table)
	var v int64
	err := b.db.QueryRowContext(ctx, stmt).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("persist: replication offset: %w", err)
	}
	return uint64(v), nil
}

func (b *sqlBackend) SetReplicationOffset(ctx context.Context, offset uint64) error {
	stmt := fmt.Sprintf(
		"INSERT INTO `%s_meta` (k, v) VALUES ('replication_offset', ?) ON DUPLICATE KEY UPDATE v = VALUES(v)",
		b.table)
	_, err := b.db.ExecContext(ctx, stmt, int64(offset))
	return err
}

func (b *sqlBackend) Close() error { return b.db.Close() }
