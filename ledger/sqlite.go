package ledger

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/heliolabs/rollup/common"
)

// sqliteStore is an alternative durable backend keeping account records in a
// single SQLite table.
type sqliteStore struct {
	db *sql.DB
}

func NewSqliteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS accounts (id BLOB PRIMARY KEY, record BLOB NOT NULL)`)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Get(id common.Address) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT record FROM accounts WHERE id = ?`, id[:]).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return blob, nil
}

func (s *sqliteStore) Apply(entries []Entry) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if _, err := tx.Exec(
			`INSERT INTO accounts (id, record) VALUES (?, ?)
			 ON CONFLICT(id) DO UPDATE SET record = excluded.record`,
			entry.ID[:], entry.Blob,
		); err != nil {
			return errors.Join(
				fmt.Errorf("failed to stage account %s: %w", entry.ID, err),
				tx.Rollback(),
			)
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) ForEach(fn func(id common.Address, blob []byte) error) error {
	rows, err := s.db.Query(`SELECT id, record FROM accounts`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key, blob []byte
		if err := rows.Scan(&key, &blob); err != nil {
			return err
		}
		var id common.Address
		copy(id[:], key)
		if err := fn(id, blob); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
