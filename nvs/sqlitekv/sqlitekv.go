//go:build !tinygo

// Package sqlitekv is a host-side nvs backend used by the simulator so
// session and counter state survive process restarts the way they survive
// power loss on the board.
package sqlitekv

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"tracker-go/nvs"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
    ns   TEXT NOT NULL,
    key  TEXT NOT NULL,
    val  BLOB NOT NULL,
    PRIMARY KEY (ns, key)
);
`

// Store implements nvs.Store on a single SQLite file.
type Store struct {
	db *sql.DB
}

var _ nvs.Store = (*Store)(nil)

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open nvs database: %w", err)
	}
	// One writer, like the flash it stands in for.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create nvs schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Get(ns, key string) ([]byte, error) {
	var val []byte
	err := s.db.QueryRow(`SELECT val FROM kv WHERE ns = ? AND key = ?`, ns, key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nvs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", ns, key, err)
	}
	return val, nil
}

func (s *Store) Put(ns, key string, val []byte) error {
	if val == nil {
		val = []byte{}
	}
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO kv (ns, key, val) VALUES (?, ?, ?)`, ns, key, val); err != nil {
		return fmt.Errorf("put %s/%s: %w", ns, key, err)
	}
	return nil
}

func (s *Store) EraseNamespace(ns string) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE ns = ?`, ns); err != nil {
		return fmt.Errorf("erase %s: %w", ns, err)
	}
	return nil
}
