package storage

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ZentaChain/zentalk-icq/pkg/crypto"
	"github.com/ZentaChain/zentalk-icq/pkg/roster"
)

var (
	// ErrNotFound is the roster sentinel so callers can match either
	ErrNotFound        = roster.ErrNotFound
	ErrInvalidPassword = errors.New("invalid password")
	ErrDatabaseLocked  = errors.New("database locked")
)

// DB is a SQLite roster.Store. The owner credentials are sealed with a key
// derived from the passphrase given to Open.
type DB struct {
	db  *sql.DB
	key []byte // nil without a passphrase
}

var _ roster.Store = (*DB)(nil)

// Open opens or creates the database at path. An empty passphrase opens
// the roster tables only; the owner record stays locked.
func Open(path string, passphrase string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under concurrent use
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &DB{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	if passphrase != "" {
		if s.key, err = s.unlock(passphrase); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// unlock derives the sealing key. The first unlock stores the salt and a
// key check tag; later ones must reproduce it.
func (s *DB) unlock(passphrase string) ([]byte, error) {
	var salt, check []byte
	err := s.db.QueryRow(`SELECT salt, key_check FROM keyring WHERE id = 1`).Scan(&salt, &check)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if salt, err = crypto.GenerateSalt(); err != nil {
			return nil, err
		}
		key := crypto.DeriveKey(passphrase, salt)
		sum, err := crypto.KeyCheck(key)
		if err != nil {
			return nil, err
		}
		if _, err := s.db.Exec(`INSERT INTO keyring (id, salt, key_check) VALUES (1, ?, ?)`, salt, sum); err != nil {
			return nil, fmt.Errorf("failed to store keyring: %w", err)
		}
		return key, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read keyring: %w", err)
	}

	key := crypto.DeriveKey(passphrase, salt)
	ok, err := crypto.VerifyKeyCheck(key, check)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidPassword
	}
	return key, nil
}

// initSchema creates database tables
func (s *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS contacts (
		account_id TEXT PRIMARY KEY,
		alias TEXT NOT NULL DEFAULT '',
		cellular TEXT NOT NULL DEFAULT '',
		gsid INTEGER NOT NULL DEFAULT 0,
		normal_sid INTEGER NOT NULL DEFAULT 0,
		visible_sid INTEGER NOT NULL DEFAULT 0,
		invisible_sid INTEGER NOT NULL DEFAULT 0,
		ignore_sid INTEGER NOT NULL DEFAULT 0,
		in_ignore_list INTEGER NOT NULL DEFAULT 0,
		awaiting_auth INTEGER NOT NULL DEFAULT 0,
		synced INTEGER NOT NULL DEFAULT 0,
		tlvs BLOB,
		presence BLOB
	);

	CREATE TABLE IF NOT EXISTS groups (
		gsid INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		sort_order INTEGER NOT NULL DEFAULT 0,
		on_server INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS sync_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		list_time INTEGER NOT NULL,
		list_count INTEGER NOT NULL,
		synced INTEGER NOT NULL,
		top_level INTEGER NOT NULL,
		pdinfo_sid INTEGER NOT NULL,
		privacy INTEGER NOT NULL,
		last_change INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS keyring (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		salt BLOB NOT NULL,
		key_check BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS owner (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		account_id TEXT NOT NULL,
		password BLOB NOT NULL,
		updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_contacts_gsid ON contacts(gsid);
	CREATE INDEX IF NOT EXISTS idx_groups_name ON groups(name);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *DB) Close() error {
	return s.db.Close()
}
