package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/ZentaChain/zentalk-icq/pkg/crypto"
)

// Owner is the account the client logs on as
type Owner struct {
	AccountID string
	Password  string
}

// SaveOwner stores the owner account with its password sealed
func (s *DB) SaveOwner(o Owner) error {
	if s.key == nil {
		return ErrDatabaseLocked
	}
	sealed, err := crypto.Seal([]byte(o.Password), s.key)
	if err != nil {
		return fmt.Errorf("failed to seal password: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO owner (id, account_id, password) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			account_id = excluded.account_id,
			password = excluded.password,
			updated_at = strftime('%s', 'now')
	`, o.AccountID, sealed)
	return err
}

// Owner returns the stored owner, or ErrNotFound before one is saved
func (s *DB) Owner() (Owner, error) {
	if s.key == nil {
		return Owner{}, ErrDatabaseLocked
	}
	var o Owner
	var sealed []byte
	err := s.db.QueryRow(`SELECT account_id, password FROM owner WHERE id = 1`).Scan(&o.AccountID, &sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return Owner{}, ErrNotFound
	}
	if err != nil {
		return Owner{}, err
	}
	password, err := crypto.Open(sealed, s.key)
	if err != nil {
		return Owner{}, ErrInvalidPassword
	}
	o.Password = string(password)
	return o, nil
}
