package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/ZentaChain/zentalk-icq/pkg/roster"
)

const contactColumns = `account_id, alias, cellular, gsid, normal_sid, visible_sid,
	invisible_sid, ignore_sid, in_ignore_list, awaiting_auth, synced, tlvs, presence`

type scanner interface {
	Scan(dest ...any) error
}

func scanContact(row scanner) (*roster.Contact, error) {
	var (
		c                        roster.Contact
		ignore, awaiting, synced int
		tlvs, presence           []byte
	)
	err := row.Scan(
		&c.AccountID,
		&c.Alias,
		&c.Cellular,
		&c.GSID,
		&c.NormalSID,
		&c.VisibleSID,
		&c.InvisibleSID,
		&c.IgnoreSID,
		&ignore,
		&awaiting,
		&synced,
		&tlvs,
		&presence,
	)
	if err != nil {
		return nil, err
	}
	c.InIgnoreList = intToBool(ignore)
	c.AwaitingAuth = intToBool(awaiting)
	c.Synced = intToBool(synced)

	if c.TLVs, err = decodeTLVs(tlvs); err != nil {
		return nil, fmt.Errorf("contact %s: bad attribute block: %w", c.AccountID, err)
	}
	if c.Presence, err = decodePresence(presence); err != nil {
		return nil, fmt.Errorf("contact %s: bad presence: %w", c.AccountID, err)
	}
	return &c, nil
}

// Contacts returns every contact ordered by account id
func (s *DB) Contacts() ([]*roster.Contact, error) {
	rows, err := s.db.Query(`SELECT ` + contactColumns + ` FROM contacts ORDER BY account_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []*roster.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// Contact retrieves a contact by account id
func (s *DB) Contact(accountID string) (*roster.Contact, error) {
	row := s.db.QueryRow(`SELECT `+contactColumns+` FROM contacts WHERE account_id = ?`, accountID)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// SaveContact adds or updates a contact
func (s *DB) SaveContact(c *roster.Contact) error {
	tlvs, err := encodeTLVs(c.TLVs)
	if err != nil {
		return fmt.Errorf("failed to encode attribute block: %w", err)
	}
	presence, err := encodePresence(c.Presence)
	if err != nil {
		return fmt.Errorf("failed to encode presence: %w", err)
	}

	query := `
		INSERT INTO contacts (` + contactColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			alias = excluded.alias,
			cellular = excluded.cellular,
			gsid = excluded.gsid,
			normal_sid = excluded.normal_sid,
			visible_sid = excluded.visible_sid,
			invisible_sid = excluded.invisible_sid,
			ignore_sid = excluded.ignore_sid,
			in_ignore_list = excluded.in_ignore_list,
			awaiting_auth = excluded.awaiting_auth,
			synced = excluded.synced,
			tlvs = excluded.tlvs,
			presence = excluded.presence
	`
	_, err = s.db.Exec(
		query,
		c.AccountID,
		c.Alias,
		c.Cellular,
		c.GSID,
		c.NormalSID,
		c.VisibleSID,
		c.InvisibleSID,
		c.IgnoreSID,
		boolToInt(c.InIgnoreList),
		boolToInt(c.AwaitingAuth),
		boolToInt(c.Synced),
		tlvs,
		presence,
	)
	return err
}

// DeleteContact removes a contact
func (s *DB) DeleteContact(accountID string) error {
	res, err := s.db.Exec(`DELETE FROM contacts WHERE account_id = ?`, accountID)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

func mustAffect(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
