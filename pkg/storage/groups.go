package storage

import (
	"database/sql"
	"errors"

	"github.com/ZentaChain/zentalk-icq/pkg/roster"
)

func scanGroup(row scanner) (*roster.Group, error) {
	var g roster.Group
	var server int
	if err := row.Scan(&g.GSID, &g.Name, &g.Order, &server); err != nil {
		return nil, err
	}
	g.Server = intToBool(server)
	return &g, nil
}

// Groups returns every group in display order
func (s *DB) Groups() ([]*roster.Group, error) {
	rows, err := s.db.Query(`SELECT gsid, name, sort_order, on_server FROM groups`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*roster.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	roster.SortGroups(groups)
	return groups, nil
}

func (s *DB) GroupByID(gsid uint16) (*roster.Group, error) {
	return s.group(`SELECT gsid, name, sort_order, on_server FROM groups WHERE gsid = ?`, gsid)
}

func (s *DB) GroupByName(name string) (*roster.Group, error) {
	return s.group(`SELECT gsid, name, sort_order, on_server FROM groups WHERE name = ? LIMIT 1`, name)
}

func (s *DB) group(query string, arg any) (*roster.Group, error) {
	g, err := scanGroup(s.db.QueryRow(query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return g, err
}

func (s *DB) SaveGroup(g *roster.Group) error {
	_, err := s.db.Exec(`
		INSERT INTO groups (gsid, name, sort_order, on_server) VALUES (?, ?, ?, ?)
		ON CONFLICT(gsid) DO UPDATE SET
			name = excluded.name,
			sort_order = excluded.sort_order,
			on_server = excluded.on_server
	`, g.GSID, g.Name, g.Order, boolToInt(g.Server))
	return err
}

func (s *DB) DeleteGroup(gsid uint16) error {
	res, err := s.db.Exec(`DELETE FROM groups WHERE gsid = ?`, gsid)
	if err != nil {
		return err
	}
	return mustAffect(res)
}

// SyncState returns the zero state until one is saved
func (s *DB) SyncState() (roster.SyncState, error) {
	var (
		st               roster.SyncState
		synced, topLevel int
		privacy          int
		lastChange       int64
	)
	err := s.db.QueryRow(`
		SELECT list_time, list_count, synced, top_level, pdinfo_sid, privacy, last_change
		FROM sync_state WHERE id = 1
	`).Scan(&st.Time, &st.Count, &synced, &topLevel, &st.PDInfoSID, &privacy, &lastChange)
	if errors.Is(err, sql.ErrNoRows) {
		return roster.SyncState{}, nil
	}
	if err != nil {
		return roster.SyncState{}, err
	}
	st.Synced = intToBool(synced)
	st.TopLevel = intToBool(topLevel)
	st.Privacy = uint8(privacy)
	st.LastChange = fromUnixNano(lastChange)
	return st, nil
}

func (s *DB) SaveSyncState(st roster.SyncState) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_state (id, list_time, list_count, synced, top_level, pdinfo_sid, privacy, last_change)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			list_time = excluded.list_time,
			list_count = excluded.list_count,
			synced = excluded.synced,
			top_level = excluded.top_level,
			pdinfo_sid = excluded.pdinfo_sid,
			privacy = excluded.privacy,
			last_change = excluded.last_change
	`, st.Time, st.Count, boolToInt(st.Synced), boolToInt(st.TopLevel), st.PDInfoSID, int(st.Privacy), unixNano(st.LastChange))
	return err
}
