package db

import (
	"database/sql"
	"fmt"
	"time"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// UpsertArray inserts or updates an array record, filling in its ID
func (d *DB) UpsertArray(a *ArrayRecord) error {
	return upsertArray(d.conn, a)
}

func upsertArray(q querier, a *ArrayRecord) error {
	now := time.Now()

	err := q.QueryRow(`
		INSERT INTO arrays (uuid, name, detector, member_count, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
			name = excluded.name,
			detector = COALESCE(excluded.detector, detector),
			member_count = excluded.member_count,
			last_seen = excluded.last_seen
		RETURNING id
	`, a.UUID, a.Name, nullString(a.Detector), a.MemberCount, now, now).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert array: %w", err)
	}
	return nil
}

// GetArrays returns all known arrays
func (d *DB) GetArrays() ([]*ArrayRecord, error) {
	rows, err := d.conn.Query(`
		SELECT id, uuid, name, detector, member_count, first_seen, last_seen
		FROM arrays ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query arrays: %w", err)
	}
	defer rows.Close()

	var arrays []*ArrayRecord
	for rows.Next() {
		var a ArrayRecord
		var detector sql.NullString
		if err := rows.Scan(&a.ID, &a.UUID, &a.Name, &detector, &a.MemberCount, &a.FirstSeen, &a.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan array: %w", err)
		}
		a.Detector = detector.String
		arrays = append(arrays, &a)
	}
	return arrays, rows.Err()
}

// UpsertVolume inserts or updates a volume record, filling in its ID
func (d *DB) UpsertVolume(v *VolumeRecord) error {
	return upsertVolume(d.conn, v)
}

func upsertVolume(q querier, v *VolumeRecord) error {
	now := time.Now()

	err := q.QueryRow(`
		INSERT INTO volumes (array_id, name, id_name, size_sectors, visible, current_state, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			array_id = excluded.array_id,
			id_name = COALESCE(excluded.id_name, id_name),
			size_sectors = excluded.size_sectors,
			visible = excluded.visible,
			current_state = excluded.current_state,
			last_seen = excluded.last_seen
		RETURNING id
	`, v.ArrayID, v.Name, nullString(v.IDName), v.SizeSectors, v.Visible, v.CurrentState, now, now).Scan(&v.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert volume: %w", err)
	}
	return nil
}

// GetVolumeByName returns a volume by its full name, or nil
func (d *DB) GetVolumeByName(name string) (*VolumeRecord, error) {
	return volumeByName(d.conn, name)
}

func volumeByName(q querier, name string) (*VolumeRecord, error) {
	row := q.QueryRow(`
		SELECT id, array_id, name, id_name, size_sectors, visible, current_state, first_seen, last_seen
		FROM volumes WHERE name = ?
	`, name)
	return scanVolume(row)
}

// GetVolumes returns the volumes of an array
func (d *DB) GetVolumes(arrayID int64) ([]*VolumeRecord, error) {
	rows, err := d.conn.Query(`
		SELECT id, array_id, name, id_name, size_sectors, visible, current_state, first_seen, last_seen
		FROM volumes WHERE array_id = ? ORDER BY name
	`, arrayID)
	if err != nil {
		return nil, fmt.Errorf("failed to query volumes: %w", err)
	}
	defer rows.Close()

	var volumes []*VolumeRecord
	for rows.Next() {
		v, err := scanVolume(rows)
		if err != nil {
			return nil, err
		}
		volumes = append(volumes, v)
	}
	return volumes, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanVolume(row rowScanner) (*VolumeRecord, error) {
	var v VolumeRecord
	var idName sql.NullString
	err := row.Scan(&v.ID, &v.ArrayID, &v.Name, &idName, &v.SizeSectors, &v.Visible, &v.CurrentState, &v.FirstSeen, &v.LastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan volume: %w", err)
	}
	v.IDName = idName.String
	return &v, nil
}

// UpsertMember inserts or updates a member slot, filling in its ID
func (d *DB) UpsertMember(m *MemberRecord) error {
	return upsertMember(d.conn, m)
}

func upsertMember(q querier, m *MemberRecord) error {
	now := time.Now()

	err := q.QueryRow(`
		INSERT INTO members (array_id, slot, member_id, device_path, part_trail, start_sector, present, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(array_id, member_id) DO UPDATE SET
			slot = excluded.slot,
			device_path = COALESCE(excluded.device_path, device_path),
			part_trail = COALESCE(excluded.part_trail, part_trail),
			start_sector = COALESCE(excluded.start_sector, start_sector),
			present = excluded.present,
			last_seen = excluded.last_seen
		RETURNING id
	`, m.ArrayID, m.Slot, m.MemberID, nullString(m.DevicePath), nullString(m.PartTrail),
		nullInt64(m.StartSector), m.Present, now).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert member: %w", err)
	}
	return nil
}

// GetMember returns a member slot of an array, or nil
func (d *DB) GetMember(arrayID int64, memberID string) (*MemberRecord, error) {
	return memberByID(d.conn, arrayID, memberID)
}

func memberByID(q querier, arrayID int64, memberID string) (*MemberRecord, error) {
	row := q.QueryRow(`
		SELECT id, array_id, slot, member_id, device_path, part_trail, start_sector, present, last_seen
		FROM members WHERE array_id = ? AND member_id = ?
	`, arrayID, memberID)
	return scanMember(row)
}

// GetMembers returns the member slots of an array
func (d *DB) GetMembers(arrayID int64) ([]*MemberRecord, error) {
	rows, err := d.conn.Query(`
		SELECT id, array_id, slot, member_id, device_path, part_trail, start_sector, present, last_seen
		FROM members WHERE array_id = ? ORDER BY id
	`, arrayID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var members []*MemberRecord
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func scanMember(row rowScanner) (*MemberRecord, error) {
	var m MemberRecord
	var devicePath, partTrail sql.NullString
	var start sql.NullInt64
	err := row.Scan(&m.ID, &m.ArrayID, &m.Slot, &m.MemberID, &devicePath, &partTrail, &start, &m.Present, &m.LastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan member: %w", err)
	}
	m.DevicePath = devicePath.String
	m.PartTrail = partTrail.String
	m.StartSector = start.Int64
	return &m, nil
}

// Helper functions for nullable values
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64(i int64) sql.NullInt64 {
	if i == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: i, Valid: true}
}
