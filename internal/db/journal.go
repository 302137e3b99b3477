package db

import (
	"database/sql"
	"fmt"
	"time"
)

// ScanSnapshot is what a scan found, ready to be journaled
type ScanSnapshot struct {
	StartedAt time.Time       `json:"started_at"`
	Arrays    []ArraySnapshot `json:"arrays"`
	Err       error           `json:"-"`
}

// ArraySnapshot describes one assembled array
type ArraySnapshot struct {
	UUID     string           `json:"uuid"`
	Name     string           `json:"name"`
	Detector string           `json:"detector"`
	Volumes  []VolumeSnapshot `json:"volumes"`
	Members  []MemberSnapshot `json:"members"`
}

// VolumeSnapshot describes one logical volume of an array
type VolumeSnapshot struct {
	Name        string `json:"name"`
	IDName      string `json:"id_name,omitempty"`
	SizeSectors int64  `json:"size_sectors"`
	Visible     bool   `json:"visible"`
	State       string `json:"state"`
}

// MemberSnapshot describes one member slot of an array
type MemberSnapshot struct {
	Slot        string `json:"slot"`
	MemberID    string `json:"member_id"`
	DevicePath  string `json:"device,omitempty"`
	PartTrail   string `json:"part_trail,omitempty"`
	StartSector int64  `json:"start_sector"`
	Present     bool   `json:"present"`
}

// RecordScan journals a scan and emits an event for every volume whose
// state changed and every member that went missing or came back since
// the previous scan. It returns the new scan ID. Nothing is kept if any
// part of the scan fails to record.
func (d *DB) RecordScan(snap *ScanSnapshot) (int64, error) {
	started := snap.StartedAt
	if started.IsZero() {
		started = time.Now()
	}

	var volumes, readable int
	for _, a := range snap.Arrays {
		for _, v := range a.Volumes {
			volumes++
			if v.State == StateReadable {
				readable++
			}
		}
	}
	var errText string
	if snap.Err != nil {
		errText = snap.Err.Error()
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin scan: %w", err)
	}
	defer tx.Rollback()

	var scanID int64
	err = tx.QueryRow(`
		INSERT INTO scans (started_at, finished_at, arrays, volumes, readable, error)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`, started, time.Now(), len(snap.Arrays), volumes, readable, nullString(errText)).Scan(&scanID)
	if err != nil {
		return 0, fmt.Errorf("failed to record scan: %w", err)
	}

	for i := range snap.Arrays {
		if err := recordArray(tx, scanID, &snap.Arrays[i]); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit scan: %w", err)
	}
	return scanID, nil
}

func recordArray(q querier, scanID int64, a *ArraySnapshot) error {
	rec := &ArrayRecord{
		UUID:        a.UUID,
		Name:        a.Name,
		Detector:    a.Detector,
		MemberCount: len(a.Members),
	}
	if err := upsertArray(q, rec); err != nil {
		return err
	}

	for _, v := range a.Volumes {
		prev, err := volumeByName(q, v.Name)
		if err != nil {
			return err
		}

		switch {
		case prev == nil:
			err = recordEvent(q, scanID, rec.ID, v.Name, EventDiscovered, "", v.State, map[string]interface{}{
				"size_sectors": v.SizeSectors,
				"detector":     a.Detector,
			})
		case prev.CurrentState != v.State:
			err = recordEvent(q, scanID, rec.ID, v.Name, eventTypeForStateChange(v.State), prev.CurrentState, v.State, nil)
		}
		if err != nil {
			return err
		}

		if err := upsertVolume(q, &VolumeRecord{
			ArrayID:      rec.ID,
			Name:         v.Name,
			IDName:       v.IDName,
			SizeSectors:  v.SizeSectors,
			Visible:      v.Visible,
			CurrentState: v.State,
		}); err != nil {
			return err
		}
	}

	for _, m := range a.Members {
		prev, err := memberByID(q, rec.ID, m.MemberID)
		if err != nil {
			return err
		}

		subject := a.Name + ":" + m.Slot
		details := map[string]interface{}{"member_id": m.MemberID}
		if m.DevicePath != "" {
			details["device"] = m.DevicePath
		}
		switch {
		case prev == nil && !m.Present:
			err = recordEvent(q, scanID, rec.ID, subject, EventMemberMissing, "", MemberMissing, details)
		case prev != nil && prev.Present && !m.Present:
			err = recordEvent(q, scanID, rec.ID, subject, EventMemberMissing, MemberPresent, MemberMissing, details)
		case prev != nil && !prev.Present && m.Present:
			err = recordEvent(q, scanID, rec.ID, subject, EventMemberReturned, MemberMissing, MemberPresent, details)
		}
		if err != nil {
			return err
		}

		if err := upsertMember(q, &MemberRecord{
			ArrayID:     rec.ID,
			Slot:        m.Slot,
			MemberID:    m.MemberID,
			DevicePath:  m.DevicePath,
			PartTrail:   m.PartTrail,
			StartSector: m.StartSector,
			Present:     m.Present,
		}); err != nil {
			return err
		}
	}
	return nil
}

// eventTypeForStateChange maps a new volume state to its event type
func eventTypeForStateChange(newState string) string {
	switch newState {
	case StateReadable:
		return EventReadable
	case StateDegraded:
		return EventDegraded
	default:
		return EventUnreadable
	}
}

// GetScans returns the most recent scans, newest first
func (d *DB) GetScans(limit int) ([]*ScanRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := d.conn.Query(`
		SELECT id, started_at, finished_at, arrays, volumes, readable, error
		FROM scans
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query scans: %w", err)
	}
	defer rows.Close()

	var scans []*ScanRecord
	for rows.Next() {
		var s ScanRecord
		var errText sql.NullString
		if err := rows.Scan(&s.ID, &s.StartedAt, &s.FinishedAt, &s.Arrays, &s.Volumes, &s.Readable, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan scan record: %w", err)
		}
		s.Error = errText.String
		scans = append(scans, &s)
	}
	return scans, rows.Err()
}
