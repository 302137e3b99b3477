package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// RecordEvent logs a state transition for a volume or member. scanID and
// arrayID may be zero when the event isn't tied to either.
func (d *DB) RecordEvent(scanID, arrayID int64, subject, eventType, oldState, newState string, details map[string]interface{}) error {
	return recordEvent(d.conn, scanID, arrayID, subject, eventType, oldState, newState, details)
}

func recordEvent(q querier, scanID, arrayID int64, subject, eventType, oldState, newState string, details map[string]interface{}) error {
	var detailsJSON string
	if details != nil {
		b, err := json.Marshal(details)
		if err == nil {
			detailsJSON = string(b)
		}
	}

	_, err := q.Exec(`
		INSERT INTO events (scan_id, array_id, subject, event_type, old_state, new_state, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, nullInt64(scanID), nullInt64(arrayID), subject, eventType,
		nullString(oldState), nullString(newState), nullString(detailsJSON), time.Now())

	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}

	return nil
}

// GetRecentEvents returns the most recent events, newest first
func (d *DB) GetRecentEvents(limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := d.conn.Query(`
		SELECT id, scan_id, array_id, subject, event_type, old_state, new_state, details, timestamp
		FROM events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetSubjectEvents returns events for one volume or member
func (d *DB) GetSubjectEvents(subject string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := d.conn.Query(`
		SELECT id, scan_id, array_id, subject, event_type, old_state, new_state, details, timestamp
		FROM events
		WHERE subject = ?
		ORDER BY id DESC
		LIMIT ?
	`, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query subject events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetEventsByType returns events of a specific type
func (d *DB) GetEventsByType(eventType string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := d.conn.Query(`
		SELECT id, scan_id, array_id, subject, event_type, old_state, new_state, details, timestamp
		FROM events
		WHERE event_type = ?
		ORDER BY id DESC
		LIMIT ?
	`, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events by type: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		var event Event
		var scanID, arrayID sql.NullInt64
		var oldState, newState, details sql.NullString

		err := rows.Scan(
			&event.ID, &scanID, &arrayID, &event.Subject, &event.EventType,
			&oldState, &newState, &details, &event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		event.ScanID = scanID.Int64
		event.ArrayID = arrayID.Int64
		event.OldState = oldState.String
		event.NewState = newState.String
		event.Details = details.String

		events = append(events, &event)
	}

	return events, rows.Err()
}
