// Package ledger provides an append-only history of verification cycles.
// Every cycle writes a start entry, one entry per remediation wave and one
// terminal entry, all correlated by the cycle id.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventCycleStarted    EventType = "cycle_started"
	EventRemediationWave EventType = "remediation_wave"
	EventCycleCompleted  EventType = "cycle_completed"
	EventCycleGaveUp     EventType = "cycle_gave_up"
	EventCycleSuperseded EventType = "cycle_superseded"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64
	CycleID   string
	GroupName string
	EventType EventType
	Timestamp time.Time
	Payload   map[string]any
}

// GroupState is the last verified state of a group.
type GroupState struct {
	GroupName       string
	Status          string
	AveragePosition float64
	Verdict         string
	UpdatedAt       time.Time
}

// Ledger provides append-only cycle logging and last verified group state
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append adds a new event to the ledger
func (l *Ledger) Append(cycleID, groupName string, eventType EventType, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	now := time.Now().UTC().Unix()

	_, err = l.db.Exec(`
		INSERT INTO cycle_ledger (cycle_id, group_name, event_type, timestamp, payload)
		VALUES (?, ?, ?, ?, ?)
	`, cycleID, groupName, string(eventType), now, string(payloadJSON))

	return err
}

// Cycle returns all entries for one cycle, oldest first
func (l *Ledger) Cycle(cycleID string) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, cycle_id, group_name, event_type, timestamp, payload
		FROM cycle_ledger
		WHERE cycle_id = ?
		ORDER BY id ASC
	`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// Recent returns the most recent entries for a group
func (l *Ledger) Recent(groupName string, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, cycle_id, group_name, event_type, timestamp, payload
		FROM cycle_ledger
		WHERE group_name = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, groupName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := l.db.Exec(`
		DELETE FROM cycle_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// SaveGroupState upserts the last verified state for a group
func (l *Ledger) SaveGroupState(s GroupState) error {
	now := time.Now().UTC().Unix()

	_, err := l.db.Exec(`
		INSERT INTO group_state (group_name, status, average_position, verdict, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(group_name) DO UPDATE SET
			status = excluded.status,
			average_position = excluded.average_position,
			verdict = excluded.verdict,
			updated_at = excluded.updated_at
	`, s.GroupName, s.Status, s.AveragePosition, s.Verdict, now)

	return err
}

// LoadGroupState returns the last verified state for a group, or nil if the
// group has never completed a cycle.
func (l *Ledger) LoadGroupState(groupName string) (*GroupState, error) {
	var s GroupState
	var updatedAt int64

	err := l.db.QueryRow(`
		SELECT group_name, status, average_position, verdict, updated_at
		FROM group_state
		WHERE group_name = ?
	`, groupName).Scan(&s.GroupName, &s.Status, &s.AveragePosition, &s.Verdict, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &s, nil
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr sql.NullString
		var timestamp int64

		err := rows.Scan(
			&entry.ID, &entry.CycleID, &entry.GroupName, &entry.EventType, &timestamp, &payloadStr,
		)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
