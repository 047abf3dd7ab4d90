// Package ledger keeps an append-only history of hub commands and discovery passes.
// It backs command deduplication and auditing.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventType classifies a ledger row
type EventType string

const (
	EventCommandCompleted   EventType = "command_completed"
	EventCommandFailed      EventType = "command_failed"
	EventDiscoveryCompleted EventType = "discovery_completed"
)

// Entry is one ledger row
type Entry struct {
	ID             int64          `json:"id"`
	EventType      EventType      `json:"event_type"`
	Timestamp      time.Time      `json:"timestamp"`
	DeviceID       string         `json:"device_id,omitempty"`
	Command        string         `json:"command,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	Source         string         `json:"source,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

// Query filters Find. Zero fields match everything.
type Query struct {
	EventType EventType
	DeviceID  string
	Since     time.Time
	Limit     int
}

const defaultLimit = 100

const columns = `id, event_type, timestamp, device_id, command, payload, source, idempotency_key`

// Ledger stores entries in the command_ledger table
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a Ledger on an already migrated database
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append stores e. A completed command whose key is already recorded is
// silently ignored, so the first completion wins.
func (l *Ledger) Append(e Entry) error {
	var payload []byte
	if e.Payload != nil {
		var err error
		if payload, err = json.Marshal(e.Payload); err != nil {
			return fmt.Errorf("marshal ledger payload: %w", err)
		}
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}

	verb := "INSERT"
	if e.EventType == EventCommandCompleted && e.IdempotencyKey != "" {
		verb = "INSERT OR IGNORE"
	}
	stmt := verb + ` INTO command_ledger (event_type, timestamp, device_id, command, payload, source, idempotency_key)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	if _, err := l.db.Exec(stmt, string(e.EventType), e.Timestamp.UTC().Unix(),
		e.DeviceID, e.Command, string(payload), e.Source, e.IdempotencyKey); err != nil {
		return fmt.Errorf("append %s: %w", e.EventType, err)
	}
	return nil
}

// HasCompleted reports whether a command with key already completed
func (l *Ledger) HasCompleted(key string) bool {
	if key == "" {
		return false
	}
	var one int
	err := l.db.QueryRow(
		`SELECT 1 FROM command_ledger WHERE idempotency_key = ? AND event_type = ? LIMIT 1`,
		key, string(EventCommandCompleted),
	).Scan(&one)
	return err == nil
}

// Find returns the entries matching q, newest first
func (l *Ledger) Find(q Query) ([]*Entry, error) {
	var (
		where []string
		args  []any
	)
	if q.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, string(q.EventType))
	}
	if q.DeviceID != "" {
		where = append(where, "device_id = ?")
		args = append(args, q.DeviceID)
	}
	if !q.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, q.Since.UTC().Unix())
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + columns + " FROM command_ledger")
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY timestamp DESC, id DESC LIMIT ?")
	args = append(args, limit)

	rows, err := l.db.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteOlderThan prunes entries older than retention and returns how many went
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	res, err := l.db.Exec(`DELETE FROM command_ledger WHERE timestamp < ?`, l.now().Add(-retention).Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanEntry(rows *sql.Rows) (*Entry, error) {
	var (
		e                                 Entry
		ts                                int64
		device, cmd, payload, source, key sql.NullString
	)
	if err := rows.Scan(&e.ID, &e.EventType, &ts, &device, &cmd, &payload, &source, &key); err != nil {
		return nil, err
	}
	e.Timestamp = time.Unix(ts, 0).UTC()
	e.DeviceID, e.Command, e.Source, e.IdempotencyKey = device.String, cmd.String, source.String, key.String

	if payload.String != "" {
		if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
			return nil, fmt.Errorf("entry %d payload: %w", e.ID, err)
		}
	}
	return &e, nil
}
