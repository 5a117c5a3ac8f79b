package event

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hearthwatch/hearthwatch/pkg/models"
)

// Log persists events to the append-only events table.
type Log struct {
	db *sql.DB
}

// NewLog creates an event log backed by the given database.
func NewLog(db *sql.DB) *Log {
	return &Log{db: db}
}

// Append inserts one event row and returns its assigned sequence number.
// Callers serialize Append via the bus's writer mutex.
func (l *Log) Append(ctx context.Context, eventType string, payload map[string]any, sourceID string, at time.Time) (int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload for %s: %w", eventType, err)
	}

	res, err := l.db.ExecContext(ctx,
		`INSERT INTO events (event_type, payload, source_id, created_at) VALUES (?, ?, ?, ?)`,
		eventType, string(raw), sourceID, at.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("append event %s: %w", eventType, err)
	}

	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read event seq: %w", err)
	}
	return seq, nil
}

// Replay returns all events with seq > sinceSeq in ascending order.
func (l *Log) Replay(ctx context.Context, sinceSeq int64) ([]models.Event, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT seq, event_type, payload, source_id, created_at
		 FROM events WHERE seq > ? ORDER BY seq ASC`, sinceSeq)
	if err != nil {
		return nil, fmt.Errorf("replay events since %d: %w", sinceSeq, err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var (
			e       models.Event
			rawJSON string
		)
		if err := rows.Scan(&e.Seq, &e.Type, &rawJSON, &e.SourceID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(rawJSON), &e.Payload); err != nil {
			e.Payload = map[string]any{"_raw": rawJSON}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// PurgeBefore deletes events created before the cutoff and returns the
// count removed. The AUTOINCREMENT counter is untouched, so purged
// sequence numbers never reappear.
func (l *Log) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	return res.RowsAffected()
}
