package models

import "time"

// Event is one row of the persistent event log. Seq is assigned by the
// store's auto-increment counter: strictly monotonic, gap-tolerant after
// retention purges, and never reused. Events are immutable once written.
type Event struct {
	Seq       int64          `json:"seq"`
	Type      string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	SourceID  string         `json:"source_id,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
