package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Event is one row of the append-only audit trail.
type Event struct {
	ID          int64          `json:"id"`
	Timestamp   string         `json:"ts"`
	WorkOrderID string         `json:"work_order_id,omitempty"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload"`
}

// AppendEvent records an audit event. Events are never updated or deleted.
func (s *Store) AppendEvent(ctx context.Context, workOrderID, evtType string, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events(ts, work_order_id, type, payload_json) VALUES (?,?,?,?)`,
		s.Now().UTC().Format(time.RFC3339), nullable(workOrderID), evtType, string(data))
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Events returns the audit trail for one work order in insertion order.
func (s *Store) Events(ctx context.Context, workOrderID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, COALESCE(work_order_id, ''), type, payload_json FROM events WHERE work_order_id = ? ORDER BY id`,
		workOrderID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var payload string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.WorkOrderID, &e.Type, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal event payload: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
