// Package store persists work orders as opaque JSON documents keyed by id,
// plus an append-only event trail for auditing. Callers treat documents as
// whole values; partial updates are applied atomically inside one
// transaction per call.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"tbwo/internal/model"
)

var ErrNotFound = errors.New("work order not found")

const schema = `
CREATE TABLE IF NOT EXISTS work_orders (
	id         TEXT PRIMARY KEY,
	doc        TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	ts            TEXT NOT NULL,
	work_order_id TEXT,
	type          TEXT NOT NULL,
	payload_json  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_work_order ON events(work_order_id);
`

type Store struct {
	db  *sql.DB
	Now func() time.Time
}

// Open opens (creating if needed) the SQLite database at path and applies
// the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, Now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveWorkOrder writes the full document, inserting or replacing.
func (s *Store) SaveWorkOrder(ctx context.Context, wo *model.WorkOrder) error {
	doc, err := json.Marshal(wo)
	if err != nil {
		return fmt.Errorf("marshal work order: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO work_orders(id, doc, updated_at) VALUES (?,?,?)
		 ON CONFLICT(id) DO UPDATE SET doc=excluded.doc, updated_at=excluded.updated_at`,
		wo.ID, string(doc), s.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save work order %s: %w", wo.ID, err)
	}
	return nil
}

func (s *Store) GetWorkOrder(ctx context.Context, id string) (*model.WorkOrder, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM work_orders WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get work order %s: %w", id, err)
	}
	var wo model.WorkOrder
	if err := json.Unmarshal([]byte(doc), &wo); err != nil {
		return nil, fmt.Errorf("unmarshal work order %s: %w", id, err)
	}
	return &wo, nil
}

// UpdateWorkOrder applies a partial field update to the stored document.
// The read-modify-write is atomic for the call: it runs in one transaction.
func (s *Store) UpdateWorkOrder(ctx context.Context, id string, fields map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var doc string
	err = tx.QueryRowContext(ctx, `SELECT doc FROM work_orders WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("read work order %s: %w", id, err)
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return fmt.Errorf("unmarshal work order %s: %w", id, err)
	}
	for k, v := range fields {
		m[k] = v
	}
	updated, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal work order %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE work_orders SET doc = ?, updated_at = ? WHERE id = ?`,
		string(updated), s.Now().UTC().Format(time.RFC3339), id); err != nil {
		return fmt.Errorf("update work order %s: %w", id, err)
	}
	return tx.Commit()
}

// ListWorkOrders returns all stored work orders, most recently updated first.
func (s *Store) ListWorkOrders(ctx context.Context) ([]*model.WorkOrder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM work_orders ORDER BY updated_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list work orders: %w", err)
	}
	defer rows.Close()

	var out []*model.WorkOrder
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var wo model.WorkOrder
		if err := json.Unmarshal([]byte(doc), &wo); err != nil {
			return nil, fmt.Errorf("unmarshal work order: %w", err)
		}
		out = append(out, &wo)
	}
	return out, rows.Err()
}

func (s *Store) DeleteWorkOrder(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM work_orders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete work order %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
