package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dockvault/dockpilot/internal/domain/journal"
)

// JournalStore implements journal.Store and journal.QueryStore on the
// decisions table.
type JournalStore struct {
	db *sql.DB
}

// NewJournalStore wraps an opened database. Close does not close db.
func NewJournalStore(db *sql.DB) *JournalStore {
	return &JournalStore{db: db}
}

// Append inserts records in one transaction.
func (s *JournalStore) Append(ctx context.Context, records ...journal.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin journal tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO decisions (id, source, action_id, category, verdict, confidence, record_json, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare journal insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		body, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode journal record %s: %w", r.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, string(r.Source), r.Action.ID, string(r.Action.Category),
			string(r.Decision.Verdict), r.Decision.Confidence, string(body),
			r.RecordedAt.UTC().Format(timeLayout),
		); err != nil {
			return fmt.Errorf("insert journal record %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// Flush is a no-op; Append commits synchronously.
func (s *JournalStore) Flush(context.Context) error {
	return nil
}

// Close is a no-op; the database belongs to the caller of Open.
func (s *JournalStore) Close() error {
	return nil
}

// Query returns matching records, newest first.
func (s *JournalStore) Query(ctx context.Context, f journal.Filter) ([]journal.Record, error) {
	var (
		where []string
		args  []any
	)
	if f.Verdict != "" {
		where = append(where, "verdict = ?")
		args = append(args, string(f.Verdict))
	}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(f.Category))
	}
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, string(f.Source))
	}
	if !f.Since.IsZero() {
		where = append(where, "recorded_at >= ?")
		args = append(args, f.Since.UTC().Format(timeLayout))
	}
	if !f.Until.IsZero() {
		where = append(where, "recorded_at <= ?")
		args = append(args, f.Until.UTC().Format(timeLayout))
	}

	query := "SELECT record_json FROM decisions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, f.EffectiveLimit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []journal.Record
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		var r journal.Record
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, fmt.Errorf("decode journal record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

var (
	_ journal.Store      = (*JournalStore)(nil)
	_ journal.QueryStore = (*JournalStore)(nil)
)
