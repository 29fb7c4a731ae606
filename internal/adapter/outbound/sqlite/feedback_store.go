package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dockvault/dockpilot/internal/domain/agent"
)

// FeedbackStore implements agent.FeedbackStore on the feedback table.
type FeedbackStore struct {
	db *sql.DB
	// owned is true when Close should close db.
	owned bool
}

// NewFeedbackStore wraps an opened database. Close does not close db.
func NewFeedbackStore(db *sql.DB) *FeedbackStore {
	return &FeedbackStore{db: db}
}

// OpenFeedbackStore opens the database at path and owns it.
func OpenFeedbackStore(path string) (*FeedbackStore, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	return &FeedbackStore{db: db, owned: true}, nil
}

// Append inserts f.
func (s *FeedbackStore) Append(ctx context.Context, f agent.Feedback) error {
	var ctxJSON []byte
	if len(f.Context) > 0 {
		var err error
		if ctxJSON, err = json.Marshal(f.Context); err != nil {
			return fmt.Errorf("encode feedback context: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback (user_id, category, verdict, outcome, weight, context_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.UserID, string(f.Category), string(f.Verdict), string(f.Outcome), f.Weight,
		nullString(ctxJSON), f.Timestamp.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// List returns records for category in insertion order, or all records
// when category is empty.
func (s *FeedbackStore) List(ctx context.Context, category agent.Category) ([]agent.Feedback, error) {
	query := `SELECT user_id, category, verdict, outcome, weight, context_json, created_at FROM feedback`
	var args []any
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, string(category))
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	var out []agent.Feedback
	for rows.Next() {
		var (
			f                         agent.Feedback
			cat, verdict, outcome, ts string
			ctxJSON                   sql.NullString
		)
		if err := rows.Scan(&f.UserID, &cat, &verdict, &outcome, &f.Weight, &ctxJSON, &ts); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		f.Category = agent.Category(cat)
		f.Verdict = agent.FeedbackVerdict(verdict)
		f.Outcome = agent.Outcome(outcome)
		if ctxJSON.Valid && ctxJSON.String != "" {
			if err := json.Unmarshal([]byte(ctxJSON.String), &f.Context); err != nil {
				return nil, fmt.Errorf("decode feedback context: %w", err)
			}
		}
		if f.Timestamp, err = time.Parse(timeLayout, ts); err != nil {
			return nil, fmt.Errorf("parse feedback timestamp: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Count returns the number of records for category.
func (s *FeedbackStore) Count(ctx context.Context, category agent.Category) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM feedback WHERE category = ?`, string(category)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count feedback: %w", err)
	}
	return n, nil
}

// Close closes the database if the store opened it.
func (s *FeedbackStore) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

func nullString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

var _ agent.FeedbackStore = (*FeedbackStore)(nil)
