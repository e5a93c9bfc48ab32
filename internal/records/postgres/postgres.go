// Package postgres adapts the backend's Postgres database to the
// records.Store read interface using the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/companionlabs/companion-memory/internal/model"
	"github.com/companionlabs/companion-memory/internal/records"
)

// Open opens a PostgreSQL connection and verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// New opens a connection for dsn and returns a records.Store.
func New(dsn string) (records.Store, error) {
	db, err := Open(dsn)
	if err != nil {
		return nil, err
	}
	return NewWithDB(db), nil
}

// NewWithDB wires an existing connection (used by the factory and tests).
func NewWithDB(db *sql.DB) records.Store {
	return &pgStore{db: db}
}

type pgStore struct{ db *sql.DB }

func (s *pgStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *pgStore) ListRecent(ctx context.Context, req records.ListRecentRequest) ([]*records.PersistedRecord, error) {
	q := `SELECT record_id, user_id, category, role, content, metadata, creation_time
          FROM conversation_records
          WHERE user_id = $1`
	args := []interface{}{req.UserID}
	n := 2

	if len(req.Categories) > 0 {
		cats := make([]string, len(req.Categories))
		for i, c := range req.Categories {
			cats[i] = string(c)
		}
		q += fmt.Sprintf(" AND category = ANY($%d)", n)
		args = append(args, cats)
		n++
	}
	if !req.Since.IsZero() {
		q += fmt.Sprintf(" AND creation_time >= $%d", n)
		args = append(args, req.Since.UTC())
		n++
	}
	q += " ORDER BY creation_time DESC"
	if req.Limit > 0 {
		q += fmt.Sprintf(" LIMIT $%d", n)
		args = append(args, req.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*records.PersistedRecord
	for rows.Next() {
		var r records.PersistedRecord
		var category, role string
		var rawMeta []byte
		if err := rows.Scan(&r.RecordID, &r.UserID, &category, &role, &r.Content, &rawMeta, &r.CreationTime); err != nil {
			return nil, err
		}
		r.Category = model.Category(category)
		r.Role = model.Role(role)
		if len(rawMeta) > 0 {
			_ = json.Unmarshal(rawMeta, &r.Metadata)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *pgStore) UserAttributes(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT attr_key, attr_value FROM user_attributes WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attrs := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		attrs[k] = v
	}
	return attrs, rows.Err()
}

func (s *pgStore) ActiveUserIDs(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM conversation_records WHERE creation_time >= $1 ORDER BY user_id`,
		since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Bootstrap performs a connectivity check to ensure Postgres is reachable.
// Schema lives with the backend's migrations, so this is ping-only.
func Bootstrap(ctx context.Context, dsn string) error {
	if dsn == "" {
		return nil
	}
	db, err := Open(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return db.PingContext(ctx)
}
