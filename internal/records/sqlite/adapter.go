// Package sqlite adapts the SQLite database kept by local deployments to the
// records.Store read interface.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/companionlabs/companion-memory/internal/model"
	"github.com/companionlabs/companion-memory/internal/records"
)

type sqliteStore struct {
	db *sql.DB
}

// New opens the SQLite database at path and returns a records.Store.
func New(path string) (records.Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	return NewWithDB(db), nil
}

// NewWithDB wires an existing connection (used by the factory and tests).
func NewWithDB(db *sql.DB) records.Store {
	return &sqliteStore{db: db}
}

func (s *sqliteStore) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqliteStore) ListRecent(ctx context.Context, req records.ListRecentRequest) ([]*records.PersistedRecord, error) {
	q := `SELECT RecordId, UserId, Category, Role, Content, Metadata, CreationTime
          FROM ConversationRecords WHERE UserId = ?`
	args := []interface{}{req.UserID}

	if len(req.Categories) > 0 {
		placeholders := make([]string, len(req.Categories))
		for i, c := range req.Categories {
			placeholders[i] = "?"
			args = append(args, string(c))
		}
		q += " AND Category IN (" + strings.Join(placeholders, ",") + ")"
	}
	if !req.Since.IsZero() {
		q += " AND CreationTime >= ?"
		args = append(args, req.Since.UTC())
	}
	q += " ORDER BY CreationTime DESC"
	if req.Limit > 0 {
		q += " LIMIT ?"
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
		var rawMeta sql.NullString
		if err := rows.Scan(&r.RecordID, &r.UserID, &category, &role, &r.Content, &rawMeta, &r.CreationTime); err != nil {
			return nil, err
		}
		r.Category = model.Category(category)
		r.Role = model.Role(role)
		if rawMeta.Valid && rawMeta.String != "" {
			// Metadata is stored as a JSON object; a bad blob is ignored
			// rather than failing the whole read.
			_ = json.Unmarshal([]byte(rawMeta.String), &r.Metadata)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UserAttributes(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT AttrKey, AttrValue FROM UserAttributes WHERE UserId = ?`, userID)
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

func (s *sqliteStore) ActiveUserIDs(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT UserId FROM ConversationRecords WHERE CreationTime >= ? ORDER BY UserId`,
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
