package sqlite

import "database/sql"

// EnsureSchema creates the record tables if they do not exist. The backend
// owns the canonical schema; this subset is sufficient for local dev and
// tests of the read path.
func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ConversationRecords (
            UserId TEXT NOT NULL,
            RecordId TEXT NOT NULL,
            Category TEXT NOT NULL,
            Role TEXT NOT NULL,
            Content TEXT NOT NULL,
            Metadata TEXT,
            CreationTime TIMESTAMP NOT NULL,
            PRIMARY KEY(UserId, RecordId)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_records_user_time
            ON ConversationRecords(UserId, CreationTime DESC);`,
		`CREATE TABLE IF NOT EXISTS UserAttributes (
            UserId TEXT NOT NULL,
            AttrKey TEXT NOT NULL,
            AttrValue TEXT NOT NULL,
            UpdateTime TIMESTAMP NOT NULL,
            PRIMARY KEY(UserId, AttrKey)
        );`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}
