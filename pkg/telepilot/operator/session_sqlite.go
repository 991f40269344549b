// session_sqlite.go persists session history to a local SQLite database so
// conversations survive process restarts.
package operator

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLitePersister stores session history in a SQLite file.
type SQLitePersister struct {
	db *sql.DB
}

// NewSQLitePersister opens (or creates) the database at path and ensures the
// schema exists.
func NewSQLitePersister(path string) (*SQLitePersister, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening session database: %w", err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS sessions (
		id              TEXT PRIMARY KEY,
		history         TEXT NOT NULL,
		last_attachment TEXT NOT NULL DEFAULT '',
		updated_at      TIMESTAMP NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating sessions schema: %w", err)
	}

	return &SQLitePersister{db: db}, nil
}

// Load restores a session's history. A missing row is not an error; it
// returns empty history.
func (p *SQLitePersister) Load(id string) ([]chatMessage, string, error) {
	var history, attachment string
	err := p.db.QueryRow(
		"SELECT history, last_attachment FROM sessions WHERE id = ?", id,
	).Scan(&history, &attachment)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("loading session %s: %w", id, err)
	}

	var messages []chatMessage
	if err := json.Unmarshal([]byte(history), &messages); err != nil {
		return nil, "", fmt.Errorf("decoding session %s history: %w", id, err)
	}
	return messages, attachment, nil
}

// Save upserts a session's history.
func (p *SQLitePersister) Save(id string, messages []chatMessage, lastAttachment string) error {
	history, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encoding session %s history: %w", id, err)
	}
	_, err = p.db.Exec(`
		INSERT INTO sessions (id, history, last_attachment, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			history = excluded.history,
			last_attachment = excluded.last_attachment,
			updated_at = excluded.updated_at`,
		id, string(history), lastAttachment, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving session %s: %w", id, err)
	}
	return nil
}

// Close releases the database handle.
func (p *SQLitePersister) Close() error {
	return p.db.Close()
}
