package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists scheduled jobs in SQLite so they survive restarts.
type Store struct {
	db *sql.DB
}

// NewStore opens (and migrates) the job database at path.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening job database: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id         TEXT PRIMARY KEY,
			chat_id    TEXT NOT NULL,
			spec       TEXT NOT NULL,
			prompt     TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating job database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts or replaces a job.
func (s *Store) Save(ctx context.Context, job *Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, chat_id, spec, prompt, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			chat_id = excluded.chat_id,
			spec = excluded.spec,
			prompt = excluded.prompt`,
		job.ID, job.ChatID, job.Spec, job.Prompt, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving job %s: %w", job.ID, err)
	}
	return nil
}

// Delete removes a job by ID. Deleting a missing job is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting job %s: %w", id, err)
	}
	return nil
}

// List returns all jobs, oldest first.
func (s *Store) List(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, spec, prompt, created_at FROM jobs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var job Job
		var createdAt time.Time
		if err := rows.Scan(&job.ID, &job.ChatID, &job.Spec, &job.Prompt, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning job row: %w", err)
		}
		job.CreatedAt = createdAt
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}
