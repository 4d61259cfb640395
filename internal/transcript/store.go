// Package transcript persists finished agent streams.
//
// store.go - SQLite transcript storage
//
// This file contains:
// - Transcript: one finished stream
// - Store: save, list, get and prune transcripts
// - Record: adapter hook that stores a stream.Summary
package transcript

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/HyphaGroup/agentrelay/internal/stream"
)

var ErrTranscriptNotFound = errors.New("transcript not found")

// Transcript is the stored outcome of one agent generation
type Transcript struct {
	ID        string
	SessionID string
	Agent     string
	StreamID  string
	Status    stream.Status
	Text      string
	Error     string
	StartedAt time.Time
	EndedAt   time.Time
}

// Store handles transcript persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a transcript store with SQLite backend
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "transcripts.db")
	// WAL lets the pruner run while the relay is recording
	db, err := sql.Open("sqlite", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transcripts (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		agent TEXT NOT NULL,
		stream_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL,
		ended_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transcripts_ended ON transcripts(ended_at);
	CREATE INDEX IF NOT EXISTS idx_transcripts_session ON transcripts(session_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts a transcript, assigning an ID if it has none
func (s *Store) Save(t *Transcript) error {
	return s.save(context.Background(), t)
}

// Record stores a finished stream session. It satisfies relay.Recorder.
func (s *Store) Record(ctx context.Context, summary stream.Summary) error {
	return s.save(ctx, &Transcript{
		SessionID: summary.SessionID,
		Agent:     summary.Agent,
		StreamID:  summary.StreamID,
		Status:    summary.Status,
		Text:      summary.Text,
		Error:     summary.Error,
		StartedAt: summary.StartedAt,
		EndedAt:   summary.EndedAt,
	})
}

func (s *Store) save(ctx context.Context, t *Transcript) error {
	if t.ID == "" {
		t.ID = "tr_" + uuid.New().String()[:8]
	}
	if t.EndedAt.IsZero() {
		t.EndedAt = time.Now()
	}

	// Times are stored in UTC so that string comparison in Prune is ordered
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcripts (id, session_id, agent, stream_id, status, text, error, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.Agent, t.StreamID, string(t.Status), t.Text, t.Error,
		t.StartedAt.UTC(), t.EndedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transcript: %w", err)
	}
	return nil
}

// Get retrieves a transcript by ID
func (s *Store) Get(id string) (*Transcript, error) {
	row := s.db.QueryRow(`
		SELECT id, session_id, agent, stream_id, status, text, error, started_at, ended_at
		FROM transcripts WHERE id = ?`, id,
	)
	t, err := scanTranscript(row)
	if err == sql.ErrNoRows {
		return nil, ErrTranscriptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query transcript: %w", err)
	}
	return t, nil
}

// List returns the most recently ended transcripts, newest first.
// A limit of zero or less returns all of them.
func (s *Store) List(limit int) ([]*Transcript, error) {
	query := `
		SELECT id, session_id, agent, stream_id, status, text, error, started_at, ended_at
		FROM transcripts ORDER BY ended_at DESC, id`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcripts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var transcripts []*Transcript
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transcript: %w", err)
		}
		transcripts = append(transcripts, t)
	}
	return transcripts, rows.Err()
}

// Prune deletes transcripts that ended before the given time and returns
// how many were removed
func (s *Store) Prune(before time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM transcripts WHERE ended_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune transcripts: %w", err)
	}
	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTranscript(row scanner) (*Transcript, error) {
	var t Transcript
	var status string
	err := row.Scan(
		&t.ID, &t.SessionID, &t.Agent, &t.StreamID, &status, &t.Text, &t.Error,
		&t.StartedAt, &t.EndedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = stream.Status(status)
	return &t, nil
}
