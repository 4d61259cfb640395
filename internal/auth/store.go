package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultProfile is used when the caller does not name a profile
const DefaultProfile = "default"

var ErrProfileNotFound = errors.New("profile not found")

// Store persists client credentials per profile
type Store struct {
	db *sql.DB
}

// NewStore creates a credential store with SQLite backend
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "credentials.db")
	db, err := sql.Open("sqlite", dbPath)
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
	CREATE TABLE IF NOT EXISTS credentials (
		profile TEXT PRIMARY KEY,
		token TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores the state under profile, replacing any previous value
func (s *Store) Save(profile string, state State) error {
	if profile == "" {
		profile = DefaultProfile
	}
	_, err := s.db.Exec(
		`INSERT INTO credentials (profile, token, user_id, session_id, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(profile) DO UPDATE SET token = excluded.token, user_id = excluded.user_id,
			session_id = excluded.session_id, updated_at = excluded.updated_at`,
		profile, state.Token, state.UserID, state.SessionID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// Load returns the state stored under profile
func (s *Store) Load(profile string) (State, error) {
	if profile == "" {
		profile = DefaultProfile
	}

	var state State
	err := s.db.QueryRow(
		`SELECT token, user_id, session_id FROM credentials WHERE profile = ?`,
		profile,
	).Scan(&state.Token, &state.UserID, &state.SessionID)

	if err == sql.ErrNoRows {
		return State{}, ErrProfileNotFound
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to query credentials: %w", err)
	}
	return state, nil
}

// Delete removes a profile
func (s *Store) Delete(profile string) error {
	if profile == "" {
		profile = DefaultProfile
	}
	result, err := s.db.Exec(`DELETE FROM credentials WHERE profile = ?`, profile)
	if err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// Persist keeps profile in sync with session: every published state is
// saved, and a cleared session deletes the profile. The returned function
// stops syncing.
func (s *Store) Persist(session *Session, profile string, onErr func(error)) (stop func()) {
	return session.Subscribe(func(state State) {
		var err error
		if state == (State{}) {
			err = s.Delete(profile)
			if errors.Is(err, ErrProfileNotFound) {
				err = nil
			}
		} else {
			err = s.Save(profile, state)
		}
		if err != nil && onErr != nil {
			onErr(err)
		}
	})
}
