package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store provides read-write access to the transcript SQLite database
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// SpeakerRecord represents one known speaker
type SpeakerRecord struct {
	RowID       int64
	SpeakerID   string
	DisplayName string
	CreatedAt   time.Time
}

// UtteranceData holds the persisted fields of one transcribed utterance
type UtteranceData struct {
	ID          string
	SessionID   string
	ServerID    string
	ServerName  string
	ChannelID   string
	ChannelName string
	StartedAt   time.Time
	EndedAt     time.Time
	Text        string
	Confidence  float64
	AudioBytes  int
}

const schema = `
CREATE TABLE IF NOT EXISTS speakers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	speaker_id TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL,
	created_at REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS utterances (
	id TEXT PRIMARY KEY,
	speaker INTEGER NOT NULL REFERENCES speakers(id),
	session_id TEXT NOT NULL,
	server_id TEXT NOT NULL,
	server_name TEXT,
	channel_id TEXT NOT NULL,
	channel_name TEXT,
	started_at REAL NOT NULL,
	ended_at REAL NOT NULL,
	text TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0,
	audio_bytes INTEGER NOT NULL DEFAULT 0,
	created_at REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_utterances_session ON utterances(session_id, started_at);
CREATE INDEX IF NOT EXISTS idx_utterances_speaker ON utterances(speaker, started_at);
`

// Open opens (creating if necessary) the database at path with WAL enabled
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ready reports whether the store is reachable. Dispatch path selection
// queries this before choosing the integrated transcription path.
func (s *Store) Ready() bool {
	if s == nil || s.db == nil {
		return false
	}
	return s.db.Ping() == nil
}

// FindOrCreateSpeaker returns the record for a speaker, creating it on
// first sight. The display name is refreshed on every call so renames stick.
func (s *Store) FindOrCreateSpeaker(ctx context.Context, speakerID, displayName string) (*SpeakerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := float64(time.Now().UnixNano()) / 1e9

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO speakers (speaker_id, display_name, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(speaker_id) DO UPDATE SET display_name = excluded.display_name
	`, speakerID, displayName, now)
	if err != nil {
		return nil, fmt.Errorf("upsert speaker: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, speaker_id, display_name, created_at
		FROM speakers
		WHERE speaker_id = ?
	`, speakerID)

	var rec SpeakerRecord
	var createdAt float64
	if err := row.Scan(&rec.RowID, &rec.SpeakerID, &rec.DisplayName, &createdAt); err != nil {
		return nil, fmt.Errorf("scan speaker: %w", err)
	}
	rec.CreatedAt = timeFromUnix(createdAt)

	return &rec, nil
}

// AppendUtterance persists one transcribed utterance for a speaker
func (s *Store) AppendUtterance(ctx context.Context, rec *SpeakerRecord, data UtteranceData) error {
	if rec == nil {
		return fmt.Errorf("speaker record is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := float64(time.Now().UnixNano()) / 1e9

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO utterances (
			id, speaker, session_id, server_id, server_name,
			channel_id, channel_name, started_at, ended_at,
			text, confidence, audio_bytes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		data.ID, rec.RowID, data.SessionID, data.ServerID, data.ServerName,
		data.ChannelID, data.ChannelName,
		unixFromTime(data.StartedAt), unixFromTime(data.EndedAt),
		data.Text, data.Confidence, data.AudioBytes, now,
	)
	if err != nil {
		return fmt.Errorf("insert utterance: %w", err)
	}

	return nil
}

// UtterancesForSession returns a session's utterances in timeline order
func (s *Store) UtterancesForSession(ctx context.Context, sessionID string) ([]UtteranceData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, server_id, server_name, channel_id, channel_name,
		       started_at, ended_at, text, confidence, audio_bytes
		FROM utterances
		WHERE session_id = ?
		ORDER BY started_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query utterances: %w", err)
	}
	defer rows.Close()

	var result []UtteranceData
	for rows.Next() {
		var u UtteranceData
		var startedAt, endedAt float64
		var serverName, channelName sql.NullString
		if err := rows.Scan(&u.ID, &u.SessionID, &u.ServerID, &serverName,
			&u.ChannelID, &channelName, &startedAt, &endedAt,
			&u.Text, &u.Confidence, &u.AudioBytes); err != nil {
			return nil, fmt.Errorf("scan utterance: %w", err)
		}
		u.ServerName = serverName.String
		u.ChannelName = channelName.String
		u.StartedAt = timeFromUnix(startedAt)
		u.EndedAt = timeFromUnix(endedAt)
		result = append(result, u)
	}

	return result, rows.Err()
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
