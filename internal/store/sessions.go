package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrSessionNotFound is returned when a session id has no archived record.
var ErrSessionNotFound = errors.New("session not found")

// SessionFile is one archived file row.
type SessionFile struct {
	ID             string `json:"id"`
	Path           string `json:"path"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	TranscriptPath string `json:"transcriptPath,omitempty"`
	JSONPath       string `json:"jsonPath,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Session is an archived run. CreatedAt is unix seconds.
type Session struct {
	ID              string        `json:"id"`
	CreatedAt       int64         `json:"createdAt"`
	Provider        string        `json:"provider"`
	Model           string        `json:"model"`
	OutputDir       string        `json:"outputDir"`
	ManifestPath    string        `json:"manifestPath"`
	Total           int           `json:"total"`
	Processed       int           `json:"processed"`
	Skipped         int           `json:"skipped"`
	Failed          int           `json:"failed"`
	DurationSeconds float64       `json:"durationSeconds"`
	ExitCode        int           `json:"exitCode"`
	Status          string        `json:"status"`
	Files           []SessionFile `json:"files"`
}

// SaveSession inserts or replaces a session and all of its file rows.
func (s *Store) SaveSession(ctx context.Context, session Session) error {
	if strings.TrimSpace(session.ID) == "" {
		return errors.New("save session: id is empty")
	}
	ctx = ensureContext(ctx)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO sessions (
                id, created_at, provider, model, output_dir, manifest_path,
                total, processed, skipped, failed, duration_seconds, exit_code, status
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			session.ID,
			session.CreatedAt,
			session.Provider,
			session.Model,
			session.OutputDir,
			session.ManifestPath,
			session.Total,
			session.Processed,
			session.Skipped,
			session.Failed,
			session.DurationSeconds,
			session.ExitCode,
			session.Status,
		); err != nil {
			return fmt.Errorf("persist session %s: %w", session.ID, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM session_files WHERE session_id = ?", session.ID); err != nil {
			return fmt.Errorf("clear session files %s: %w", session.ID, err)
		}
		for _, file := range session.Files {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO session_files (
                    session_id, file_id, path, name, status, transcript_path, json_path, error
                ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				session.ID,
				file.ID,
				file.Path,
				file.Name,
				file.Status,
				nullableString(file.TranscriptPath),
				nullableString(file.JSONPath),
				nullableString(file.Error),
			); err != nil {
				return fmt.Errorf("persist file %s for session %s: %w", file.Path, session.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

const sessionColumns = `id, created_at, provider, model, output_dir, manifest_path,
    total, processed, skipped, failed, duration_seconds, exit_code, status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var session Session
	err := row.Scan(
		&session.ID,
		&session.CreatedAt,
		&session.Provider,
		&session.Model,
		&session.OutputDir,
		&session.ManifestPath,
		&session.Total,
		&session.Processed,
		&session.Skipped,
		&session.Failed,
		&session.DurationSeconds,
		&session.ExitCode,
		&session.Status,
	)
	return session, err
}

// ListSessions returns every archived session, newest first, with files
// ordered by name.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions ORDER BY created_at DESC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var sessions []Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	rows.Close()

	for i := range sessions {
		files, err := s.sessionFiles(ctx, sessions[i].ID)
		if err != nil {
			return nil, err
		}
		sessions[i].Files = files
	}
	return sessions, nil
}

// GetSession returns one archived session.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session %s: %w", id, err)
	}
	files, err := s.sessionFiles(ctx, id)
	if err != nil {
		return Session{}, err
	}
	session.Files = files
	return session, nil
}

func (s *Store) sessionFiles(ctx context.Context, sessionID string) ([]SessionFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_id, path, name, status, transcript_path, json_path, error
         FROM session_files
         WHERE session_id = ?
         ORDER BY name ASC, path ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session files: %w", err)
	}
	defer rows.Close()

	files := []SessionFile{}
	for rows.Next() {
		var (
			file                          SessionFile
			transcript, jsonPath, errText sql.NullString
		)
		if err := rows.Scan(&file.ID, &file.Path, &file.Name, &file.Status, &transcript, &jsonPath, &errText); err != nil {
			return nil, fmt.Errorf("scan session file: %w", err)
		}
		file.TranscriptPath = transcript.String
		file.JSONPath = jsonPath.String
		file.Error = errText.String
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session files: %w", err)
	}
	return files, nil
}

// DeleteSession removes a session and its files. Deleting an unknown id
// returns ErrSessionNotFound.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("delete session: id is empty")
	}
	ctx = ensureContext(ctx)
	var removed int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM session_files WHERE session_id = ?", id); err != nil {
			return fmt.Errorf("delete session files: %w", err)
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("delete session row: %w", err)
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if removed == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}
