// Package archive persists finished calls and their post-session artifacts
// in SQLite so they can be listed, inspected and replayed.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/joss/copilot/internal/audio"
	"github.com/joss/copilot/internal/mail"
	"github.com/joss/copilot/internal/session"
)

// ErrNotFound is returned when no run exists for an ID.
var ErrNotFound = errors.New("run not found")

// Run is everything the post-session pipeline produced for one call.
type Run struct {
	Snapshot  session.Snapshot  `json:"snapshot"`
	Summary   string            `json:"summary"`
	Provider  string            `json:"provider"`
	Clips     []audio.Clip      `json:"clips"`
	Draft     *mail.Draft       `json:"draft,omitempty"`
	Delivery  mail.Delivery     `json:"delivery"`
	Errors    map[string]string `json:"errors,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// RunInfo is a listing row.
type RunInfo struct {
	ID          string
	PartnerName string
	Start       time.Time
	End         time.Time
	Invocations int
	Clips       int
	Failed      int
}

// Duration of the call.
func (r RunInfo) Duration() time.Duration {
	if r.End.IsZero() {
		return 0
	}
	return r.End.Sub(r.Start)
}

// Store is the SQLite archive.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) copilot.db under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "copilot.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		partner_id TEXT NOT NULL,
		partner_name TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		transcript_path TEXT,
		audio_path TEXT,
		snapshot_json TEXT NOT NULL,
		summary TEXT,
		provider TEXT,
		delivery_json TEXT,
		errors_json TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_sessions_partner ON sessions(partner_id);

	CREATE TABLE IF NOT EXISTS invocations (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		timestamp DATETIME NOT NULL,
		elapsed REAL NOT NULL,
		item_id TEXT NOT NULL,
		item_name TEXT NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_invocations_session ON invocations(session_id, seq);

	CREATE TABLE IF NOT EXISTS clips (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		item_name TEXT,
		start_s REAL NOT NULL,
		end_s REAL NOT NULL,
		source TEXT,
		path TEXT,
		status TEXT NOT NULL,
		error TEXT,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_clips_session ON clips(session_id);

	CREATE TABLE IF NOT EXISTS drafts (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL UNIQUE,
		to_addr TEXT,
		subject TEXT,
		body TEXT,
		refs_json TEXT,
		clone_link TEXT,
		attachment_path TEXT,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun writes a run and its children in one transaction. Saving the same
// session again replaces the previous run.
func (s *Store) SaveRun(ctx context.Context, run Run) error {
	snap := run.Snapshot
	if snap.ID == "" {
		return errors.New("run has no session id")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	deliveryJSON, _ := json.Marshal(run.Delivery)
	var errorsJSON sql.NullString
	if len(run.Errors) > 0 {
		data, _ := json.Marshal(run.Errors)
		errorsJSON = sql.NullString{String: string(data), Valid: true}
	}
	var ended sql.NullTime
	if !snap.End.IsZero() {
		ended = sql.NullTime{Time: snap.End, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM invocations WHERE session_id = ?`,
		`DELETE FROM clips WHERE session_id = ?`,
		`DELETE FROM drafts WHERE session_id = ?`,
		`DELETE FROM sessions WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, snap.ID); err != nil {
			return fmt.Errorf("clear previous run: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, partner_id, partner_name, started_at, ended_at, transcript_path, audio_path,
			snapshot_json, summary, provider, delivery_json, errors_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, snap.ID, snap.Partner.ID, snap.Partner.Name, snap.Start, ended, snap.TranscriptPath, snap.AudioPath,
		string(snapJSON), run.Summary, run.Provider, string(deliveryJSON), errorsJSON, run.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	for i, inv := range snap.Invocations {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO invocations (id, session_id, seq, timestamp, elapsed, item_id, item_name)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, inv.ID, snap.ID, i, inv.Timestamp, inv.Elapsed, inv.ItemID, inv.ItemName)
		if err != nil {
			return fmt.Errorf("insert invocation: %w", err)
		}
	}

	for _, c := range run.Clips {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO clips (id, session_id, item_id, item_name, start_s, end_s, source, path, status, error, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, c.ID, snap.ID, c.ItemID, c.ItemName, c.Start, c.End, c.Source, c.Path, string(c.Status), c.Error, c.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert clip: %w", err)
		}
	}

	if d := run.Draft; d != nil {
		refsJSON, _ := json.Marshal(d.References)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO drafts (id, session_id, to_addr, subject, body, refs_json, clone_link, attachment_path)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, d.ID, snap.ID, d.To, d.Subject, d.Body, string(refsJSON), d.CloneLink, d.AttachmentPath)
		if err != nil {
			return fmt.Errorf("insert draft: %w", err)
		}
	}

	return tx.Commit()
}

// GetRun loads a full run.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	var (
		run          Run
		snapJSON     string
		summary      sql.NullString
		provider     sql.NullString
		deliveryJSON sql.NullString
		errorsJSON   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot_json, summary, provider, delivery_json, errors_json, created_at
		FROM sessions WHERE id = ?
	`, id).Scan(&snapJSON, &summary, &provider, &deliveryJSON, &errorsJSON, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(snapJSON), &run.Snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	run.Summary = summary.String
	run.Provider = provider.String
	if deliveryJSON.Valid {
		json.Unmarshal([]byte(deliveryJSON.String), &run.Delivery)
	}
	if errorsJSON.Valid {
		json.Unmarshal([]byte(errorsJSON.String), &run.Errors)
	}

	if run.Clips, err = s.clips(ctx, id); err != nil {
		return nil, err
	}
	if run.Draft, err = s.draft(ctx, id); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *Store) clips(ctx context.Context, sessionID string) ([]audio.Clip, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, item_name, start_s, end_s, source, path, status, error, created_at
		FROM clips WHERE session_id = ? ORDER BY start_s, id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audio.Clip
	for rows.Next() {
		var (
			c                     audio.Clip
			name, src, path, cerr sql.NullString
			status                string
		)
		if err := rows.Scan(&c.ID, &c.ItemID, &name, &c.Start, &c.End, &src, &path, &status, &cerr, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.SessionID = sessionID
		c.ItemName = name.String
		c.Source = src.String
		c.Path = path.String
		c.Status = audio.Status(status)
		c.Error = cerr.String
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) draft(ctx context.Context, sessionID string) (*mail.Draft, error) {
	var (
		d                                         mail.Draft
		to, subject, body, refsJSON, link, attach sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, to_addr, subject, body, refs_json, clone_link, attachment_path
		FROM drafts WHERE session_id = ?
	`, sessionID).Scan(&d.ID, &to, &subject, &body, &refsJSON, &link, &attach)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d.To = to.String
	d.Subject = subject.String
	d.Body = body.String
	d.CloneLink = link.String
	d.AttachmentPath = attach.String
	if refsJSON.Valid {
		json.Unmarshal([]byte(refsJSON.String), &d.References)
	}
	return &d, nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.partner_name, s.started_at, s.ended_at,
			(SELECT COUNT(*) FROM invocations i WHERE i.session_id = s.id),
			(SELECT COUNT(*) FROM clips c WHERE c.session_id = s.id),
			(SELECT COUNT(*) FROM clips c WHERE c.session_id = s.id AND c.status = 'failed')
		FROM sessions s ORDER BY s.started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var (
			info  RunInfo
			ended sql.NullTime
		)
		if err := rows.Scan(&info.ID, &info.PartnerName, &info.Start, &ended, &info.Invocations, &info.Clips, &info.Failed); err != nil {
			return nil, err
		}
		if ended.Valid {
			info.End = ended.Time
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Snapshot returns the stored session snapshot, for replaying the pipeline.
func (s *Store) Snapshot(ctx context.Context, id string) (session.Snapshot, error) {
	var snapJSON string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot_json FROM sessions WHERE id = ?`, id).Scan(&snapJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return session.Snapshot{}, err
	}

	var snap session.Snapshot
	if err := json.Unmarshal([]byte(snapJSON), &snap); err != nil {
		return session.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
