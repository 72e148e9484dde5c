// Package storage persists registration runs and their per-frame shifts in
// SQLite.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for registration runs.
type Store struct {
	DB *sql.DB
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS registration_runs (
            id TEXT PRIMARY KEY,
            method TEXT NOT NULL,
            status TEXT NOT NULL,
            sequence_dir TEXT,
            layer INTEGER,
            options_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS frame_shifts (
            run_id TEXT NOT NULL,
            frame_index INTEGER NOT NULL,
            shift_x REAL NOT NULL,
            shift_y REAL NOT NULL,
            quality REAL,
            PRIMARY KEY (run_id, frame_index)
        );`,
		`CREATE TABLE IF NOT EXISTS sequence_frames (
            sequence_dir TEXT NOT NULL,
            frame_index INTEGER NOT NULL,
            file_path TEXT NOT NULL,
            date_obs TEXT,
            included BOOLEAN DEFAULT TRUE,
            PRIMARY KEY (sequence_dir, frame_index)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_frame_shifts_run ON frame_shifts(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_sequence ON registration_runs(sequence_dir);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// RunRecord captures persisted run info.
type RunRecord struct {
	ID          string
	Method      string
	Status      string
	SequenceDir string
	Layer       int
	OptionsJSON string
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// FrameShift is one persisted per-frame shift.
type FrameShift struct {
	FrameIndex int     `json:"frame_index"`
	ShiftX     float64 `json:"shift_x"`
	ShiftY     float64 `json:"shift_y"`
	Quality    float64 `json:"quality"`
}

// RecordRunQueued inserts a pending run.
func (s *Store) RecordRunQueued(rec RunRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO registration_runs (id, method, status, sequence_dir, layer, options_json) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.Method, rec.Status, rec.SequenceDir, rec.Layer, rec.OptionsJSON)
	return err
}

// RecordRunStart marks a run as running.
func (s *Store) RecordRunStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE registration_runs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordRunResult finalizes a run with status and error message.
func (s *Store) RecordRunResult(id string, status string, errMsg string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE registration_runs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`, status, errMsg, id)
	return err
}

// RecordShifts replaces a run's persisted shifts with the given set.
func (s *Store) RecordShifts(runID string, shifts []FrameShift) error {
	if s == nil {
		return nil
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM frame_shifts WHERE run_id=?;`, runID); err != nil {
		return err
	}
	for _, sh := range shifts {
		if _, err := tx.Exec(`INSERT INTO frame_shifts (run_id, frame_index, shift_x, shift_y, quality) VALUES (?, ?, ?, ?, ?);`,
			runID, sh.FrameIndex, sh.ShiftX, sh.ShiftY, sh.Quality); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RunShifts returns a run's persisted shifts ordered by frame index.
func (s *Store) RunShifts(runID string) ([]FrameShift, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT frame_index, shift_x, shift_y, COALESCE(quality, 0) FROM frame_shifts WHERE run_id=? ORDER BY frame_index;`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shifts []FrameShift
	for rows.Next() {
		var sh FrameShift
		if err := rows.Scan(&sh.FrameIndex, &sh.ShiftX, &sh.ShiftY, &sh.Quality); err != nil {
			return nil, err
		}
		shifts = append(shifts, sh)
	}
	return shifts, rows.Err()
}

// RecentRuns returns the latest runs up to limit.
func (s *Store) RecentRuns(limit int) ([]RunRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, method, status, sequence_dir, layer, options_json, created_at, started_at, completed_at, error_message FROM registration_runs ORDER BY created_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []RunRecord
	for rows.Next() {
		var rec RunRecord
		var created time.Time
		var started, completed sql.NullTime
		var errorMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Method, &rec.Status, &rec.SequenceDir, &rec.Layer, &rec.OptionsJSON, &created, &started, &completed, &errorMsg); err != nil {
			return nil, err
		}
		rec.CreatedAt = created
		if started.Valid {
			rec.StartedAt = &started.Time
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		if errorMsg.Valid {
			rec.Error = errorMsg.String
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RecordSequenceFrames persists the scanned frame list for a sequence
// directory, replacing any prior scan.
func (s *Store) RecordSequenceFrames(dir string, frames []SequenceFrame) error {
	if s == nil {
		return nil
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM sequence_frames WHERE sequence_dir=?;`, dir); err != nil {
		return err
	}
	for _, f := range frames {
		if _, err := tx.Exec(`INSERT INTO sequence_frames (sequence_dir, frame_index, file_path, date_obs, included) VALUES (?, ?, ?, ?, ?);`,
			dir, f.FrameIndex, f.FilePath, f.DateObs, f.Included); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SequenceFrame is one persisted scanned frame.
type SequenceFrame struct {
	FrameIndex int    `json:"frame_index"`
	FilePath   string `json:"file_path"`
	DateObs    string `json:"date_obs"`
	Included   bool   `json:"included"`
}

// MarshalOptions renders a run's option map for storage.
func MarshalOptions(opts map[string]any) string {
	if opts == nil {
		return ""
	}
	b, err := json.Marshal(opts)
	if err != nil {
		return fmt.Sprintf("%v", opts)
	}
	return string(b)
}
