// Package sqlite implements store.ReportStore on SQLite.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jxucoder/researcher/pkg/model"
	"github.com/jxucoder/researcher/pkg/store"
)

// Store keeps reports in a single SQLite table. The full report is stored as
// JSON; the listing columns are duplicated for cheap queries.
type Store struct {
	db *sql.DB
}

var _ store.ReportStore = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS reports (
			id         TEXT PRIMARY KEY,
			topic      TEXT NOT NULL,
			depth      TEXT NOT NULL DEFAULT 'standard',
			payload    TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_reports_created_at
			ON reports(created_at);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts or replaces a report.
func (s *Store) Save(r *model.Report) (string, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()[:8]
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encoding report: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO reports (id, topic, depth, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.Topic, string(r.Depth), string(payload), r.CreatedAt.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("saving report %s: %w", r.ID, err)
	}
	return r.ID, nil
}

// List returns all report summaries ordered by creation time (newest first).
func (s *Store) List() ([]model.Summary, error) {
	rows, err := s.db.Query(
		`SELECT id, topic, depth, created_at FROM reports ORDER BY created_at DESC, rowid DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Summary
	for rows.Next() {
		var sum model.Summary
		if err := rows.Scan(&sum.ID, &sum.Topic, &sum.Depth, &sum.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Load retrieves a report by ID.
func (s *Store) Load(id string) (*model.Report, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM reports WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading report %s: %w", id, err)
	}

	var r model.Report
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, fmt.Errorf("decoding report %s: %w", id, err)
	}
	return &r, nil
}
