package jobs

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jo-hoe/shopglot/internal/common"
)

// SQLiteStore persists the single active job in a SQLite database. The job
// is stored as one JSON payload overwritten wholesale on every save, so a
// crash between item transitions loses at most the in-flight item.
type SQLiteStore struct {
	db *sql.DB
}

// storedJob is the persisted shape. The destination kind is flattened to a
// boolean so stored jobs stay readable across destination additions.
type storedJob struct {
	ID                   string    `json:"id"`
	IsDestinationCatalog bool      `json:"isDestinationCatalog"`
	Items                []JobItem `json:"items"`
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	// Busy timeout to avoid SQLITE_BUSY in concurrent access.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, common.SQLiteBusyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS job_slot (
		slot INTEGER PRIMARY KEY CHECK (slot = 1),
		payload TEXT NOT NULL,
		saved_at TEXT NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// Save overwrites the job slot with the given job.
func (s *SQLiteStore) Save(job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if job.ID == "" {
		return errors.New("job.ID is required")
	}
	payload, err := json.Marshal(storedJob{
		ID:                   job.ID,
		IsDestinationCatalog: job.Destination == DestinationCatalog,
		Items:                job.Items,
	})
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO job_slot (slot, payload, saved_at) VALUES (1, ?, ?)
		 ON CONFLICT (slot) DO UPDATE SET payload = excluded.payload, saved_at = excluded.saved_at`,
		string(payload), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

// Load returns the stored job, or nil when the slot is empty.
func (s *SQLiteStore) Load() (*Job, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM job_slot WHERE slot = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	var stored storedJob
	if err := json.Unmarshal([]byte(payload), &stored); err != nil {
		return nil, fmt.Errorf("parse stored job: %w", err)
	}
	dest := DestinationDownload
	if stored.IsDestinationCatalog {
		dest = DestinationCatalog
	}
	return &Job{ID: stored.ID, Destination: dest, Items: stored.Items}, nil
}

// Clear empties the job slot.
func (s *SQLiteStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM job_slot WHERE slot = 1`); err != nil {
		return fmt.Errorf("clear job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle so other single-file state (cost
// counters) can share the database.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}
