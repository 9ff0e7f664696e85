package stats

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Tracker persists the running cost record: how many paid translation
// operations completed in total and today, and what they cost. The record
// is keyed separately from job state so it outlives any individual job. It
// is incremented exactly once per successful paid operation and never
// decremented or replayed for skipped/failed items.
type Tracker struct {
	db  *sql.DB
	now func() time.Time
}

// Record is the persisted cost record.
type Record struct {
	TotalCount int     `json:"totalCount"`
	TotalCost  float64 `json:"totalCost"`
	Today      Daily   `json:"today"`
}

// Daily is the same-day bucket of the cost record.
type Daily struct {
	Date  string  `json:"date"` // YYYY-MM-DD, UTC
	Count int     `json:"count"`
	Cost  float64 `json:"cost"`
}

// NewTracker creates a tracker on the given database, creating its table
// if needed.
func NewTracker(db *sql.DB) (*Tracker, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS cost_stats (
		slot INTEGER PRIMARY KEY CHECK (slot = 1),
		total_count INTEGER NOT NULL,
		total_cost REAL NOT NULL,
		today_date TEXT NOT NULL,
		today_count INTEGER NOT NULL,
		today_cost REAL NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate cost_stats: %w", err)
	}
	return &Tracker{db: db, now: time.Now}, nil
}

// Add records one completed paid operation of the given cost.
func (t *Tracker) Add(cost float64) error {
	rec, err := t.Load()
	if err != nil {
		return err
	}
	today := t.today()
	if rec.Today.Date != today {
		rec.Today = Daily{Date: today}
	}
	rec.TotalCount++
	rec.TotalCost += cost
	rec.Today.Count++
	rec.Today.Cost += cost

	_, err = t.db.Exec(
		`INSERT INTO cost_stats (slot, total_count, total_cost, today_date, today_count, today_cost)
		 VALUES (1, ?, ?, ?, ?, ?)
		 ON CONFLICT (slot) DO UPDATE SET
			total_count = excluded.total_count,
			total_cost = excluded.total_cost,
			today_date = excluded.today_date,
			today_count = excluded.today_count,
			today_cost = excluded.today_cost`,
		rec.TotalCount, rec.TotalCost, rec.Today.Date, rec.Today.Count, rec.Today.Cost,
	)
	if err != nil {
		return fmt.Errorf("save cost record: %w", err)
	}
	return nil
}

// Load returns the current cost record. The same-day bucket is rolled over
// (zeroed) when the stored date is not today.
func (t *Tracker) Load() (Record, error) {
	var rec Record
	err := t.db.QueryRow(
		`SELECT total_count, total_cost, today_date, today_count, today_cost FROM cost_stats WHERE slot = 1`,
	).Scan(&rec.TotalCount, &rec.TotalCost, &rec.Today.Date, &rec.Today.Count, &rec.Today.Cost)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{Today: Daily{Date: t.today()}}, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("load cost record: %w", err)
	}
	if today := t.today(); rec.Today.Date != today {
		rec.Today = Daily{Date: today}
	}
	return rec, nil
}

func (t *Tracker) today() string {
	return t.now().UTC().Format("2006-01-02")
}
