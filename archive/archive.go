// Package archive keeps a bounded SQLite copy of uploaded spots for offline
// analysis. Rows are only ever inserted; once a mode reaches its limit further
// spots of that mode are skipped.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"digiskimmer/spot"

	_ "modernc.org/sqlite"
)

const openCheckTimeout = 5 * time.Second

// Archive persists a limited number of uploaded spots per mode into SQLite.
type Archive struct {
	db            *sql.DB
	perModeLimit  int
	mu            sync.Mutex
	perModeCounts map[string]int
}

// Open opens (or creates) the SQLite database at path, checks it and
// ensures the schema exists. Existing rows count against the per-mode limit.
func Open(path string, perModeLimit int) (*Archive, error) {
	if perModeLimit <= 0 {
		return nil, errors.New("archive: per-mode limit must be > 0")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("archive: ensure dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), openCheckTimeout)
	defer cancel()
	if err := quickCheck(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	counts, err := loadCounts(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Archive{db: db, perModeLimit: perModeLimit, perModeCounts: counts}, nil
}

func quickCheck(ctx context.Context, db *sql.DB) error {
	var result string
	if err := db.QueryRowContext(ctx, "pragma quick_check").Scan(&result); err != nil {
		return fmt.Errorf("archive: quick_check: %w", err)
	}
	if !strings.EqualFold(result, "ok") {
		return fmt.Errorf("archive: quick_check failed: %s", result)
	}
	return nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS uploaded_spots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    station TEXT,
    mode TEXT,
    callsign TEXT,
    locator TEXT,
    frequency REAL,
    snr REAL,
    dt REAL,
    observed_at INTEGER,
    message TEXT,
    uploaded_at INTEGER
);
CREATE INDEX IF NOT EXISTS uploaded_spots_mode ON uploaded_spots(mode);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("archive: schema: %w", err)
	}
	return nil
}

func loadCounts(ctx context.Context, db *sql.DB) (map[string]int, error) {
	rows, err := db.QueryContext(ctx, "SELECT mode, COUNT(*) FROM uploaded_spots GROUP BY mode")
	if err != nil {
		return nil, fmt.Errorf("archive: count rows: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var mode string
		var n int
		if err := rows.Scan(&mode, &n); err != nil {
			return nil, fmt.Errorf("archive: count rows: %w", err)
		}
		counts[mode] = n
	}
	return counts, rows.Err()
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Archive inserts the spots of one uploaded batch that still fit under their
// mode's limit. It runs on the uploading goroutine, never on the decode path.
func (a *Archive) Archive(station string, spots []spot.Spot) error {
	if a == nil || a.db == nil || len(spots) == 0 {
		return nil
	}
	accepted := a.reserve(spots)
	if len(accepted) == 0 {
		return nil
	}

	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("archive: begin: %w", err)
	}
	stmt, err := tx.Prepare(`
INSERT INTO uploaded_spots (
    station, mode, callsign, locator, frequency, snr, dt, observed_at, message, uploaded_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("archive: prepare: %w", err)
	}
	defer stmt.Close()
	now := time.Now().UTC().Unix()
	for _, s := range accepted {
		if _, err := stmt.Exec(station, modeKey(s.Mode), s.Callsign, sanitizeGrid(s.Locator), s.Freq, s.DB, s.DT, s.Timestamp, s.Msg, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("archive: insert: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive: commit: %w", err)
	}
	return nil
}

func (a *Archive) reserve(spots []spot.Spot) []spot.Spot {
	a.mu.Lock()
	defer a.mu.Unlock()
	accepted := make([]spot.Spot, 0, len(spots))
	for _, s := range spots {
		mode := modeKey(s.Mode)
		if a.perModeCounts[mode] >= a.perModeLimit {
			continue
		}
		a.perModeCounts[mode]++
		accepted = append(accepted, s)
	}
	return accepted
}

// Count returns the number of archived spots for mode.
func (a *Archive) Count(mode string) (int, error) {
	var n int
	err := a.db.QueryRow("SELECT COUNT(*) FROM uploaded_spots WHERE mode = ?", modeKey(mode)).Scan(&n)
	return n, err
}

func modeKey(mode string) string {
	mode = strings.ToUpper(strings.TrimSpace(mode))
	if mode == "" {
		return "UNKNOWN"
	}
	return mode
}

// sanitizeGrid trims and uppercases the locator, limiting it to 6 characters.
func sanitizeGrid(grid string) string {
	grid = strings.TrimSpace(strings.ToUpper(grid))
	if len(grid) > 6 {
		grid = grid[:6]
	}
	return grid
}
