// ABOUTME: SQLite implementation of the lead ledger using database/sql
// ABOUTME: Supports the pure-Go modernc.org/sqlite driver and the cgo mattn/go-sqlite3 driver

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverModernc = "sqlite"  // modernc.org/sqlite, pure Go
	DriverCGO     = "sqlite3" // github.com/mattn/go-sqlite3, requires cgo
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens a ledger at path with the pure-Go driver.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return Open(DriverModernc, path)
}

// Open opens a ledger at path using the named driver.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func Open(driver, path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if driver == "" {
		driver = DriverModernc
	}
	if driver != DriverModernc && driver != DriverCGO {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: keeps :memory: databases shared and avoids SQLITE_BUSY
	// between pooled writers. Ledger writes are small.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite ledger initialized", "path", path, "driver", driver)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS leads (
			lead_id      TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			status       TEXT NOT NULL,
			answers_json TEXT NOT NULL DEFAULT '{}',
			last_updated INTEGER NOT NULL,
			created_at   TEXT NOT NULL,

			CHECK (status IN ('pending_consent', 'active', 'follow_up_sent', 'secured', 'declined'))
		);

		CREATE INDEX IF NOT EXISTS idx_leads_status ON leads(status);
		CREATE INDEX IF NOT EXISTS idx_leads_updated ON leads(last_updated DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite ledger")
	return s.db.Close()
}

// UpsertLead inserts or overwrites the record for rec.LeadID.
// If rec.LastUpdated is zero it is stamped with the current time.
// A write older than the stored record is ignored (last write wins).
func (s *SQLiteStore) UpsertLead(ctx context.Context, rec *LeadRecord) error {
	if rec.LeadID == "" {
		return fmt.Errorf("lead_id is required")
	}
	if rec.LastUpdated.IsZero() {
		rec.LastUpdated = time.Now().UTC()
	}

	answers := rec.Answers
	if answers == nil {
		answers = map[string]string{}
	}
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("encoding answers: %w", err)
	}

	query := `
		INSERT INTO leads (lead_id, name, status, answers_json, last_updated, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(lead_id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			answers_json = excluded.answers_json,
			last_updated = excluded.last_updated
		WHERE excluded.last_updated >= leads.last_updated
	`

	_, err = s.db.ExecContext(ctx, query,
		rec.LeadID,
		rec.Name,
		string(rec.Status),
		string(answersJSON),
		rec.LastUpdated.UnixNano(),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting lead: %w", err)
	}

	s.logger.Debug("upserted lead", "lead_id", rec.LeadID, "status", rec.Status)
	return nil
}

// GetLead retrieves a lead record by id.
// Returns ErrNotFound if the lead doesn't exist.
func (s *SQLiteStore) GetLead(ctx context.Context, leadID string) (*LeadRecord, error) {
	query := `
		SELECT lead_id, name, status, answers_json, last_updated
		FROM leads
		WHERE lead_id = ?
	`

	rec, err := scanLead(s.db.QueryRowContext(ctx, query, leadID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying lead: %w", err)
	}
	return rec, nil
}

// ListLeads retrieves leads ordered by most recent update.
func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]*LeadRecord, error) {
	query := `
		SELECT lead_id, name, status, answers_json, last_updated
		FROM leads
		WHERE (? = '' OR status = ?)
		ORDER BY last_updated DESC, lead_id ASC
		LIMIT ?
	`

	status := string(filter.Status)
	rows, err := s.db.QueryContext(ctx, query, status, status, normalizeLimit(filter.Limit))
	if err != nil {
		return nil, fmt.Errorf("querying leads: %w", err)
	}
	defer rows.Close()

	var leads []*LeadRecord
	for rows.Next() {
		rec, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning lead row: %w", err)
		}
		leads = append(leads, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating lead rows: %w", err)
	}
	return leads, nil
}

// CountLeadsByStatus returns how many leads are recorded in each status.
func (s *SQLiteStore) CountLeadsByStatus(ctx context.Context) (map[LeadStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM leads GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting leads: %w", err)
	}
	defer rows.Close()

	counts := make(map[LeadStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning count row: %w", err)
		}
		counts[LeadStatus(status)] = n
	}
	return counts, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanLead(row rowScanner) (*LeadRecord, error) {
	var rec LeadRecord
	var status, answersJSON string
	var updatedNanos int64

	if err := row.Scan(&rec.LeadID, &rec.Name, &status, &answersJSON, &updatedNanos); err != nil {
		return nil, err
	}

	rec.Status = LeadStatus(status)
	rec.LastUpdated = time.Unix(0, updatedNanos).UTC()
	rec.Answers = map[string]string{}
	if err := json.Unmarshal([]byte(answersJSON), &rec.Answers); err != nil {
		return nil, fmt.Errorf("decoding answers: %w", err)
	}
	return &rec, nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
