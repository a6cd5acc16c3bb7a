package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store manages the SQLite connection and schema.
type Store struct {
	db *sql.DB
}

var _ History = (*Store)(nil)

// NewStore initializes the SQLite database connection.
// It enables WAL mode for concurrency and durability.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the necessary tables if they don't exist.
func (s *Store) migrate() error {
	// passes and undeletable are JSON columns; they are only read back
	// whole.
	query := `
	CREATE TABLE IF NOT EXISTS campaigns (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		target TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		passes JSON NOT NULL DEFAULT '[]',
		processed INTEGER NOT NULL DEFAULT 0,
		succeeded INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		undeletable JSON NOT NULL DEFAULT '[]'
	);

	CREATE INDEX IF NOT EXISTS idx_campaigns_started ON campaigns(started_at);

	CREATE TABLE IF NOT EXISTS leases (
		name TEXT PRIMARY KEY,
		holder_id TEXT NOT NULL,
		expires_at DATETIME NOT NULL,
		version INTEGER NOT NULL,
		epoch INTEGER NOT NULL DEFAULT 1
	);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

// SaveCampaign inserts c or replaces the stored campaign with the same id.
func (s *Store) SaveCampaign(ctx context.Context, c Campaign) error {
	passes, err := json.Marshal(nonNil(c.Passes))
	if err != nil {
		return fmt.Errorf("failed to marshal passes: %w", err)
	}
	undeletable, err := json.Marshal(nonNil(c.Undeletable))
	if err != nil {
		return fmt.Errorf("failed to marshal undeletable assets: %w", err)
	}

	var finished sql.NullTime
	if !c.FinishedAt.IsZero() {
		finished = sql.NullTime{Time: c.FinishedAt.UTC(), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, kind, target, started_at, finished_at, passes, processed, succeeded, status, error, undeletable)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			passes = excluded.passes,
			processed = excluded.processed,
			succeeded = excluded.succeeded,
			status = excluded.status,
			error = excluded.error,
			undeletable = excluded.undeletable
	`, c.ID, string(c.Kind), c.Target, c.StartedAt.UTC(), finished,
		string(passes), c.Processed, c.Succeeded, string(c.Status), c.Error, string(undeletable))
	if err != nil {
		return fmt.Errorf("failed to save campaign %s: %w", c.ID, err)
	}
	return nil
}

const campaignColumns = `id, kind, target, started_at, finished_at, passes, processed, succeeded, status, error, undeletable`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (Campaign, error) {
	var (
		c                   Campaign
		kind, status        string
		finished            sql.NullTime
		passes, undeletable string
	)
	if err := row.Scan(&c.ID, &kind, &c.Target, &c.StartedAt, &finished, &passes,
		&c.Processed, &c.Succeeded, &status, &c.Error, &undeletable); err != nil {
		return Campaign{}, err
	}
	c.Kind = CampaignKind(kind)
	c.Status = CampaignStatus(status)
	if finished.Valid {
		c.FinishedAt = finished.Time
	}
	if err := json.Unmarshal([]byte(passes), &c.Passes); err != nil {
		return Campaign{}, fmt.Errorf("campaign %s passes: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(undeletable), &c.Undeletable); err != nil {
		return Campaign{}, fmt.Errorf("campaign %s undeletable: %w", c.ID, err)
	}
	if len(c.Passes) == 0 {
		c.Passes = nil
	}
	if len(c.Undeletable) == 0 {
		c.Undeletable = nil
	}
	return c, nil
}

// GetCampaign returns the campaign with the given id.
func (s *Store) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrCampaignNotFound, id)
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return &c, nil
}

// ListCampaigns returns matching campaigns, newest first.
func (s *Store) ListCampaigns(ctx context.Context, f CampaignFilter) ([]Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	var args []any
	if f.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(f.Kind))
	}
	if !f.Since.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, f.Since.UTC())
	}
	query += ` ORDER BY started_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query campaigns: %w", err)
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate campaigns: %w", err)
	}
	return out, nil
}

// Prune deletes campaigns that started before cutoff and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM campaigns WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune campaigns: %w", err)
	}
	return res.RowsAffected()
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
