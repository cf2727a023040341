package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/leafsync/leafsync/internal/metrics"
)

// Postgres runs migrations against a PostgreSQL database, where
// collections are tables.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres opens the database at url and creates the ledger table.
func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+pq.QuoteIdentifier(ledgerCollection)+` (
		name        TEXT PRIMARY KEY,
		migrated_at TIMESTAMPTZ NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger: %w", err)
	}
	return &Postgres{db: db}, nil
}

// DropCollection drops the table called name if it exists.
func (p *Postgres) DropCollection(ctx context.Context, name string) error {
	start := time.Now()
	_, err := p.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+pq.QuoteIdentifier(name))
	metrics.RecordStorageOperation("postgres", "drop_collection", time.Since(start), err == nil)
	if err != nil {
		return fmt.Errorf("drop %s: %w", name, err)
	}
	return nil
}

// ListApplied returns the names in the ledger.
func (p *Postgres) ListApplied(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT name FROM `+pq.QuoteIdentifier(ledgerCollection)+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query migrations: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan migration: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// RecordApplied adds name to the ledger.
func (p *Postgres) RecordApplied(ctx context.Context, name string, at time.Time) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO `+pq.QuoteIdentifier(ledgerCollection)+` (name, migrated_at) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET migrated_at = EXCLUDED.migrated_at`,
		name, at)
	if err != nil {
		return fmt.Errorf("record %s: %w", name, err)
	}
	return nil
}

// RemoveApplied deletes name from the ledger.
func (p *Postgres) RemoveApplied(ctx context.Context, name string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM `+pq.QuoteIdentifier(ledgerCollection)+` WHERE name = $1`, name); err != nil {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

// Close closes the database.
func (p *Postgres) Close(context.Context) error {
	return p.db.Close()
}
