package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const statsSchema = `
CREATE TABLE IF NOT EXISTS escalation_stats (
	day TEXT NOT NULL,
	module TEXT NOT NULL,
	signal TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (day, module, signal)
);
`

// EscalationCount is one aggregated row: escalations per day, module and decisive signal.
type EscalationCount struct {
	Day    string `json:"day"`
	Module string `json:"module"`
	Signal string `json:"signal"`
	Count  int64  `json:"count"`
}

// StatsStore keeps anonymized escalation counts. It stores no session IDs or text.
type StatsStore struct {
	db *sql.DB
}

// NewStatsStore opens or creates the stats database at dbPath.
func NewStatsStore(dbPath string) (*StatsStore, error) {
	db, err := openSQLite(dbPath, statsSchema)
	if err != nil {
		return nil, err
	}
	return &StatsStore{db: db}, nil
}

// RecordEscalation increments the counter for each decisive signal. An escalation without a
// decisive signal is counted under "none".
func (s *StatsStore) RecordEscalation(ctx context.Context, at time.Time, module string, decisive []string) error {
	if len(decisive) == 0 {
		decisive = []string{"none"}
	}
	day := at.UTC().Format(time.DateOnly)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, signal := range decisive {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO escalation_stats (day, module, signal, count) VALUES (?, ?, ?, 1)
			 ON CONFLICT(day, module, signal) DO UPDATE SET count = count + 1`,
			day, module, signal,
		); err != nil {
			return fmt.Errorf("record escalation: %w", err)
		}
	}
	return tx.Commit()
}

// EscalationCounts returns rows from since (inclusive, by day) ordered by day, module, signal.
func (s *StatsStore) EscalationCounts(ctx context.Context, since time.Time) ([]EscalationCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT day, module, signal, count FROM escalation_stats WHERE day >= ? ORDER BY day, module, signal`,
		since.UTC().Format(time.DateOnly))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EscalationCount
	for rows.Next() {
		var c EscalationCount
		if err := rows.Scan(&c.Day, &c.Module, &c.Signal, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *StatsStore) Close() error {
	return s.db.Close()
}
