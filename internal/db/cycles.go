package db

import (
	"context"
	"time"
)

const cycleColumns = `cycle_id, namespace, started_at, completed_at, total, complete,
		complete_with_update, failed, escalation, error`

// CreateCycle records the start of a fleet cycle
func (db *DB) CreateCycle(ctx context.Context, cycle *SyncCycle) error {
	if cycle.StartedAt.IsZero() {
		cycle.StartedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO sync_cycles (cycle_id, namespace, started_at)
		VALUES (?, ?, ?)
	`
	_, err := db.ExecContext(ctx, db.rebind(query), cycle.CycleID, cycle.Namespace, cycle.StartedAt)
	if IsDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

// CompleteCycle stores the summary of a finished cycle
func (db *DB) CompleteCycle(ctx context.Context, cycleID string, completedAt time.Time, summary CycleSummary) error {
	query := `
		UPDATE sync_cycles
		SET completed_at = ?, total = ?, complete = ?, complete_with_update = ?, failed = ?, escalation = ?, error = ?
		WHERE cycle_id = ?
	`

	result, err := db.ExecContext(ctx, db.rebind(query),
		completedAt,
		summary.Total,
		summary.Complete,
		summary.CompleteWithUpdate,
		summary.Failed,
		nullable(summary.Escalation),
		nullable(summary.Error),
		cycleID,
	)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCycle retrieves a cycle by id
func (db *DB) GetCycle(ctx context.Context, cycleID string) (*SyncCycle, error) {
	query := `SELECT ` + cycleColumns + ` FROM sync_cycles WHERE cycle_id = ?`

	cycle, err := scanCycle(db.QueryRowContext(ctx, db.rebind(query), cycleID))
	if IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cycle, nil
}

// LatestCycles returns the most recent cycles of a namespace, newest first
func (db *DB) LatestCycles(ctx context.Context, namespace string, limit int) ([]SyncCycle, error) {
	query := `
		SELECT ` + cycleColumns + `
		FROM sync_cycles
		WHERE namespace = ?
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := db.QueryContext(ctx, db.rebind(query), namespace, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []SyncCycle
	for rows.Next() {
		cycle, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, *cycle)
	}
	return cycles, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCycle(row rowScanner) (*SyncCycle, error) {
	c := &SyncCycle{}
	err := row.Scan(
		&c.CycleID,
		&c.Namespace,
		&c.StartedAt,
		&c.CompletedAt,
		&c.Total,
		&c.Complete,
		&c.CompleteWithUpdate,
		&c.Failed,
		&c.Escalation,
		&c.Error,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
