package db

import (
	"context"
	"time"
)

const upsertTableRecord = `
	INSERT INTO table_records (namespace, table_name, state, error_message, cycle_id, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT (namespace, table_name) DO UPDATE SET
		state = excluded.state,
		error_message = excluded.error_message,
		cycle_id = excluded.cycle_id,
		updated_at = excluded.updated_at
`

// UpsertTableRecord stores the latest record of a table
func (db *DB) UpsertTableRecord(ctx context.Context, rec *TableRecord) error {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx, db.rebind(upsertTableRecord),
		rec.Namespace,
		rec.TableName,
		rec.State,
		rec.ErrorMessage,
		rec.CycleID,
		rec.UpdatedAt,
	)
	return err
}

// UpsertTableRecords stores several records in one transaction
func (db *DB) UpsertTableRecords(ctx context.Context, recs []*TableRecord) error {
	return db.WithTransaction(ctx, func(tx *Tx) error {
		stmt, err := tx.PrepareContext(ctx, db.rebind(upsertTableRecord))
		if err != nil {
			return err
		}
		defer stmt.Close()

		now := time.Now().UTC()
		for _, rec := range recs {
			if rec.UpdatedAt.IsZero() {
				rec.UpdatedAt = now
			}
			if _, err := stmt.ExecContext(ctx,
				rec.Namespace, rec.TableName, rec.State, rec.ErrorMessage, rec.CycleID, rec.UpdatedAt,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetTableRecord retrieves the record of one table
func (db *DB) GetTableRecord(ctx context.Context, namespace, tableName string) (*TableRecord, error) {
	query := `
		SELECT namespace, table_name, state, error_message, cycle_id, updated_at
		FROM table_records
		WHERE namespace = ? AND table_name = ?
	`

	rec := &TableRecord{}
	err := db.QueryRowContext(ctx, db.rebind(query), namespace, tableName).Scan(
		&rec.Namespace,
		&rec.TableName,
		&rec.State,
		&rec.ErrorMessage,
		&rec.CycleID,
		&rec.UpdatedAt,
	)
	if IsNotFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetTableRecords retrieves every record of a namespace, ordered by table name
func (db *DB) GetTableRecords(ctx context.Context, namespace string) ([]TableRecord, error) {
	query := `
		SELECT namespace, table_name, state, error_message, cycle_id, updated_at
		FROM table_records
		WHERE namespace = ?
		ORDER BY table_name
	`

	rows, err := db.QueryContext(ctx, db.rebind(query), namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []TableRecord
	for rows.Next() {
		var rec TableRecord
		if err := rows.Scan(
			&rec.Namespace,
			&rec.TableName,
			&rec.State,
			&rec.ErrorMessage,
			&rec.CycleID,
			&rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	return recs, rows.Err()
}

// DeleteTableRecord forgets a table, e.g. one dropped upstream
func (db *DB) DeleteTableRecord(ctx context.Context, namespace, tableName string) error {
	result, err := db.ExecContext(ctx, db.rebind("DELETE FROM table_records WHERE namespace = ? AND table_name = ?"), namespace, tableName)
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
