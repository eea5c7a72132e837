package syncer

import (
	"time"

	"github.com/livinlefevreloca/dapsync/internal/db"
	"github.com/livinlefevreloca/dapsync/internal/tablesync"
)

// RecordUpdate is the final record of one table in one cycle
type RecordUpdate struct {
	CycleID   string
	Namespace string
	Record    tablesync.Record
	At        time.Time
}

func (u RecordUpdate) toRow() *db.TableRecord {
	row := &db.TableRecord{
		Namespace: u.Namespace,
		TableName: u.Record.TableName,
		State:     u.Record.State.String(),
		UpdatedAt: u.At,
	}
	if u.Record.ErrorMessage != "" {
		msg := u.Record.ErrorMessage
		row.ErrorMessage = &msg
	}
	if u.CycleID != "" {
		id := u.CycleID
		row.CycleID = &id
	}
	return row
}

// Stats provides current syncer statistics
type Stats struct {
	Submitted int64
	Written   int64
	Failed    int64
	Batches   int64
}
