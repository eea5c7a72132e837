package tablesync

import "fmt"

// Record is the unit of per-table state passed between the orchestrator and
// the controller on every cycle.
type Record struct {
	TableName    string `json:"table_name"`
	State        State  `json:"state"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// NewRecord creates a record for a newly discovered table
func NewRecord(table string, state State) Record {
	return Record{TableName: table, State: state}
}

// Task names reported in error messages
const (
	TaskSync = "sync_table"
	TaskInit = "init_table"
)

// Error categories reported in error messages
const (
	CategoryException    = "Exception"
	CategorySchemaUpdate = "Exception during ALTER TABLE"
	CategoryTableMissing = "NonExistingTableError"
	CategoryValidation   = "ValueError"
)

// FormatError renders the one-line diagnostic stored on a failing record
func FormatError(task, table string, state State, err error, logURL, category string) string {
	return fmt.Sprintf("Task: %s, table_name: %s, state: %s, error: %v, cloudwatch_log_url: %s, exception: %s",
		task, table, state, err, logURL, category)
}
