package db

import "time"

// TableRecord is the last known outcome for one table
type TableRecord struct {
	Namespace    string
	TableName    string
	State        string
	ErrorMessage *string
	CycleID      *string
	UpdatedAt    time.Time
}

// SyncCycle is one fleet cycle and its summary counts
type SyncCycle struct {
	CycleID            string
	Namespace          string
	StartedAt          time.Time
	CompletedAt        *time.Time
	Total              int
	Complete           int
	CompleteWithUpdate int
	Failed             int
	Escalation         *string
	Error              *string
}

// CycleSummary holds the results written when a cycle completes
type CycleSummary struct {
	Total              int
	Complete           int
	CompleteWithUpdate int
	Failed             int
	Escalation         string
	Error              string
}
