package replication

import (
	"context"
	"fmt"
)

// Engine performs the initial load and incremental apply of a single table
// from the remote data provider into the warehouse.
type Engine interface {
	// Initialize performs a full snapshot load of a table that has never been replicated
	Initialize(ctx context.Context, namespace, table string) error

	// Synchronize applies incremental changes to an already initialized table
	Synchronize(ctx context.Context, namespace, table string) error
}

// Lister enumerates the tables available in a namespace
type Lister interface {
	ListTables(ctx context.Context, namespace string) ([]string, error)
}

// Credentials identify the client against the DAP API
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// QueryError is raised by the query layer of the warehouse, e.g. a DDL
// statement the engine issued was rejected.
type QueryError struct {
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed: %s", e.Message)
}

// TableMissingError means the target table does not exist in the warehouse yet
type TableMissingError struct {
	Table   string
	Message string
}

func (e *TableMissingError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("table does not exist: %s", e.Table)
	}
	return e.Message
}

// ValidationError is a generic value validation failure
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
