// Package warehouse provides administrative access to the target Postgres
// warehouse: statement execution for dependency management and the
// provisioning of users, schemas and grants.
package warehouse

import (
	"context"
	"errors"
)

// Executor runs a single administrative statement against a database
type Executor interface {
	Execute(ctx context.Context, database, sql string) error
}

// ErrAlreadyExists is returned when a CREATE statement targets an existing object
var ErrAlreadyExists = errors.New("warehouse: object already exists")
