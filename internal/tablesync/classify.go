package tablesync

import (
	"errors"
	"strings"

	"github.com/livinlefevreloca/dapsync/internal/replication"
)

// FailureKind is the outcome class of a failed replication call
type FailureKind int

const (
	KindOther FailureKind = iota
	KindSchemaBlocked
	KindTableUninitialized
)

func (k FailureKind) String() string {
	switch k {
	case KindSchemaBlocked:
		return "schema_blocked"
	case KindTableUninitialized:
		return "table_uninitialized"
	default:
		return "other"
	}
}

// Substrings the classifier matches on. The replication engine reports these
// conditions only as text, so the literals are kept exactly as emitted.
const (
	schemaChangeToken   = "ALTER TABLE"
	notInitializedToken = "table not initialized"
)

// Classify maps a replication failure onto a FailureKind. Rules are checked
// in order and the first match wins.
func Classify(err error) FailureKind {
	if err == nil {
		return KindOther
	}

	var queryErr *replication.QueryError
	if errors.As(err, &queryErr) && strings.Contains(queryErr.Message, schemaChangeToken) {
		return KindSchemaBlocked
	}

	var missingErr *replication.TableMissingError
	if errors.As(err, &missingErr) {
		return KindTableUninitialized
	}

	var validationErr *replication.ValidationError
	if errors.As(err, &validationErr) && strings.Contains(validationErr.Message, notInitializedToken) {
		return KindTableUninitialized
	}

	return KindOther
}

// category returns the error category tag for a failure outside the
// recovery path
func category(err error) string {
	var missingErr *replication.TableMissingError
	if errors.As(err, &missingErr) {
		return CategoryTableMissing
	}
	var validationErr *replication.ValidationError
	if errors.As(err, &validationErr) {
		return CategoryValidation
	}
	return CategoryException
}
