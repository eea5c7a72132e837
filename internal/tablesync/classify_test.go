package tablesync

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/livinlefevreloca/dapsync/internal/replication"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{
			name: "query failure with ALTER TABLE",
			err:  &replication.QueryError{Message: "ALTER TABLE column type change blocked by view"},
			want: KindSchemaBlocked,
		},
		{
			name: "wrapped query failure with ALTER TABLE",
			err:  fmt.Errorf("sync: %w", &replication.QueryError{Message: `error executing ALTER TABLE "canvas"."orders"`}),
			want: KindSchemaBlocked,
		},
		{
			name: "query failure token is case sensitive",
			err:  &replication.QueryError{Message: "alter table failed"},
			want: KindOther,
		},
		{
			name: "other query failure",
			err:  &replication.QueryError{Message: "deadlock detected"},
			want: KindOther,
		},
		{
			name: "ALTER TABLE outside the query layer",
			err:  errors.New("ALTER TABLE failed"),
			want: KindOther,
		},
		{
			name: "missing table",
			err:  &replication.TableMissingError{Table: "new_table"},
			want: KindTableUninitialized,
		},
		{
			name: "validation failure for uninitialized table",
			err:  &replication.ValidationError{Message: "table not initialized: accounts"},
			want: KindTableUninitialized,
		},
		{
			name: "other validation failure",
			err:  &replication.ValidationError{Message: "invalid namespace"},
			want: KindOther,
		},
		{
			name: "validation failure mentioning ALTER TABLE is not schema blocked",
			err:  &replication.ValidationError{Message: "ALTER TABLE table not initialized"},
			want: KindTableUninitialized,
		},
		{
			name: "generic failure",
			err:  errors.New("connection reset by peer"),
			want: KindOther,
		},
		{
			name: "nil",
			err:  nil,
			want: KindOther,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestCategory(t *testing.T) {
	assert.Equal(t, CategoryTableMissing, category(&replication.TableMissingError{Table: "t"}))
	assert.Equal(t, CategoryValidation, category(&replication.ValidationError{Message: "bad"}))
	assert.Equal(t, CategoryException, category(&replication.QueryError{Message: "deadlock"}))
	assert.Equal(t, CategoryException, category(errors.New("boom")))
}
