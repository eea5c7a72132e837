package tablesync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/livinlefevreloca/dapsync/internal/warehouse"
)

const (
	dropOptions    = `{"dry_run": false, "verbose": false, "populate_materialized_view": false}`
	restoreOptions = `{"dry_run": false, "verbose": false}`

	defaultRestoreTimeout = 2 * time.Minute
)

// GuardConfig locates the administrative routines that save, drop and
// restore the objects depending on a table
type GuardConfig struct {
	Schema         string
	Database       string
	RestoreTimeout time.Duration
}

// Guard removes the views and other objects that depend on a table so a
// blocked DDL change can be applied, then recreates them.
type Guard struct {
	exec           warehouse.Executor
	schema         string
	database       string
	restoreTimeout time.Duration
	logger         *slog.Logger
	recorder       *StepRecorder
}

// NewGuard creates a dependency guard over the admin executor
func NewGuard(exec warehouse.Executor, config GuardConfig, logger *slog.Logger) *Guard {
	timeout := config.RestoreTimeout
	if timeout <= 0 {
		timeout = defaultRestoreTimeout
	}
	return &Guard{
		exec:           exec,
		schema:         config.Schema,
		database:       config.Database,
		restoreTimeout: timeout,
		logger:         logger,
	}
}

// DropDependents records the DDL of every object depending on table and drops them
func (g *Guard) DropDependents(ctx context.Context, table string) error {
	g.recorder.Record(StepDropDependents)

	sql := fmt.Sprintf("select public.deps_save_and_drop_dependencies(%s, %s, %s)",
		pq.QuoteLiteral(g.schema), pq.QuoteLiteral(table), pq.QuoteLiteral(dropOptions))
	if err := g.exec.Execute(ctx, g.database, sql); err != nil {
		return fmt.Errorf("failed to drop dependencies of %s.%s: %w", g.schema, table, err)
	}

	g.logger.Info("dropped dependencies", "schema", g.schema, "table", table)
	return nil
}

// RestoreDependents recreates the objects saved by DropDependents
func (g *Guard) RestoreDependents(ctx context.Context, table string) error {
	g.recorder.Record(StepRestoreDependents)

	sql := fmt.Sprintf("select public.deps_restore_dependencies(%s, %s, %s)",
		pq.QuoteLiteral(g.schema), pq.QuoteLiteral(table), pq.QuoteLiteral(restoreOptions))
	if err := g.exec.Execute(ctx, g.database, sql); err != nil {
		return fmt.Errorf("failed to restore dependencies of %s.%s: %w", g.schema, table, err)
	}

	g.logger.Info("restored dependencies", "schema", g.schema, "table", table)
	return nil
}

// Cycle drops the dependents of table, runs apply, and restores the
// dependents on every exit path: a failed drop, a failed or panicking apply,
// or a cancelled ctx. The restore uses a context detached from ctx's
// cancellation and bounded by the restore timeout. A restore failure is
// logged and never replaces the returned error.
//
// The three steps may run on different sessions; the save/restore routines
// keep the dropped DDL in a table, not in session state.
func (g *Guard) Cycle(ctx context.Context, table string, apply func(context.Context) error) error {
	defer func() {
		restoreCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.restoreTimeout)
		defer cancel()

		if err := g.RestoreDependents(restoreCtx, table); err != nil {
			g.logger.Error("dependent objects were not restored",
				"schema", g.schema,
				"table", table,
				"error", err)
		}
	}()

	if err := g.DropDependents(ctx, table); err != nil {
		return err
	}
	return apply(ctx)
}
