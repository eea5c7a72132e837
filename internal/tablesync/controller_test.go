package tablesync

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/dapsync/internal/replication"
	"github.com/livinlefevreloca/dapsync/internal/testutil"
)

type controllerFixture struct {
	engine   *testutil.FakeEngine
	exec     *testutil.FakeExecutor
	logger   *testutil.TestLogger
	recorder *StepRecorder
	ctrl     *Controller
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()
	f := &controllerFixture{
		engine:   testutil.NewFakeEngine(),
		exec:     testutil.NewFakeExecutor(),
		logger:   testutil.NewTestLogger(),
		recorder: NewStepRecorder(),
	}
	guard := NewGuard(f.exec, GuardConfig{Schema: "canvas", Database: "cd2"}, f.logger.Logger())
	f.ctrl = NewController(f.engine, guard, ControllerConfig{
		Namespace: "canvas",
		LogURL:    "https://logs.example.com/stream",
	}, f.logger.Logger())
	f.ctrl.SetRecorder(f.recorder)
	return f
}

func assertMessageInvariant(t *testing.T, rec Record) {
	t.Helper()
	require.True(t, rec.State.Valid(), "state %v must be one of the lifecycle states", rec.State)
	if rec.State.Failing() {
		assert.NotEmpty(t, rec.ErrorMessage, "failing state %s needs an error message", rec.State)
	} else {
		assert.Empty(t, rec.ErrorMessage, "successful state %s must not carry an error message", rec.State)
	}
}

func TestAttemptSync_Success(t *testing.T) {
	f := newControllerFixture(t)

	rec := f.ctrl.AttemptSync(context.Background(), Record{TableName: "accounts", State: StateNeedsSync, ErrorMessage: "stale"})

	assert.Equal(t, StateComplete, rec.State)
	assert.Empty(t, rec.ErrorMessage)
	assert.Equal(t, []string{StepSynchronize}, f.recorder.Path())
	assert.Empty(t, f.exec.Statements())
}

// Scenario A: schema change blocked, drop, retry and restore all succeed
func TestAttemptSync_SchemaChangeRecovered(t *testing.T) {
	f := newControllerFixture(t)
	f.engine.QueueSync("orders", &replication.QueryError{Message: "ALTER TABLE column type change"})

	rec := f.ctrl.AttemptSync(context.Background(), NewRecord("orders", StateNeedsSync))

	assert.Equal(t, StateCompleteWithUpdate, rec.State)
	assert.Empty(t, rec.ErrorMessage)
	assert.Equal(t, []string{
		StepSynchronize,
		StepDropDependents,
		StepSynchronizeRetry,
		StepRestoreDependents,
	}, f.recorder.Path())
	assert.Equal(t, 2, f.engine.CountCalls("synchronize", "orders"))

	stmts := f.exec.Statements()
	require.Len(t, stmts, 2)
	assert.Equal(t, "cd2", stmts[0].Database)
	assert.Contains(t, stmts[0].SQL, "public.deps_save_and_drop_dependencies('canvas', 'orders'")
	assert.Contains(t, stmts[1].SQL, "public.deps_restore_dependencies('canvas', 'orders'")
}

// Scenario B: the retry also fails; restore still runs
func TestAttemptSync_SchemaChangeRetryFails(t *testing.T) {
	f := newControllerFixture(t)
	f.engine.QueueSync("orders", &replication.QueryError{Message: "ALTER TABLE column type change"})
	f.engine.QueueSync("orders", &replication.QueryError{Message: "ALTER TABLE still blocked"})

	rec := f.ctrl.AttemptSync(context.Background(), NewRecord("orders", StateNeedsSync))

	assert.Equal(t, StateFailed, rec.State)
	assert.Contains(t, rec.ErrorMessage, "exception: Exception during ALTER TABLE")
	assert.Contains(t, rec.ErrorMessage, "Task: sync_table, table_name: orders, state: failed")
	assert.Contains(t, rec.ErrorMessage, "cloudwatch_log_url: https://logs.example.com/stream")
	assert.Equal(t, []string{
		StepSynchronize,
		StepDropDependents,
		StepSynchronizeRetry,
		StepRestoreDependents,
	}, f.recorder.Path())
	assert.Equal(t, 2, f.engine.CountCalls("synchronize", "orders"), "retry happens exactly once")
}

// Scenario C: missing table moves to needs_init
func TestAttemptSync_TableMissing(t *testing.T) {
	f := newControllerFixture(t)
	f.engine.QueueSync("new_table", &replication.TableMissingError{Table: "new_table", Message: "table does not exist"})

	rec := f.ctrl.AttemptSync(context.Background(), NewRecord("new_table", StateNeedsSync))

	assert.Equal(t, StateNeedsInit, rec.State)
	assert.Contains(t, rec.ErrorMessage, "exception: NonExistingTableError")
	assert.Contains(t, rec.ErrorMessage, "state: needs_init")
	assert.Equal(t, []string{StepSynchronize}, f.recorder.Path())
}

func TestAttemptSync_ValidationFailures(t *testing.T) {
	f := newControllerFixture(t)
	f.engine.QueueSync("a", &replication.ValidationError{Message: "table not initialized"})
	f.engine.QueueSync("b", &replication.ValidationError{Message: "bad namespace"})

	a := f.ctrl.AttemptSync(context.Background(), NewRecord("a", StateNeedsSync))
	b := f.ctrl.AttemptSync(context.Background(), NewRecord("b", StateNeedsSync))

	assert.Equal(t, StateNeedsInit, a.State)
	assert.Contains(t, a.ErrorMessage, "exception: ValueError")
	assert.Equal(t, StateFailed, b.State)
	assert.Contains(t, b.ErrorMessage, "exception: ValueError")
}

func TestAttemptSync_OtherQueryFailureIsTerminal(t *testing.T) {
	f := newControllerFixture(t)
	f.engine.QueueSync("orders", &replication.QueryError{Message: "deadlock detected"})

	rec := f.ctrl.AttemptSync(context.Background(), NewRecord("orders", StateNeedsSync))

	assert.Equal(t, StateFailed, rec.State)
	assert.Contains(t, rec.ErrorMessage, "exception: Exception")
	assert.Equal(t, []string{StepSynchronize}, f.recorder.Path(), "no recovery without ALTER TABLE")
}

func TestAttemptSync_DropFailureStillRestores(t *testing.T) {
	f := newControllerFixture(t)
	f.exec.ErrorFor = func(sql string) error {
		if strings.Contains(sql, "deps_save_and_drop_dependencies") {
			return errors.New("permission denied")
		}
		return nil
	}
	f.engine.QueueSync("orders", &replication.QueryError{Message: "ALTER TABLE blocked"})

	rec := f.ctrl.AttemptSync(context.Background(), NewRecord("orders", StateNeedsSync))

	assert.Equal(t, StateFailed, rec.State)
	assert.Contains(t, rec.ErrorMessage, "permission denied")
	assert.Equal(t, []string{StepSynchronize, StepDropDependents, StepRestoreDependents}, f.recorder.Path())
	assert.Equal(t, 1, f.engine.CountCalls("synchronize", "orders"), "no retry when the drop failed")
}

func TestAttemptSync_RestoreFailureDoesNotMaskResult(t *testing.T) {
	f := newControllerFixture(t)
	f.exec.ErrorFor = func(sql string) error {
		if strings.Contains(sql, "deps_restore_dependencies") {
			return errors.New("view definition invalid")
		}
		return nil
	}
	f.engine.QueueSync("orders", &replication.QueryError{Message: "ALTER TABLE blocked"})

	rec := f.ctrl.AttemptSync(context.Background(), NewRecord("orders", StateNeedsSync))

	assert.Equal(t, StateCompleteWithUpdate, rec.State)
	assert.Empty(t, rec.ErrorMessage)
	assert.True(t, f.logger.HasMessage("ERROR", "dependent objects were not restored"))
}

func TestAttemptSync_PanicDuringRetryStillRestores(t *testing.T) {
	f := newControllerFixture(t)
	f.engine.QueueSync("orders", &replication.QueryError{Message: "ALTER TABLE blocked"})
	f.engine.QueueSyncFunc("orders", func() error { panic("driver crashed") })

	rec := f.ctrl.AttemptSync(context.Background(), NewRecord("orders", StateNeedsSync))

	assert.Equal(t, StateFailed, rec.State)
	assert.Contains(t, rec.ErrorMessage, "panic: driver crashed")
	assert.Contains(t, rec.ErrorMessage, "exception: Exception during ALTER TABLE")
	assert.Equal(t, StepRestoreDependents, f.recorder.Path()[len(f.recorder.Path())-1])
}

func TestAttemptSync_CancelledContextStillRestores(t *testing.T) {
	f := newControllerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.engine.QueueSync("orders", &replication.QueryError{Message: "ALTER TABLE blocked"})
	f.engine.QueueSyncFunc("orders", func() error {
		cancel()
		return context.Canceled
	})

	rec := f.ctrl.AttemptSync(ctx, NewRecord("orders", StateNeedsSync))

	assert.Equal(t, StateFailed, rec.State)
	stmts := f.exec.Statements()
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[1].SQL, "deps_restore_dependencies")
	assert.NoError(t, stmts[1].CtxErr, "restore must run on a live context")
}

func TestAttemptSync_NeverPanics(t *testing.T) {
	failures := []error{
		&replication.QueryError{Message: "ALTER TABLE x"},
		&replication.QueryError{Message: "syntax error"},
		&replication.TableMissingError{Table: "t"},
		&replication.ValidationError{Message: "table not initialized"},
		&replication.ValidationError{Message: "other"},
		errors.New("network"),
		context.DeadlineExceeded,
	}

	for _, failure := range failures {
		f := newControllerFixture(t)
		f.engine.QueueSync("t", failure)
		f.engine.QueueSync("t", failure)

		var rec Record
		assert.NotPanics(t, func() {
			rec = f.ctrl.AttemptSync(context.Background(), NewRecord("t", StateNeedsSync))
		})
		assertMessageInvariant(t, rec)
	}
}

func TestAttemptSync_WithoutGuard(t *testing.T) {
	engine := testutil.NewFakeEngine()
	engine.QueueSync("orders", &replication.QueryError{Message: "ALTER TABLE blocked"})
	ctrl := NewController(engine, nil, ControllerConfig{Namespace: "canvas"}, testutil.NewTestLogger().Logger())

	rec := ctrl.AttemptSync(context.Background(), NewRecord("orders", StateNeedsSync))

	assert.Equal(t, StateFailed, rec.State)
	assert.Contains(t, rec.ErrorMessage, "cloudwatch_log_url: unavailable")
	assert.Equal(t, 1, engine.CountCalls("synchronize", "orders"))
}

func TestAttemptInit(t *testing.T) {
	f := newControllerFixture(t)
	f.engine.QueueInit("broken", errors.New("snapshot download failed"))

	ok := f.ctrl.AttemptInit(context.Background(), NewRecord("fresh", StateNeedsInit))
	bad := f.ctrl.AttemptInit(context.Background(), NewRecord("broken", StateNeedsInit))

	assert.Equal(t, StateComplete, ok.State)
	assertMessageInvariant(t, ok)
	assert.Equal(t, StateFailed, bad.State)
	assert.Contains(t, bad.ErrorMessage, "Task: init_table, table_name: broken, state: failed")
	assert.Contains(t, bad.ErrorMessage, "exception: Exception")
	assert.Equal(t, []string{StepInitialize, StepInitialize}, f.recorder.Path())
}

func TestAttemptInit_NoRecoveryPath(t *testing.T) {
	f := newControllerFixture(t)
	f.engine.QueueInit("orders", &replication.QueryError{Message: "ALTER TABLE blocked"})

	rec := f.ctrl.AttemptInit(context.Background(), NewRecord("orders", StateNeedsInit))

	assert.Equal(t, StateFailed, rec.State)
	assert.Empty(t, f.exec.Statements())
}
