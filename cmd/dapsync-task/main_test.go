package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/dapsync/internal/fleet"
	"github.com/livinlefevreloca/dapsync/internal/replication"
	"github.com/livinlefevreloca/dapsync/internal/tablesync"
	"github.com/livinlefevreloca/dapsync/internal/testutil"
)

type fakeCallbacks struct {
	successes []*sfn.SendTaskSuccessInput
	failures  []*sfn.SendTaskFailureInput
}

// Like the SDK client, the fakes refuse to send on a done context
func (f *fakeCallbacks) SendTaskSuccess(ctx context.Context, in *sfn.SendTaskSuccessInput, _ ...func(*sfn.Options)) (*sfn.SendTaskSuccessOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.successes = append(f.successes, in)
	return &sfn.SendTaskSuccessOutput{}, nil
}

func (f *fakeCallbacks) SendTaskFailure(ctx context.Context, in *sfn.SendTaskFailureInput, _ ...func(*sfn.Options)) (*sfn.SendTaskFailureOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.failures = append(f.failures, in)
	return &sfn.SendTaskFailureOutput{}, nil
}

func controllerFor(engine *testutil.FakeEngine) func(context.Context) (fleet.TableRunner, error) {
	return func(context.Context) (fleet.TableRunner, error) {
		return tablesync.NewController(engine, nil, tablesync.ControllerConfig{Namespace: "canvas"},
			testutil.NewTestLogger().Logger()), nil
	}
}

func TestRunTask_ReportsRecord(t *testing.T) {
	engine := testutil.NewFakeEngine()
	engine.QueueSync("orders", &replication.TableMissingError{Table: "orders"})
	callbacks := &fakeCallbacks{}

	err := runTask(context.Background(), "sync", `{"table_name":"orders","state":"needs_sync"}`, "token-1",
		controllerFor(engine), callbacks, testutil.NewTestLogger().Logger())

	require.NoError(t, err)
	require.Len(t, callbacks.successes, 1)
	assert.Empty(t, callbacks.failures)
	assert.Equal(t, "token-1", aws.ToString(callbacks.successes[0].TaskToken))

	var out struct {
		Payload tablesync.Record `json:"Payload"`
	}
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(callbacks.successes[0].Output)), &out))
	assert.Equal(t, "orders", out.Payload.TableName)
	assert.Equal(t, tablesync.StateNeedsInit, out.Payload.State)
	assert.Contains(t, out.Payload.ErrorMessage, "Task: sync_table")
}

// A failed table is still a successful task; the state carries the outcome
func TestRunTask_FailedTableIsTaskSuccess(t *testing.T) {
	engine := testutil.NewFakeEngine()
	engine.QueueInit("orders", errors.New("snapshot failed"))
	callbacks := &fakeCallbacks{}

	err := runTask(context.Background(), "init", `{"table_name":"orders","state":"needs_init"}`, "token-1",
		controllerFor(engine), callbacks, testutil.NewTestLogger().Logger())

	require.NoError(t, err)
	require.Len(t, callbacks.successes, 1)
	assert.Contains(t, aws.ToString(callbacks.successes[0].Output), `"state":"failed"`)
	assert.Equal(t, 1, engine.CountCalls("initialize", "orders"))
}

func TestRunTask_SetupFailure(t *testing.T) {
	callbacks := &fakeCallbacks{}
	broken := func(context.Context) (fleet.TableRunner, error) {
		return nil, errors.New("secret not found")
	}

	err := runTask(context.Background(), "sync", `{"table_name":"orders"}`, "token-1",
		broken, callbacks, testutil.NewTestLogger().Logger())

	require.Error(t, err)
	assert.Empty(t, callbacks.successes)
	require.Len(t, callbacks.failures, 1)
	assert.Contains(t, aws.ToString(callbacks.failures[0].Cause), "secret not found")
}

// SIGTERM mid-sync cancels the run context; the outcome must still be reported
func TestRunTask_ReportsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine := testutil.NewFakeEngine()
	engine.QueueSyncFunc("orders", func() error {
		cancel()
		return nil
	})
	callbacks := &fakeCallbacks{}

	err := runTask(ctx, "sync", `{"table_name":"orders","state":"needs_sync"}`, "token-1",
		controllerFor(engine), callbacks, testutil.NewTestLogger().Logger())

	require.NoError(t, err)
	require.Len(t, callbacks.successes, 1)
	assert.Contains(t, aws.ToString(callbacks.successes[0].Output), `"state":"complete"`)
}

func TestRunTask_SetupFailureAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	callbacks := &fakeCallbacks{}
	broken := func(ctx context.Context) (fleet.TableRunner, error) {
		return nil, ctx.Err()
	}

	err := runTask(ctx, "sync", `{"table_name":"orders"}`, "token-1",
		broken, callbacks, testutil.NewTestLogger().Logger())

	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, callbacks.failures, 1)
	assert.Contains(t, aws.ToString(callbacks.failures[0].Cause), "context canceled")
}

func TestRunTask_BadEvent(t *testing.T) {
	for _, event := range []string{"", "not json", `{"state":"needs_sync"}`} {
		callbacks := &fakeCallbacks{}
		err := runTask(context.Background(), "sync", event, "token-1",
			controllerFor(testutil.NewFakeEngine()), callbacks, testutil.NewTestLogger().Logger())

		assert.Error(t, err, "event %q", event)
		assert.Len(t, callbacks.failures, 1)
	}
}

func TestRunTask_NoToken(t *testing.T) {
	callbacks := &fakeCallbacks{}
	err := runTask(context.Background(), "sync", `{"table_name":"orders"}`, "",
		controllerFor(testutil.NewFakeEngine()), callbacks, testutil.NewTestLogger().Logger())

	require.NoError(t, err)
	assert.Empty(t, callbacks.successes)
	assert.Empty(t, callbacks.failures)
}

func TestRunTask_UnknownTask(t *testing.T) {
	callbacks := &fakeCallbacks{}
	err := runTask(context.Background(), "vacuum", `{"table_name":"orders"}`, "token-1",
		controllerFor(testutil.NewFakeEngine()), callbacks, testutil.NewTestLogger().Logger())

	require.Error(t, err)
	assert.Len(t, callbacks.failures, 1)
}
