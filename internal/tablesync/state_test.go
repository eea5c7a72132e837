package tablesync

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_StringRoundTrip(t *testing.T) {
	for _, s := range []State{StateNeedsInit, StateNeedsSync, StateComplete, StateCompleteWithUpdate, StateFailed} {
		parsed, err := ParseState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}

	_, err := ParseState("running")
	assert.Error(t, err)
	assert.False(t, StateUnknown.Valid())
}

func TestState_Failing(t *testing.T) {
	assert.True(t, StateFailed.Failing())
	assert.True(t, StateNeedsInit.Failing())
	assert.True(t, StateNeedsSync.Failing())
	assert.False(t, StateComplete.Failing())
	assert.False(t, StateCompleteWithUpdate.Failing())
}

func TestState_Succeeded(t *testing.T) {
	assert.True(t, StateComplete.Succeeded())
	assert.True(t, StateCompleteWithUpdate.Succeeded())
	for _, s := range []State{StateUnknown, StateNeedsInit, StateNeedsSync, StateFailed} {
		assert.False(t, s.Succeeded(), "state %v", s)
	}
}

func TestState_Requeue(t *testing.T) {
	assert.Equal(t, StateNeedsInit, StateNeedsInit.Requeue())
	assert.Equal(t, StateNeedsSync, StateFailed.Requeue())
	assert.Equal(t, StateNeedsSync, StateComplete.Requeue())
	assert.Equal(t, StateNeedsSync, StateCompleteWithUpdate.Requeue())
}

// Records cross the orchestrator boundary as the event JSON the workflow passes around
func TestRecord_JSON(t *testing.T) {
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(`{"table_name":"orders","state":"needs_sync"}`), &rec))
	assert.Equal(t, Record{TableName: "orders", State: StateNeedsSync}, rec)

	rec.State = StateComplete
	out, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"table_name":"orders","state":"complete"}`, string(out))

	_, err = json.Marshal(Record{TableName: "x"})
	assert.Error(t, err, "unknown state must not be serialized")
}
