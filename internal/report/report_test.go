package report

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/dapsync/internal/tablesync"
)

func newTestAggregator() *Aggregator {
	return NewAggregator("cd2-stack", "Production", DefaultThresholds())
}

func failing(n int) []tablesync.Record {
	records := make([]tablesync.Record, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, tablesync.Record{
			TableName:    fmt.Sprintf("t%02d", i),
			State:        tablesync.StateFailed,
			ErrorMessage: fmt.Sprintf("error %d", i),
		})
	}
	return records
}

func TestSummarize_Empty(t *testing.T) {
	r := newTestAggregator().Summarize(nil)

	assert.Equal(t, 0, r.Total)
	assert.Equal(t, 0, r.Complete)
	assert.Equal(t, 0, r.CompleteWithUpdate)
	assert.Equal(t, 0, r.Failed)
	assert.Equal(t, EscalationNone, r.Escalation)
	assert.Empty(t, r.FailingTables)
}

func TestThresholds_Escalate(t *testing.T) {
	th := DefaultThresholds()
	tests := []struct {
		failed int
		want   Escalation
	}{
		{0, EscalationNone},
		{2, EscalationNone},
		{3, EscalationWarn},
		{10, EscalationWarn},
		{11, EscalationCritical},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.failed), func(t *testing.T) {
			assert.Equal(t, tt.want, th.Escalate(tt.failed))
		})
	}
}

func TestSummarize_Warn(t *testing.T) {
	agg := newTestAggregator()
	r := agg.Summarize(failing(3))

	assert.Equal(t, 3, r.Failed)
	assert.Equal(t, EscalationWarn, r.Escalation)

	text := agg.Render(r)
	assert.False(t, strings.HasPrefix(text, "<!channel>"))
	assert.Contains(t, text, ":warning: Failed: 3")
}

// Scenario D: 12 tables, 11 failing
func TestSummarize_CriticalFleet(t *testing.T) {
	records := []tablesync.Record{{TableName: "accounts", State: tablesync.StateComplete}}
	for i := 0; i < 9; i++ {
		records = append(records, tablesync.Record{TableName: fmt.Sprintf("f%d", i), State: tablesync.StateFailed, ErrorMessage: "boom"})
	}
	records = append(records,
		tablesync.Record{TableName: "new_table", State: tablesync.StateNeedsInit, ErrorMessage: "missing"},
		tablesync.Record{TableName: "stale", State: tablesync.StateNeedsSync, ErrorMessage: "stale"},
	)
	require.Len(t, records, 12)

	agg := newTestAggregator()
	r := agg.Summarize(records)

	assert.Equal(t, 11, r.Failed)
	assert.Equal(t, 1, r.Complete)
	assert.Equal(t, 1, r.NeedsInit)
	assert.Equal(t, 1, r.NeedsSync)
	assert.Equal(t, EscalationCritical, r.Escalation)

	text := agg.Render(r)
	assert.True(t, strings.HasPrefix(text, "<!channel> *cd2-stack (Production)*\n"))
	assert.Contains(t, text, ":x: Failed: 11 (needs_init: 1, needs_sync: 1)")
}

func TestSummarize_InputOrderKept(t *testing.T) {
	records := []tablesync.Record{
		{TableName: "zeta", State: tablesync.StateFailed, ErrorMessage: "z failed"},
		{TableName: "alpha", State: tablesync.StateCompleteWithUpdate},
		{TableName: "mid", State: tablesync.StateNeedsInit, ErrorMessage: "m missing"},
		{TableName: "beta", State: tablesync.StateFailed},
	}

	agg := newTestAggregator()
	r := agg.Summarize(records)

	assert.Equal(t, []string{"zeta", "mid", "beta"}, r.FailingTables)
	assert.Equal(t, []string{"z failed", "m missing", noDiagnostic}, r.Diagnostics)
	assert.Equal(t, 1, r.CompleteWithUpdate)

	text := agg.Render(r)
	assert.Contains(t, text, "Failing tables: zeta, mid, beta\n")
	assert.Contains(t, text, "1. z failed\n2. m missing\n3. "+noDiagnostic+"\n")
}

func TestRender_Deterministic(t *testing.T) {
	agg := newTestAggregator()
	r := agg.Summarize(failing(5))
	assert.Equal(t, agg.Render(r), agg.Render(r))
}

func TestRender_AllHealthy(t *testing.T) {
	agg := newTestAggregator()
	text := agg.Render(agg.Summarize([]tablesync.Record{{TableName: "a", State: tablesync.StateComplete}}))

	assert.Equal(t, "*cd2-stack (Production)*\n"+
		":white_check_mark: Complete: 1\n"+
		":white_check_mark: Complete with update: 0\n"+
		":white_check_mark: Failed: 0 (needs_init: 0, needs_sync: 0)\n", text)
}

func TestListingFailure(t *testing.T) {
	text := newTestAggregator().ListingFailure(errors.New("401 unauthorized"))
	assert.True(t, strings.HasPrefix(text, "<!channel> *cd2-stack (Production)*\n"))
	assert.Contains(t, text, "The ListTables step failed with the following error: \n 401 unauthorized")
}

func TestThresholds_Validate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())
	assert.Error(t, Thresholds{Lower: 5, Upper: 2}.Validate())
	assert.Error(t, Thresholds{Lower: -1, Upper: 2}.Validate())
}

func TestReport_Counts(t *testing.T) {
	r := newTestAggregator().Summarize([]tablesync.Record{
		{TableName: "a", State: tablesync.StateComplete},
		{TableName: "b", State: tablesync.StateFailed, ErrorMessage: "x"},
		{TableName: "c", State: tablesync.StateNeedsSync, ErrorMessage: "y"},
	})
	counts := r.Counts()
	assert.Equal(t, 1, counts["complete"])
	assert.Equal(t, 1, counts["failed"])
	assert.Equal(t, 1, counts["needs_sync"])
	assert.Equal(t, 0, counts["needs_init"])
}
