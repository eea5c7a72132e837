// Package report turns the per-table results of a sync cycle into the fleet
// summary posted to the notification channel.
package report

import (
	"fmt"
	"strings"

	"github.com/livinlefevreloca/dapsync/internal/tablesync"
)

const noDiagnostic = "no diagnostic recorded"

// Thresholds bound the escalation levels by failing table count
type Thresholds struct {
	Lower int `toml:"lower_threshold"`
	Upper int `toml:"upper_threshold"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Lower: 2, Upper: 10}
}

func (t Thresholds) Validate() error {
	if t.Lower < 0 {
		return fmt.Errorf("lower_threshold must be non-negative")
	}
	if t.Upper < t.Lower {
		return fmt.Errorf("upper_threshold (%d) must not be below lower_threshold (%d)", t.Upper, t.Lower)
	}
	return nil
}

// Escalation is the attention level of a fleet report
type Escalation int

const (
	EscalationNone Escalation = iota
	EscalationWarn
	EscalationCritical
)

func (e Escalation) String() string {
	switch e {
	case EscalationNone:
		return "none"
	case EscalationWarn:
		return "warn"
	case EscalationCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Glyph is the status marker shown next to the failed count
func (e Escalation) Glyph() string {
	switch e {
	case EscalationWarn:
		return ":warning:"
	case EscalationCritical:
		return ":x:"
	default:
		return ":white_check_mark:"
	}
}

// Escalate maps a failing table count to its escalation level
func (t Thresholds) Escalate(failed int) Escalation {
	switch {
	case failed <= t.Lower:
		return EscalationNone
	case failed <= t.Upper:
		return EscalationWarn
	default:
		return EscalationCritical
	}
}

// Report is the summary of one fleet cycle
type Report struct {
	Total              int
	Complete           int
	CompleteWithUpdate int
	Failed             int
	NeedsInit          int
	NeedsSync          int

	// FailingTables and Diagnostics are index-correlated and keep input order
	FailingTables []string
	Diagnostics   []string

	Escalation Escalation
}

// Counts returns the per-state totals keyed by wire name
func (r Report) Counts() map[string]int {
	return map[string]int{
		tablesync.StateComplete.String():           r.Complete,
		tablesync.StateCompleteWithUpdate.String(): r.CompleteWithUpdate,
		tablesync.StateFailed.String():             r.Failed - r.NeedsInit - r.NeedsSync,
		tablesync.StateNeedsInit.String():          r.NeedsInit,
		tablesync.StateNeedsSync.String():          r.NeedsSync,
	}
}

// Aggregator summarizes and renders fleet reports. It performs no I/O.
type Aggregator struct {
	system      string
	environment string
	thresholds  Thresholds
}

// NewAggregator creates an aggregator. environment is the full environment
// name shown in the header, e.g. "Production".
func NewAggregator(system, environment string, thresholds Thresholds) *Aggregator {
	return &Aggregator{
		system:      system,
		environment: environment,
		thresholds:  thresholds,
	}
}

// Summarize partitions records by state and decides the escalation level
func (a *Aggregator) Summarize(records []tablesync.Record) Report {
	r := Report{
		Total:         len(records),
		FailingTables: make([]string, 0),
		Diagnostics:   make([]string, 0),
	}

	for _, rec := range records {
		if rec.State.Succeeded() {
			if rec.State == tablesync.StateCompleteWithUpdate {
				r.CompleteWithUpdate++
			} else {
				r.Complete++
			}
			continue
		}

		switch rec.State {
		case tablesync.StateNeedsInit:
			r.NeedsInit++
		case tablesync.StateNeedsSync:
			r.NeedsSync++
		}

		// Anything that did not complete counts as failing, including a
		// record with an unrecognized state
		r.Failed++
		r.FailingTables = append(r.FailingTables, rec.TableName)
		diag := rec.ErrorMessage
		if diag == "" {
			diag = noDiagnostic
		}
		r.Diagnostics = append(r.Diagnostics, diag)
	}

	r.Escalation = a.thresholds.Escalate(r.Failed)
	return r
}

// Render formats r as Slack-flavoured text
func (a *Aggregator) Render(r Report) string {
	var b strings.Builder

	if r.Escalation == EscalationCritical {
		b.WriteString("<!channel> ")
	}
	fmt.Fprintf(&b, "*%s (%s)*\n", a.system, a.environment)

	fmt.Fprintf(&b, ":white_check_mark: Complete: %d\n", r.Complete)
	fmt.Fprintf(&b, ":white_check_mark: Complete with update: %d\n", r.CompleteWithUpdate)
	fmt.Fprintf(&b, "%s Failed: %d (needs_init: %d, needs_sync: %d)\n",
		r.Escalation.Glyph(), r.Failed, r.NeedsInit, r.NeedsSync)

	if len(r.FailingTables) == 0 {
		return b.String()
	}

	fmt.Fprintf(&b, "Failing tables: %s\n", strings.Join(r.FailingTables, ", "))
	b.WriteString("Diagnostics:\n")
	for i, diag := range r.Diagnostics {
		fmt.Fprintf(&b, "%d. %s\n", i+1, diag)
	}
	return b.String()
}

// ListingFailure renders the critical alert sent when the table list could
// not be fetched
func (a *Aggregator) ListingFailure(err error) string {
	return fmt.Sprintf("<!channel> *%s (%s)*\n:x: The ListTables step failed with the following error: \n %v",
		a.system, a.environment, err)
}
