package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/livinlefevreloca/dapsync/internal/db"
	"github.com/livinlefevreloca/dapsync/internal/notify"
	"github.com/livinlefevreloca/dapsync/internal/replication"
	"github.com/livinlefevreloca/dapsync/internal/report"
	"github.com/livinlefevreloca/dapsync/internal/syncer"
	"github.com/livinlefevreloca/dapsync/internal/tablesync"
)

// TableRunner advances a single table record. *tablesync.Controller
// implements it.
type TableRunner interface {
	AttemptSync(ctx context.Context, rec tablesync.Record) tablesync.Record
	AttemptInit(ctx context.Context, rec tablesync.Record) tablesync.Record
}

// StateStore is the part of the state database a cycle reads and writes
type StateStore interface {
	GetTableRecords(ctx context.Context, namespace string) ([]db.TableRecord, error)
	CreateCycle(ctx context.Context, cycle *db.SyncCycle) error
	CompleteCycle(ctx context.Context, cycleID string, completedAt time.Time, summary db.CycleSummary) error
}

// RecordSink receives final records. *syncer.Syncer implements it.
type RecordSink interface {
	Submit(ctx context.Context, update syncer.RecordUpdate) error
}

// Config controls one fleet cycle
type Config struct {
	Namespace   string
	SkipTables  []string
	Concurrency int
	// InitUnseen starts tables with no stored state at needs_init
	InitUnseen bool
	// TableTimeout bounds the work on one table; zero means no bound
	TableTimeout time.Duration
}

// CycleResult is the outcome of one fleet cycle
type CycleResult struct {
	CycleID string
	Records []tablesync.Record
	Report  report.Report
}

// Runner drives fleet cycles over every table in a namespace
type Runner struct {
	lister     replication.Lister
	tables     TableRunner
	aggregator *report.Aggregator
	notifier   notify.Notifier
	config     Config
	logger     *slog.Logger

	// Optional
	store StateStore
	sink  RecordSink

	now   func() time.Time
	newID func() string
}

// NewRunner creates a fleet runner
func NewRunner(
	lister replication.Lister,
	tables TableRunner,
	aggregator *report.Aggregator,
	notifier notify.Notifier,
	config Config,
	logger *slog.Logger,
) *Runner {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if notifier == nil {
		notifier = notify.Discard{Logger: logger}
	}

	return &Runner{
		lister:     lister,
		tables:     tables,
		aggregator: aggregator,
		notifier:   notifier,
		config:     config,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
}

// WithStore makes cycles resume from and record into store
func (r *Runner) WithStore(store StateStore) *Runner {
	r.store = store
	return r
}

// WithSink hands every final record to sink
func (r *Runner) WithSink(sink RecordSink) *Runner {
	r.sink = sink
	return r
}

// Plan lists the namespace and builds the starting record of every table,
// in listing order
func (r *Runner) Plan(ctx context.Context) ([]tablesync.Record, error) {
	tables, err := r.lister.ListTables(ctx, r.config.Namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	known := make(map[string]tablesync.State)
	if r.store != nil {
		rows, err := r.store.GetTableRecords(ctx, r.config.Namespace)
		if err != nil {
			return nil, fmt.Errorf("failed to load table state: %w", err)
		}
		for _, row := range rows {
			state, err := tablesync.ParseState(row.State)
			if err != nil {
				r.logger.Warn("ignoring stored record with unknown state",
					"table", row.TableName,
					"state", row.State)
				continue
			}
			known[row.TableName] = state
		}
	}

	skip := make(map[string]bool, len(r.config.SkipTables))
	for _, t := range r.config.SkipTables {
		skip[t] = true
	}

	unseen := tablesync.StateNeedsSync
	if r.config.InitUnseen {
		unseen = tablesync.StateNeedsInit
	}

	records := make([]tablesync.Record, 0, len(tables))
	for _, table := range tables {
		if skip[table] {
			continue
		}
		state, ok := known[table]
		if ok {
			state = state.Requeue()
		} else {
			state = unseen
		}
		records = append(records, tablesync.NewRecord(table, state))
	}
	return records, nil
}

// Advance runs the task the record's state calls for. A sync that finds the
// table missing is followed by an init in the same call.
func Advance(ctx context.Context, tables TableRunner, rec tablesync.Record) tablesync.Record {
	switch rec.State {
	case tablesync.StateNeedsInit:
		return tables.AttemptInit(ctx, rec)
	default:
		rec = tables.AttemptSync(ctx, rec)
		if rec.State == tablesync.StateNeedsInit {
			rec = tables.AttemptInit(ctx, rec)
		}
		return rec
	}
}

// RunCycle lists, syncs or initializes every table, records the outcome and
// posts the fleet report
func (r *Runner) RunCycle(ctx context.Context) (*CycleResult, error) {
	cycleID := r.newID()
	startedAt := r.now()
	logger := r.logger.With("cycle_id", cycleID, "namespace", r.config.Namespace)

	if r.store != nil {
		cycle := &db.SyncCycle{CycleID: cycleID, Namespace: r.config.Namespace, StartedAt: startedAt}
		if err := r.store.CreateCycle(ctx, cycle); err != nil {
			return nil, fmt.Errorf("failed to create cycle: %w", err)
		}
	}

	records, err := r.Plan(ctx)
	if err != nil {
		logger.Error("cycle aborted before any table ran", "error", err)
		r.post(ctx, r.aggregator.ListingFailure(err))
		r.completeCycle(ctx, cycleID, db.CycleSummary{
			Escalation: report.EscalationCritical.String(),
			Error:      err.Error(),
		})
		return nil, err
	}

	logger.Info("cycle started", "tables", len(records))

	var g errgroup.Group
	g.SetLimit(r.config.Concurrency)
	for i := range records {
		g.Go(func() error {
			records[i] = r.runTable(ctx, cycleID, records[i])
			return nil
		})
	}
	_ = g.Wait()

	rep := r.Publish(ctx, records)
	r.completeCycle(ctx, cycleID, db.CycleSummary{
		Total:              rep.Total,
		Complete:           rep.Complete,
		CompleteWithUpdate: rep.CompleteWithUpdate,
		Failed:             rep.Failed,
		Escalation:         rep.Escalation.String(),
	})

	logger.Info("cycle completed",
		"total", rep.Total,
		"failed", rep.Failed,
		"escalation", rep.Escalation.String(),
		"duration", r.now().Sub(startedAt))

	return &CycleResult{CycleID: cycleID, Records: records, Report: rep}, nil
}

func (r *Runner) runTable(ctx context.Context, cycleID string, rec tablesync.Record) tablesync.Record {
	tableCtx := ctx
	if r.config.TableTimeout > 0 {
		var cancel context.CancelFunc
		tableCtx, cancel = context.WithTimeout(ctx, r.config.TableTimeout)
		defer cancel()
	}

	rec = Advance(tableCtx, r.tables, rec)

	if r.sink != nil {
		update := syncer.RecordUpdate{
			CycleID:   cycleID,
			Namespace: r.config.Namespace,
			Record:    rec,
			At:        r.now(),
		}
		if err := r.sink.Submit(ctx, update); err != nil {
			r.logger.Error("failed to submit table record",
				"table", rec.TableName,
				"state", rec.State.String(),
				"error", err)
		}
	}
	return rec
}

// Publish summarizes records and posts the rendered report. Notification
// failures are logged only.
func (r *Runner) Publish(ctx context.Context, records []tablesync.Record) report.Report {
	rep := r.aggregator.Summarize(records)
	r.post(ctx, r.aggregator.Render(rep))
	return rep
}

func (r *Runner) post(ctx context.Context, text string) {
	if err := r.notifier.Post(ctx, text); err != nil {
		r.logger.Warn("fleet report was not delivered", "error", err)
	}
}

func (r *Runner) completeCycle(ctx context.Context, cycleID string, summary db.CycleSummary) {
	if r.store == nil {
		return
	}
	// The summary is written even when the cycle context was cancelled
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := r.store.CompleteCycle(writeCtx, cycleID, r.now(), summary); err != nil {
		r.logger.Error("failed to record cycle summary", "cycle_id", cycleID, "error", err)
	}
}

// Loop runs a cycle every interval until ctx is done. A failed cycle is
// logged and the loop continues.
func (r *Runner) Loop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunCycle(ctx); err != nil {
			r.logger.Error("fleet cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
