package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/livinlefevreloca/dapsync/internal/notify"
	"github.com/livinlefevreloca/dapsync/internal/report"
	"github.com/livinlefevreloca/dapsync/internal/tablesync"
)

const snsTitle = "*Canvas Data 2 Workflow Notification*:\n"

// Planner builds the starting records of a cycle. *fleet.Runner implements it.
type Planner interface {
	Plan(ctx context.Context) ([]tablesync.Record, error)
}

type handlers struct {
	planner    Planner
	aggregator *report.Aggregator
	notifier   notify.Notifier
	logger     *slog.Logger
}

// ListTablesOutput is the input of the workflow's per-table map state
type ListTablesOutput struct {
	Tables []tablesync.Record `json:"tables"`
}

func (h *handlers) listTables(ctx context.Context) (ListTablesOutput, error) {
	records, err := h.planner.Plan(ctx)
	if err != nil {
		h.logger.Error("failed to list tables", "error", err)
		if postErr := h.notifier.Post(ctx, h.aggregator.ListingFailure(err)); postErr != nil {
			h.logger.Error("listing failure alert was not delivered", "error", postErr)
		}
		return ListTablesOutput{}, err
	}

	h.logger.Info("listed tables", "count", len(records))
	return ListTablesOutput{Tables: records}, nil
}

// recordEnvelope accepts either a bare record or a task output wrapping it
type recordEnvelope struct {
	Payload *tablesync.Record `json:"Payload"`
	tablesync.Record
}

func (e recordEnvelope) record() tablesync.Record {
	if e.Payload != nil {
		return *e.Payload
	}
	return e.Record
}

// FleetReportOutput is returned to the workflow after the report is posted
type FleetReportOutput struct {
	Counts     map[string]int `json:"counts"`
	Escalation string         `json:"escalation"`
}

// fleetReport summarizes the records of a finished cycle. The event is
// either an array of records or {"tables": [...]}.
func (h *handlers) fleetReport(ctx context.Context, event json.RawMessage) (FleetReportOutput, error) {
	var envelopes []recordEnvelope
	if trimmed := bytes.TrimSpace(event); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &envelopes); err != nil {
			return FleetReportOutput{}, fmt.Errorf("invalid fleet report event: %w", err)
		}
	} else {
		var wrapped struct {
			Tables []recordEnvelope `json:"tables"`
		}
		if err := json.Unmarshal(event, &wrapped); err != nil {
			return FleetReportOutput{}, fmt.Errorf("invalid fleet report event: %w", err)
		}
		envelopes = wrapped.Tables
	}

	records := make([]tablesync.Record, 0, len(envelopes))
	for _, e := range envelopes {
		records = append(records, e.record())
	}

	rep := h.aggregator.Summarize(records)
	if err := h.notifier.Post(ctx, h.aggregator.Render(rep)); err != nil {
		h.logger.Warn("fleet report was not delivered", "error", err)
	}

	return FleetReportOutput{Counts: rep.Counts(), Escalation: rep.Escalation.String()}, nil
}

// snsNotify relays workflow notifications to the notification channel.
// Delivery is best effort.
func (h *handlers) snsNotify(ctx context.Context, event events.SNSEvent) error {
	for _, r := range event.Records {
		if err := h.notifier.Post(ctx, snsTitle+r.SNS.Message); err != nil {
			h.logger.Error("failed to relay workflow notification",
				"message_id", r.SNS.MessageID,
				"error", err)
		}
	}
	return nil
}
