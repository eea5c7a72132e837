// dapsync-lambda serves the workflow's Lambda steps. HANDLER selects which:
// list_tables, fleet_report or sns_notify.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/livinlefevreloca/dapsync/internal/app"
	"github.com/livinlefevreloca/dapsync/internal/config"
	"github.com/livinlefevreloca/dapsync/internal/notify"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("DAPSYNC_CONFIG"))
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.Logging.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	handler, err := newHandler(context.Background(), os.Getenv("HANDLER"), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize handler", "error", err)
		os.Exit(1)
	}
	lambda.Start(handler)
}

func newHandler(ctx context.Context, name string, cfg *config.Config, logger *slog.Logger) (any, error) {
	// Without a state store every listed table starts at needs_sync; the
	// workflow falls back to init when a sync finds the table missing
	cfg.Fleet.InitUnseen = false

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	notifier, err := a.Notifier(ctx)
	if err != nil {
		logger.Error("notifications disabled", "error", err)
		notifier = notify.Discard{Logger: logger}
	}
	h := &handlers{
		aggregator: a.Aggregator(),
		notifier:   notifier,
		logger:     logger,
	}

	switch name {
	case "list_tables":
		runner, err := a.Runner(ctx, nil)
		if err != nil {
			return nil, err
		}
		h.planner = runner
		return h.listTables, nil
	case "fleet_report":
		return h.fleetReport, nil
	case "sns_notify":
		return h.snsNotify, nil
	default:
		return nil, fmt.Errorf("unknown HANDLER %q", name)
	}
}
