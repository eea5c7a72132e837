package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/livinlefevreloca/dapsync/internal/app"
	"github.com/livinlefevreloca/dapsync/internal/config"
	"github.com/livinlefevreloca/dapsync/internal/db"
	"github.com/livinlefevreloca/dapsync/internal/fleet"
	"github.com/livinlefevreloca/dapsync/internal/syncer"
	"github.com/livinlefevreloca/dapsync/internal/tablesync"
	"github.com/livinlefevreloca/dapsync/tools/migrator"
)

const usage = `usage: dapsync [-config file] <command> [flags]

commands:
  run       run one fleet cycle (-loop to repeat every fleet.interval)
  list      list the tables of the namespace and their starting state
  sync      synchronize one table (-table name)
  init      initialize one table (-table name)
  report    render the fleet report from the state store (-notify to post it)
  setup     provision warehouse users, schemas and grants
  migrate   apply the state store migrations
`

func main() {
	configFile := flag.String("config", "", "Path to configuration file (TOML)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.Logging.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := dispatch(ctx, cfg, logger, flag.Arg(0), flag.Args()[1:]); err != nil {
		logger.Error("command failed", "command", flag.Arg(0), "error", err)
		stop()
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, cfg *config.Config, logger *slog.Logger, command string, args []string) error {
	// migrate only needs the state store
	if command == "migrate" {
		return migrate(ctx, cfg, logger)
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	switch command {
	case "run":
		return run(ctx, a, args)
	case "list":
		return list(ctx, a)
	case "sync":
		return single(ctx, a, "sync", args)
	case "init":
		return single(ctx, a, "init", args)
	case "report":
		return fleetReport(ctx, a, args)
	case "setup":
		result, err := a.SetupWarehouse(ctx)
		if err != nil {
			return err
		}
		if result.Failed > 0 {
			return fmt.Errorf("%d provisioning steps failed", result.Failed)
		}
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func run(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	loop := fs.Bool("loop", false, "Repeat the cycle every fleet.interval")
	fs.Parse(args)

	store, err := a.OpenState(ctx)
	if err != nil {
		return err
	}

	writer, err := syncer.NewSyncer(a.Config.Syncer, a.Logger)
	if err != nil {
		return err
	}
	writer.Start(store)
	defer writer.Shutdown()

	ctrl, err := a.Controller(ctx)
	if err != nil {
		return err
	}
	runner, err := a.Runner(ctx, ctrl)
	if err != nil {
		return err
	}
	runner.WithStore(store).WithSink(writer)

	if *loop {
		if a.Config.Fleet.Interval <= 0 {
			return errors.New("fleet.interval must be set to loop")
		}
		return runner.Loop(ctx, a.Config.Fleet.Interval)
	}

	result, err := runner.RunCycle(ctx)
	if err != nil {
		return err
	}
	a.Logger.Info("fleet cycle finished",
		"cycle_id", result.CycleID,
		"failed", result.Report.Failed,
		"escalation", result.Report.Escalation.String())
	return nil
}

func list(ctx context.Context, a *app.App) error {
	runner, err := a.Runner(ctx, nil)
	if err != nil {
		return err
	}
	if store, err := a.OpenState(ctx); err == nil {
		runner.WithStore(store)
	} else {
		a.Logger.Warn("listing without stored state", "error", err)
	}

	records, err := runner.Plan(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		fmt.Printf("%s\t%s\n", rec.TableName, rec.State)
	}
	return nil
}

func single(ctx context.Context, a *app.App, command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	table := fs.String("table", "", "Table to process")
	fs.Parse(args)
	if *table == "" {
		return errors.New("-table is required")
	}

	ctrl, err := a.Controller(ctx)
	if err != nil {
		return err
	}

	var rec tablesync.Record
	if command == "init" {
		rec = ctrl.AttemptInit(ctx, tablesync.NewRecord(*table, tablesync.StateNeedsInit))
	} else {
		rec = ctrl.AttemptSync(ctx, tablesync.NewRecord(*table, tablesync.StateNeedsSync))
	}

	if store, err := a.OpenState(ctx); err == nil {
		row := &db.TableRecord{
			Namespace: a.Config.DAP.Namespace,
			TableName: rec.TableName,
			State:     rec.State.String(),
		}
		if rec.ErrorMessage != "" {
			row.ErrorMessage = &rec.ErrorMessage
		}
		if err := store.UpsertTableRecord(ctx, row); err != nil {
			a.Logger.Error("failed to store table record", "table", rec.TableName, "error", err)
		}
	}

	if err := json.NewEncoder(os.Stdout).Encode(rec); err != nil {
		return err
	}
	if rec.State.Failing() {
		return fmt.Errorf("table %s ended in state %s", rec.TableName, rec.State)
	}
	return nil
}

func fleetReport(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	post := fs.Bool("notify", false, "Post the report to the notification channel")
	fs.Parse(args)

	store, err := a.OpenState(ctx)
	if err != nil {
		return err
	}
	rows, err := store.GetTableRecords(ctx, a.Config.DAP.Namespace)
	if err != nil {
		return err
	}

	records := make([]tablesync.Record, 0, len(rows))
	for _, row := range rows {
		state, err := tablesync.ParseState(row.State)
		if err != nil {
			a.Logger.Warn("skipping stored record with unknown state", "table", row.TableName, "state", row.State)
			continue
		}
		rec := tablesync.NewRecord(row.TableName, state)
		if row.ErrorMessage != nil {
			rec.ErrorMessage = *row.ErrorMessage
		}
		records = append(records, rec)
	}

	agg := a.Aggregator()
	rep := agg.Summarize(records)
	fmt.Print(agg.Render(rep))

	if *post {
		notifier, err := a.Notifier(ctx)
		if err != nil {
			return err
		}
		return notifier.Post(ctx, agg.Render(rep))
	}
	return nil
}

func migrate(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	stateCfg := cfg.State
	stateCfg.SkipMigrations = false
	store, err := db.OpenWithConfig(ctx, stateCfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	version, err := migrator.CurrentVersion(ctx, store.DB)
	if err != nil {
		return err
	}
	logger.Info("state store schema ready", "driver", store.Driver(), "version", version)
	return nil
}

// Compile-time check that the controller drives fleet cycles
var _ fleet.TableRunner = (*tablesync.Controller)(nil)
