// dapsync-task runs one table's sync or init as a workflow task and reports
// the resulting record through the Step Functions task token.
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
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"

	"github.com/livinlefevreloca/dapsync/internal/app"
	"github.com/livinlefevreloca/dapsync/internal/config"
	"github.com/livinlefevreloca/dapsync/internal/fleet"
	"github.com/livinlefevreloca/dapsync/internal/tablesync"
)

const (
	eventEnv = "TABLE_NAME"
	tokenEnv = "TASK_TOKEN"

	callbackTimeout = 10 * time.Second
)

// TaskCallbacks is the subset of the Step Functions client used here
type TaskCallbacks interface {
	SendTaskSuccess(ctx context.Context, params *sfn.SendTaskSuccessInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskSuccessOutput, error)
	SendTaskFailure(ctx context.Context, params *sfn.SendTaskFailureInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskFailureOutput, error)
}

type taskPayload struct {
	Payload tablesync.Record `json:"Payload"`
}

func main() {
	configFile := flag.String("config", "", "Path to configuration file (TOML)")
	task := flag.String("task", "sync", "Task to run: sync or init")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.Logging.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	newRunner := func(ctx context.Context) (fleet.TableRunner, error) {
		return a.Controller(ctx)
	}

	err = runTask(ctx, *task, os.Getenv(eventEnv), os.Getenv(tokenEnv), newRunner, sfn.NewFromConfig(a.AWS), logger)
	a.Close()
	if err != nil {
		logger.Error("task failed", "task", *task, "error", err)
		stop()
		os.Exit(1)
	}
}

// runTask decodes the event, runs the task and reports the record. Any
// failure before a record exists is reported as a task failure.
func runTask(
	ctx context.Context,
	task, event, token string,
	newRunner func(context.Context) (fleet.TableRunner, error),
	callbacks TaskCallbacks,
	logger *slog.Logger,
) error {
	rec, err := execute(ctx, task, event, newRunner, logger)

	// The callback must reach the workflow even after SIGTERM cancelled ctx
	callbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), callbackTimeout)
	defer cancel()

	if err != nil {
		if token != "" {
			_, sendErr := callbacks.SendTaskFailure(callbackCtx, &sfn.SendTaskFailureInput{
				TaskToken: aws.String(token),
				Error:     aws.String("TaskSetupFailed"),
				Cause:     aws.String(err.Error()),
			})
			if sendErr != nil {
				logger.Error("failed to report task failure", "error", sendErr)
			}
		}
		return err
	}

	logger.Info("task finished",
		"table", rec.TableName,
		"state", rec.State.String())

	if token == "" {
		return nil
	}

	output, err := json.Marshal(taskPayload{Payload: rec})
	if err != nil {
		return fmt.Errorf("failed to encode task output: %w", err)
	}
	if _, err := callbacks.SendTaskSuccess(callbackCtx, &sfn.SendTaskSuccessInput{
		TaskToken: aws.String(token),
		Output:    aws.String(string(output)),
	}); err != nil {
		return fmt.Errorf("failed to report task success: %w", err)
	}
	return nil
}

func execute(
	ctx context.Context,
	task, event string,
	newRunner func(context.Context) (fleet.TableRunner, error),
	logger *slog.Logger,
) (tablesync.Record, error) {
	if task != "sync" && task != "init" {
		return tablesync.Record{}, fmt.Errorf("unknown task %q", task)
	}
	if event == "" {
		return tablesync.Record{}, fmt.Errorf("%s is not set", eventEnv)
	}

	var rec tablesync.Record
	if err := json.Unmarshal([]byte(event), &rec); err != nil {
		return tablesync.Record{}, fmt.Errorf("invalid task event: %w", err)
	}
	if rec.TableName == "" {
		return tablesync.Record{}, errors.New("task event has no table_name")
	}

	runner, err := newRunner(ctx)
	if err != nil {
		return tablesync.Record{}, err
	}

	logger.Info("running table task", "task", task, "table", rec.TableName)
	if task == "init" {
		return runner.AttemptInit(ctx, rec), nil
	}
	return runner.AttemptSync(ctx, rec), nil
}
