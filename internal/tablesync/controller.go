package tablesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/livinlefevreloca/dapsync/internal/replication"
)

// LogURLUnavailable is reported when no log location could be resolved
const LogURLUnavailable = "unavailable"

var errNoGuard = errors.New("schema change blocked by dependent objects and no dependency guard is configured")

// ControllerConfig holds the per-process settings of a Controller
type ControllerConfig struct {
	Namespace string
	LogURL    string
}

// Controller runs one table's sync or init attempt and always returns a
// well-formed record. Every failure is converted into a state.
type Controller struct {
	engine    replication.Engine
	guard     *Guard
	namespace string
	logURL    string
	logger    *slog.Logger

	// Optional step recorder for testing
	recorder *StepRecorder
}

// NewController creates a controller. guard may be nil, in which case
// schema-blocked failures are terminal.
func NewController(engine replication.Engine, guard *Guard, config ControllerConfig, logger *slog.Logger) *Controller {
	logURL := config.LogURL
	if logURL == "" {
		logURL = LogURLUnavailable
	}
	return &Controller{
		engine:    engine,
		guard:     guard,
		namespace: config.Namespace,
		logURL:    logURL,
		logger:    logger,
	}
}

// SetRecorder attaches a step recorder to the controller and its guard
func (c *Controller) SetRecorder(r *StepRecorder) {
	c.recorder = r
	if c.guard != nil {
		c.guard.recorder = r
	}
}

// AttemptSync applies incremental changes to rec's table
func (c *Controller) AttemptSync(ctx context.Context, rec Record) (result Record) {
	result = rec
	defer c.recoverPanic(TaskSync, &result)

	c.logger.Info("syncing table", "table", rec.TableName, "namespace", c.namespace)

	c.recorder.Record(StepSynchronize)
	err := c.engine.Synchronize(ctx, c.namespace, rec.TableName)
	if err == nil {
		c.transition(&result, StateComplete, "")
		return result
	}

	kind := Classify(err)
	c.logger.Error("sync failed",
		"table", rec.TableName,
		"kind", kind.String(),
		"error", err)

	switch kind {
	case KindSchemaBlocked:
		c.recoverSchemaChange(ctx, &result)
	case KindTableUninitialized:
		c.fail(&result, TaskSync, StateNeedsInit, err, category(err))
	default:
		c.fail(&result, TaskSync, StateFailed, err, category(err))
	}
	return result
}

// AttemptInit performs the initial load of rec's table. There is no
// recovery path for initialization.
func (c *Controller) AttemptInit(ctx context.Context, rec Record) (result Record) {
	result = rec
	defer c.recoverPanic(TaskInit, &result)

	c.logger.Info("initializing table", "table", rec.TableName, "namespace", c.namespace)

	c.recorder.Record(StepInitialize)
	if err := c.engine.Initialize(ctx, c.namespace, rec.TableName); err != nil {
		c.logger.Error("init failed", "table", rec.TableName, "error", err)
		c.fail(&result, TaskInit, StateFailed, err, CategoryException)
		return result
	}

	c.transition(&result, StateComplete, "")
	return result
}

// recoverSchemaChange cycles the table's dependent objects around exactly
// one retry of the sync.
func (c *Controller) recoverSchemaChange(ctx context.Context, rec *Record) {
	if c.guard == nil {
		c.fail(rec, TaskSync, StateFailed, errNoGuard, CategorySchemaUpdate)
		return
	}

	c.logger.Info("retrying sync with dependent objects dropped", "table", rec.TableName)

	err := c.guard.Cycle(ctx, rec.TableName, func(ctx context.Context) (err error) {
		// A panicking retry is a failed retry
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		c.recorder.Record(StepSynchronizeRetry)
		return c.engine.Synchronize(ctx, c.namespace, rec.TableName)
	})
	if err != nil {
		c.logger.Error("sync retry after schema change failed", "table", rec.TableName, "error", err)
		c.fail(rec, TaskSync, StateFailed, err, CategorySchemaUpdate)
		return
	}

	c.transition(rec, StateCompleteWithUpdate, "")
}

func (c *Controller) fail(rec *Record, task string, state State, err error, category string) {
	c.transition(rec, state, FormatError(task, rec.TableName, state, err, c.logURL, category))
}

// transition sets the final state of rec and logs it
func (c *Controller) transition(rec *Record, state State, message string) {
	from := rec.State
	rec.State = state
	rec.ErrorMessage = message

	c.logger.Info("state transition",
		"table", rec.TableName,
		"from", from.String(),
		"to", state.String())
}

func (c *Controller) recoverPanic(task string, rec *Record) {
	if r := recover(); r != nil {
		c.logger.Error("replication panic recovered",
			"table", rec.TableName,
			"panic", r)
		c.fail(rec, task, StateFailed, fmt.Errorf("panic: %v", r), CategoryException)
	}
}
