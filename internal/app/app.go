// Package app assembles the components of a dapsync process from its
// configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/livinlefevreloca/dapsync/internal/config"
	"github.com/livinlefevreloca/dapsync/internal/credentials"
	"github.com/livinlefevreloca/dapsync/internal/db"
	"github.com/livinlefevreloca/dapsync/internal/ecs"
	"github.com/livinlefevreloca/dapsync/internal/fleet"
	"github.com/livinlefevreloca/dapsync/internal/notify"
	"github.com/livinlefevreloca/dapsync/internal/replication"
	"github.com/livinlefevreloca/dapsync/internal/report"
	"github.com/livinlefevreloca/dapsync/internal/tablesync"
	"github.com/livinlefevreloca/dapsync/internal/warehouse"
)

// App holds the process-wide clients. Credentials and connections are
// resolved once, when the component that needs them is first built.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	AWS    aws.Config

	Secrets    *credentials.Provider
	httpClient *http.Client

	closers []func() error
}

// New loads the AWS configuration for cfg's region and creates the
// credential provider
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	secrets := credentials.NewProvider(
		ssm.NewFromConfig(awsCfg),
		secretsmanager.NewFromConfig(awsCfg),
		cfg.AWS.Environment,
		credentials.WithLogger(logger),
	)

	return &App{
		Config:     cfg,
		Logger:     logger,
		AWS:        awsCfg,
		Secrets:    secrets,
		httpClient: &http.Client{Timeout: cfg.Notify.Timeout},
	}, nil
}

// Close releases the connections opened by the app
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func (a *App) dapCredentials(ctx context.Context) (replication.Credentials, error) {
	if a.Config.DAP.ClientID != "" && a.Config.DAP.ClientSecret != "" {
		return replication.Credentials{ClientID: a.Config.DAP.ClientID, ClientSecret: a.Config.DAP.ClientSecret}, nil
	}
	return a.Secrets.DAPCredentials(ctx)
}

// Lister creates the DAP API client used to list tables
func (a *App) Lister(ctx context.Context) (*replication.APIClient, error) {
	creds, err := a.dapCredentials(ctx)
	if err != nil {
		return nil, err
	}
	return replication.NewAPIClient(a.Config.DAP.APIBaseURL, creds, nil, a.Logger), nil
}

// ConnectionString returns the warehouse URL the replication client writes to
func (a *App) ConnectionString(ctx context.Context) (string, error) {
	w := a.Config.Warehouse
	if w.ConnectionURL != "" {
		return w.ConnectionURL, nil
	}
	if w.UserSecretName == "" {
		return "", fmt.Errorf("warehouse user_secret_name or connection_url must be set")
	}
	user, err := a.Secrets.DatabaseUser(ctx, w.UserSecretName)
	if err != nil {
		return "", err
	}
	a.Logger.Info("resolved warehouse login", "user", user)
	return user.ConnectionString(w.SSLMode, w.SSLRootCert), nil
}

// Engine creates the replication engine backed by the dap client
func (a *App) Engine(ctx context.Context) (*replication.CLIEngine, error) {
	creds, err := a.dapCredentials(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := a.ConnectionString(ctx)
	if err != nil {
		return nil, err
	}

	return replication.NewCLIEngine(replication.CLIConfig{
		Path:             a.Config.DAP.CLIPath,
		BaseURL:          a.Config.DAP.APIBaseURL,
		Credentials:      creds,
		ConnectionString: conn,
		WorkDir:          a.Config.DAP.WorkDir,
		Timeout:          a.Config.DAP.CommandTimeout,
	}, nil, a.Logger)
}

// Executor creates the administrative executor. It returns nil when the
// executor is "none".
func (a *App) Executor(ctx context.Context) (warehouse.Executor, error) {
	w := a.Config.Warehouse
	switch w.Executor {
	case "rdsdata":
		exec, err := warehouse.NewRDSDataExecutor(rdsdata.NewFromConfig(a.AWS), w.ClusterARN, w.AdminSecretARN, a.Logger)
		if err != nil {
			return nil, err
		}
		return exec, nil
	case "postgres":
		exec, err := warehouse.NewPostgresExecutor(w.AdminDSN, 0, a.Logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, exec.Close)
		return exec, nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown warehouse executor %q", w.Executor)
	}
}

// LogURL returns where this process's logs can be read, or
// tablesync.LogURLUnavailable
func (a *App) LogURL(ctx context.Context) string {
	resolver := ecs.NewResolver(os.Getenv(ecs.MetadataEnv), a.Config.AWS.Region, nil)
	url, err := resolver.LogURL(ctx)
	if err != nil {
		if !errors.Is(err, ecs.ErrNoMetadata) {
			a.Logger.Warn("could not resolve log location", "error", err)
		}
		return tablesync.LogURLUnavailable
	}
	return url
}

// Controller creates the table sync controller, with a dependency guard
// when an executor is configured
func (a *App) Controller(ctx context.Context) (*tablesync.Controller, error) {
	engine, err := a.Engine(ctx)
	if err != nil {
		return nil, err
	}
	exec, err := a.Executor(ctx)
	if err != nil {
		return nil, err
	}

	var guard *tablesync.Guard
	if exec != nil {
		guard = tablesync.NewGuard(exec, tablesync.GuardConfig{
			Schema:         a.Config.Warehouse.Schema,
			Database:       a.Config.Warehouse.AdminDatabase,
			RestoreTimeout: a.Config.Warehouse.RestoreTimeout,
		}, a.Logger)
	} else {
		a.Logger.Warn("no warehouse executor configured, schema changes blocked by dependent objects will fail")
	}

	return tablesync.NewController(engine, guard, tablesync.ControllerConfig{
		Namespace: a.Config.DAP.Namespace,
		LogURL:    a.LogURL(ctx),
	}, a.Logger), nil
}

// Notifier returns the Slack notifier, or a discarding one when no webhook
// is configured
func (a *App) Notifier(ctx context.Context) (notify.Notifier, error) {
	n := a.Config.Notify
	url := n.WebhookURL
	if url == "" && n.WebhookSecretName != "" {
		secret, err := a.Secrets.SecretString(ctx, n.WebhookSecretName)
		if err != nil {
			return nil, fmt.Errorf("failed to read webhook secret: %w", err)
		}
		url = secret
	}
	if url == "" {
		return notify.Discard{Logger: a.Logger}, nil
	}
	return notify.NewSlack(url, a.httpClient, a.Logger), nil
}

// Aggregator creates the fleet report aggregator for this deployment
func (a *App) Aggregator() *report.Aggregator {
	return report.NewAggregator(
		a.Config.Report.System,
		config.FullEnvironmentName(a.Config.AWS.Environment),
		a.Config.Report.Thresholds,
	)
}

// OpenState opens the state store and applies its migrations
func (a *App) OpenState(ctx context.Context) (*db.DB, error) {
	store, err := db.OpenWithConfig(ctx, a.Config.State, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}

// Runner creates a fleet runner. tables may be nil when the runner is only
// used to plan or publish.
func (a *App) Runner(ctx context.Context, tables fleet.TableRunner) (*fleet.Runner, error) {
	lister, err := a.Lister(ctx)
	if err != nil {
		return nil, err
	}
	notifier, err := a.Notifier(ctx)
	if err != nil {
		// The cycle still runs; it just cannot report
		a.Logger.Error("notifications disabled", "error", err)
		notifier = notify.Discard{Logger: a.Logger}
	}

	f := a.Config.Fleet
	return fleet.NewRunner(lister, tables, a.Aggregator(), notifier, fleet.Config{
		Namespace:    a.Config.DAP.Namespace,
		SkipTables:   a.Config.DAP.SkipTables,
		Concurrency:  f.Concurrency,
		InitUnseen:   f.InitUnseen,
		TableTimeout: f.TableTimeout,
	}, a.Logger), nil
}
