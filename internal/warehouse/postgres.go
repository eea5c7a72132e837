package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
)

const defaultStatementTimeout = 10 * time.Minute

// duplicate_object, duplicate_schema, duplicate_database
var duplicateCodes = map[pq.ErrorCode]bool{
	"42710": true,
	"42P06": true,
	"42P04": true,
}

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresExecutor runs statements over a direct connection. One pool is
// opened lazily per target database, derived from the admin DSN.
type PostgresExecutor struct {
	adminDSN         *url.URL
	statementTimeout time.Duration
	openDB           sqlOpenFunc
	logger           *slog.Logger

	mu    sync.Mutex
	pools map[string]*sql.DB
}

// NewPostgresExecutor creates an executor from a postgres:// URL. The
// database in the URL is replaced per statement.
func NewPostgresExecutor(adminDSN string, statementTimeout time.Duration, logger *slog.Logger) (*PostgresExecutor, error) {
	adminDSN = strings.TrimSpace(adminDSN)
	if adminDSN == "" {
		return nil, fmt.Errorf("admin DSN is required")
	}
	u, err := url.Parse(adminDSN)
	if err != nil {
		return nil, fmt.Errorf("invalid admin DSN: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return nil, fmt.Errorf("admin DSN must be a postgres:// URL")
	}
	if statementTimeout <= 0 {
		statementTimeout = defaultStatementTimeout
	}
	return &PostgresExecutor{
		adminDSN:         u,
		statementTimeout: statementTimeout,
		openDB:           sql.Open,
		logger:           logger,
		pools:            make(map[string]*sql.DB),
	}, nil
}

func (e *PostgresExecutor) Execute(ctx context.Context, database, stmt string) error {
	db, err := e.pool(database)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, e.statementTimeout)
	defer cancel()

	if _, err := db.ExecContext(ctx, stmt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && duplicateCodes[pqErr.Code] {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, pqErr.Message)
		}
		return fmt.Errorf("statement failed on %s: %w", database, err)
	}
	return nil
}

func (e *PostgresExecutor) pool(database string) (*sql.DB, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if db, ok := e.pools[database]; ok {
		return db, nil
	}

	dsn := e.dsnFor(database)
	db, err := e.openDB("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open connection to %s: %w", database, err)
	}
	db.SetMaxOpenConns(2)
	e.pools[database] = db

	e.logger.Debug("opened warehouse pool", "database", database)
	return db, nil
}

func (e *PostgresExecutor) dsnFor(database string) string {
	u := *e.adminDSN
	if database != "" {
		u.Path = "/" + database
	}
	return u.String()
}

// Close closes every pool opened so far
func (e *PostgresExecutor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for name, db := range e.pools {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(e.pools, name)
	}
	return errors.Join(errs...)
}
