package replication

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// CommandRunner executes an external command and returns its captured output
type CommandRunner func(ctx context.Context, name string, args, env []string) (stdout, stderr []byte, err error)

// ExecRunner runs commands with os/exec, inheriting the process environment
func ExecRunner(ctx context.Context, name string, args, env []string) ([]byte, []byte, error) {
	return ExecRunnerIn("")(ctx, name, args, env)
}

// ExecRunnerIn is ExecRunner with the working directory set to dir. The dap
// client writes its scratch files to the working directory.
func ExecRunnerIn(dir string) CommandRunner {
	return func(ctx context.Context, name string, args, env []string) ([]byte, []byte, error) {
		return execIn(ctx, dir, name, args, env)
	}
}

func execIn(ctx context.Context, dir, name string, args, env []string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// CLIConfig configures the DAP command line client
type CLIConfig struct {
	Path             string
	BaseURL          string
	Credentials      Credentials
	ConnectionString string
	WorkDir          string
	// Timeout bounds one command; zero means no bound
	Timeout          time.Duration
}

// CLIEngine drives the `dap` command line client. Secrets are passed through
// the child environment only.
type CLIEngine struct {
	config CLIConfig
	run    CommandRunner
	logger *slog.Logger
}

// NewCLIEngine creates an engine backed by the dap binary
func NewCLIEngine(config CLIConfig, runner CommandRunner, logger *slog.Logger) (*CLIEngine, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string must be specified")
	}
	if config.Credentials.ClientID == "" || config.Credentials.ClientSecret == "" {
		return nil, fmt.Errorf("DAP client credentials must be specified")
	}
	if config.Path == "" {
		config.Path = "dap"
	}
	if runner == nil {
		runner = ExecRunnerIn(config.WorkDir)
	}
	return &CLIEngine{config: config, run: runner, logger: logger}, nil
}

// Initialize runs `dap initdb` for the table
func (e *CLIEngine) Initialize(ctx context.Context, namespace, table string) error {
	return e.invoke(ctx, "initdb", namespace, table)
}

// Synchronize runs `dap syncdb` for the table
func (e *CLIEngine) Synchronize(ctx context.Context, namespace, table string) error {
	return e.invoke(ctx, "syncdb", namespace, table)
}

func (e *CLIEngine) invoke(ctx context.Context, command, namespace, table string) error {
	args := []string{command, "--namespace", namespace, "--table", table}
	env := []string{
		"DAP_CLIENT_ID=" + e.config.Credentials.ClientID,
		"DAP_CLIENT_SECRET=" + e.config.Credentials.ClientSecret,
		"DAP_CONNECTION_STRING=" + e.config.ConnectionString,
	}
	if e.config.BaseURL != "" {
		env = append(env, "DAP_API_URL="+e.config.BaseURL)
	}

	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	e.logger.Debug("running dap command",
		"command", command,
		"namespace", namespace,
		"table", table)

	_, stderr, err := e.run(ctx, e.config.Path, args, env)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("dap %s %s: %w", command, table, ctxErr)
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("dap %s %s: %w", command, table, err)
	}
	return translateFailure(table, string(stderr), err)
}

// translateFailure maps the client's diagnostic output onto typed failures.
// The client does not expose structured error kinds, so this matches on the
// exception names it prints.
func translateFailure(table, stderr string, cause error) error {
	switch {
	case strings.Contains(stderr, "NonExistingTableError"):
		return &TableMissingError{Table: table, Message: excerpt(stderr, "NonExistingTableError")}
	case strings.Contains(stderr, "QueryException"):
		return &QueryError{Message: excerpt(stderr, "QueryException")}
	case strings.Contains(stderr, "ValueError"):
		return &ValidationError{Message: excerpt(stderr, "ValueError")}
	}

	message := excerpt(stderr, "")
	if message == "" {
		return fmt.Errorf("dap command failed: %w", cause)
	}
	return fmt.Errorf("dap command failed: %s: %w", message, cause)
}

// excerpt joins the non-empty lines of s into one line, starting at the last
// line containing marker. An empty marker selects the last line only.
func excerpt(s, marker string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	start := len(lines) - 1
	if marker != "" {
		for i := len(lines) - 1; i >= 0; i-- {
			if strings.Contains(lines[i], marker) {
				start = i
				break
			}
		}
	}

	parts := make([]string, 0, len(lines)-start)
	for _, line := range lines[start:] {
		if line = strings.TrimSpace(line); line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " ")
}
