package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
)

// Role decides the privileges a user gets on the shared schemas
type Role string

const (
	RoleReadOnly  Role = "read_only"
	RoleReadWrite Role = "read_write"
	RoleAdmin     Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleReadOnly, RoleReadWrite, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// User is a warehouse login to provision
type User struct {
	Username string
	Password string
	Database string
}

// ProvisionConfig describes the desired users, schemas and grants
type ProvisionConfig struct {
	// AdminUser is granted membership of every provisioned user
	AdminUser string
	// Owner gets its own schema and owns the replication metadata schema
	Owner string
	// MetadataSchema is owned by Owner, e.g. instructure_dap
	MetadataSchema string
	// Schemas every user gets usage and role privileges on
	Schemas []string
	// Roles maps usernames to roles; unlisted users are read-only
	Roles map[string]Role
}

// ProvisionResult counts the statements run by Provision
type ProvisionResult struct {
	Succeeded int
	Skipped   int
	Failed    int
}

// Provisioner creates warehouse users, their schemas and grants
type Provisioner struct {
	exec   Executor
	config ProvisionConfig
	logger *slog.Logger
}

func NewProvisioner(exec Executor, config ProvisionConfig, logger *slog.Logger) *Provisioner {
	return &Provisioner{exec: exec, config: config, logger: logger}
}

// RoleFor returns the configured role of username
func (p *Provisioner) RoleFor(username string) Role {
	if role, ok := p.config.Roles[username]; ok {
		return role
	}
	return RoleReadOnly
}

// Provision applies the configuration for every user. A failing step is
// logged and provisioning continues with the next one.
func (p *Provisioner) Provision(ctx context.Context, users []User) ProvisionResult {
	var result ProvisionResult

	for _, u := range users {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("provisioning interrupted", "error", err)
			return result
		}

		p.logger.Info("provisioning user", "username", u.Username, "database", u.Database)

		p.createUser(ctx, u, &result)
		p.step(ctx, u.Database, &result, "grant user to admin",
			fmt.Sprintf("GRANT %s TO %s", pq.QuoteIdentifier(u.Username), pq.QuoteIdentifier(p.config.AdminUser)))

		if u.Username == p.config.Owner {
			p.createSchema(ctx, u, u.Username, &result)
			if p.config.MetadataSchema != "" {
				p.createSchema(ctx, u, p.config.MetadataSchema, &result)
			}
		}

		role := p.RoleFor(u.Username)
		for _, schema := range p.config.Schemas {
			p.step(ctx, u.Database, &result, "grant usage",
				fmt.Sprintf("GRANT USAGE ON SCHEMA %s TO %s", pq.QuoteIdentifier(schema), pq.QuoteIdentifier(u.Username)))
			p.step(ctx, u.Database, &result, "grant "+string(role),
				privilegeStatement(role, schema, u.Username))
		}
	}

	return result
}

func (p *Provisioner) createUser(ctx context.Context, u User, result *ProvisionResult) {
	create := fmt.Sprintf("CREATE USER %s WITH PASSWORD %s", pq.QuoteIdentifier(u.Username), pq.QuoteLiteral(u.Password))
	err := p.exec.Execute(ctx, u.Database, create)
	if err == nil {
		result.Succeeded++
		p.logger.Info("created user", "username", u.Username)
		return
	}
	if !errors.Is(err, ErrAlreadyExists) {
		result.Failed++
		p.logger.Error("failed to create user", "username", u.Username, "error", err)
		return
	}

	p.logger.Info("user already exists, updating password", "username", u.Username)
	p.step(ctx, u.Database, result, "update password",
		fmt.Sprintf("ALTER USER %s WITH PASSWORD %s", pq.QuoteIdentifier(u.Username), pq.QuoteLiteral(u.Password)))
}

func (p *Provisioner) createSchema(ctx context.Context, u User, schema string, result *ProvisionResult) {
	stmt := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s AUTHORIZATION %s", pq.QuoteIdentifier(schema), pq.QuoteIdentifier(u.Username))
	err := p.exec.Execute(ctx, u.Database, stmt)
	switch {
	case err == nil:
		result.Succeeded++
		p.logger.Info("created schema", "schema", schema, "owner", u.Username)
	case errors.Is(err, ErrAlreadyExists):
		result.Skipped++
		p.logger.Info("schema already exists", "schema", schema)
	default:
		result.Failed++
		p.logger.Error("failed to create schema", "schema", schema, "owner", u.Username, "error", err)
	}
}

func (p *Provisioner) step(ctx context.Context, database string, result *ProvisionResult, name, stmt string) {
	if err := p.exec.Execute(ctx, database, stmt); err != nil {
		result.Failed++
		p.logger.Error("provisioning step failed", "step", name, "database", database, "error", err)
		return
	}
	result.Succeeded++
}

func privilegeStatement(role Role, schema, username string) string {
	s, u := pq.QuoteIdentifier(schema), pq.QuoteIdentifier(username)
	switch role {
	case RoleAdmin:
		return fmt.Sprintf("GRANT ALL PRIVILEGES ON SCHEMA %s TO %s", s, u)
	case RoleReadWrite:
		return fmt.Sprintf("GRANT SELECT, INSERT, UPDATE, DELETE ON ALL TABLES IN SCHEMA %s TO %s", s, u)
	default:
		return fmt.Sprintf("GRANT SELECT ON ALL TABLES IN SCHEMA %s TO %s", s, u)
	}
}
