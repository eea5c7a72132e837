package app

import (
	"context"
	"fmt"

	"github.com/livinlefevreloca/dapsync/internal/warehouse"
)

// SetupWarehouse provisions every login whose secret name starts with the
// configured prefix
func (a *App) SetupWarehouse(ctx context.Context) (warehouse.ProvisionResult, error) {
	p := a.Config.Warehouse.Provision

	exec, err := a.Executor(ctx)
	if err != nil {
		return warehouse.ProvisionResult{}, err
	}
	if exec == nil {
		return warehouse.ProvisionResult{}, fmt.Errorf("setup needs a warehouse executor")
	}

	roles := make(map[string]warehouse.Role, len(p.Roles))
	for user, name := range p.Roles {
		role, err := warehouse.ParseRole(name)
		if err != nil {
			return warehouse.ProvisionResult{}, fmt.Errorf("role of %s: %w", user, err)
		}
		roles[user] = role
	}

	arns, err := a.Secrets.ListUserSecrets(ctx, p.UserSecretPrefix)
	if err != nil {
		return warehouse.ProvisionResult{}, err
	}

	users := make([]warehouse.User, 0, len(arns))
	for _, arn := range arns {
		secret, err := a.Secrets.DatabaseUser(ctx, arn)
		if err != nil {
			a.Logger.Error("skipping unreadable user secret", "secret", arn, "error", err)
			continue
		}
		users = append(users, warehouse.User{
			Username: secret.Username,
			Password: secret.Password,
			Database: secret.DBName,
		})
	}

	provisioner := warehouse.NewProvisioner(exec, warehouse.ProvisionConfig{
		AdminUser:      p.AdminUser,
		Owner:          p.Owner,
		MetadataSchema: p.MetadataSchema,
		Schemas:        p.Schemas,
		Roles:          roles,
	}, a.Logger)

	result := provisioner.Provision(ctx, users)
	a.Logger.Info("warehouse setup finished",
		"users", len(users),
		"succeeded", result.Succeeded,
		"skipped", result.Skipped,
		"failed", result.Failed)
	return result, nil
}
