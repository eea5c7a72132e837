// Package credentials resolves the DAP API client credentials and warehouse
// logins from AWS Systems Manager and Secrets Manager.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/livinlefevreloca/dapsync/internal/replication"
)

// DefaultTTL matches the max age the parameters were cached for historically
const DefaultTTL = 10 * time.Minute

const (
	paramClientID     = "dap_client_id"
	paramClientSecret = "dap_client_secret"
)

// SSMAPI is the subset of the SSM client used here
type SSMAPI interface {
	GetParametersByPath(ctx context.Context, params *ssm.GetParametersByPathInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

// SecretsAPI is the subset of the Secrets Manager client used here
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	ListSecrets(ctx context.Context, params *secretsmanager.ListSecretsInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.ListSecretsOutput, error)
}

// DatabaseSecret is the JSON document stored for each warehouse login
type DatabaseSecret struct {
	Username string      `json:"username"`
	Password string      `json:"password"`
	DBName   string      `json:"dbname"`
	Host     string      `json:"host"`
	Port     json.Number `json:"port"`
}

// ConnectionString builds a postgresql:// URL for the login. Credentials are
// escaped; sslmode and sslrootcert are added when set.
func (s DatabaseSecret) ConnectionString(sslMode, sslRootCert string) string {
	host := s.Host
	if s.Port != "" {
		host = net.JoinHostPort(s.Host, s.Port.String())
	}
	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(s.Username, s.Password),
		Host:   host,
		Path:   "/" + s.DBName,
	}
	q := url.Values{}
	if sslMode != "" {
		q.Set("sslmode", sslMode)
	}
	if sslRootCert != "" {
		q.Set("sslrootcert", sslRootCert)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// LogValue keeps the password out of structured logs
func (s DatabaseSecret) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", s.Username),
		slog.String("dbname", s.DBName),
		slog.String("host", s.Host),
	)
}

// Provider reads and caches credentials. It is safe for concurrent use.
type Provider struct {
	ssm         SSMAPI
	secrets     SecretsAPI
	environment string
	cache       *Cache
	logger      *slog.Logger
}

type Option func(*Provider)

func WithCache(c *Cache) Option {
	return func(p *Provider) { p.cache = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// NewProvider creates a provider for the given environment (dev, stg, prod)
func NewProvider(ssmClient SSMAPI, secretsClient SecretsAPI, environment string, opts ...Option) *Provider {
	p := &Provider{
		ssm:         ssmClient,
		secrets:     secretsClient,
		environment: environment,
		cache:       NewCache(DefaultTTL),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParameterPath is the SSM path holding the DAP client credentials
func (p *Provider) ParameterPath() string {
	return fmt.Sprintf("/%s/canvas_data_2", p.environment)
}

// DAPCredentials reads the DAP client id and secret
func (p *Provider) DAPCredentials(ctx context.Context) (replication.Credentials, error) {
	params, err := p.Parameters(ctx, p.ParameterPath())
	if err != nil {
		return replication.Credentials{}, err
	}

	id, secret := params[paramClientID], params[paramClientSecret]
	if id == "" || secret == "" {
		return replication.Credentials{}, fmt.Errorf("parameters %s/{%s,%s}: %w",
			p.ParameterPath(), paramClientID, paramClientSecret, ErrSecretNotFound)
	}

	p.logger.Info("resolved DAP credentials", "client_id", id)
	return replication.Credentials{ClientID: id, ClientSecret: secret}, nil
}

// Parameters returns every decrypted parameter directly under dir, keyed by
// the last path element
func (p *Provider) Parameters(ctx context.Context, dir string) (map[string]string, error) {
	key := "ssm:" + dir
	if v, ok := p.cache.Get(key); ok {
		return v.(map[string]string), nil
	}

	out := make(map[string]string)
	paginator := ssm.NewGetParametersByPathPaginator(p.ssm, &ssm.GetParametersByPathInput{
		Path:           aws.String(dir),
		WithDecryption: aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapAWSError(err, "get parameters", dir)
		}
		for _, param := range page.Parameters {
			out[path.Base(aws.ToString(param.Name))] = aws.ToString(param.Value)
		}
	}

	p.cache.Set(key, out)
	p.logger.Debug("loaded parameters", "path", dir, "count", len(out))
	return out, nil
}

// SecretString reads a plain secret value
func (p *Provider) SecretString(ctx context.Context, name string) (string, error) {
	key := "secret:" + name
	if v, ok := p.cache.Get(key); ok {
		return v.(string), nil
	}

	resp, err := p.secrets.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", mapAWSError(err, "get secret", name)
	}

	var value string
	switch {
	case resp.SecretString != nil:
		value = *resp.SecretString
	case len(resp.SecretBinary) > 0:
		value = string(resp.SecretBinary)
	}
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("get secret %s: %w", name, ErrSecretEmpty)
	}

	p.cache.Set(key, value)
	return value, nil
}

// DatabaseUser reads a warehouse login secret
func (p *Provider) DatabaseUser(ctx context.Context, name string) (DatabaseSecret, error) {
	raw, err := p.SecretString(ctx, name)
	if err != nil {
		return DatabaseSecret{}, err
	}

	var secret DatabaseSecret
	if err := json.Unmarshal([]byte(raw), &secret); err != nil {
		// The decode error can quote the secret, so it is not wrapped
		return DatabaseSecret{}, fmt.Errorf("secret %s is not a database login document", name)
	}
	if secret.Username == "" || secret.DBName == "" {
		return DatabaseSecret{}, fmt.Errorf("secret %s is missing username or dbname", name)
	}
	return secret, nil
}

// ListUserSecrets returns the ARNs of the secrets whose names start with prefix
func (p *Provider) ListUserSecrets(ctx context.Context, prefix string) ([]string, error) {
	var arns []string
	paginator := secretsmanager.NewListSecretsPaginator(p.secrets, &secretsmanager.ListSecretsInput{
		Filters: []smtypes.Filter{{
			Key:    smtypes.FilterNameStringTypeName,
			Values: []string{prefix},
		}},
		MaxResults: aws.Int32(100),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, mapAWSError(err, "list secrets", prefix)
		}
		for _, entry := range page.SecretList {
			arns = append(arns, aws.ToString(entry.ARN))
		}
	}
	return arns, nil
}
