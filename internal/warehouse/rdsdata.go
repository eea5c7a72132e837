package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	"github.com/aws/smithy-go"
)

// RDSDataAPI is the subset of the RDS Data API client used here
type RDSDataAPI interface {
	ExecuteStatement(ctx context.Context, params *rdsdata.ExecuteStatementInput, optFns ...func(*rdsdata.Options)) (*rdsdata.ExecuteStatementOutput, error)
}

// RDSDataExecutor runs statements through the RDS Data API as the cluster
// admin, identified by its secret
type RDSDataExecutor struct {
	client     RDSDataAPI
	clusterARN string
	secretARN  string
	logger     *slog.Logger
}

func NewRDSDataExecutor(client RDSDataAPI, clusterARN, secretARN string, logger *slog.Logger) (*RDSDataExecutor, error) {
	if clusterARN == "" {
		return nil, fmt.Errorf("cluster ARN is required")
	}
	if secretARN == "" {
		return nil, fmt.Errorf("admin secret ARN is required")
	}
	return &RDSDataExecutor{
		client:     client,
		clusterARN: clusterARN,
		secretARN:  secretARN,
		logger:     logger,
	}, nil
}

func (e *RDSDataExecutor) Execute(ctx context.Context, database, sql string) error {
	_, err := e.client.ExecuteStatement(ctx, &rdsdata.ExecuteStatementInput{
		ResourceArn: aws.String(e.clusterARN),
		SecretArn:   aws.String(e.secretARN),
		Database:    aws.String(database),
		Sql:         aws.String(sql),
	})
	if err != nil {
		e.logger.Debug("statement failed", "database", database, "error", err)
		return classifyRDSDataError(err)
	}
	return nil
}

func classifyRDSDataError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && strings.Contains(apiErr.ErrorMessage(), "already exists") {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, apiErr.ErrorMessage())
	}
	return fmt.Errorf("rds data statement failed: %w", err)
}
