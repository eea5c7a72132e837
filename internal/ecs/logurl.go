// Package ecs resolves the CloudWatch location of the running container's
// logs from the ECS task metadata endpoint.
package ecs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// MetadataEnv names the variable ECS sets to the task metadata endpoint
const MetadataEnv = "ECS_CONTAINER_METADATA_URI_V4"

const defaultRegion = "ca-central-1"

// ErrNoMetadata is returned outside ECS, when the endpoint is not set
var ErrNoMetadata = errors.New("ecs task metadata endpoint not set")

type taskMetadata struct {
	Containers []struct {
		Name       string            `json:"Name"`
		LogOptions map[string]string `json:"LogOptions"`
	} `json:"Containers"`
}

// Resolver builds log URLs from task metadata
type Resolver struct {
	metadataURI string
	region      string
	httpClient  *http.Client
}

// NewResolver creates a resolver. Empty arguments fall back to the
// environment and a default region.
func NewResolver(metadataURI, region string, httpClient *http.Client) *Resolver {
	if region == "" {
		region = defaultRegion
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Resolver{
		metadataURI: strings.TrimRight(metadataURI, "/"),
		region:      region,
		httpClient:  httpClient,
	}
}

// LogURL returns the CloudWatch console URL of the first container's log stream
func (r *Resolver) LogURL(ctx context.Context) (string, error) {
	if r.metadataURI == "" {
		return "", ErrNoMetadata
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.metadataURI+"/task", nil)
	if err != nil {
		return "", fmt.Errorf("failed to build metadata request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("metadata request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metadata endpoint returned status %d", resp.StatusCode)
	}

	var meta taskMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return "", fmt.Errorf("failed to decode task metadata: %w", err)
	}
	if len(meta.Containers) == 0 {
		return "", fmt.Errorf("task metadata lists no containers")
	}

	opts := meta.Containers[0].LogOptions
	group, stream := opts["awslogs-group"], opts["awslogs-stream"]
	if group == "" || stream == "" {
		return "", fmt.Errorf("container %q does not log to cloudwatch", meta.Containers[0].Name)
	}

	return ConsoleURL(r.region, group, stream), nil
}

// ConsoleURL builds the CloudWatch console link for a log stream
func ConsoleURL(region, group, stream string) string {
	return fmt.Sprintf("https://%s.console.aws.amazon.com/cloudwatch/home?region=%s#logsV2:log-groups/log-group:%s/log-events/%s",
		region, region, strings.ReplaceAll(group, "/", "$2F"), stream)
}
