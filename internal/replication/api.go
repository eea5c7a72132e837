package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// DefaultBaseURL is the public DAP API gateway
const DefaultBaseURL = "https://api-gateway.instructure.com"

// HTTPError is returned for non-retryable API responses
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// APIClient talks to the DAP query API directly. It only covers the metadata
// calls; the data transfer itself goes through an Engine.
type APIClient struct {
	baseURL     string
	credentials Credentials
	httpClient  *http.Client
	logger      *slog.Logger
	maxRetries  int
	baseDelay   time.Duration
	maxDelay    time.Duration

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	now         func() time.Time
}

// NewAPIClient creates a DAP API client
func NewAPIClient(baseURL string, credentials Credentials, httpClient *http.Client, logger *slog.Logger) *APIClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &APIClient{
		baseURL:     baseURL,
		credentials: credentials,
		httpClient:  httpClient,
		logger:      logger,
		maxRetries:  3,
		baseDelay:   200 * time.Millisecond,
		maxDelay:    5 * time.Second,
		now:         time.Now,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type tablesResponse struct {
	Tables []string `json:"tables"`
}

// ListTables returns the table names published in namespace
func (c *APIClient) ListTables(ctx context.Context, namespace string) ([]string, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace must be specified")
	}

	var out tablesResponse
	path := fmt.Sprintf("/dap/query/%s/table", url.PathEscape(namespace))
	if err := c.get(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("failed to list tables in %s: %w", namespace, err)
	}

	c.logger.Info("listed tables", "namespace", namespace, "count", len(out.Tables))
	return out.Tables, nil
}

// accessToken returns a cached bearer token, logging in again when it is
// within a minute of expiring.
func (c *APIClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry.Add(-time.Minute)) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ids/auth/login", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.credentials.ClientID, c.credentials.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("authentication request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("authentication failed: %w", &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))})
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("authentication response contained no access token")
	}

	c.token = tok.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return c.token, nil
}

func (c *APIClient) invalidateToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}

func (c *APIClient) get(ctx context.Context, path string, out any) error {
	reauthenticated := false
	for attempt := 0; ; attempt++ {
		token, err := c.accessToken(ctx)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1)); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode <= 299:
			return json.Unmarshal(payload, out)
		case resp.StatusCode == http.StatusUnauthorized && !reauthenticated:
			reauthenticated = true
			c.invalidateToken()
			continue
		case (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries:
			c.logger.Warn("retrying DAP API request",
				"path", path,
				"status", resp.StatusCode,
				"attempt", attempt+1)
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1)); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		message := errPayload.Message
		if message == "" {
			message = errPayload.Error
		}
		return &HTTPError{StatusCode: resp.StatusCode, Message: message}
	}
}

func (c *APIClient) retryDelay(attempt int) time.Duration {
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return delay
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
