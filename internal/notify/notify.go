// Package notify delivers fleet reports and alerts to a chat channel.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultTimeout = 10 * time.Second

// Notifier posts a message. Delivery is best effort and never retried.
type Notifier interface {
	Post(ctx context.Context, text string) error
}

// Slack posts to an incoming webhook
type Slack struct {
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewSlack(webhookURL string, httpClient *http.Client, logger *slog.Logger) *Slack {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Slack{
		webhookURL: webhookURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Post sends text to the webhook. Failures are logged and returned.
func (s *Slack) Post(ctx context.Context, text string) error {
	err := s.post(ctx, text)
	if err != nil {
		s.logger.Error("failed to send message to slack", "error", err)
		return err
	}
	s.logger.Debug("sent message to slack", "length", len(text))
	return nil
}

func (s *Slack) post(ctx context.Context, text string) error {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to encode slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack returned status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}

// Discard drops every message. It is used when no webhook is configured.
type Discard struct {
	Logger *slog.Logger
}

func (d Discard) Post(_ context.Context, text string) error {
	if d.Logger != nil {
		d.Logger.Info("notification discarded, no channel configured", "length", len(text))
	}
	return nil
}
