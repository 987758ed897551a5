// Package relay forwards webhook payloads to a fixed downstream URL.
package relay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const maxResponseBytes = 1 << 20

// DownstreamError is a non-2xx answer from the webhook target.
type DownstreamError struct {
	StatusCode int
	Body       string
}

func (e *DownstreamError) Error() string {
	return fmt.Sprintf("webhook failed with status: %d. Body: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the downstream itself looks unhealthy, as
// opposed to rejecting this payload.
func (e *DownstreamError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type Client struct {
	url        string
	httpClient *http.Client
	logger     *logrus.Logger
}

func NewClient(url string, logger *logrus.Logger) *Client {
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Forward posts body unchanged and returns the downstream response body.
func (c *Client) Forward(ctx context.Context, body []byte) ([]byte, error) {
	c.logger.WithField("url", c.url).Debug("Forwarding request to webhook")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to webhook: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook response: %w", err)
	}

	c.logger.WithField("status", resp.StatusCode).Info("Received response from webhook")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &DownstreamError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}
