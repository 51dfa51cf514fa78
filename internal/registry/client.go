// Package registry talks to the artifact registry over HTTP and answers
// one question: what is the latest fingerprint published for an artifact.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Sh00ty/cloud-rollout/internal/models"
)

const defaultTimeout = 5 * time.Second

var ErrArtifactNotFound = errors.New("artifact not found in registry")

type Client struct {
	baseURL *url.URL
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse registry url %s: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("registry url %s must include scheme and host", baseURL)
	}
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: u,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type latestResponse struct {
	Fingerprint string `json:"fingerprint"`
}

// Latest returns the newest fingerprint published for the artifact.
// The registry endpoint is GET /v1/artifacts/<artifact>/latest.
func (c *Client) Latest(ctx context.Context, artifact string) (models.Fingerprint, error) {
	u := c.baseURL.JoinPath("v1", "artifacts", artifact, "latest")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create registry request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("registry request for %s failed: %w", artifact, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("artifact %s: %w", artifact, ErrArtifactNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("registry returned %s for artifact %s", resp.Status, artifact)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", fmt.Errorf("failed to read registry response for %s: %w", artifact, err)
	}

	var parsed latestResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to unmarshal registry response for %s: %w", artifact, err)
	}
	if parsed.Fingerprint == "" {
		return "", fmt.Errorf("registry returned empty fingerprint for artifact %s", artifact)
	}
	return models.Fingerprint(parsed.Fingerprint), nil
}
