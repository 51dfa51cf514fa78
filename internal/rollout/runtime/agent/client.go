// Package agent is the HTTP client for the runtime agent, the daemon that
// starts and stops service instances on the fleet.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Sh00ty/cloud-rollout/internal/models"
	"github.com/Sh00ty/cloud-rollout/internal/rollout"
)

const defaultTimeout = 15 * time.Second

var _ rollout.Runtime = (*Client)(nil)

type Client struct {
	baseURL *url.URL
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse runtime agent url %s: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("runtime agent url %s must include scheme and host", baseURL)
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

type startRequest struct {
	Service     string `json:"service"`
	Fingerprint string `json:"fingerprint"`
}

type instanceDto struct {
	Handle      string `json:"handle"`
	Service     string `json:"service"`
	Fingerprint string `json:"fingerprint"`
	Endpoint    string `json:"endpoint"`
	State       string `json:"state"`
}

type listResponse struct {
	Instances []instanceDto `json:"instances"`
}

func (c *Client) Start(ctx context.Context, service string, fp models.Fingerprint) (models.Instance, error) {
	payload, err := json.Marshal(startRequest{
		Service:     service,
		Fingerprint: string(fp),
	})
	if err != nil {
		return models.Instance{}, fmt.Errorf("failed to marshal start request: %w", err)
	}

	u := c.baseURL.JoinPath("v1", "instances")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return models.Instance{}, fmt.Errorf("failed to create start request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return models.Instance{}, fmt.Errorf("start request for %s failed: %w", service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return models.Instance{}, errorFromResponse("start "+service, resp)
	}
	var dto instanceDto
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return models.Instance{}, fmt.Errorf("failed to decode started instance of %s: %w", service, err)
	}
	return instanceToModel(dto), nil
}

func (c *Client) Status(ctx context.Context, handle string) (models.Instance, error) {
	u := c.baseURL.JoinPath("v1", "instances", handle)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return models.Instance{}, fmt.Errorf("failed to create status request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return models.Instance{}, fmt.Errorf("status request for %s failed: %w", handle, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return models.Instance{}, fmt.Errorf("instance %s: %w", handle, rollout.ErrInstanceNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return models.Instance{}, errorFromResponse("status "+handle, resp)
	}
	var dto instanceDto
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return models.Instance{}, fmt.Errorf("failed to decode instance %s: %w", handle, err)
	}
	return instanceToModel(dto), nil
}

func (c *Client) Drain(ctx context.Context, handle string) error {
	u := c.baseURL.JoinPath("v1", "instances", handle, "drain")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create drain request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("drain request for %s failed: %w", handle, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusAccepted:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("instance %s: %w", handle, rollout.ErrInstanceNotFound)
	default:
		return errorFromResponse("drain "+handle, resp)
	}
}

func (c *Client) Stop(ctx context.Context, handle string) error {
	u := c.baseURL.JoinPath("v1", "instances", handle)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create stop request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("stop request for %s failed: %w", handle, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("instance %s: %w", handle, rollout.ErrInstanceNotFound)
	default:
		return errorFromResponse("stop "+handle, resp)
	}
}

func (c *Client) List(ctx context.Context, service string) ([]models.Instance, error) {
	u := c.baseURL.JoinPath("v1", "instances")
	q := u.Query()
	q.Set("service", service)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create list request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list request for %s failed: %w", service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse("list "+service, resp)
	}
	var parsed listResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode instances of %s: %w", service, err)
	}
	result := make([]models.Instance, 0, len(parsed.Instances))
	for _, dto := range parsed.Instances {
		result = append(result, instanceToModel(dto))
	}
	return result, nil
}

func instanceToModel(dto instanceDto) models.Instance {
	return models.Instance{
		Service:     dto.Service,
		Fingerprint: models.Fingerprint(dto.Fingerprint),
		Handle:      dto.Handle,
		Endpoint:    dto.Endpoint,
		State:       models.InstanceState(dto.State),
	}
}

func errorFromResponse(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
	return fmt.Errorf("%s: agent returned %s: %s", op, resp.Status, strings.TrimSpace(string(body)))
}
