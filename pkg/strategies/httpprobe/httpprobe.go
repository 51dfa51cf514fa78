package httpprobe

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Sh00ty/cloud-rollout/pkg/probe"
)

type Settings struct {
	Timeout       time.Duration `json:"timeout"`
	Scheme        string        `json:"scheme"`
	Path          string        `json:"path"`
	Method        string        `json:"method"`
	TLSServerName string        `json:"tls_server_name"`
	TLSSkipVerify bool          `json:"tls_skip_verify"`
}

// HTTPProbe considers an endpoint healthy when it answers any 2xx
// within the timeout. Keep-alives are off, every probe is a fresh
// connection to catch listeners that accept but no longer serve.
type HTTPProbe struct {
	client *http.Client
	req    *http.Request
}

func New(settings *Settings, endpoint string) (*HTTPProbe, error) {
	if settings.Timeout == 0 {
		settings.Timeout = probe.DefaultTimeout
	}
	scheme := settings.Scheme
	if scheme == "" {
		scheme = "http"
	}
	targetURL := url.URL{
		Scheme: scheme,
		Host:   endpoint,
		Path:   settings.Path,
	}
	transport := http.Transport{
		DisableKeepAlives: true,
	}
	if scheme == "https" {
		tlsConfig := new(tls.Config)
		tlsConfig.InsecureSkipVerify = settings.TLSSkipVerify
		tlsConfig.ServerName = settings.TLSServerName

		transport.TLSClientConfig = tlsConfig
		transport.TLSHandshakeTimeout = settings.Timeout
	}
	method := http.MethodGet
	if settings.Method != "" {
		method = settings.Method
	}
	req, err := http.NewRequest(method, targetURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build probe request: %w", err)
	}
	return &HTTPProbe{
		client: &http.Client{
			Timeout:   settings.Timeout,
			Transport: &transport,
		},
		req: req,
	}, nil
}

func (p *HTTPProbe) Check(ctx context.Context) (bool, error) {
	resp, err := p.client.Do(p.req.Clone(ctx))
	if err != nil {
		return false, fmt.Errorf("request do error: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		return true, nil
	}
	log.Debug().Msgf("[http-probe]: invalid status code = %d", resp.StatusCode)
	return false, nil
}
