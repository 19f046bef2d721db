package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	healthPath          string        = "/health"
	modelsPath          string        = "/v1/models"
	defaultProbeTimeout time.Duration = 10 * time.Second
)

// Prober checks an OpenAI-compatible inference server.
type Prober interface {
	// Healthy pings the liveness endpoint.
	Healthy(ctx context.Context, endpoint string) error
	// Ready requires liveness plus a served model list.
	Ready(ctx context.Context, endpoint string) error
}

type HTTPProber struct {
	client     *http.Client
	apiKey     string
	healthPath string
}

func NewHTTPProber(timeout time.Duration, apiKey string) *HTTPProber {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &HTTPProber{
		client:     &http.Client{Timeout: timeout},
		apiKey:     apiKey,
		healthPath: healthPath,
	}
}

func (p *HTTPProber) WithHealthPath(path string) *HTTPProber {
	if path != "" {
		p.healthPath = path
	}
	return p
}

func (p *HTTPProber) Healthy(ctx context.Context, endpoint string) error {
	return p.get(ctx, endpoint, p.healthPath)
}

func (p *HTTPProber) Ready(ctx context.Context, endpoint string) error {
	if err := p.Healthy(ctx, endpoint); err != nil {
		return err
	}
	return p.get(ctx, endpoint, modelsPath)
}

func (p *HTTPProber) get(ctx context.Context, endpoint, path string) error {
	if endpoint == "" {
		return errors.New("no endpoint configured")
	}

	base := strings.TrimRight(endpoint, "/")
	if path == modelsPath {
		base = strings.TrimSuffix(base, "/v1")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return errors.Wrap(err, "build probe request")
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", p.apiKey))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "probe %s", path)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("probe %s returned status %d", path, resp.StatusCode)
	}

	return nil
}
