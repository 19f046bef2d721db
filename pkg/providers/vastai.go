package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/llmgate/pkg/types"
)

const maxErrorBodyBytes = 512

// VastAIClient wraps the vast.ai REST API with retry and error classification.
type VastAIClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	notify     backoff.Notify
}

type VastAIOption func(*VastAIClient)

func WithVastHTTPClient(c *http.Client) VastAIOption {
	return func(v *VastAIClient) {
		v.httpClient = c
	}
}

// WithRetryNotify replaces the default retry logger.
func WithRetryNotify(notify backoff.Notify) VastAIOption {
	return func(v *VastAIClient) {
		v.notify = notify
	}
}

func NewVastAIClient(config types.VastAIProviderConfig, opts ...VastAIOption) (*VastAIClient, error) {
	if !config.Configured() {
		return nil, &types.ErrAuth{Message: "vast.ai api key not configured"}
	}

	c := &VastAIClient{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		apiKey:     config.ApiKey,
		maxRetries: config.MaxRetries,
		retryDelay: config.RetryDelay,
	}

	if c.baseURL == "" {
		c.baseURL = vastApiBaseUrl
	}
	if c.maxRetries < 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.retryDelay <= 0 {
		c.retryDelay = defaultRetryDelay
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	c.httpClient = &http.Client{Timeout: timeout}

	c.notify = func(err error, d time.Duration) {
		log.Warn().Err(err).Dur("retry_in", d).Msg("vast.ai request failed, retrying")
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

var _ Marketplace = (*VastAIClient)(nil)

// requestWithRetry issues one logical request. Auth, not-found and other 4xx
// responses fail immediately, rate limits and 5xx responses are retried.
func (c *VastAIClient) requestWithRetry(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request body")
		}
	}

	rateLimited := false
	operation := func() error {
		err := c.do(ctx, method, path, query, payload, out)

		var rateErr *types.ErrRateLimited
		rateLimited = errors.As(err, &rateErr)

		if err != nil && !retryable(ctx, err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := newDoublingBackOff(c.retryDelay, func() bool { return rateLimited })
	return backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxRetries)), ctx), c.notify)
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	if types.IsRetryable(err) {
		return true
	}

	var transportErr *transportError
	return errors.As(err, &transportErr)
}

type transportError struct {
	err error
}

func (e *transportError) Error() string {
	return e.err.Error()
}

func (e *transportError) Unwrap() error {
	return e.err
}

func (c *VastAIClient) do(ctx context.Context, method, path string, query url.Values, payload []byte, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transportError{err: errors.Wrapf(err, "%s %s", method, path)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &transportError{err: errors.Wrap(err, "read response body")}
	}

	if err := classifyResponse(resp.StatusCode, path, respBody); err != nil {
		return err
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.Wrapf(err, "decode %s response", path)
	}

	return nil
}

func classifyResponse(status int, path string, body []byte) error {
	msg := string(body)
	if len(msg) > maxErrorBodyBytes {
		msg = msg[:maxErrorBodyBytes]
	}

	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return &types.ErrAuth{Message: msg}
	case status == http.StatusNotFound:
		return &types.ErrNotFound{Resource: "vast.ai resource", Id: path}
	case status == http.StatusTooManyRequests:
		return &types.ErrRateLimited{Message: msg}
	case status >= 500:
		return &types.ErrServer{StatusCode: status, Message: msg}
	case status >= 400:
		return &types.ErrClient{StatusCode: status, Message: msg}
	}

	return &types.ErrClient{StatusCode: status, Message: msg}
}

type searchResponse struct {
	Offers []types.Offer `json:"offers"`
}

// SearchOffers filters server-side by gpu name and availability flags, then
// client-side by vram and price. Results are sorted by ascending price.
func (c *VastAIClient) SearchOffers(ctx context.Context, params SearchParams) ([]types.Offer, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	filter := map[string]interface{}{
		"gpu_name": map[string]interface{}{"eq": params.GPUName},
		"order":    [][]string{{"dph_total", "asc"}},
		"type":     defaultInstanceType,
		"limit":    limit,
	}
	if params.VerifiedOnly {
		filter["verified"] = map[string]interface{}{"eq": true}
	}
	if params.AvailableOnly {
		filter["rentable"] = map[string]interface{}{"eq": true}
		filter["rented"] = map[string]interface{}{"eq": false}
	}

	q, err := json.Marshal(filter)
	if err != nil {
		return nil, errors.Wrap(err, "encode search filter")
	}

	var resp searchResponse
	err = c.requestWithRetry(ctx, http.MethodGet, "/bundles", url.Values{"q": []string{string(q)}}, nil, &resp)
	if err != nil {
		return nil, err
	}

	offers := make([]types.Offer, 0, len(resp.Offers))
	for _, offer := range resp.Offers {
		if offer.VRAMGB() < params.MinVRAMGB {
			continue
		}
		if params.MaxPrice > 0 && offer.PricePerHour > params.MaxPrice {
			continue
		}
		offers = append(offers, offer)
	}

	sort.SliceStable(offers, func(i, j int) bool {
		return offers[i].PricePerHour < offers[j].PricePerHour
	})

	log.Debug().Str("gpu_name", params.GPUName).Int("returned", len(resp.Offers)).Int("matched", len(offers)).Msg("searched offers")
	return offers, nil
}

type createInstanceBody struct {
	ClientID string            `json:"client_id"`
	Image    string            `json:"image"`
	Disk     int               `json:"disk"`
	Label    string            `json:"label,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Args     []string          `json:"args,omitempty"`
	RunType  string            `json:"runtype,omitempty"`
	OnStart  string            `json:"onstart,omitempty"`
}

func (c *VastAIClient) CreateInstance(ctx context.Context, req CreateInstanceRequest) (*CreatedInstance, error) {
	env := make(map[string]string, len(req.Env)+len(req.Ports))
	for k, v := range req.Env {
		env[k] = v
	}
	// Port exposure is requested through docker-style env flags.
	for _, port := range req.Ports {
		env[fmt.Sprintf("-p %d:%d", port, port)] = "1"
	}

	body := createInstanceBody{
		ClientID: "me",
		Image:    req.Image,
		Disk:     req.DiskGB,
		Label:    req.Label,
		Env:      env,
		Args:     strings.Fields(req.DockerArgs),
		RunType:  req.RunType,
		OnStart:  req.OnStart,
	}

	var created CreatedInstance
	err := c.requestWithRetry(ctx, http.MethodPut, fmt.Sprintf("/asks/%d/", req.OfferID), nil, body, &created)
	if err != nil {
		return nil, err
	}

	if !created.Success || created.ID == 0 {
		return nil, &types.ErrClient{StatusCode: http.StatusOK, Message: fmt.Sprintf("offer %d was not accepted", req.OfferID)}
	}

	log.Info().Int64("offer_id", req.OfferID).Int64("instance_id", created.ID).Msg("created instance")
	return &created, nil
}

type listInstancesResponse struct {
	Instances []types.MarketplaceInstance `json:"instances"`
}

func (c *VastAIClient) ListInstances(ctx context.Context) ([]types.MarketplaceInstance, error) {
	var resp listInstancesResponse
	if err := c.requestWithRetry(ctx, http.MethodGet, "/instances/", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Instances, nil
}

// GetInstance lists every instance and filters client side since the API has
// no lookup by id. A fresh instance may not be listed yet.
func (c *VastAIClient) GetInstance(ctx context.Context, instanceId int64) (*types.MarketplaceInstance, error) {
	instances, err := c.ListInstances(ctx)
	if err != nil {
		return nil, err
	}

	for i := range instances {
		if instances[i].ID == instanceId {
			return &instances[i], nil
		}
	}

	return nil, &types.ErrNotFound{Resource: "instance", Id: fmt.Sprintf("%d", instanceId)}
}

// DestroyInstance treats an already absent instance as destroyed.
func (c *VastAIClient) DestroyInstance(ctx context.Context, instanceId int64) (bool, error) {
	err := c.requestWithRetry(ctx, http.MethodDelete, fmt.Sprintf("/instances/%d/", instanceId), nil, nil, nil)
	if err != nil {
		if types.IsNotFound(err) {
			log.Info().Int64("instance_id", instanceId).Msg("instance already gone")
			return true, nil
		}
		return false, err
	}

	log.Info().Int64("instance_id", instanceId).Msg("destroyed instance")
	return true, nil
}
