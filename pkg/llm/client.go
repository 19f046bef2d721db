package llm

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/beam-cloud/llmgate/pkg/metrics"
	"github.com/beam-cloud/llmgate/pkg/types"
)

const providerRetryInterval = 500 * time.Millisecond

type CostRecorder interface {
	AddLLMCall(model string, inputTokens, outputTokens int) float64
}

type CallTracker interface {
	TrackCall(record metrics.CallRecord)
}

type completionOptions struct {
	temperature *float64
	maxTokens   int
	stop        []string
	user        string
}

type CompletionOption func(*completionOptions)

func WithTemperature(t float64) CompletionOption {
	return func(o *completionOptions) {
		o.temperature = &t
	}
}

func WithMaxTokens(n int) CompletionOption {
	return func(o *completionOptions) {
		o.maxTokens = n
	}
}

func WithStop(stop ...string) CompletionOption {
	return func(o *completionOptions) {
		o.stop = stop
	}
}

func WithUser(user string) CompletionOption {
	return func(o *completionOptions) {
		o.user = user
	}
}

// Client issues chat completions against whichever backend the registry has
// active. Both backends speak the OpenAI chat completions protocol.
type Client struct {
	registry      *ModelRegistry
	costs         CostRecorder
	tracker       CallTracker
	httpClient    *http.Client
	retryInterval time.Duration

	mu        sync.Mutex
	providers map[string]*openai.Client
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func WithRetryInterval(d time.Duration) ClientOption {
	return func(cl *Client) {
		cl.retryInterval = d
	}
}

func NewClient(registry *ModelRegistry, costs CostRecorder, tracker CallTracker, opts ...ClientOption) *Client {
	c := &Client{
		registry:      registry,
		costs:         costs,
		tracker:       tracker,
		httpClient:    &http.Client{},
		retryInterval: providerRetryInterval,
		providers:     map[string]*openai.Client{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Client) Registry() *ModelRegistry {
	return c.registry
}

func (c *Client) provider(config types.ModelConfig) *openai.Client {
	key := config.APIBase + "|" + config.APIKey

	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.providers[key]; ok {
		return p
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.APIBase != "" {
		clientConfig.BaseURL = config.APIBase
	}
	clientConfig.HTTPClient = c.httpClient

	p := openai.NewClientWithConfig(clientConfig)
	c.providers[key] = p
	return p
}

// ChatCompletion sends messages to the active backend and returns the first
// choice's content. Provider errors are returned unmodified.
func (c *Client) ChatCompletion(ctx context.Context, messages []types.ChatMessage, tier types.ModelTier, opts ...CompletionOption) (string, error) {
	config, backend, err := c.registry.Resolve(tier)
	if err != nil {
		return "", err
	}

	options := completionOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	request := buildRequest(config, messages, options)

	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.create(ctx, c.provider(config), request, config.MaxRetries)
	latency := time.Since(start)

	if err != nil {
		c.tracker.TrackCall(metrics.CallRecord{
			Backend: backend,
			Model:   config.ModelName,
			Latency: latency,
			Success: false,
			Error:   err.Error(),
		})

		log.Error().Str("backend", string(backend)).Str("model", config.ModelName).Err(err).Msg("chat completion failed")
		return "", err
	}

	inputTokens := resp.Usage.PromptTokens
	outputTokens := resp.Usage.CompletionTokens

	if backend.Metered() && c.costs != nil {
		c.costs.AddLLMCall(config.ModelName, inputTokens, outputTokens)
	}

	c.tracker.TrackCall(metrics.CallRecord{
		Backend:      backend,
		Model:        config.ModelName,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Latency:      latency,
		Success:      true,
	})

	if len(resp.Choices) == 0 {
		return "", nil
	}

	return resp.Choices[0].Message.Content, nil
}

func buildRequest(config types.ModelConfig, messages []types.ChatMessage, options completionOptions) openai.ChatCompletionRequest {
	request := openai.ChatCompletionRequest{
		Model:       config.ModelName,
		MaxTokens:   config.MaxTokens,
		Temperature: float32(config.Temperature),
		Stop:        options.stop,
		User:        options.user,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
	}

	if options.temperature != nil {
		request.Temperature = float32(*options.temperature)
	}
	if options.maxTokens > 0 {
		request.MaxTokens = options.maxTokens
	}

	for _, m := range messages {
		request.Messages = append(request.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	return request
}

// create retries at most maxRetries times on rate limits and 5xx responses.
func (c *Client) create(ctx context.Context, provider *openai.Client, request openai.ChatCompletionRequest, maxRetries int) (openai.ChatCompletionResponse, error) {
	var resp openai.ChatCompletionResponse

	operation := func() error {
		var err error
		resp, err = provider.CreateChatCompletion(ctx, request)
		if err != nil && !retryableProviderError(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if maxRetries < 0 {
		maxRetries = 0
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.MaxElapsedTime = 0

	err := backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxRetries)), ctx),
		func(err error, d time.Duration) {
			log.Warn().Str("model", request.Model).Err(err).Dur("retry_in", d).Msg("retrying chat completion")
		},
	)

	return resp, err
}

func retryableProviderError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= http.StatusInternalServerError
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= http.StatusInternalServerError
	}

	return false
}

// HealthCheck reports configuration readiness per backend without probing the network.
func (c *Client) HealthCheck() map[types.Backend]bool {
	return map[types.Backend]bool{
		types.BackendAnthropic: c.registry.HasAnthropicCredential(),
		types.BackendVLLM:      c.registry.VLLMEndpoint() != "",
	}
}
