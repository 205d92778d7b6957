package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

// fallbackModels are tried in order when the configured model is not served.
var fallbackModels = []string{"gemini-pro", "models/gemini-pro", "gemini-1.5-flash", "models/gemini-1.5-flash"}

// GeminiConfig configures GeminiClient.
type GeminiConfig struct {
	APIKey      string
	Model       string
	BaseURL     string // defaults to the public endpoint
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration // per attempt; streams are bounded by the caller's context only
	Retries     int
}

// GeminiClient calls the Gemini API through the genai SDK.
type GeminiClient struct {
	cfg     GeminiConfig
	client  *genai.Client
	retrier retrier
	log     *slog.Logger

	resolve sync.Once
	model   string
}

// NewGeminiClient returns a client for cfg. An API key is required.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig, log *slog.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: GEMINI_API_KEY (or GOOGLE_API_KEY) is not set")
	}
	if cfg.Model == "" {
		cfg.Model = fallbackModels[0]
	}
	if log == nil {
		log = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return &GeminiClient{
		cfg:     cfg,
		client:  client,
		retrier: newRetrier(cfg.Retries, log),
		log:     log,
	}, nil
}

// request maps the conversation onto genai contents. System messages become
// the system instruction.
func (c *GeminiClient) request(messages []Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(c.cfg.Temperature)),
		MaxOutputTokens: int32(c.cfg.MaxTokens),
	}
	var system []*genai.Part
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, genai.NewPartFromText(m.Content))
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(system) > 0 {
		config.SystemInstruction = &genai.Content{Parts: system}
	}
	return contents, config
}

// Complete implements Completer.
func (c *GeminiClient) Complete(ctx context.Context, messages []Message, stream bool) (*Response, error) {
	c.resolve.Do(func() { c.model = c.ResolveModel(ctx) })

	contents, config := c.request(messages)
	if stream {
		return c.stream(ctx, contents, config)
	}

	var out *genai.GenerateContentResponse
	err := c.retrier.do(ctx, "gemini", func(parent context.Context) (bool, error) {
		ctx := parent
		if c.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(parent, c.cfg.Timeout)
			defer cancel()
		}
		resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
		if err != nil {
			return retryable(parent, err), err
		}
		out = resp
		return false, nil
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	text := out.Text()
	if text == "" {
		return nil, ErrEmptyResponse
	}
	return TextResponse(text), nil
}

// stream opens a streamed reply. Opening is retried until the first event
// arrives; failures after that end the stream with an error.
func (c *GeminiClient) stream(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*Response, error) {
	var (
		next  func() (*genai.GenerateContentResponse, error, bool)
		stop  func()
		first *genai.GenerateContentResponse
	)
	err := c.retrier.do(ctx, "gemini-stream", func(ctx context.Context) (bool, error) {
		next, stop = iter.Pull2(c.client.Models.GenerateContentStream(ctx, c.model, contents, config))
		resp, err, ok := next()
		switch {
		case !ok:
			stop()
			return false, ErrEmptyResponse
		case err != nil:
			stop()
			return retryable(ctx, err), err
		}
		first = resp
		return false, nil
	})
	if errors.Is(err, ErrEmptyResponse) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}

	return StreamResponse(func(yield func(string, error) bool) {
		defer stop()
		resp, err := first, error(nil)
		for {
			if err != nil {
				yield("", fmt.Errorf("gemini: read stream: %w", err))
				return
			}
			if text := resp.Text(); text != "" {
				if !yield(text, nil) {
					return
				}
			}
			var ok bool
			if resp, err, ok = next(); !ok {
				return
			}
		}
	}), nil
}

// retryable reports whether a failed call is worth repeating: network
// failures, throttling and server errors, as long as ctx is alive.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.Code)
	}
	return true
}

// ResolveModel returns a model that the API lists as supporting content
// generation, falling back through well known names. If the listing itself
// fails the configured model is used as is.
func (c *GeminiClient) ResolveModel(ctx context.Context) string {
	requested := c.cfg.Model
	textModels := map[string]bool{}
	for m, err := range c.client.Models.All(ctx) {
		if err != nil {
			c.log.Warn("listing models failed, using configured model", "model", requested, "error", err)
			return requested
		}
		if slices.Contains(m.SupportedActions, "generateContent") {
			textModels[modelPath(m.Name)] = true
		}
	}

	if textModels[modelPath(requested)] {
		return requested
	}
	for _, candidate := range fallbackModels {
		if textModels[modelPath(candidate)] {
			c.log.Warn("requested model not available, falling back", "requested", requested, "model", candidate)
			return candidate
		}
	}
	return requested
}

func modelPath(name string) string {
	if strings.HasPrefix(name, "models/") {
		return name
	}
	return "models/" + name
}
