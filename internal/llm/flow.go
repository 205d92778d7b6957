package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultFlowURL is the local flow endpoint used when none is configured.
const DefaultFlowURL = "http://127.0.0.1:7860/api/v1/run/99354137-3d2e-402e-aba1-a954067bf60b"

// replyKeys are checked in order for the reply text of a flow run.
var replyKeys = []string{"text", "response", "output", "result", "content"}

// FlowClient posts the conversation to a locally hosted chat flow. The flow
// does not stream, so streamed replies arrive as one chunk.
type FlowClient struct {
	url       string
	transport *transport
}

func NewFlowClient(url string, timeout time.Duration, retries int, log *slog.Logger) *FlowClient {
	if url == "" {
		url = DefaultFlowURL
	}
	return &FlowClient{url: url, transport: newTransport(timeout, retries, log)}
}

type flowRequest struct {
	InputValue string `json:"input_value"`
	OutputType string `json:"output_type"`
	InputType  string `json:"input_type"`
}

// Complete implements Completer.
func (c *FlowClient) Complete(ctx context.Context, messages []Message, stream bool) (*Response, error) {
	text, err := c.run(ctx, JoinPrompt(messages))
	if err != nil {
		return nil, err
	}
	if stream {
		return StreamResponse(func(yield func(string, error) bool) { yield(text, nil) }), nil
	}
	return TextResponse(text), nil
}

// Ping sends a short test message to check the flow is reachable.
func (c *FlowClient) Ping(ctx context.Context) error {
	_, err := c.run(ctx, "Hello, this is a test message.")
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	return nil
}

func (c *FlowClient) run(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(flowRequest{InputValue: prompt, OutputType: "chat", InputType: "chat"})
	if err != nil {
		return "", err
	}
	raw, err := c.transport.post(ctx, "flow", c.url, body)
	if err != nil {
		return "", fmt.Errorf("flow request failed: %w", err)
	}
	return extractReply(raw)
}

// extractReply picks the reply text out of a flow response body.
func extractReply(raw []byte) (string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		var v interface{}
		if json.Unmarshal(raw, &v) != nil {
			return "", fmt.Errorf("flow: parse response: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	for _, key := range replyKeys {
		v, ok := obj[key]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(v, &s) == nil {
			return s, nil
		}
		return string(v), nil
	}
	return string(raw), nil
}
