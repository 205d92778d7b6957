package llm

import (
	"context"
	"log/slog"
	"strings"
)

// Apology replaces the reply whenever the model cannot be reached.
const Apology = "Sorry, I ran into a technical issue. Please try again later."

// DefaultMaxMessages bounds the conversation forwarded to the model.
const DefaultMaxMessages = 20

// Outcome labels reported to the observer after each request.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Handler fronts a Completer for interactive use: it trims the conversation
// and never fails, answering with Apology instead.
type Handler struct {
	completer   Completer
	maxMessages int
	log         *slog.Logger
	observe     func(outcome string)
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithMaxMessages bounds how many non-system messages are forwarded.
func WithMaxMessages(n int) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxMessages = n
		}
	}
}

// WithObserver registers a callback invoked with OutcomeOK or OutcomeError.
func WithObserver(fn func(outcome string)) HandlerOption {
	return func(h *Handler) { h.observe = fn }
}

func NewHandler(completer Completer, log *slog.Logger, opts ...HandlerOption) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		completer:   completer,
		maxMessages: DefaultMaxMessages,
		log:         log,
		observe:     func(string) {},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Respond forwards messages to the model. Failures, including ones in the
// middle of a stream, are logged and turned into Apology.
func (h *Handler) Respond(ctx context.Context, messages []Message, stream bool) *Response {
	if h.completer == nil {
		h.log.Error("ai call error", "error", "no language model configured")
		h.observe(OutcomeError)
		return TextResponse(Apology)
	}

	resp, err := h.completer.Complete(ctx, FilterMessages(messages, h.maxMessages), stream)
	if err != nil {
		h.log.Error("ai call error", "error", err)
		h.observe(OutcomeError)
		return TextResponse(Apology)
	}
	if !resp.Streaming() {
		h.observe(OutcomeOK)
		return resp
	}

	return StreamResponse(func(yield func(string, error) bool) {
		for chunk, err := range resp.Chunks() {
			if err != nil {
				h.log.Error("ai stream error", "error", err)
				h.observe(OutcomeError)
				yield("\n"+Apology, nil)
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
		h.observe(OutcomeOK)
	})
}

// AddSystemPrompt prepends a system message to messages.
func AddSystemPrompt(messages []Message, prompt string) []Message {
	out := make([]Message, 0, len(messages)+1)
	out = append(out, Message{Role: RoleSystem, Content: prompt})
	return append(out, messages...)
}

// FilterMessages keeps the leading system messages and the most recent
// limit of the rest.
func FilterMessages(messages []Message, limit int) []Message {
	lead := 0
	for lead < len(messages) && messages[lead].Role == RoleSystem {
		lead++
	}
	rest := messages[lead:]
	if limit <= 0 || len(rest) <= limit {
		return messages
	}
	out := make([]Message, 0, lead+limit)
	out = append(out, messages[:lead]...)
	return append(out, rest[len(rest)-limit:]...)
}

// ProcessUserInput normalises free text typed by the user.
func ProcessUserInput(input string) string {
	return strings.TrimSpace(input)
}
