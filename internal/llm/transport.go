package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Azure/iot-operations-sdks/go/mqtt/retry"
)

var ErrEmptyResponse = errors.New("llm: empty response")

// StatusError is returned when a provider answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: provider returned %d: %s", e.Code, e.Body)
}

// retrier runs provider calls with exponential backoff.
type retrier struct {
	attempts uint64
	log      *slog.Logger
}

func newRetrier(retries int, log *slog.Logger) retrier {
	if retries < 0 {
		retries = 0
	}
	return retrier{attempts: uint64(retries) + 1, log: log}
}

func (r retrier) do(ctx context.Context, name string, task retry.Task) error {
	policy := retry.ExponentialBackoff{
		MaxAttempts: r.attempts,
		MinInterval: 250 * time.Millisecond,
		MaxInterval: 4 * time.Second,
		Logger:      r.log,
	}
	return policy.Start(ctx, name, task)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// transport posts JSON documents and returns the whole reply body. Each
// attempt, body included, is bounded by timeout.
type transport struct {
	client  *http.Client
	timeout time.Duration
	retrier
}

func newTransport(timeout time.Duration, retries int, log *slog.Logger) *transport {
	return &transport{
		client:  &http.Client{},
		timeout: timeout,
		retrier: newRetrier(retries, log),
	}
}

func (t *transport) post(ctx context.Context, name, url string, body []byte) ([]byte, error) {
	var out []byte
	err := t.do(ctx, name, func(parent context.Context) (bool, error) {
		ctx := parent
		if t.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(parent, t.timeout)
			defer cancel()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return false, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := t.client.Do(req)
		if err != nil {
			return parent.Err() == nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return retryableStatus(resp.StatusCode), &StatusError{Code: resp.StatusCode, Body: string(msg)}
		}
		if out, err = io.ReadAll(resp.Body); err != nil {
			return parent.Err() == nil, err
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
