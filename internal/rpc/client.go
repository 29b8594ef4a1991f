package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/parityleague/backend/internal/config"
	"github.com/parityleague/backend/internal/protocol"
)

// Client issues league JSON-RPC calls with exponential-backoff retries and
// a circuit breaker per remote endpoint.
type Client struct {
	http    *http.Client
	retry   config.RetryConfig
	circuit config.CircuitConfig
	log     *zap.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker

	nextID atomic.Int64
}

// NewClient builds a client with the configured retry and breaker policies.
func NewClient(retry config.RetryConfig, circuit config.CircuitConfig, log *zap.Logger) *Client {
	return &Client{
		http:     &http.Client{},
		retry:    retry,
		circuit:  circuit,
		log:      log.Named("rpc.client"),
		breakers: make(map[string]*Breaker),
	}
}

func (c *Client) breaker(endpoint string) *Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.breakers[endpoint]
	if !ok {
		b = NewBreaker(c.circuit)
		c.breakers[endpoint] = b
	}
	return b
}

// Call sends one JSON-RPC request and decodes the result into result (may be
// nil). Transient failures (transport errors, timeouts, retryable E-codes)
// are retried with exponential backoff up to the configured attempt cap;
// protocol and non-retryable domain errors are returned immediately.
func (c *Client) Call(ctx context.Context, endpoint, method string, params any, result any) error {
	br := c.breaker(endpoint)

	delay := time.Duration(c.retry.InitialDelayS * float64(time.Second))
	attempts := c.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !br.Allow() {
			return fmt.Errorf("%s %s: %w", endpoint, method, ErrCircuitOpen)
		}

		err := c.once(ctx, endpoint, method, params, result)
		if err == nil {
			br.Success()
			return nil
		}
		br.Failure()
		lastErr = err

		if !retryable(err) || attempt == attempts {
			break
		}
		c.log.Warn("call failed, retrying",
			zap.String("endpoint", endpoint),
			zap.String("method", method),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * c.retry.Multiplier)
	}
	return fmt.Errorf("%s %s: %w", endpoint, method, lastErr)
}

// Notify is Call with the result discarded; failures come back to the
// caller, which decides whether they matter.
func (c *Client) Notify(ctx context.Context, endpoint, method string, params any) error {
	return c.Call(ctx, endpoint, method, params, nil)
}

func (c *Client) once(ctx context.Context, endpoint, method string, params any, result any) error {
	req, err := protocol.NewRequest(c.nextID.Add(1), method, params)
	if err != nil {
		return err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/mcp", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return &transportError{err}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return &transportError{fmt.Errorf("unexpected HTTP status %d", httpResp.StatusCode)}
	}

	var resp protocol.Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return &transportError{fmt.Errorf("decode response: %w", err)}
	}
	if resp.Error != nil {
		if de := resp.Error.DomainErr(); de != nil {
			return de
		}
		return resp.Error
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}

// transportError marks connection-level failures, which are always
// retryable.
type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func retryable(err error) bool {
	switch e := err.(type) {
	case *transportError:
		return true
	case *protocol.DomainError:
		return e.Retryable
	case *protocol.RPCError:
		// Standard JSON-RPC errors are contract violations, not transients.
		return false
	}
	return false
}
