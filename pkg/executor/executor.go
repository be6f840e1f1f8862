// Package executor issues calls to the remote service through a proxy with a
// bounded retry policy.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"proxy-keepalive/pkg/fetch"
	"proxy-keepalive/pkg/proxy"
)

// Fetcher performs a single HTTP request.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts fetch.Options) (*fetch.Result, error)
}

const defaultRetryDelay = 5 * time.Second

type Config struct {
	MaxAttempts int
	RetryDelay  time.Duration
	Timeout     time.Duration
	Scheme      proxy.Scheme
}

type Executor struct {
	fetcher Fetcher
	config  Config
	logger  *slog.Logger
}

func New(fetcher Fetcher, config Config, logger *slog.Logger) *Executor {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = defaultRetryDelay
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Scheme == "" {
		config.Scheme = proxy.SchemeHTTP
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		fetcher: fetcher,
		config:  config,
		logger:  logger,
	}
}

// Execute POSTs payload as JSON to endpoint through proxyID with a bearer
// credential. It returns the parsed envelope, ctx.Err() when ctx ends, or a
// *Failure describing why no usable response was obtained.
func (e *Executor) Execute(ctx context.Context, endpoint string, payload any, proxyID, credential string) (*Response, error) {
	transport, err := proxy.TransportURL(proxyID, e.config.Scheme)
	if err != nil {
		return nil, &Failure{Kind: ProxyUnusable, Endpoint: endpoint, Err: err}
	}

	if payload == nil {
		payload = struct{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}

	headers := []string{
		"Content-Type: application/json",
		"Accept: application/json",
	}
	if credential != "" {
		headers = append(headers, "Authorization: Bearer "+credential)
	}

	opts := fetch.Options{
		Transport: transport,
		Method:    http.MethodPost,
		Headers:   headers,
		Body:      body,
		Timeout:   e.config.Timeout,
	}

	var (
		lastErr  error
		lastKind Kind
	)
	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		res, err := e.fetcher.Fetch(callCtx, endpoint, opts)
		cancel()

		if err == nil {
			return e.interpret(endpoint, attempt, res)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		kind := classify(err)
		if kind == ProxyUnusable {
			e.logger.Warn("Proxy failed",
				"proxy", proxy.Redact(proxyID),
				"endpoint", endpoint,
				"error", err)
			return nil, &Failure{Kind: kind, Endpoint: endpoint, Attempts: attempt, Err: err}
		}

		e.logger.Debug("Request attempt failed",
			"proxy", proxy.Redact(proxyID),
			"endpoint", endpoint,
			"attempt", attempt,
			"kind", kind,
			"error", err)
		lastErr, lastKind = err, kind

		if attempt == e.config.MaxAttempts {
			break
		}
		if err := sleep(ctx, e.config.RetryDelay); err != nil {
			return nil, err
		}
	}

	return nil, &Failure{
		Kind:     lastKind,
		Endpoint: endpoint,
		Attempts: e.config.MaxAttempts,
		Err:      lastErr,
	}
}

func (e *Executor) interpret(endpoint string, attempt int, res *fetch.Result) (*Response, error) {
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		resp, _ := ParseResponse(res.Body)
		return nil, &Failure{
			Kind:       ApplicationRejected,
			Endpoint:   endpoint,
			Attempts:   attempt,
			StatusCode: res.StatusCode,
			Payload:    res.Body,
			Response:   resp,
			Err:        fmt.Errorf("unexpected HTTP status %d", res.StatusCode),
		}
	}

	resp, err := ParseResponse(res.Body)
	if err != nil {
		return nil, &Failure{
			Kind:       ApplicationRejected,
			Endpoint:   endpoint,
			Attempts:   attempt,
			StatusCode: res.StatusCode,
			Payload:    res.Body,
			Err:        err,
		}
	}
	resp.StatusCode = res.StatusCode

	return resp, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
