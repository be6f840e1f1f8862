// Package fetch makes HTTP requests through outbound proxies
package fetch

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/transport"
	"github.com/Jigsaw-Code/outline-sdk/x/configurl"
)

// Options contains all the configuration options for making a fetch request
type Options struct {
	// Proxy URL to route the request through ("http://...", "socks5://...").
	// If empty, connect directly
	Transport string
	// HTTP method to use (default: "GET")
	Method string
	// Raw HTTP headers to add (without \r\n)
	Headers []string
	// Request body
	Body []byte
	// Timeout for the whole request (default: 10s)
	Timeout time.Duration
}

// Result contains the response from a fetch request
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ProxyError reports that the channel through the proxy could not be established.
type ProxyError struct {
	Proxy string
	Err   error
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("proxy %s failed: %v", redact(e.Proxy), e.Err)
}

func (e *ProxyError) Unwrap() error {
	return e.Err
}

// Client reuses one http.Transport per proxy so keepalive connections are shared
// between calls through the same proxy.
type Client struct {
	mu         sync.Mutex
	transports map[string]*http.Transport
}

func NewClient() *Client {
	return &Client{transports: make(map[string]*http.Transport)}
}

// Fetch makes an HTTP request with the given options
func (c *Client) Fetch(ctx context.Context, url string, opts Options) (*Result, error) {
	if opts.Method == "" {
		opts.Method = "GET"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}

	rt, err := c.transportFor(opts.Transport)
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{
		Transport: rt,
		Timeout:   opts.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Process headers
	if len(opts.Headers) > 0 {
		headerText := strings.Join(opts.Headers, "\r\n") + "\r\n\r\n"
		h, err := textproto.NewReader(bufio.NewReader(strings.NewReader(headerText))).ReadMIMEHeader()
		if err != nil {
			return nil, fmt.Errorf("invalid header line: %w", err)
		}
		for name, values := range h {
			for _, value := range values {
				req.Header.Add(name, value)
			}
		}
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "proxyconnect" {
			return nil, &ProxyError{Proxy: opts.Transport, Err: err}
		}
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read of response body failed: %w", err)
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

// CloseIdleConnections closes idle connections on every cached transport.
func (c *Client) CloseIdleConnections() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.transports {
		t.CloseIdleConnections()
	}
}

func (c *Client) transportFor(proxyURL string) (*http.Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.transports[proxyURL]; ok {
		return t, nil
	}

	t, err := newTransport(proxyURL)
	if err != nil {
		return nil, err
	}
	c.transports[proxyURL] = t
	return t, nil
}

func newTransport(proxyURL string) (*http.Transport, error) {
	if proxyURL == "" {
		return &http.Transport{}, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		return &http.Transport{
			Proxy:                  http.ProxyURL(u),
			OnProxyConnectResponse: rejectFailedTunnel(proxyURL),
		}, nil
	}

	dialer, err := configurl.NewDefaultConfigToDialer().NewStreamDialer(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("could not create dialer: %w", err)
	}

	return &http.Transport{DialContext: proxyDialContext(proxyURL, dialer)}, nil
}

// rejectFailedTunnel reports a CONNECT answered with anything but 200 as a ProxyError.
func rejectFailedTunnel(proxyURL string) func(_ context.Context, _ *url.URL, _ *http.Request, res *http.Response) error {
	return func(_ context.Context, _ *url.URL, _ *http.Request, res *http.Response) error {
		if res.StatusCode == http.StatusOK {
			return nil
		}
		return &ProxyError{Proxy: proxyURL, Err: fmt.Errorf("tunnel refused: %s", res.Status)}
	}
}

func proxyDialContext(proxyURL string, dialer transport.StreamDialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if !strings.HasPrefix(network, "tcp") {
			return nil, fmt.Errorf("protocol not supported: %v", network)
		}
		conn, err := dialer.DialStream(ctx, addr)
		if err != nil {
			// Deadline and cancellation belong to the caller, not the proxy.
			if ctx.Err() != nil {
				return nil, err
			}
			return nil, &ProxyError{Proxy: proxyURL, Err: err}
		}
		return conn, nil
	}
}

// redact hides proxy credentials in error messages.
func redact(proxyURL string) string {
	u, err := url.Parse(proxyURL)
	if err != nil || u.User == nil {
		return proxyURL
	}
	return u.Redacted()
}
