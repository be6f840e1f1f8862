package executor

import (
	"context"
	"errors"
	"fmt"
	"net"

	"proxy-keepalive/pkg/fetch"
)

// Kind classifies why a call through the executor did not produce a response.
type Kind int

const (
	// ConnectivityExhausted: connection refused or reset on every attempt.
	ConnectivityExhausted Kind = iota + 1
	// TimeoutExhausted: every attempt timed out.
	TimeoutExhausted
	// ProxyUnusable: the proxy itself failed; never retried.
	ProxyUnusable
	// ApplicationRejected: the service answered, but not with a success envelope.
	ApplicationRejected
)

func (k Kind) String() string {
	switch k {
	case ConnectivityExhausted:
		return "connectivity_exhausted"
	case TimeoutExhausted:
		return "timeout_exhausted"
	case ProxyUnusable:
		return "proxy_unusable"
	case ApplicationRejected:
		return "application_rejected"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Failure is the error returned by Execute for every outcome other than a
// successful response or caller cancellation.
type Failure struct {
	Kind     Kind
	Endpoint string
	Attempts int
	// StatusCode and Payload are set for ApplicationRejected.
	StatusCode int
	Payload    []byte
	// Response is the parsed envelope of a rejected payload, when it had one.
	Response *Response
	Err      error
}

func (f *Failure) Error() string {
	msg := fmt.Sprintf("%s: %s after %d attempt(s)", f.Endpoint, f.Kind, f.Attempts)
	if f.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", f.StatusCode)
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Code returns the service status code carried by a rejected payload.
func (f *Failure) Code() (int, bool) {
	if f.Response == nil {
		return 0, false
	}
	return f.Response.Code, true
}

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

func classify(err error) Kind {
	var proxyErr *fetch.ProxyError
	if errors.As(err, &proxyErr) {
		return ProxyUnusable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutExhausted
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TimeoutExhausted
	}
	return ConnectivityExhausted
}
