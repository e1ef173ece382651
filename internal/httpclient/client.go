package httpclient

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/CloudNativeWorks/elchi-runner/pkg/logger"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 5 * time.Minute
	dialTimeout      = 30 * time.Second
	defaultRate      = 5
	defaultBurst     = 10
	maxErrorBodySize = 2048
	userAgent        = "elchi-runner"
)

// Doer is the subset of *http.Client used here; tests swap in fakes
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError is returned for any non-2xx response
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s returned status %d", e.Method, e.URL, e.Code)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Client wraps an HTTP client with a rate limiter, a circuit breaker and
// optional bearer authentication. It never retries.
type Client struct {
	http    Doer
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	token   string
	timeout time.Duration
	logger  *logger.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient overrides the underlying transport
func WithHTTPClient(d Doer) Option {
	return func(c *Client) {
		if d != nil {
			c.http = d
		}
	}
}

// WithToken sets the bearer token sent on every request
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithRateLimit sets requests per second; zero or less disables limiting
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), defaultBurst)
	}
}

// WithTimeout bounds connecting and waiting for response headers on the
// default transport. Reading the body is not bounded, so large downloads are
// only limited by the request context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client. name identifies the circuit breaker in logs.
func New(name string, opts ...Option) *Client {
	c := &Client{
		limiter: rate.NewLimiter(rate.Limit(defaultRate), defaultBurst),
		timeout: defaultTimeout,
		logger:  logger.NewLogger("httpclient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Transport: newTransport(c.timeout)}
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		// Client errors say nothing about the health of the remote side.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Code < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			c.logger.Warnf("Circuit breaker %s state changed from %v to %v", name, from, to)
		},
	})

	return c
}

func newTransport(timeout time.Duration) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.DialContext = (&net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	t.TLSHandshakeTimeout = dialTimeout
	t.ResponseHeaderTimeout = timeout
	return t
}

// Do sends the request. Non-2xx responses are closed and returned as *StatusError.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", userAgent)
	if c.token != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
			return nil, &StatusError{
				Method: req.Method,
				URL:    req.URL.String(),
				Code:   resp.StatusCode,
				Body:   strings.TrimSpace(string(body)),
			}
		}
		return resp, nil
	})
	if err != nil {
		c.logger.WithFields(logger.Fields{
			"method": req.Method,
			"url":    req.URL.String(),
		}).WithError(err).Debug("Request failed")
		return nil, err
	}

	return out.(*http.Response), nil
}
