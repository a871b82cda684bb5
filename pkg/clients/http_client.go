// Package clients provides the HTTP client used by connector bodies to
// talk to upstream APIs. It classifies upstream failures into Grove
// error kinds, retries transient failures with exponential backoff, and
// applies client-side rate limiting.
package clients

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/hashicorp-forge/grove/pkg/errors"
)

// HTTPConfig configures the HTTP client.
type HTTPConfig struct {
	// RequestTimeout bounds each individual request.
	RequestTimeout time.Duration

	// RetryAttempts is the number of retries for transient failures.
	RetryAttempts int

	// RetryDelay is the initial delay between retries, doubled on each
	// attempt.
	RetryDelay time.Duration

	// RateLimit caps requests per second; zero disables limiting.
	RateLimit float64

	// RateBurst is the burst allowance for the rate limiter.
	RateBurst int
}

// DefaultHTTPConfig returns defaults suitable for most SaaS audit APIs.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		RequestTimeout: 30 * time.Second,
		RetryAttempts:  3,
		RetryDelay:     time.Second,
		RateLimit:      10,
		RateBurst:      10,
	}
}

// HTTPClient wraps an http.Client with retries, rate limiting, and
// upstream error classification.
type HTTPClient struct {
	config  HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
	headers map[string]string
}

// NewHTTPClient creates an HTTP client for connector use.
func NewHTTPClient(config HTTPConfig) *HTTPClient {
	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst)
	}

	return &HTTPClient{
		config:  config,
		client:  &http.Client{Timeout: config.RequestTimeout},
		limiter: limiter,
		headers: make(map[string]string),
	}
}

// WithHeader attaches a header to every request, such as a bearer token.
func (c *HTTPClient) WithHeader(name, value string) *HTTPClient {
	c.headers[name] = value
	return c
}

// WithBearer attaches bearer token authentication to every request.
func (c *HTTPClient) WithBearer(token string) *HTTPClient {
	return c.WithHeader("Authorization", "Bearer "+token)
}

// WithClientCredentials exchanges the underlying transport for an OAuth2
// client-credentials flow against the given token endpoint.
func (c *HTTPClient) WithClientCredentials(ctx context.Context, clientID, clientSecret, tokenURL string, scopes []string) *HTTPClient {
	flow := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}

	c.client = flow.Client(ctx)
	c.client.Timeout = c.config.RequestTimeout
	return c
}

// GetJSON performs a GET request against the given URL with the given
// query parameters, returning the response body. Transient and rate-limit
// failures are retried; permanent failures are returned at once. Every
// failure is surfaced as a typed error.
func (c *HTTPClient) GetJSON(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	target := endpoint
	if len(params) > 0 {
		target = endpoint + "?" + params.Encode()
	}

	var lastErr error
	delay := c.config.RetryDelay

	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "request cancelled during backoff")
			case <-time.After(delay):
			}
			delay *= 2
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "request cancelled awaiting rate limiter")
			}
		}

		body, err := c.get(ctx, target)
		if err == nil {
			return body, nil
		}

		lastErr = err
		if !errors.IsRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *HTTPClient) get(ctx context.Context, target string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypePermanent, "unable to construct request")
	}

	request.Header.Set("Accept", "application/json")
	for name, value := range c.headers {
		request.Header.Set(name, value)
	}

	response, err := c.client.Do(request)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransient, "request to upstream failed")
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeTransient, "unable to read upstream response")
	}

	switch {
	case response.StatusCode == http.StatusTooManyRequests:
		return nil, errors.New(errors.ErrorTypeRateLimit, "upstream rate limit encountered")
	case response.StatusCode >= 500:
		return nil, errors.Newf(errors.ErrorTypeTransient, "upstream returned status %d", response.StatusCode)
	case response.StatusCode >= 400:
		return nil, errors.Newf(errors.ErrorTypePermanent, "upstream returned status %d", response.StatusCode)
	}
	return body, nil
}
