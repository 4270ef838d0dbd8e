package bunkr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"bunkrgrab/pkg/errors"
	"bunkrgrab/pkg/logger"
	"bunkrgrab/pkg/ratelimit"
	"bunkrgrab/pkg/retry"
)

// userAgents is the rotation pool for outgoing requests. A generic fallback
// sits at index 0 and is used when the pool is disabled.
var userAgents = []string{
	"Mozilla/5.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:123.0) Gecko/20100101 Firefox/123.0",
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:122.0) Gecko/20100101 Firefox/122.0",
}

// RandomUserAgent returns a user agent from the rotation pool.
func RandomUserAgent() string {
	return userAgents[rand.Intn(len(userAgents))]
}

// Client wraps an http.Client with the header set, rate limiting, and the
// 429 handling every call against the site needs.
type Client struct {
	httpClient    *http.Client
	limiter       ratelimit.Limiter
	logger        logger.Logger
	retryAttempts int
	backoffBase   time.Duration
}

// NewClient creates a client for album pages, item pages, and the resolution
// API. limiter may be nil to disable request pacing.
func NewClient(timeout time.Duration, limiter ratelimit.Limiter, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter:       limiter,
		logger:        log,
		retryAttempts: 3,
		backoffBase:   1500 * time.Millisecond,
	}
}

// WithRetry overrides the attempt ceiling and backoff base for 429 handling.
func (c *Client) WithRetry(attempts int, backoffBase time.Duration) *Client {
	if attempts > 0 {
		c.retryAttempts = attempts
	}
	if backoffBase > 0 {
		c.backoffBase = backoffBase
	}
	return c
}

// pageHeaders returns the browser-shaped header set used for HTML requests.
func pageHeaders(referer string) map[string]string {
	if referer == "" {
		referer = "https://bunkr.ac/"
	}
	return map[string]string{
		"User-Agent":      RandomUserAgent(),
		"Referer":         referer,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.7",
		"Connection":      "keep-alive",
	}
}

// do sends req after waiting out the rate limiter.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		c.limiter.Wait()
	}

	start := time.Now()
	c.logger.DebugWithFields("sending HTTP request", map[string]interface{}{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL.String(),
			"error":    err.Error(),
			"duration": time.Since(start),
		})
		return nil, errors.Newf(errors.ErrorTypeNetwork, "network error: %v", err)
	}

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   req.Method,
		"url":      req.URL.String(),
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	})

	return resp, nil
}

// throttleError converts a 429 response into a retryable error that carries
// any numeric Retry-After delay. The caller must have drained the body.
func (c *Client) throttleError(resp *http.Response) error {
	base := errors.NewHTTP(errors.ErrorTypeRateLimit, resp.StatusCode, "rate limit exceeded")
	if delay, ok := retry.RetryAfterDelay(resp); ok {
		return &retry.ThrottledError{Err: base, Delay: delay}
	}
	return base
}

// GetPage fetches an HTML page, retrying 429 and transient failures. It
// returns the body and the URL the final (post-redirect) response came from.
func (c *Client) GetPage(ctx context.Context, url, referer string) (string, string, error) {
	var body, finalURL string

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return errors.Newf(errors.ErrorTypeInvalidURL, "invalid URL %q: %v", url, err)
		}
		for k, v := range pageHeaders(referer) {
			req.Header.Set(k, v)
		}

		resp, err := c.do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			return c.throttleError(resp)
		}
		if resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body)
			return errors.NewHTTP(errors.ErrorTypeServerError, resp.StatusCode, "server error")
		}
		if resp.StatusCode == http.StatusNotFound {
			return errors.NewHTTP(errors.ErrorTypeNotFound, resp.StatusCode, "page not found")
		}
		if resp.StatusCode != http.StatusOK {
			return errors.NewHTTP(errors.ErrorTypeBadStatus, resp.StatusCode,
				fmt.Sprintf("unexpected status %d", resp.StatusCode))
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return errors.Newf(errors.ErrorTypeNetwork, "failed to read response body: %v", err)
		}
		body = string(data)
		finalURL = resp.Request.URL.String()
		return nil
	}

	err := retry.Do(op, &retry.Config{
		MaxAttempts: c.retryAttempts,
		Backoff:     retry.PageBackoff(c.backoffBase),
		RetryIf:     retry.DefaultRetryIf,
		Context:     ctx,
		Logger:      c.logger,
	})
	if err != nil {
		return "", "", err
	}
	return body, finalURL, nil
}

// PostJSON sends a JSON body and decodes the JSON response, with the same
// 429 handling as GetPage. Extra headers override the defaults.
func (c *Client) PostJSON(ctx context.Context, url string, payload interface{}, extraHeaders map[string]string, target interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Newf(errors.ErrorTypeUnknown, "failed to encode request body: %v", err)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return errors.Newf(errors.ErrorTypeInvalidURL, "invalid URL %q: %v", url, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "*/*")
		req.Header.Set("User-Agent", RandomUserAgent())
		req.Header.Set("Accept-Language", "en-US,en;q=0.8")
		for k, v := range extraHeaders {
			req.Header.Set(k, v)
		}

		resp, err := c.do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			return c.throttleError(resp)
		}
		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			if errors.IsRetryableStatusCode(resp.StatusCode) {
				return errors.NewHTTP(errors.ErrorTypeServerError, resp.StatusCode, "server error")
			}
			return errors.NewHTTP(errors.ErrorTypeResolutionAPI, resp.StatusCode,
				fmt.Sprintf("resolution API returned status %d", resp.StatusCode))
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return errors.Newf(errors.ErrorTypeNetwork, "failed to read response body: %v", err)
		}
		if err := json.Unmarshal(data, target); err != nil {
			preview := string(data)
			if len(preview) > 200 {
				preview = preview[:200] + "..."
			}
			c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
				"url":          url,
				"body_preview": preview,
			})
			return errors.Newf(errors.ErrorTypeParsing, "failed to parse JSON: %v", err)
		}
		return nil
	}

	return retry.Do(op, &retry.Config{
		MaxAttempts: c.retryAttempts,
		Backoff:     retry.PageBackoff(c.backoffBase),
		RetryIf:     retry.DefaultRetryIf,
		Context:     ctx,
		Logger:      c.logger,
	})
}

// GetStream issues a GET and hands the open response to the caller for
// streaming. 429 responses are retried here; every other status is returned
// as-is so the caller can run its fallback logic. The caller owns the body.
func (c *Client) GetStream(ctx context.Context, url, referer string) (*http.Response, error) {
	var out *http.Response

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return errors.Newf(errors.ErrorTypeInvalidURL, "invalid URL %q: %v", url, err)
		}
		for k, v := range pageHeaders(referer) {
			req.Header.Set(k, v)
		}

		resp, err := c.do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return c.throttleError(resp)
		}
		out = resp
		return nil
	}

	err := retry.Do(op, &retry.Config{
		MaxAttempts: c.retryAttempts,
		Backoff:     retry.PageBackoff(c.backoffBase),
		RetryIf:     retry.DefaultRetryIf,
		Context:     ctx,
		Logger:      c.logger,
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IsHTMLContentType reports whether a Content-Type header denotes HTML.
func IsHTMLContentType(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/html")
}
