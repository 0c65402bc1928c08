// Package fetch provides the HTTP collaborator that retrieves remote page and poster bytes
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// DefaultUserAgent is sent when no user agent is configured
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:133.0) Gecko/20100101 Firefox/133.0"
)

// Options configures a Client
type Options struct {
	Timeout      time.Duration
	RetryCount   int
	RetryWait    time.Duration
	RetryMaxWait time.Duration
	UserAgent    string
}

// DefaultOptions returns the options used when nothing is configured
func DefaultOptions() Options {
	return Options{
		Timeout:      30 * time.Second,
		RetryCount:   3,
		RetryWait:    time.Second,
		RetryMaxWait: 10 * time.Second,
		UserAgent:    DefaultUserAgent,
	}
}

// StatusError is returned when the remote answers with a non-success status
type StatusError struct {
	URL        string
	StatusCode int
}

// Error implements the error interface for StatusError
func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// Client fetches remote resources over HTTP, retrying transient failures
type Client struct {
	client *resty.Client
	logger *slog.Logger
}

// New creates a new fetch client
func New(opts Options) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	logger := slog.Default()

	client := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(opts.RetryMaxWait).
		SetHeader("User-Agent", opts.UserAgent).
		SetLogger(slogAdapter{logger: logger}).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		})

	return &Client{
		client: client,
		logger: logger,
	}
}

// Fetch returns the body of url
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}

	if resp.IsError() {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode()}
	}

	c.logger.Debug("Fetched remote resource", "url", url, "bytes", len(resp.Body()))
	return resp.Body(), nil
}

// FetchText returns the body of url as a string
func (c *Client) FetchText(ctx context.Context, url string) (string, error) {
	body, err := c.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// slogAdapter routes resty's retry chatter into the structured logger
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Errorf(format string, v ...interface{}) {
	a.logger.Error(fmt.Sprintf(format, v...), "component", "fetch")
}

func (a slogAdapter) Warnf(format string, v ...interface{}) {
	a.logger.Warn(fmt.Sprintf(format, v...), "component", "fetch")
}

func (a slogAdapter) Debugf(format string, v ...interface{}) {
	a.logger.Debug(fmt.Sprintf(format, v...), "component", "fetch")
}
