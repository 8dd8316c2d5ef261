package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	apiPrefix          = "/rest/api/2"
	maxResponseBody    = 10 << 20
	defaultBackoffBase = 500 * time.Millisecond
)

// Config holds the settings of a Jira Cloud client.
type Config struct {
	BaseURL    string
	Email      string
	Token      string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the Jira REST API with email + API token basic auth.
// Requests answered with 429 or 5xx are retried with exponential backoff,
// honouring Retry-After when present.
type Client struct {
	baseURL     string
	email       string
	token       string
	maxRetries  int
	backoffBase time.Duration
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewClient validates cfg and builds a client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("jira: base URL is required")
	}
	if cfg.Email == "" || cfg.Token == "" {
		return nil, errors.New("jira: email and API token are required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:     baseURL,
		email:       cfg.Email,
		token:       cfg.Token,
		maxRetries:  max(cfg.MaxRetries, 0),
		backoffBase: defaultBackoffBase,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

type requestBody struct {
	data        []byte
	contentType string
}

func jsonBody(v any) (*requestBody, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jira: encoding request body: %w", err)
	}
	return &requestBody{data: data, contentType: "application/json"}, nil
}

// do sends the request, retrying transient failures, and decodes a JSON
// response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body *requestBody, header http.Header, out any) error {
	for attempt := 0; ; attempt++ {
		status, respHeader, respBody, err := c.send(ctx, method, path, body, header)
		if err != nil {
			return err
		}
		if status >= 200 && status < 300 {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("jira: decoding %s %s: %w", method, path, err)
			}
			return nil
		}

		apiErr := parseAPIError(status, respBody)
		if !apiErr.Retryable() || attempt >= c.maxRetries {
			return apiErr
		}
		delay := retryAfter(respHeader)
		if delay <= 0 {
			delay = c.backoffBase << attempt
		}
		c.logger.Warn("jira request failed, retrying",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) send(ctx context.Context, method, path string, body *requestBody, header http.Header) (int, http.Header, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body.data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("jira: creating request: %w", err)
	}
	req.SetBasicAuth(c.email, c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", body.contentType)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("jira: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("jira: reading response: %w", err)
	}
	return resp.StatusCode, resp.Header, data, nil
}

func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}
