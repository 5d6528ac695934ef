// Package client provides HTTP client utilities for calling the access
// service and its downstream services.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// BaseClient sends JSON requests relative to a base URL.
type BaseClient struct {
	httpClient *http.Client
	baseURL    string
	logger     *logrus.Logger
}

// NewBaseClient creates a BaseClient.
//
// Parameters:
//   - baseURL: Base URL for the service (e.g., "http://localhost:8080/api/v1/access")
//   - timeout: HTTP request timeout duration
//   - logger: Structured logger for HTTP operations
func NewBaseClient(
	baseURL string,
	timeout time.Duration,
	logger *logrus.Logger,
) *BaseClient {
	return &BaseClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		logger:  logger,
	}
}

// Do executes an unauthenticated request. body is JSON-encoded when not nil.
// The caller closes the response body.
func (c *BaseClient) Do(
	ctx context.Context,
	method string,
	path string,
	body interface{},
) (*http.Response, error) {
	return c.send(ctx, method, path, body, "")
}

// send executes a request, adding a bearer token when one is given.
func (c *BaseClient) send(
	ctx context.Context,
	method string,
	path string,
	body interface{},
	bearer string,
) (*http.Response, error) {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	fields := logrus.Fields{
		"method":        method,
		"url":           url,
		"authenticated": bearer != "",
	}
	c.logger.WithFields(fields).Debug("Sending HTTP request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithFields(fields).WithError(err).Error("HTTP request failed")
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	c.logger.WithFields(fields).WithField("status", resp.StatusCode).Debug("Received HTTP response")
	return resp, nil
}

// BaseURL returns the configured base URL for this client.
func (c *BaseClient) BaseURL() string {
	return c.baseURL
}

// ResponseError is a non-success response. Error bodies of the access
// service carry the redemption error shape; other services set Message only.
type ResponseError struct {
	StatusCode  int                    `json:"-"`
	Code        string                 `json:"error"`
	Message     string                 `json:"message"`
	UserMessage string                 `json:"user_message,omitempty"`
	Description string                 `json:"error_description,omitempty"`
	Detail      string                 `json:"detail,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Recoverable bool                   `json:"recoverable,omitempty"`
}

func (e *ResponseError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Description
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Detail != "" {
		msg += " - " + e.Detail
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, msg)
}

// ParseErrorResponse reads resp into a *ResponseError and closes the body.
func (c *BaseClient) ParseErrorResponse(resp *http.Response) error {
	defer resp.Body.Close()

	errResp := &ResponseError{StatusCode: resp.StatusCode}
	if err := json.NewDecoder(resp.Body).Decode(errResp); err != nil {
		return &ResponseError{StatusCode: resp.StatusCode}
	}
	errResp.StatusCode = resp.StatusCode
	return errResp
}

// DecodeResponse decodes a response with status want into out, or returns the
// parsed error response. The body is closed either way. out may be nil.
func (c *BaseClient) DecodeResponse(resp *http.Response, want int, out interface{}) error {
	if resp.StatusCode != want {
		return c.ParseErrorResponse(resp)
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
