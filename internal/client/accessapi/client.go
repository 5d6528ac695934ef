// Package accessapi provides a client for the access service HTTP API.
package accessapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/client"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
)

// Client calls the holder and admin endpoints under /api/v1/access.
// Admin calls need a client built with an admin TokenManager.
type Client struct {
	base   *client.BaseClient
	admin  *client.AuthClient
	logger *logrus.Logger
}

// NewClient creates a client. tokens may be nil when only holder endpoints are used.
func NewClient(base *client.BaseClient, tokens client.TokenManager, logger *logrus.Logger) *Client {
	c := &Client{
		base:   base,
		logger: logger,
	}
	if tokens != nil {
		c.admin = client.NewAuthClient(base, tokens)
	}
	return c
}

// Redeem redeems code and returns the session handle.
func (c *Client) Redeem(ctx context.Context, code string) (*models.RedeemResult, error) {
	resp, err := c.base.Do(ctx, http.MethodPost, "/redeem", &models.RedeemRequest{Code: code})
	if err != nil {
		return nil, err
	}

	var result models.RedeemResult
	if err := c.base.DecodeResponse(resp, http.StatusCreated, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Heartbeat records activity on the session of sessionToken.
func (c *Client) Heartbeat(ctx context.Context, sessionToken string) error {
	resp, err := c.sessionClient(sessionToken).DoWithAuth(ctx, http.MethodPost, "/sessions/heartbeat", nil)
	if err != nil {
		return err
	}
	return c.base.DecodeResponse(resp, http.StatusNoContent, nil)
}

// EndSession ends the session of sessionToken.
func (c *Client) EndSession(ctx context.Context, sessionToken string) (*models.SessionEndResult, error) {
	resp, err := c.sessionClient(sessionToken).DoWithAuth(ctx, http.MethodPost, "/sessions/end", nil)
	if err != nil {
		return nil, err
	}

	var result models.SessionEndResult
	if err := c.base.DecodeResponse(resp, http.StatusOK, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Usage returns usage snapshots, of one code when codeID is set.
func (c *Client) Usage(ctx context.Context, codeID string) (*models.UsageResponse, error) {
	path := "/admin/usage"
	if codeID != "" {
		path += "?codeId=" + url.QueryEscape(codeID)
	}

	var out models.UsageResponse
	if err := c.adminCall(ctx, http.MethodGet, path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Cleanup runs a lifecycle sweep on the server.
func (c *Client) Cleanup(ctx context.Context) (*models.CleanupResult, error) {
	var out models.CleanupResult
	if err := c.adminCall(ctx, http.MethodPost, "/admin/cleanup", nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Metrics returns the performance report, of one operation when operation is set.
func (c *Client) Metrics(ctx context.Context, operation string) (*models.MetricsReport, error) {
	path := "/admin/metrics"
	if operation != "" {
		path += "?operation=" + url.QueryEscape(operation)
	}

	var out models.MetricsReport
	if err := c.adminCall(ctx, http.MethodGet, path, nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InvalidateCache drops the server's cached state of codeID, or of every code.
func (c *Client) InvalidateCache(ctx context.Context, codeID string) (*models.InvalidateCacheResponse, error) {
	var out models.InvalidateCacheResponse
	req := &models.InvalidateCacheRequest{CodeID: codeID}
	if err := c.adminCall(ctx, http.MethodPost, "/admin/cache/invalidate", req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateCode creates an access code.
func (c *Client) CreateCode(ctx context.Context, req *models.CreateCodeRequest) (*models.AccessCode, error) {
	var out models.AccessCode
	if err := c.adminCall(ctx, http.MethodPost, "/admin/codes", req, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) adminCall(
	ctx context.Context,
	method, path string,
	body interface{},
	want int,
	out interface{},
) error {
	if c.admin == nil {
		return fmt.Errorf("admin call %s %s: no admin token configured", method, path)
	}

	resp, err := c.admin.DoWithAuth(ctx, method, path, body)
	if err != nil {
		return err
	}
	return c.base.DecodeResponse(resp, want, out)
}

// sessionClient authenticates with a fixed session token.
func (c *Client) sessionClient(sessionToken string) *client.AuthClient {
	return client.NewAuthClient(c.base, staticToken(sessionToken))
}

type staticToken string

func (t staticToken) GetToken(context.Context) (string, error) { return string(t), nil }

func (staticToken) InvalidateToken() {}
