package client

import (
	"context"
	"fmt"
	"net/http"
)

// AuthClient extends BaseClient with bearer token authentication.
type AuthClient struct {
	*BaseClient

	tokenManager TokenManager
}

// NewAuthClient creates a client that authenticates with tokens from tokenManager.
func NewAuthClient(
	baseClient *BaseClient,
	tokenManager TokenManager,
) *AuthClient {
	return &AuthClient{
		BaseClient:   baseClient,
		tokenManager: tokenManager,
	}
}

// DoWithAuth executes a request with a bearer token. On 401 Unauthorized the
// token is invalidated and the request is retried once with a fresh token.
// The caller closes the response body.
func (c *AuthClient) DoWithAuth(
	ctx context.Context,
	method string,
	path string,
	body interface{},
) (*http.Response, error) {
	token, err := c.tokenManager.GetToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	resp, err := c.send(ctx, method, path, body, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	_ = resp.Body.Close()

	c.logger.Debug("Received 401 Unauthorized, invalidating token and retrying")
	c.tokenManager.InvalidateToken()

	token, err = c.tokenManager.GetToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh access token: %w", err)
	}
	return c.send(ctx, method, path, body, token)
}
