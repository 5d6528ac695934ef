package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// expiryBuffer is subtracted from a token's lifetime before it is refreshed.
const expiryBuffer = 5 * time.Minute

// TokenManager hands out bearer tokens and refreshes them before they expire.
type TokenManager interface {
	// GetToken returns a valid access token, refreshing if necessary.
	GetToken(ctx context.Context) (string, error)
	// InvalidateToken forces a token refresh on the next GetToken call.
	InvalidateToken()
}

// AdminTokenIssuer mints admin tokens locally.
type AdminTokenIssuer interface {
	IssueAdminToken(subject string, ttl time.Duration) (string, error)
}

// fetchFunc obtains a fresh token and its lifetime.
type fetchFunc func(ctx context.Context) (string, time.Duration, error)

// tokenManager caches the token returned by fetch.
type tokenManager struct {
	mu     sync.RWMutex
	fetch  fetchFunc
	logger *logrus.Logger
	now    func() time.Time

	accessToken string
	expiresAt   time.Time
}

func newTokenManager(fetch fetchFunc, logger *logrus.Logger) *tokenManager {
	return &tokenManager{
		fetch:  fetch,
		logger: logger,
		now:    time.Now,
	}
}

// NewTokenManager creates a TokenManager that uses the OAuth2 client
// credentials grant against tokenURL. Tokens are cached until five minutes
// before they expire.
func NewTokenManager(
	clientID string,
	clientSecret string,
	tokenURL string,
	logger *logrus.Logger,
) TokenManager {
	const defaultTimeout = 10 * time.Second
	httpClient := &http.Client{Timeout: defaultTimeout}

	fetch := func(ctx context.Context) (string, time.Duration, error) {
		logger.WithFields(logrus.Fields{
			"client_id": clientID,
			"token_url": tokenURL,
		}).Debug("Requesting client credentials token")

		return requestClientCredentials(ctx, httpClient, tokenURL, clientID, clientSecret)
	}
	return newTokenManager(fetch, logger)
}

// NewSigningTokenManager creates a TokenManager that mints admin tokens for
// subject with issuer. It is used by operator tooling that shares the
// service's signing secret.
func NewSigningTokenManager(
	issuer AdminTokenIssuer,
	subject string,
	ttl time.Duration,
	logger *logrus.Logger,
) TokenManager {
	fetch := func(_ context.Context) (string, time.Duration, error) {
		tok, err := issuer.IssueAdminToken(subject, ttl)
		if err != nil {
			return "", 0, fmt.Errorf("failed to sign admin token: %w", err)
		}
		return tok, ttl, nil
	}
	return newTokenManager(fetch, logger)
}

// GetToken returns the cached token or fetches a new one.
func (t *tokenManager) GetToken(ctx context.Context) (string, error) {
	t.mu.RLock()
	if t.valid() {
		token := t.accessToken
		t.mu.RUnlock()
		return token, nil
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	// Another goroutine may have refreshed while we waited.
	if t.valid() {
		return t.accessToken, nil
	}

	token, lifetime, err := t.fetch(ctx)
	if err != nil {
		return "", err
	}
	if lifetime > 2*expiryBuffer {
		lifetime -= expiryBuffer
	} else {
		lifetime /= 2
	}

	t.accessToken = token
	t.expiresAt = t.now().Add(lifetime)

	t.logger.WithField("expires_at", t.expiresAt).Debug("Access token refreshed")
	return token, nil
}

// valid reports whether the cached token is usable. Caller holds mu.
func (t *tokenManager) valid() bool {
	return t.accessToken != "" && t.now().Before(t.expiresAt)
}

// InvalidateToken forces a refresh on the next GetToken call.
func (t *tokenManager) InvalidateToken() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.accessToken = ""
	t.expiresAt = time.Time{}

	t.logger.Debug("Token invalidated, will refresh on next request")
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

func requestClientCredentials(
	ctx context.Context,
	httpClient *http.Client,
	tokenURL, clientID, clientSecret string,
) (string, time.Duration, error) {
	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", clientID)
	data.Set("client_secret", clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("token request failed with status %d", resp.StatusCode)
	}

	var tokenResp tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", 0, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", 0, fmt.Errorf("token response has no access token")
	}

	return tokenResp.AccessToken, time.Duration(tokenResp.ExpiresIn) * time.Second, nil
}
