package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/client"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// newTokenServer serves client credentials tokens and counts requests.
func newTokenServer(t *testing.T, token string, delay time.Duration) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST request, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("Failed to parse form: %v", err)
		}
		if r.FormValue("grant_type") != "client_credentials" {
			t.Errorf("Expected grant_type=client_credentials, got %s", r.FormValue("grant_type"))
		}
		if delay > 0 {
			time.Sleep(delay)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": token,
			"token_type":   "Bearer",
			"expires_in":   3600,
			"scope":        "notification:admin",
		})
	}))
	t.Cleanup(server.Close)

	return server, &calls
}

func TestTokenManager_GetToken(t *testing.T) {
	server, calls := newTokenServer(t, "test-token-123", 0)
	tm := client.NewTokenManager("test-client-id", "test-client-secret", server.URL, quietLogger())

	token1, err := tm.GetToken(context.Background())
	if err != nil {
		t.Fatalf("GetToken() failed: %v", err)
	}
	if token1 != "test-token-123" {
		t.Errorf("Expected token 'test-token-123', got '%s'", token1)
	}

	token2, err := tm.GetToken(context.Background())
	if err != nil {
		t.Fatalf("Second GetToken() failed: %v", err)
	}
	if token1 != token2 {
		t.Errorf("Expected cached token, got a different one")
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 token request, got %d", calls.Load())
	}
}

func TestTokenManager_InvalidateToken(t *testing.T) {
	server, calls := newTokenServer(t, "token-refresh", 0)
	tm := client.NewTokenManager("test-client-id", "test-client-secret", server.URL, quietLogger())

	if _, err := tm.GetToken(context.Background()); err != nil {
		t.Fatalf("GetToken() failed: %v", err)
	}
	tm.InvalidateToken()
	if _, err := tm.GetToken(context.Background()); err != nil {
		t.Fatalf("GetToken() after invalidate failed: %v", err)
	}

	if calls.Load() != 2 {
		t.Errorf("Expected 2 token requests after invalidate, got %d", calls.Load())
	}
}

func TestTokenManager_ConcurrentAccess(t *testing.T) {
	server, calls := newTokenServer(t, "concurrent-token", 50*time.Millisecond)
	tm := client.NewTokenManager("test-client-id", "test-client-secret", server.URL, quietLogger())

	const numGoroutines = 10
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for range numGoroutines {
		go func() {
			defer wg.Done()
			if _, err := tm.GetToken(context.Background()); err != nil {
				t.Errorf("GetToken() failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("Expected 1 token request with concurrent access, got %d", calls.Load())
	}
}

func TestTokenManager_ErrorHandling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	tm := client.NewTokenManager("test-client-id", "test-client-secret", server.URL, quietLogger())

	if _, err := tm.GetToken(context.Background()); err == nil {
		t.Fatal("Expected error from GetToken(), got nil")
	}
}

type stubIssuer struct {
	calls int
	err   error
}

func (s *stubIssuer) IssueAdminToken(subject string, _ time.Duration) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return "admin-token-for-" + subject, nil
}

func TestSigningTokenManager(t *testing.T) {
	t.Run("caches_signed_token", func(t *testing.T) {
		issuer := &stubIssuer{}
		tm := client.NewSigningTokenManager(issuer, "ops", time.Hour, quietLogger())

		for range 3 {
			token, err := tm.GetToken(context.Background())
			if err != nil {
				t.Fatalf("GetToken() failed: %v", err)
			}
			if token != "admin-token-for-ops" {
				t.Errorf("Unexpected token %q", token)
			}
		}
		if issuer.calls != 1 {
			t.Errorf("Expected 1 signing call, got %d", issuer.calls)
		}
	})

	t.Run("invalidate_resigns", func(t *testing.T) {
		issuer := &stubIssuer{}
		tm := client.NewSigningTokenManager(issuer, "ops", time.Hour, quietLogger())

		_, _ = tm.GetToken(context.Background())
		tm.InvalidateToken()
		_, _ = tm.GetToken(context.Background())

		if issuer.calls != 2 {
			t.Errorf("Expected 2 signing calls, got %d", issuer.calls)
		}
	})

	t.Run("signing_error", func(t *testing.T) {
		tm := client.NewSigningTokenManager(&stubIssuer{err: errors.New("no secret")}, "ops", time.Hour, quietLogger())

		if _, err := tm.GetToken(context.Background()); err == nil {
			t.Fatal("Expected error from GetToken(), got nil")
		}
	})
}
