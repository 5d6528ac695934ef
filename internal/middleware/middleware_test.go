package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/constants"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/middleware"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/token"
	"github.com/jsamuelsen11/recipe-web-app/access-service/pkg/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		JWT: config.JWTConfig{
			Secret:             "middleware-test-secret-at-least-32-bytes",
			SessionTokenExpiry: time.Hour,
			Issuer:             "access-service",
			Algorithm:          "HS256",
			AdminScope:         "admin",
		},
		Security: config.SecurityConfig{
			RateLimitRPS:     100,
			RateLimitBurst:   200,
			RedeemRateLimit:  60,
			RateLimitWindow:  time.Minute,
			AllowedOrigins:   []string{"https://app.example.com"},
			AllowedMethods:   []string{"GET", "POST"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           600,
		},
	}
}

func newStack() *middleware.Stack {
	return middleware.NewStack(testConfig(), nil, logger.New("error", "json", "stdout"))
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequestLogger(t *testing.T) {
	stack := newStack()

	t.Run("generates_request_id", func(t *testing.T) {
		var seen string
		h := stack.RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = middleware.RequestID(r.Context())
			w.WriteHeader(http.StatusCreated)
		}))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, constants.RedeemPath, nil))

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get(constants.HeaderXRequestID))
	})

	t.Run("keeps_incoming_request_id", func(t *testing.T) {
		h := stack.RequestLogger(okHandler)

		req := httptest.NewRequest(http.MethodGet, constants.HealthPrefix, nil)
		req.Header.Set(constants.HeaderXRequestID, "req-123")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, "req-123", rec.Header().Get(constants.HeaderXRequestID))
	})
}

func TestRateLimit_DisabledWithoutRedis(t *testing.T) {
	h := newStack().RateLimit(okHandler)

	for range 5 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, constants.RedeemPath, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestCORS(t *testing.T) {
	h := newStack().CORS(okHandler)

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, constants.RedeemPath, nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "GET, POST", rec.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
		assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
	})

	t.Run("unknown_origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, constants.RedeemPath, nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	newStack().SecurityHeaders(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}

func TestRecovery(t *testing.T) {
	h := newStack().Recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_server_error")
}

func TestContentType(t *testing.T) {
	h := newStack().ContentType(okHandler)

	tests := []struct {
		name        string
		contentType string
		body        string
		want        int
	}{
		{name: "json_body", contentType: "application/json; charset=utf-8", body: `{"code":"ABCD"}`, want: http.StatusOK},
		{name: "form_body", contentType: "application/x-www-form-urlencoded", body: "code=ABCD", want: http.StatusUnsupportedMediaType},
		{name: "empty_body", body: "", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, constants.RedeemPath, strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set(constants.HeaderContentType, tt.contentType)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestAdminAuth(t *testing.T) {
	cfg := testConfig()
	tokens := token.NewJWTService(&cfg.JWT)

	adminToken, err := tokens.IssueAdminToken("ops@example.com", time.Hour)
	require.NoError(t, err)

	viewerCfg := cfg.JWT
	viewerCfg.AdminScope = "viewer"
	viewerToken, err := token.NewJWTService(&viewerCfg).IssueAdminToken("viewer@example.com", time.Hour)
	require.NoError(t, err)

	var subject string
	h := newStack().AdminAuth(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = middleware.AdminSubject(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "valid_admin_token", header: "Bearer " + adminToken, want: http.StatusOK},
		{name: "missing_header", header: "", want: http.StatusUnauthorized},
		{name: "basic_auth", header: "Basic b3BzOnB3", want: http.StatusUnauthorized},
		{name: "garbage_token", header: "Bearer not-a-jwt", want: http.StatusUnauthorized},
		{name: "missing_scope", header: "Bearer " + viewerToken, want: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject = ""
			req := httptest.NewRequest(http.MethodGet, constants.APIPrefix+"/admin/usage", nil)
			if tt.header != "" {
				req.Header.Set(constants.HeaderAuthorization, tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "ops@example.com", subject)
			} else {
				assert.Empty(t, subject)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	_, ok := middleware.BearerToken(req)
	assert.False(t, ok)

	req.Header.Set(constants.HeaderAuthorization, "Bearer   ")
	_, ok = middleware.BearerToken(req)
	assert.False(t, ok)

	req.Header.Set(constants.HeaderAuthorization, "Bearer abc.def")
	raw, ok := middleware.BearerToken(req)
	assert.True(t, ok)
	assert.Equal(t, "abc.def", raw)
}

func TestChain(t *testing.T) {
	stack := newStack()
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := stack.Chain(okHandler, mark("outer"), mark("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "inner"}, order)
}
