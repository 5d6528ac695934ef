// Package middleware provides the HTTP middleware of the access service:
// request logging, rate limiting, CORS, security headers, panic recovery,
// content type checks and admin authentication.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	redis_rate "github.com/go-redis/redis_rate/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/constants"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/token"
	"github.com/jsamuelsen11/recipe-web-app/access-service/pkg/logger"
)

const (
	// HTTPClientError minimum status code (4xx).
	HTTPClientError = 400
	// HTTPServerError minimum status code (5xx).
	HTTPServerError = 500

	rateLimitKeyPrefix = "access:ratelimit:"
	maxRequestIDLength = 64
)

type contextKey string

const (
	requestIDKey    contextKey = "request_id"
	adminSubjectKey contextKey = "admin_subject"
)

// Stack holds the middleware dependencies.
type Stack struct {
	config  *config.Config
	limiter *redis_rate.Limiter
	logger  *logrus.Logger
}

// NewStack creates a middleware stack. redisClient is optional; without it
// rate limiting is disabled.
func NewStack(cfg *config.Config, redisClient *redis.Client, logger *logrus.Logger) *Stack {
	var limiter *redis_rate.Limiter
	if redisClient != nil {
		limiter = redis_rate.NewLimiter(redisClient)
	}

	return &Stack{
		config:  cfg,
		limiter: limiter,
		logger:  logger,
	}
}

// Chain applies middleware to h; the first middleware is the outermost.
func (m *Stack) Chain(h http.Handler, middleware ...func(http.Handler) http.Handler) http.Handler {
	for i := range middleware {
		h = middleware[len(middleware)-1-i](h)
	}
	return h
}

// RequestID returns the request ID stored by RequestLogger.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// AdminSubject returns the subject of the admin token accepted by AdminAuth.
func AdminSubject(ctx context.Context) string {
	subject, _ := ctx.Value(adminSubjectKey).(string)
	return subject
}

// RequestLogger assigns a request ID and logs each request with its status
// and duration. An incoming X-Request-ID is kept.
func (m *Stack) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(constants.HeaderXRequestID)
		if requestID == "" || len(requestID) > maxRequestIDLength {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		ctx = logger.SetCorrelationID(ctx, requestID)
		r = r.WithContext(ctx)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		wrapped.Header().Set(constants.HeaderXRequestID, requestID)

		next.ServeHTTP(wrapped, r)

		if strings.HasPrefix(r.URL.Path, constants.HealthPrefix) {
			return
		}

		duration := time.Since(start)
		fields := logrus.Fields{
			"method":         r.Method,
			"path":           r.URL.Path,
			"query":          r.URL.RawQuery,
			"status":         wrapped.statusCode,
			"duration_ms":    duration.Milliseconds(),
			"remote_addr":    clientIP(r),
			"user_agent":     r.UserAgent(),
			"content_length": r.ContentLength,
		}
		if referer := r.Header.Get(constants.HeaderReferer); referer != "" {
			fields["referer"] = referer
		}

		level := logrus.InfoLevel
		if wrapped.statusCode >= HTTPClientError {
			level = logrus.WarnLevel
		}
		if wrapped.statusCode >= HTTPServerError {
			level = logrus.ErrorLevel
		}

		logger.WithCorrelationID(r.Context(), m.logger).WithFields(fields).Log(level, "HTTP request processed")
	})
}

// RateLimit limits requests per client IP with a token bucket in Redis.
// Redemptions get their own, stricter bucket. Limiter failures let the
// request through.
func (m *Stack) RateLimit(next http.Handler) http.Handler {
	general := redis_rate.Limit{
		Rate:   m.config.Security.RateLimitRPS,
		Burst:  m.config.Security.RateLimitBurst,
		Period: time.Second,
	}
	redeem := redis_rate.Limit{
		Rate:   m.config.Security.RedeemRateLimit,
		Burst:  m.config.Security.RedeemRateLimit,
		Period: m.config.Security.RateLimitWindow,
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if m.limiter == nil || m.isTrustedProxy(ip) {
			next.ServeHTTP(w, r)
			return
		}

		key, limit := rateLimitKeyPrefix+"client:"+ip, general
		if r.URL.Path == constants.RedeemPath && redeem.Rate > 0 && redeem.Period > 0 {
			key, limit = rateLimitKeyPrefix+"redeem:"+ip, redeem
		}

		result, err := m.limiter.Allow(r.Context(), key, limit)
		if err != nil {
			m.logger.WithError(err).Error("Failed to check rate limit")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-Ratelimit-Limit", strconv.Itoa(result.Limit.Burst))
		w.Header().Set("X-Ratelimit-Remaining", strconv.Itoa(result.Remaining))
		w.Header().Set("X-Ratelimit-Reset", strconv.FormatInt(time.Now().Add(result.ResetAfter).Unix(), 10))

		if result.Allowed == 0 {
			m.logger.WithFields(logrus.Fields{
				"client_ip": ip,
				"path":      r.URL.Path,
				"method":    r.Method,
			}).Warn("Rate limit exceeded")

			retryAfter := int(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set(constants.HeaderRetryAfter, strconv.Itoa(retryAfter))
			m.writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests, please retry later")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// CORS sets Cross-Origin Resource Sharing headers and answers preflight requests.
func (m *Stack) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.setCORSHeaders(w, r)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Stack) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	sec := &m.config.Security
	origin := r.Header.Get("Origin")

	switch {
	case origin != "" && m.isOriginAllowed(origin):
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	case len(sec.AllowedOrigins) == 1 && sec.AllowedOrigins[0] == "*":
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}

	if len(sec.AllowedMethods) > 0 {
		w.Header().Set("Access-Control-Allow-Methods", strings.Join(sec.AllowedMethods, ", "))
	}
	if len(sec.AllowedHeaders) > 0 {
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(sec.AllowedHeaders, ", "))
	}
	if len(sec.ExposedHeaders) > 0 {
		w.Header().Set("Access-Control-Expose-Headers", strings.Join(sec.ExposedHeaders, ", "))
	}
	if sec.AllowCredentials {
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
	if sec.MaxAge > 0 {
		w.Header().Set("Access-Control-Max-Age", strconv.Itoa(sec.MaxAge))
	}
}

// SecurityHeaders adds security-related HTTP headers to responses.
func (m *Stack) SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// Recovery turns a panic into a 500 response and logs it.
func (m *Stack) Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.WithCorrelationID(r.Context(), m.logger).WithFields(logrus.Fields{
					"method": r.Method,
					"path":   r.URL.Path,
					"panic":  err,
				}).Error("Panic recovered")

				m.writeError(w, http.StatusInternalServerError,
					"internal_server_error", "An unexpected error occurred")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// ContentType rejects POST bodies that are not JSON.
func (m *Stack) ContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.ContentLength > 0 &&
			!strings.Contains(r.Header.Get(constants.HeaderContentType), constants.ContentTypeJSON) {
			m.writeError(w, http.StatusUnsupportedMediaType,
				"unsupported_media_type", "Content-Type must be application/json")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// AdminAuth requires a Bearer admin token carrying the admin scope.
// It answers 401 for a missing or invalid token and 403 for a token
// without the scope.
func (m *Stack) AdminAuth(tokenSvc token.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := BearerToken(r)
			if !ok {
				m.writeError(w, http.StatusUnauthorized, "authentication_error", "Bearer admin token required")
				return
			}

			claims, err := tokenSvc.ValidateAdminToken(raw)
			if err != nil {
				if errors.Is(err, token.ErrMissingScope) {
					m.logger.WithError(err).Warn("Insufficient permissions for admin endpoint")
					m.writeError(w, http.StatusForbidden, "authorization_error", "Insufficient permissions")
					return
				}
				m.logger.WithError(err).Warn("Invalid admin token")
				m.writeError(w, http.StatusUnauthorized, "authentication_error", "Invalid admin token")
				return
			}

			ctx := context.WithValue(r.Context(), adminSubjectKey, claims.Subject)
			logger.WithCorrelationID(ctx, m.logger).WithFields(logrus.Fields{
				"subject": claims.Subject,
				"path":    r.URL.Path,
			}).Debug("Admin request authorized")

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get(constants.HeaderAuthorization)
	if !strings.HasPrefix(header, constants.BearerPrefix) {
		return "", false
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, constants.BearerPrefix))
	return raw, raw != ""
}

func (m *Stack) writeError(w http.ResponseWriter, statusCode int, code, description string) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(statusCode)

	response := map[string]string{
		"error":             code,
		"error_description": description,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		m.logger.WithError(err).Error("Failed to encode error response")
	}
}

// responseWriter captures the status code.
type responseWriter struct {
	http.ResponseWriter

	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// clientIP extracts the client address, preferring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (m *Stack) isTrustedProxy(ip string) bool {
	return slices.Contains(m.config.Security.TrustedProxies, ip)
}

func (m *Stack) isOriginAllowed(origin string) bool {
	for _, allowed := range m.config.Security.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
