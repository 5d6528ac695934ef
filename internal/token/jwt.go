// Package token issues and validates the signed JWTs handed out by the access
// service. Two token types exist:
//   - session tokens, returned by a successful redemption and presented on
//     heartbeat and end-session calls
//   - admin tokens, carrying the configured admin scope and required by the
//     operator endpoints
//
// Security Considerations:
//   - Tokens are signed with the configured HMAC algorithm (HS256, HS384, HS512)
//   - A session token never outlives the code it was redeemed from
//   - The signing method is checked on validation to prevent algorithm confusion
//   - Every token carries a unique JWT ID for audit correlation
package token

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/config"
	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
)

const (
	// TypeSession identifies tokens issued for a redeemed session.
	TypeSession = "session_token"
	// TypeAdmin identifies tokens granting access to operator endpoints.
	TypeAdmin = "admin_token"
	// DefaultAdminTokenExpiry is the lifetime of admin tokens minted without an explicit TTL.
	DefaultAdminTokenExpiry = time.Hour
)

var (
	// ErrInvalidToken is returned for tokens that fail signature or claim checks.
	ErrInvalidToken = errors.New("invalid token")
	// ErrWrongTokenType is returned when a token of one type is presented as another.
	ErrWrongTokenType = errors.New("wrong token type")
	// ErrMissingScope is returned when an admin token lacks the admin scope.
	ErrMissingScope = errors.New("token lacks required scope")
)

// Service defines token issuance and validation for the access service.
//
// The interface supports:
//   - Session token issuance bound to a session and its code
//   - Session token validation for heartbeat and end-session calls
//   - Admin token issuance and scope-checked validation
type Service interface {
	// IssueSessionToken creates a signed JWT for a session redeemed from code.
	//
	// Parameters:
	//   - session: The newly created session; its ID becomes the token subject
	//   - code: The code the session was redeemed from
	//
	// Returns the signed token, its expiry and any signing error. The expiry is
	// the earlier of the configured session token lifetime and the code expiry.
	IssueSessionToken(session *models.Session, code *models.AccessCode) (string, time.Time, error)

	// ValidateSessionToken verifies signature, expiry and type of a session token.
	//
	// Returns the parsed claims or an error wrapping ErrInvalidToken or
	// ErrWrongTokenType.
	ValidateSessionToken(tokenString string) (*Claims, error)

	// IssueAdminToken creates a token carrying the admin scope for subject.
	// A non-positive ttl uses DefaultAdminTokenExpiry.
	IssueAdminToken(subject string, ttl time.Duration) (string, error)

	// ValidateAdminToken verifies an admin token and checks that it carries the
	// configured admin scope.
	ValidateAdminToken(tokenString string) (*Claims, error)
}

// JWTService implements Service using golang-jwt.
type JWTService struct {
	config *config.JWTConfig
	now    func() time.Time
}

// Claims represents the structure of JWT claims used by both token types.
//
// The structure includes:
//   - Session claims (session_id, code_id, code_type) on session tokens
//   - Scopes on admin tokens
//   - Token type identification for proper validation
//   - Standard JWT registered claims (iss, sub, exp, etc.)
type Claims struct {
	jwt.RegisteredClaims

	// SessionID identifies the session a session token was issued for.
	SessionID string `json:"session_id,omitempty"`

	// CodeID identifies the code the session was redeemed from.
	CodeID string `json:"code_id,omitempty"`

	// CodeType is the type of the redeemed code (bulk or individual).
	CodeType models.CodeType `json:"code_type,omitempty"`

	// Scopes contains the scopes granted to an admin token.
	Scopes []string `json:"scopes,omitempty"`

	// Type identifies the token type and is required.
	Type string `json:"type"`
}

// Option configures a JWTService.
type Option func(*JWTService)

// WithClock overrides the time source used for issued-at and expiry claims.
func WithClock(now func() time.Time) Option {
	return func(s *JWTService) {
		s.now = now
	}
}

// NewJWTService creates a new JWT service instance with the provided configuration.
//
// Parameters:
//   - cfg: JWT configuration containing the signing secret, algorithm, issuer,
//     session token lifetime and admin scope
//   - opts: Optional settings such as a test clock
func NewJWTService(cfg *config.JWTConfig, opts ...Option) Service {
	s := &JWTService{
		config: cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueSessionToken creates a signed session token.
//
// The generated token:
//   - Uses the session ID as subject and a fresh UUID as JWT ID
//   - Carries the code ID and code type for downstream authorization
//   - Expires at the earlier of now + SessionTokenExpiry and the code expiry
func (s *JWTService) IssueSessionToken(
	session *models.Session,
	code *models.AccessCode,
) (string, time.Time, error) {
	now := s.now().UTC()
	expiresAt := now.Add(s.config.SessionTokenExpiry)
	if !code.ExpiresAt.IsZero() && code.ExpiresAt.Before(expiresAt) {
		expiresAt = code.ExpiresAt
	}

	claims := &Claims{
		SessionID: session.ID,
		CodeID:    code.ID,
		CodeType:  code.CodeType,
		Type:      TypeSession,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   session.ID,
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	tokenString, err := s.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// ValidateSessionToken parses and checks a session token.
func (s *JWTService) ValidateSessionToken(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != TypeSession {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrWrongTokenType, TypeSession, claims.Type)
	}
	if claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing session_id claim", ErrInvalidToken)
	}
	return claims, nil
}

// IssueAdminToken creates a signed admin token for subject.
func (s *JWTService) IssueAdminToken(subject string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultAdminTokenExpiry
	}
	now := s.now().UTC()

	claims := &Claims{
		Scopes: []string{s.config.AdminScope},
		Type:   TypeAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   subject,
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return s.sign(claims)
}

// ValidateAdminToken parses an admin token and checks its scope.
func (s *JWTService) ValidateAdminToken(tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != TypeAdmin {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrWrongTokenType, TypeAdmin, claims.Type)
	}
	if !slices.Contains(claims.Scopes, s.config.AdminScope) {
		return nil, fmt.Errorf("%w: %s", ErrMissingScope, s.config.AdminScope)
	}
	return claims, nil
}

func (s *JWTService) sign(claims *Claims) (string, error) {
	method := jwt.GetSigningMethod(s.config.Algorithm)
	if method == nil {
		return "", fmt.Errorf("unsupported signing algorithm: %s", s.config.Algorithm)
	}

	tokenString, err := jwt.NewWithClaims(method, claims).SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT token: %w", err)
	}
	return tokenString, nil
}

func (s *JWTService) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.GetSigningMethod(s.config.Algorithm) {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	},
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
