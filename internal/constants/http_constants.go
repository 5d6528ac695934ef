// Package constants contains shared HTTP header names, content types and
// route prefixes used across the service.
package constants

// Header names commonly used across the application.
const (
	// HeaderAccept is the HTTP "Accept" header name.
	HeaderAccept = "Accept"

	// HeaderAuthorization is the HTTP "Authorization" header name.
	HeaderAuthorization = "Authorization"

	// HeaderContentType is the HTTP "Content-Type" header name.
	HeaderContentType = "Content-Type"

	// HeaderReferer is the HTTP "Referer" header name.
	HeaderReferer = "Referer"

	// HeaderRetryAfter is the HTTP "Retry-After" header name.
	HeaderRetryAfter = "Retry-After"

	// HeaderXRequestID is the custom request ID header name.
	HeaderXRequestID = "X-Request-ID"
)

// Common media / content types used in requests and responses.
const (
	// ContentTypeJSON represents "application/json".
	ContentTypeJSON = "application/json"

	// ContentTypePlainUTF8 represents "text/plain; charset=utf-8".
	ContentTypePlainUTF8 = "text/plain; charset=utf-8"
)

// BearerPrefix precedes the token in an Authorization header.
const BearerPrefix = "Bearer "

// Route prefixes.
const (
	// APIPrefix is the prefix of every access service route.
	APIPrefix = "/api/v1/access"

	// HealthPrefix is the prefix of the health routes.
	HealthPrefix = APIPrefix + "/health"

	// RedeemPath is the redemption route.
	RedeemPath = APIPrefix + "/redeem"
)
