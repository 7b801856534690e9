package utils // package utils provides token issuing, verification and hashing helpers

import (
	"crypto/rand"   // secure random number generation
	"crypto/sha256" // SHA‑256 hashing for refresh tokens
	"encoding/hex"  // hex encoding of random bytes and digests
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5" // JWT library for signed access tokens
)

// Verification failures.  Both mean "unauthenticated"; callers map them to
// distinct reasons so clients know whether refreshing can help.
var (
	ErrTokenExpired = errors.New("access token expired")
	ErrTokenInvalid = errors.New("access token invalid")
)

// AccessToken represents a signed JWT access token along with its expiry.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

// RefreshToken represents a long‑lived opaque token used to obtain new
// access tokens.  Raw goes to the client; only HashRefreshRaw(Raw) is
// stored server side.
type RefreshToken struct {
	Raw string    // raw token string returned to the client
	Exp time.Time // UTC expiration time
}

// Identity is what an access token asserts about its bearer.
type Identity struct {
	AccountID uint64
	Email     string
	Role      string
	Name      string
}

// AccessClaims is the JWT payload.  The subject holds the account id.
type AccessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies access tokens and mints refresh tokens.
// It holds no per-request state and is safe for concurrent use.
type TokenService struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewTokenService builds a service signing HS256 tokens with secret.
func NewTokenService(secret, issuer, audience string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		secret:     []byte(secret),
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock returns a copy of s that reads the current time from now.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	cp := *s
	cp.now = now
	return &cp
}

// IssueAccessToken signs a short-lived token for id.
func (s *TokenService) IssueAccessToken(id Identity) (AccessToken, error) {
	now := s.now()
	exp := now.Add(s.accessTTL)
	claims := AccessClaims{
		Email: id.Email,
		Role:  id.Role,
		Name:  id.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(id.AccountID, 10),
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}

// VerifyAccessToken checks signature, algorithm, expiry, issuer and
// audience.  It returns ErrTokenExpired for an otherwise valid token past
// its expiry and ErrTokenInvalid for anything else.
func (s *TokenService) VerifyAccessToken(raw string) (Identity, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	var claims AccessClaims
	_, err := parser.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, ErrTokenInvalid
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return Identity{}, ErrTokenInvalid
	}
	return Identity{AccountID: id, Email: claims.Email, Role: claims.Role, Name: claims.Name}, nil
}

// NewRefreshToken returns a cryptographically random opaque token and its
// expiration time.  The token carries no account data.
func (s *TokenService) NewRefreshToken() (RefreshToken, error) {
	raw, err := randomHex(48) // 48 bytes -> 96 hex chars
	if err != nil {
		return RefreshToken{}, err
	}
	return RefreshToken{Raw: raw, Exp: s.now().Add(s.refreshTTL)}, nil
}

// HashRefreshRaw returns the SHA‑256 hash of the raw refresh token as a hex
// string.  Only this value is persisted.
func HashRefreshRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ExtractBearer returns the token from an Authorization header value.  The
// scheme match is case-insensitive and surrounding whitespace is ignored.
// It returns "" when the header is absent or malformed; callers decide
// whether that is fatal.
func ExtractBearer(header string) string {
	fields := strings.Fields(header)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return ""
	}
	return fields[1]
}

// randomHex returns a hex‑encoded string generated from n bytes of
// cryptographically secure random data.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
