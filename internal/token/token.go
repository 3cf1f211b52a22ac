package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultTokenTTL is the default lifetime for reader session tokens.
	DefaultTokenTTL = 24 * time.Hour
	// DefaultLeeway is clock skew tolerance for token validation.
	DefaultLeeway = 15 * time.Second
)

// ErrInvalidToken is returned for expired, malformed, or mis-signed tokens.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the session claims carried by a reader token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 reader session tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	leeway time.Duration
}

// Options configures session token signing.
type Options struct {
	Secret string
	Issuer string
	TTL    time.Duration
	Leeway time.Duration
}

// New creates a token issuer using HS256.
func New(opts Options) (*Issuer, error) {
	secret := strings.TrimSpace(opts.Secret)
	if secret == "" {
		return nil, errors.New("token secret is required")
	}
	issuer := strings.TrimSpace(opts.Issuer)
	if issuer == "" {
		issuer = "library"
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	leeway := opts.Leeway
	if leeway <= 0 {
		leeway = DefaultLeeway
	}
	return &Issuer{secret: []byte(secret), issuer: issuer, ttl: ttl, leeway: leeway}, nil
}

// Issue signs a token for the reader.
func (i *Issuer) Issue(readerID, role string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   readerID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Verify parses the token and returns its claims.
func (i *Issuer) Verify(tokenString string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	},
		jwt.WithIssuer(i.issuer),
		jwt.WithLeeway(i.leeway),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
