package identity

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload of a session token. UserID takes precedence over
// the registered subject when both are present.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// ErrNoUser is returned when a token carries neither userId nor sub.
var ErrNoUser = errors.New("identity: token has no user id")

// TokenProvider derives the identity from an HS256 session token.
//
// With a nil key the signature is not verified: the token came from the
// auth service over a trusted channel and is only inspected for its user
// id and expiry. The bearer token is still forwarded verbatim to the
// recipe service, which does verify it.
//
// Thread-safety: All methods are safe for concurrent use.
type TokenProvider struct {
	mu     sync.RWMutex
	token  string
	key    []byte
	now    func() time.Time
	logger *slog.Logger
}

// TokenOption configures a TokenProvider.
type TokenOption func(*TokenProvider)

// WithKey enables signature verification with an HMAC key.
func WithKey(key []byte) TokenOption {
	return func(p *TokenProvider) { p.key = key }
}

// WithTimeFunc overrides the clock used for expiry checks.
func WithTimeFunc(now func() time.Time) TokenOption {
	return func(p *TokenProvider) { p.now = now }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) TokenOption {
	return func(p *TokenProvider) { p.logger = l }
}

// NewTokenProvider creates a provider holding token. An empty token means
// signed out.
func NewTokenProvider(token string, opts ...TokenOption) *TokenProvider {
	p := &TokenProvider{
		token:  token,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetToken replaces the session token (sign-in, refresh or sign-out).
func (p *TokenProvider) SetToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = token
}

// Token returns the raw session token for use as a bearer credential.
func (p *TokenProvider) Token() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token
}

// Current implements Provider. An invalid or expired token reports a
// signed-out identity.
func (p *TokenProvider) Current() Identity {
	token := p.Token()
	if token == "" {
		return Identity{}
	}

	claims, err := p.Parse(token)
	if err != nil {
		p.logger.Debug("session token rejected", "error", err)
		return Identity{}
	}
	return Identity{UserID: claims.user(), Authenticated: true}
}

// Parse validates token and returns its claims.
func (p *TokenProvider) Parse(token string) (*Claims, error) {
	claims := &Claims{}

	if p.key == nil {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("parse token: %w", err)
		}
		if claims.ExpiresAt != nil && !p.now().Before(claims.ExpiresAt.Time) {
			return nil, fmt.Errorf("parse token: %w", jwt.ErrTokenExpired)
		}
	} else {
		_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
			return p.key, nil
		},
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithTimeFunc(p.now),
		)
		if err != nil {
			return nil, fmt.Errorf("parse token: %w", err)
		}
	}

	if claims.user() == "" {
		return nil, ErrNoUser
	}
	return claims, nil
}

func (c *Claims) user() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// Sign issues an HS256 token for userID valid for ttl from now. A zero
// ttl issues a token without expiry.
func Sign(key []byte, userID string, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
