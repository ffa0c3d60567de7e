package remote

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// ReadScope is the only scope issued for status-channel tokens.
	ReadScope = "read"

	// TokenAudience marks status-channel tokens so they never pass as
	// session tokens, whose audience is "authenticated".
	TokenAudience   = "transformation-status"
	TokenIssuerName = "video-effects-backend"
)

var (
	ErrInvalidToken = errors.New("invalid access token")
	ErrTokenScope   = errors.New("access token does not cover this transformation")
)

// AccessClaims grants read access to the listed transformations.
type AccessClaims struct {
	Scope           string   `json:"scope"`
	Transformations []string `json:"transformations"`
	jwt.RegisteredClaims
}

type AccessToken struct {
	Token     string
	ExpiresAt time.Time
}

// TokenIssuer signs and checks short-lived, single-record read tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock replaces the issuer's time source.
func (i *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	i.now = now
	return i
}

func (i *TokenIssuer) Issue(id uuid.UUID) (AccessToken, error) {
	now := i.now()
	expires := now.Add(i.ttl)
	claims := AccessClaims{
		Scope:           ReadScope,
		Transformations: []string{id.String()},
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuerName,
			Audience:  jwt.ClaimStrings{TokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return AccessToken{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return AccessToken{Token: signed, ExpiresAt: expires}, nil
}

// Verify checks the signature, expiry and that the token covers id.
func (i *TokenIssuer) Verify(tokenString string, id uuid.UUID) error {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now), jwt.WithAudience(TokenAudience), jwt.WithIssuer(TokenIssuerName))
	if err != nil || !token.Valid {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Scope != ReadScope {
		return ErrTokenScope
	}
	for _, t := range claims.Transformations {
		if t == id.String() {
			return nil
		}
	}
	return ErrTokenScope
}
