package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lorrc/notify-gateway/internal/core/domain"
	apperrors "github.com/lorrc/notify-gateway/internal/core/errors"
)

// Claims defines the structured data we expect in a connection token.
// The subject carries the user ID.
type Claims struct {
	Role     string `json:"role"`
	TenantID string `json:"tenant_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenManager verifies bearer credentials presented at connection time.
type TokenManager struct {
	secretKey []byte
	ttl       time.Duration
	issuer    string
}

// TokenOption customizes a TokenManager.
type TokenOption func(*TokenManager)

// WithIssuer requires the iss claim to match and stamps it on generated tokens.
func WithIssuer(issuer string) TokenOption {
	return func(tm *TokenManager) { tm.issuer = issuer }
}

func NewTokenManager(secret string, ttl time.Duration, opts ...TokenOption) *TokenManager {
	tm := &TokenManager{secretKey: []byte(secret), ttl: ttl}
	for _, opt := range opts {
		opt(tm)
	}
	return tm
}

// GenerateToken creates a signed access token for identity.
func (tm *TokenManager) GenerateToken(identity domain.Identity) (string, error) {
	if err := identity.Validate(); err != nil {
		return "", err
	}

	now := time.Now()
	claims := &Claims{
		Role:     string(identity.Role),
		TenantID: identity.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.ttl)),
			Issuer:    tm.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secretKey)
}

// Authenticate parses and validates the token string and returns the
// identity it carries. Any failure (malformed, expired, bad signature,
// missing subject or role) yields an error wrapping ErrInvalidToken.
func (tm *TokenManager) Authenticate(tokenString string) (domain.Identity, error) {
	if tokenString == "" {
		return domain.Identity{}, apperrors.ErrMissingToken
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if tm.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(tm.issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secretKey, nil
	}, parserOpts...)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", apperrors.ErrInvalidToken, err)
	}
	if !token.Valid {
		return domain.Identity{}, apperrors.ErrInvalidToken
	}

	identity := domain.Identity{
		UserID:   claims.Subject,
		Role:     domain.Role(claims.Role),
		TenantID: claims.TenantID,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	if err := identity.Validate(); err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", apperrors.ErrInvalidToken, err)
	}
	return identity, nil
}

// BearerProtocol is the Sec-WebSocket-Protocol marker preceding a token for
// browser clients that cannot set headers.
const BearerProtocol = "bearer"

// ExtractBearer pulls the credential from a connection handshake. It checks
// the Authorization header, then the token query parameter, then a
// "bearer, <token>" pair in Sec-WebSocket-Protocol.
func ExtractBearer(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	protocols := websocketProtocols(r)
	for i := 0; i+1 < len(protocols); i++ {
		if protocols[i] == BearerProtocol {
			return protocols[i+1]
		}
	}
	return ""
}

func websocketProtocols(r *http.Request) []string {
	var out []string
	for _, header := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(header, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
