// ABOUTME: Channel tokens: HS256 JWTs that let one user open the push channel
// ABOUTME: Tokens are scoped to the channel audience and always carry an expiry

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// TokenIssuer is the "iss" claim on every channel token.
	TokenIssuer = "coven-inbox"
	// ChannelAudience is the "aud" claim a token needs to open the channel.
	ChannelAudience = "coven-inbox/channel"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier resolves a channel token to the user it was minted for.
type TokenVerifier interface {
	Verify(tokenString string) (userID string, err error)
}

// ChannelClaims are the claims of a channel token. Subject is the user ID.
type ChannelClaims struct {
	jwt.RegisteredClaims
}

// JWTVerifier mints and checks channel tokens with a shared HS256 secret.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

// VerifierOption configures a JWTVerifier.
type VerifierOption func(*JWTVerifier)

// WithTokenClock replaces time.Now for issuing and expiry checks.
func WithTokenClock(now func() time.Time) VerifierOption {
	return func(v *JWTVerifier) { v.now = now }
}

// NewJWTVerifier creates a verifier for tokens signed with secret.
func NewJWTVerifier(secret []byte, opts ...VerifierOption) *JWTVerifier {
	v := &JWTVerifier{secret: secret, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks signature, issuer, audience and expiry, and returns the
// user ID from the "sub" claim.
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	var claims ChannelClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithAudience(ChannelAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return claims.Subject, nil
}

// Generate mints a channel token for userID that expires after expiresIn.
func (v *JWTVerifier) Generate(userID string, expiresIn time.Duration) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	now := v.now()
	claims := ChannelClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    TokenIssuer,
		Audience:  jwt.ClaimStrings{ChannelAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
