package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenKind tells how much can be read from a bearer credential locally
type TokenKind string

const (
	TokenKindNone   TokenKind = "none"
	TokenKindJWT    TokenKind = "jwt"
	TokenKindOpaque TokenKind = "opaque"
)

// TokenInfo is what the console can learn about a credential without the
// API. It is never used to make authorization decisions.
type TokenInfo struct {
	Kind      TokenKind
	Subject   string
	IssuedAt  *time.Time
	ExpiresAt *time.Time
}

// Expired reports if the token carries an expiry before now
func (i TokenInfo) Expired(now time.Time) bool {
	return i.ExpiresAt != nil && !now.Before(*i.ExpiresAt)
}

// InspectToken decodes a JWT bearer credential without verifying its
// signature. Anything else is reported as opaque.
func InspectToken(token string) TokenInfo {
	token = strings.TrimSpace(token)
	if token == "" {
		return TokenInfo{Kind: TokenKindNone}
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return TokenInfo{Kind: TokenKindOpaque}
	}

	info := TokenInfo{Kind: TokenKindJWT, Subject: claims.Subject}
	if claims.IssuedAt != nil {
		t := claims.IssuedAt.Time
		info.IssuedAt = &t
	}
	if claims.ExpiresAt != nil {
		t := claims.ExpiresAt.Time
		info.ExpiresAt = &t
	}
	return info
}
