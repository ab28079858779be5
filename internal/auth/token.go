// Package auth verifies bearer credentials presented at connection time and
// mints them for local tooling.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/talkie/internal/core"
	"github.com/dkeye/talkie/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrNoSubject    = errors.New("token carries no user id")
)

// CustomClaims is the token payload. Tokens issued by the account service
// carry userId; tokens minted here carry user_id.
type CustomClaims struct {
	UserID       string   `json:"user_id,omitempty"`
	LegacyUserID string   `json:"userId,omitempty"`
	Roles        []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

func (c *CustomClaims) subject() domain.UserID {
	if c.UserID != "" {
		return domain.UserID(c.UserID)
	}
	return domain.UserID(c.LegacyUserID)
}

// JWTVerifier is an HS256 core.IdentityVerifier.
type JWTVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

var _ core.IdentityVerifier = (*JWTVerifier)(nil)

// NewJWTVerifier checks the iss claim only when issuer is non-empty. Tokens
// minted by the account service carry no issuer, so deployments that accept
// them must leave issuer empty.
func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// GenerateToken creates a signed token for userID valid for ttl.
func (v *JWTVerifier) GenerateToken(userID domain.UserID, roles []string, ttl time.Duration) (string, error) {
	if err := userID.Validate(); err != nil {
		return "", err
	}
	now := v.now()
	claims := &CustomClaims{
		UserID: string(userID),
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    v.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify checks signature, expiry and issuer, and returns the user id.
// Every failure is a core AuthError.
func (v *JWTVerifier) Verify(credential string) (domain.UserID, error) {
	if credential == "" {
		return "", core.AuthError(ErrMissingToken)
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(credential, &CustomClaims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", core.AuthError(err)
	}
	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return "", core.AuthError(jwt.ErrSignatureInvalid)
	}
	uid := claims.subject()
	if uid == "" {
		return "", core.AuthError(ErrNoSubject)
	}
	if err := uid.Validate(); err != nil {
		return "", core.AuthError(fmt.Errorf("user id: %w", err))
	}
	return uid, nil
}
