package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator validates a token presented during the connection
// handshake and returns the client id it identifies. This is ambient
// session plumbing around the handshake, not the handshake protocol
// itself (kept out of scope per spec.md section 1).
type Authenticator interface {
	Authenticate(token string) (clientID string, err error)
}

// ClientClaims is the JWT payload driftnet issues and verifies.
type ClientClaims struct {
	ClientID string `json:"clientId"`
	jwt.RegisteredClaims
}

// JWTAuthenticator implements Authenticator with HMAC-signed JWTs,
// adapted from the teacher's JWTManager (issuer/subject/expiry shape).
type JWTAuthenticator struct {
	secretKey     []byte
	tokenDuration time.Duration
	issuer        string
}

// NewJWTAuthenticator creates a JWTAuthenticator signing/verifying with
// secretKey, issuing tokens valid for tokenDuration.
func NewJWTAuthenticator(secretKey string, tokenDuration time.Duration) *JWTAuthenticator {
	return &JWTAuthenticator{secretKey: []byte(secretKey), tokenDuration: tokenDuration, issuer: "driftnet"}
}

// Issue mints a token for clientID, for use by session bootstrap code
// that hands connecting clients a credential out of band.
func (a *JWTAuthenticator) Issue(clientID string) (string, error) {
	claims := &ClientClaims{
		ClientID: clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(a.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    a.issuer,
			Subject:   clientID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secretKey)
}

// Authenticate implements Authenticator.
func (a *JWTAuthenticator) Authenticate(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &ClientClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("connection: unexpected signing method %v", t.Header["alg"])
		}
		return a.secretKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("connection: invalid token: %w", err)
	}
	claims, ok := parsed.Claims.(*ClientClaims)
	if !ok || !parsed.Valid {
		return "", errors.New("connection: invalid token claims")
	}
	return claims.ClientID, nil
}
