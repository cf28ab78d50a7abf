package fabric

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	// ErrInvalidToken is returned for tokens that fail verification.
	ErrInvalidToken = errors.New("invalid token")
	// ErrMissingClientID is returned for valid tokens without a client identity.
	ErrMissingClientID = errors.New("token has no client_id claim")
)

// Authenticator resolves a bearer token to the client it was issued for.
type Authenticator interface {
	Authenticate(token string) (clientID string, err error)
}

// Claims are the JWT claims of a subscriber token.
type Claims struct {
	jwt.RegisteredClaims

	ClientID string `json:"client_id"`
}

// JWTAuthenticator verifies HMAC-signed subscriber tokens.
type JWTAuthenticator struct {
	secret []byte
	now    func() time.Time
}

// NewJWTAuthenticator creates an authenticator for the given shared secret.
func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret), now: time.Now}
}

// Authenticate implements Authenticator.
func (a *JWTAuthenticator) Authenticate(token string) (string, error) {
	claims := &Claims{}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{
		jwt.SigningMethodHS256.Alg(),
		jwt.SigningMethodHS384.Alg(),
		jwt.SigningMethodHS512.Alg(),
	}))

	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.ClientID == "" {
		return "", ErrMissingClientID
	}

	return claims.ClientID, nil
}

// Issue signs a token for clientID valid for ttl. A zero ttl never expires.
func (a *JWTAuthenticator) Issue(clientID string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  clientID,
			IssuedAt: jwt.NewNumericDate(now),
		},
		ClientID: clientID,
	}

	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}
