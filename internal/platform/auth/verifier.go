package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the authenticated principal extracted from a verified token.
type Identity struct {
	UserID string
	Role   string
}

// Verifier validates HMAC-signed access tokens. The websocket gateway uses it
// directly because browser websocket clients cannot set an Authorization
// header, so the token arrives as a query parameter instead.
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(cfg JWTConfig) *Verifier {
	return &Verifier{secret: cfg.Secret, issuer: cfg.Issuer}
}

func (v *Verifier) Verify(tokenStr string) (Identity, error) {
	claims := &Claims{}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("parsing token: %w", err)
	}
	if !token.Valid {
		return Identity{}, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("token has no subject")
	}

	return Identity{UserID: claims.Subject, Role: claims.Role}, nil
}
