package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var errMissingToken = errors.New("missing bearer token")

// Approver verifies HS256 bearer tokens presented on resume. The token
// subject identifies who approved.
type Approver struct {
	secret []byte
	issuer string
}

// NewApprover creates an Approver. An empty issuer accepts any issuer.
func NewApprover(secret, issuer string) *Approver {
	return &Approver{secret: []byte(secret), issuer: issuer}
}

// Verify checks the request's bearer token and returns its subject.
func (a *Approver) Verify(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", errMissingToken
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	if _, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...); err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("invalid token: no subject")
	}
	return claims.Subject, nil
}
