package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errAuthNotConfigured = errors.New("rpc authentication is not configured")
	errMissingToken      = errors.New("missing bearer token")
	errInvalidToken      = errors.New("invalid bearer token")
)

// authenticate resolves the caller address from the request's bearer token.
// Tokens are HS256 JWTs signed with the server secret; the subject claim
// carries the caller address in hex.
func (s *Server) authenticate(r *http.Request) ([20]byte, error) {
	var zero [20]byte
	if len(s.authSecret) == 0 {
		return zero, errAuthNotConfigured
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return zero, errMissingToken
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return zero, errInvalidToken
	}
	token := strings.TrimSpace(header[len(prefix):])

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.authSecret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return zero, errInvalidToken
	}
	caller, err := parseAddress(claims.Subject)
	if err != nil {
		return zero, fmt.Errorf("%w: subject is not a caller address", errInvalidToken)
	}
	return caller, nil
}

// IssueToken mints a bearer token for the given caller address, signed with
// the provided secret. Exposed for operational tooling and tests.
func IssueToken(secret []byte, caller [20]byte) (string, error) {
	if len(secret) == 0 {
		return "", errAuthNotConfigured
	}
	claims := jwt.RegisteredClaims{Subject: formatAddress(caller)}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
