// Package auth resolves the username behind a request. Credentials are issued
// elsewhere; this package only verifies them.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrUnauthenticated = errors.New("unauthenticated")

const (
	HeaderUserID = "X-User-Id"
	QueryToken   = "token"
)

// Resolver accepts HS256 bearer tokens and, when enabled, a trusted user header.
type Resolver struct {
	secret      []byte
	allowHeader bool
	now         func() time.Time
}

func NewResolver(secret string, allowHeader bool) *Resolver {
	r := &Resolver{allowHeader: allowHeader, now: time.Now}
	if s := strings.TrimSpace(secret); s != "" {
		r.secret = []byte(s)
	}
	return r
}

// Identify returns the username for the given credentials. A token wins over
// the header; an invalid token is never downgraded to the header.
func (r *Resolver) Identify(authorization, userHeader, queryToken string) (string, error) {
	token := strings.TrimSpace(queryToken)
	if a := strings.TrimSpace(authorization); a != "" {
		if len(a) > 7 && strings.EqualFold(a[:7], "bearer ") {
			token = strings.TrimSpace(a[7:])
		}
	}
	if token != "" {
		return r.verify(token)
	}
	if r.allowHeader {
		if u := strings.TrimSpace(userHeader); u != "" {
			return u, nil
		}
	}
	return "", ErrUnauthenticated
}

// IdentifyRequest reads credentials from a net/http request.
func (r *Resolver) IdentifyRequest(req *http.Request) (string, error) {
	return r.Identify(req.Header.Get("Authorization"), req.Header.Get(HeaderUserID), req.URL.Query().Get(QueryToken))
}

func (r *Resolver) verify(raw string) (string, error) {
	if len(r.secret) == 0 {
		return "", fmt.Errorf("%w: tokens are not enabled", ErrUnauthenticated)
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return r.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(r.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return sub, nil
}

// IssueToken signs a token for username; used by the check tool and tests.
func (r *Resolver) IssueToken(username string, ttl time.Duration) (string, error) {
	if len(r.secret) == 0 {
		return "", errors.New("no signing secret configured")
	}
	now := r.now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}
