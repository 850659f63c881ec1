// Package auth resolves the principal behind a request and decides
// whether a principal may use the admin surface.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrMissingCredentials is returned when the request carries no bearer token.
	ErrMissingCredentials = errors.New("auth: missing credentials")
	// ErrInvalidToken is returned for malformed, forged or expired tokens.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Authenticator resolves the principal id of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// Authorizer decides whether a principal may use the admin surface.
type Authorizer interface {
	IsAuthorized(principal string) bool
}

// Claims is the token payload the service reads.
type Claims struct {
	Sub      string `json:"sub"`
	Username string `json:"username,omitempty"`
	Exp      int64  `json:"exp,omitempty"`
}

// BearerAuthenticator reads a JWT from the Authorization header. With a
// secret it verifies the HS256 signature; without one the token is
// assumed to be verified upstream (an API gateway authorizer) and only
// its payload is decoded.
type BearerAuthenticator struct {
	secret []byte
	now    func() time.Time
}

// NewBearerAuthenticator creates an authenticator. An empty secret
// disables signature verification.
func NewBearerAuthenticator(secret string) *BearerAuthenticator {
	return &BearerAuthenticator{secret: []byte(secret), now: time.Now}
}

// Authenticate returns the token subject, falling back to the username claim.
func (a *BearerAuthenticator) Authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingCredentials
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", ErrInvalidToken
	}

	claims, err := a.verify(strings.TrimSpace(token))
	if err != nil {
		return "", err
	}
	principal := claims.Sub
	if principal == "" {
		principal = claims.Username
	}
	if principal == "" {
		return "", ErrInvalidToken
	}
	return principal, nil
}

func (a *BearerAuthenticator) verify(token string) (*Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}
	if len(a.secret) > 0 {
		expected := sign(a.secret, parts[0]+"."+parts[1])
		if !hmac.Equal([]byte(expected), []byte(parts[2])) {
			return nil, ErrInvalidToken
		}
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Exp != 0 && a.now().Unix() > claims.Exp {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

// SignToken issues an HS256 token for claims. Used by tests and local tooling.
func SignToken(secret string, claims Claims) (string, error) {
	header, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	data := base64.RawURLEncoding.EncodeToString(header) + "." + base64.RawURLEncoding.EncodeToString(payload)
	return data + "." + sign([]byte(secret), data), nil
}

func sign(secret []byte, data string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// AllowList authorizes a fixed set of principals.
type AllowList struct {
	ids map[string]struct{}
}

// NewAllowList creates an allow-list. Blank entries are ignored.
func NewAllowList(ids []string) *AllowList {
	l := &AllowList{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			l.ids[id] = struct{}{}
		}
	}
	return l
}

// IsAuthorized reports whether principal is on the list.
func (l *AllowList) IsAuthorized(principal string) bool {
	_, ok := l.ids[principal]
	return ok
}

type principalKey struct{}

// WithPrincipal returns a context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFrom returns the principal stored by WithPrincipal.
func PrincipalFrom(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(principalKey{}).(string)
	return p, ok && p != ""
}
