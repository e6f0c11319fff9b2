package auth

import (
	"errors"
	"net/http"
	"strings"
)

// DefaultSessionCookie is the cookie browsers carry after token exchange.
const DefaultSessionCookie = "boardsync_session"

// ErrNoCredentials indicates the request carried no token in any of the
// supported positions.
var ErrNoCredentials = errors.New("auth: no credentials presented")

// Authenticate resolves the caller's user ID from a request. Tokens are
// accepted as a Bearer header, a "token" query parameter (websocket clients
// cannot set headers during the handshake), or the session cookie.
func (t *Tokens) Authenticate(r *http.Request) (string, error) {
	if r == nil {
		return "", ErrNoCredentials
	}
	token, err := extractToken(r)
	if err != nil {
		return "", err
	}
	return t.Validate(token)
}

func extractToken(r *http.Request) (string, error) {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		scheme, value, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(value) == "" {
			return "", ErrInvalidToken
		}
		return strings.TrimSpace(value), nil
	}
	if value := strings.TrimSpace(r.URL.Query().Get("token")); value != "" {
		return value, nil
	}
	if cookie, err := r.Cookie(DefaultSessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	return "", ErrNoCredentials
}
