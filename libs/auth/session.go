package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

var ErrMissingToken = errors.New("missing or invalid Authorization header")

// Session is the caller's backend credential. It is opaque to the portal and passed
// explicitly to every backend call.
type Session struct {
	Token string
}

// ParseAuthorization accepts "Token <t>" (the backend's scheme) or "Bearer <t>".
func ParseAuthorization(header string) (Session, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok {
		return Session{}, ErrMissingToken
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return Session{}, ErrMissingToken
	}
	switch strings.ToLower(scheme) {
	case "token", "bearer":
		return Session{Token: token}, nil
	default:
		return Session{}, ErrMissingToken
	}
}

// Header renders the value sent to the backend.
func (s Session) Header() string {
	return "Token " + s.Token
}

// Fingerprint identifies the session in cache keys and logs without exposing the token.
func (s Session) Fingerprint() string {
	sum := sha256.Sum256([]byte(s.Token))
	return hex.EncodeToString(sum[:8])
}

func (s Session) Valid() bool {
	return s.Token != ""
}

type ctxKey int

const ctxKeySession ctxKey = iota

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKeySession, s)
}

func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKeySession).(Session)
	return s, ok && s.Valid()
}
