package session

import (
	"context"
	"net/http"
)

// Manager is an interface that abstracts the session management implementation.
// *scs.SessionManager satisfies it; tests substitute a fake.
type Manager interface {
	LoadAndSave(next http.Handler) http.Handler
	Put(ctx context.Context, key string, val interface{})
	GetString(ctx context.Context, key string) string
	PopString(ctx context.Context, key string) string
	RenewToken(ctx context.Context) error
	Destroy(ctx context.Context) error
	Remove(ctx context.Context, key string)
}

// Keys stored in the session.
const (
	SubjectKey = "user_subject"
	StateKey   = "oauth_state"
)
