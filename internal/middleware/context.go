package middleware

import (
	"context"
	"net/http"

	"go-press/internal/data"
	"go-press/internal/session"
)

// contextKey defines a custom type for context keys to avoid collisions.
type contextKey string

const userContextKey = contextKey("user")

// Anonymous is the subject of callers without a session.
const Anonymous = "anonymous"

// UserInfo represents the essential user information stored in the session and request context.
type UserInfo struct {
	Subject string
}

// IsAnonymous reports whether the caller has not logged in.
func (u *UserInfo) IsAnonymous() bool {
	return u.Subject == Anonymous
}

// GetUserInfo retrieves the user information from the request context.
func GetUserInfo(ctx context.Context) *UserInfo {
	if userInfo, ok := ctx.Value(userContextKey).(*UserInfo); ok {
		return userInfo
	}
	// Return an anonymous user if no user info is found in the context.
	return &UserInfo{Subject: Anonymous}
}

// SetUserInfo adds the user information to the request context. The
// subject also becomes the storage actor for writes made by the request.
func SetUserInfo(ctx context.Context, userInfo *UserInfo) context.Context {
	ctx = data.WithActor(ctx, userInfo.Subject)
	return context.WithValue(ctx, userContextKey, userInfo)
}

// Enforcer is the part of casbin the authorizer needs.
type Enforcer interface {
	Enforce(rvals ...interface{}) (bool, error)
}

// Authorizer creates a new middleware for authorization.
// It checks the caller's permissions using Casbin based on session data.
// Logged-in subjects keep everything anonymous callers may do.
func Authorizer(e Enforcer, sm session.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := sm.GetString(r.Context(), session.SubjectKey)
			if subject == "" {
				subject = Anonymous
			}

			// Add user info to the request context for downstream handlers.
			r = r.WithContext(SetUserInfo(r.Context(), &UserInfo{Subject: subject}))

			allowed, err := e.Enforce(subject, r.URL.Path, r.Method)
			if err == nil && !allowed && subject != Anonymous {
				allowed, err = e.Enforce(Anonymous, r.URL.Path, r.Method)
			}
			if err != nil {
				writeError(w, http.StatusInternalServerError, "authorization error")
				return
			}
			if !allowed {
				status := http.StatusForbidden
				if subject == Anonymous {
					status = http.StatusUnauthorized
				}
				writeError(w, status, http.StatusText(status))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
