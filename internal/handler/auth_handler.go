package handler

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"net/http"

	"go-press/internal/auth"
	"go-press/internal/logger"
	"go-press/internal/middleware"
	"go-press/internal/session"
)

// AuthHandler holds the dependencies for the authentication handlers.
type AuthHandler struct {
	auth *auth.Authenticator
	sm   session.Manager
	log  logger.Logger
}

// NewAuthHandler creates a new AuthHandler. a may be nil when no identity
// provider is configured; login then answers 503.
func NewAuthHandler(a *auth.Authenticator, sm session.Manager, log logger.Logger) *AuthHandler {
	return &AuthHandler{auth: a, sm: sm, log: log}
}

var errLoginDisabled = errors.New("no identity provider configured")

// handleLogin redirects the user to the OIDC provider to log in.
// A random state is kept in the session for CSRF protection.
func (h *AuthHandler) handleLogin(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	if h.auth == nil {
		return &middleware.AppError{Error: errLoginDisabled, Message: "Login is not configured", Code: http.StatusServiceUnavailable}
	}
	state, err := randString(16)
	if err != nil {
		return &middleware.AppError{Error: err, Message: "Internal Server Error", Code: http.StatusInternalServerError}
	}
	h.sm.Put(r.Context(), session.StateKey, state)
	http.Redirect(w, r, h.auth.AuthCodeURL(state), http.StatusFound)
	return nil
}

// idClaims are the ID token claims used to name the caller.
type idClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

// subject names the caller by email only when the provider verified it.
// Otherwise anyone could claim an editor's address; the token subject is
// used instead.
func (c idClaims) subject(tokenSubject string) string {
	if c.Email != "" && c.EmailVerified {
		return c.Email
	}
	return tokenSubject
}

// handleCallback is the redirect URL for the OIDC provider.
// It exchanges the code, verifies the ID token and stores the subject in a
// renewed session.
func (h *AuthHandler) handleCallback(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	if h.auth == nil {
		return &middleware.AppError{Error: errLoginDisabled, Message: "Login is not configured", Code: http.StatusServiceUnavailable}
	}

	state := h.sm.PopString(r.Context(), session.StateKey)
	if state == "" || r.URL.Query().Get("state") != state {
		return middleware.BadRequest(errors.New("oauth state mismatch"), "state did not match")
	}

	oauth2Token, err := h.auth.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to exchange token", Code: http.StatusUnauthorized}
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return &middleware.AppError{Error: errors.New("missing id_token"), Message: "No id_token field in oauth2 token", Code: http.StatusUnauthorized}
	}

	// The OIDC library checks issuer, audience and expiry.
	idToken, err := h.auth.IDTokenVerifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to verify ID Token", Code: http.StatusUnauthorized}
	}

	var claims idClaims
	if err := idToken.Claims(&claims); err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to read ID Token claims", Code: http.StatusUnauthorized}
	}
	subject := claims.subject(idToken.Subject)

	// A fresh token on privilege change prevents session fixation.
	if err := h.sm.RenewToken(r.Context()); err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to renew session", Code: http.StatusInternalServerError}
	}
	h.sm.Put(r.Context(), session.SubjectKey, subject)
	h.log.With(map[string]interface{}{"subject": subject}).Info("login succeeded")

	http.Redirect(w, r, "/posts", http.StatusFound)
	return nil
}

// handleLogout destroys the session and redirects to the post list.
func (h *AuthHandler) handleLogout(w http.ResponseWriter, r *http.Request) *middleware.AppError {
	if err := h.sm.Destroy(r.Context()); err != nil {
		return &middleware.AppError{Error: err, Message: "Failed to log out", Code: http.StatusInternalServerError}
	}
	http.Redirect(w, r, "/posts", http.StatusFound)
	return nil
}

// randString is a helper function to generate a random string for the 'state' parameter.
func randString(nByte int) (string, error) {
	b := make([]byte, nByte)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
